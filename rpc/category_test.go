package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Category
		wantErr assert.ErrorAssertionFunc
	}{
		{
			name:    "given canonical name, then parses",
			input:   "UNAVAILABLE",
			want:    Unavailable,
			wantErr: assert.NoError,
		},
		{
			name:    "given lower case with dashes, then parses",
			input:   "deadline-exceeded",
			want:    DeadlineExceeded,
			wantErr: assert.NoError,
		},
		{
			name:    "given american spelling of cancelled, then parses",
			input:   "canceled",
			want:    Cancelled,
			wantErr: assert.NoError,
		},
		{
			name:    "given surrounding whitespace, then parses",
			input:   "  internal ",
			want:    Internal,
			wantErr: assert.NoError,
		},
		{
			name:    "given unknown name, then returns error",
			input:   "TEAPOT",
			want:    Unknown,
			wantErr: assert.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCategory(tt.input)

			tt.wantErr(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCategory_UnmarshalText(t *testing.T) {
	var c Category
	require.NoError(t, c.UnmarshalText([]byte("interrupted")))
	assert.Equal(t, Interrupted, c)

	assert.Error(t, c.UnmarshalText([]byte("nope")))
	assert.Equal(t, Interrupted, c, "failed unmarshal must leave the value untouched")
}

func TestCategory_CodeMappingIsReversible(t *testing.T) {
	for _, c := range NewCategorySet(OK, Unavailable, DeadlineExceeded, Internal,
		Interrupted, Cancelled, InvalidArgument, Unknown).Categories() {
		assert.Equal(t, c, CategoryFromCode(c.Code()), c.String())
	}

	assert.Equal(t, Unknown, CategoryFromCode(codes.PermissionDenied))
}

func TestCategoryFromHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Category
	}{
		{http.StatusOK, OK},
		{http.StatusServiceUnavailable, Unavailable},
		{http.StatusTooManyRequests, Unavailable},
		{http.StatusGatewayTimeout, DeadlineExceeded},
		{http.StatusConflict, Interrupted},
		{statusClientClosedRequest, Cancelled},
		{http.StatusBadRequest, InvalidArgument},
		{http.StatusInternalServerError, Internal},
		{statusUnknownError, Unknown},
		{http.StatusTeapot, Unknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("given status %d, then %s", tt.status, tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryFromHTTPStatus(tt.status))
		})
	}
}

func TestCategorySet(t *testing.T) {
	set := NewCategorySet(Unavailable, DeadlineExceeded)

	assert.True(t, set.Contains(Unavailable))
	assert.True(t, set.Contains(DeadlineExceeded))
	assert.False(t, set.Contains(Internal))
	assert.False(t, set.Contains(OK))
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, "{DEADLINE_EXCEEDED, UNAVAILABLE}", set.String())

	grown := set.With(Internal)
	assert.True(t, grown.Contains(Internal))
	assert.False(t, set.Contains(Internal), "With must not mutate the receiver")
}

func TestParseCategorySet(t *testing.T) {
	set, err := ParseCategorySet([]string{"unavailable", "DEADLINE_EXCEEDED"})
	require.NoError(t, err)
	assert.Equal(t, NewCategorySet(Unavailable, DeadlineExceeded), set)

	_, err = ParseCategorySet([]string{"unavailable", "bogus"})
	assert.Error(t, err)
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{
			name: "given nil, then OK",
			err:  nil,
			want: OK,
		},
		{
			name: "given rpc error, then its category",
			err:  Errorf(Interrupted, "processing interrupted"),
			want: Interrupted,
		},
		{
			name: "given wrapped rpc error, then its category",
			err:  fmt.Errorf("attempt 2: %w", Errorf(Unavailable, "down")),
			want: Unavailable,
		},
		{
			name: "given context canceled, then Cancelled",
			err:  context.Canceled,
			want: Cancelled,
		},
		{
			name: "given context deadline, then DeadlineExceeded",
			err:  fmt.Errorf("wait: %w", context.DeadlineExceeded),
			want: DeadlineExceeded,
		},
		{
			name: "given grpc status error, then mapped code",
			err:  status.Error(codes.Unavailable, "connection refused"),
			want: Unavailable,
		},
		{
			name: "given plain error, then Unknown",
			err:  errors.New("boom"),
			want: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryOf(tt.err))
		})
	}
}

func TestError(t *testing.T) {
	cause := context.Canceled
	err := &Error{Category: Interrupted, Message: "processing interrupted", Err: cause}

	assert.Equal(t, "INTERRUPTED: processing interrupted", err.Error())
	assert.ErrorIs(t, err, context.Canceled)

	st := err.GRPCStatus()
	assert.Equal(t, codes.Aborted, st.Code())
	assert.Equal(t, "processing interrupted", st.Message())

	bare := &Error{Category: Unavailable}
	assert.Equal(t, "UNAVAILABLE", bare.Error())
}
