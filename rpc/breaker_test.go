package rpc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
)

func TestWithBreaker(t *testing.T) {
	type args struct {
		failure   Category
		calls     int
		threshold uint32
	}

	tests := []struct {
		name          string
		args          args
		wantUpstream  int32
		wantLastError Category
	}{
		{
			name: "given consecutive internal failures, then opens and rejects as unavailable",
			args: args{
				failure:   Internal,
				calls:     5,
				threshold: 3,
			},
			wantUpstream:  3,
			wantLastError: Unavailable,
		},
		{
			name: "given interruptions, then never opens",
			args: args{
				failure:   Interrupted,
				calls:     5,
				threshold: 3,
			},
			wantUpstream:  5,
			wantLastError: Interrupted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var upstream atomic.Int32
			call := WithBreaker(func(context.Context, *Request) (*Response, error) {
				upstream.Add(1)
				return nil, Errorf(tt.args.failure, "injected")
			}, BreakerConfig{
				ConsecutiveFailures: tt.args.threshold,
				Timeout:             time.Minute,
			})

			var err error
			for range tt.args.calls {
				_, err = call(context.Background(), &Request{Input: "x"})
			}

			assert.Equal(t, tt.wantUpstream, upstream.Load())
			assert.Equal(t, tt.wantLastError, CategoryOf(err))
		})
	}
}

func TestWithBreaker_ReportsStateChanges(t *testing.T) {
	var transitions []gobreaker.State
	call := WithBreaker(func(context.Context, *Request) (*Response, error) {
		return nil, Errorf(Internal, "injected")
	}, BreakerConfig{
		ConsecutiveFailures: 1,
		Timeout:             time.Minute,
		OnStateChange: func(_ string, _, to gobreaker.State) {
			transitions = append(transitions, to)
		},
	})

	_, _ = call(context.Background(), &Request{Input: "x"})

	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)
}

func TestWithBreaker_PassesSuccess(t *testing.T) {
	call := WithBreaker(func(context.Context, *Request) (*Response, error) {
		return &Response{Output: "ok"}, nil
	}, DefaultBreakerConfig())

	resp, err := call(context.Background(), &Request{Input: "x"})

	assert.NoError(t, err)
	assert.Equal(t, "ok", resp.Output)
}
