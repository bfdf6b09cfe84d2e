package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProber_WaitReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		failures   int32
		failStatus int
		timeout    time.Duration
		wantErr    bool
		wantCalls  int32
	}{
		{name: "given ready at once, then one probe", failures: 0, timeout: time.Second, wantCalls: 1},
		{name: "given two unavailable answers, then ready on the third", failures: 2, failStatus: http.StatusServiceUnavailable, timeout: 2 * time.Second, wantCalls: 3},
		{name: "given not found, then stops at once", failures: 100, failStatus: http.StatusNotFound, timeout: time.Second, wantErr: true, wantCalls: 1},
		{name: "given never ready, then times out", failures: 1000, failStatus: http.StatusServiceUnavailable, timeout: 50 * time.Millisecond, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if calls.Add(1) <= tt.failures {
					w.WriteHeader(tt.failStatus)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			p := Prober{
				Client:          srv.Client(),
				Logger:          zerolog.Nop(),
				InitialInterval: 5 * time.Millisecond,
				MaxInterval:     10 * time.Millisecond,
			}

			err := p.WaitReady(context.Background(), srv.URL+"/readyz", tt.timeout)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrNotReady)
			} else {
				require.NoError(t, err)
			}
			if tt.wantCalls > 0 {
				assert.Equal(t, tt.wantCalls, calls.Load())
			}
		})
	}
}

func TestProber_WaitReady_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Prober{Logger: zerolog.Nop()}.WaitReady(ctx, "http://127.0.0.1:1/readyz", time.Second)

	assert.Error(t, err)
}
