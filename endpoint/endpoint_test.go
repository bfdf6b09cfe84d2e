package endpoint

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/hedgebench/hedge"
	"github.com/kroma-labs/hedgebench/latency"
	"github.com/kroma-labs/hedgebench/ratelimit"
	"github.com/kroma-labs/hedgebench/rpc"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		input string
		delay time.Duration
		want  string
	}{
		{
			name:  "given fractional millis, then two decimals",
			input: "test-input",
			delay: 187420 * time.Microsecond,
			want:  "Processed: test-input (delayed: 187.42ms)",
		},
		{
			name:  "given zero delay, then zero millis",
			input: "x",
			delay: 0,
			want:  "Processed: x (delayed: 0.00ms)",
		},
		{
			name:  "given empty input, then still formatted",
			input: "",
			delay: time.Millisecond,
			want:  "Processed:  (delayed: 1.00ms)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.input, tt.delay))
		})
	}
}

func TestEndpoint_Process(t *testing.T) {
	ep := New(latency.Fixed(5 * time.Millisecond))

	start := time.Now()
	resp, err := ep.Process(context.Background(), &rpc.Request{Input: "test-input"})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "Processed: test-input (delayed: 5.00ms)", resp.Output)
	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
	assert.Equal(t, Stats{Served: 1}, ep.Stats())
}

func TestEndpoint_ProcessNilRequest(t *testing.T) {
	ep := New(latency.Fixed(0))

	_, err := ep.Process(context.Background(), nil)

	assert.ErrorIs(t, err, rpc.ErrNilRequest)
	assert.Equal(t, rpc.InvalidArgument, rpc.CategoryOf(err))
}

func TestEndpoint_Cancellation(t *testing.T) {
	tests := []struct {
		name         string
		ctx          func() (context.Context, context.CancelFunc)
		wantIs       error
		wantCategory rpc.Category
		wantStats    Stats
	}{
		{
			name: "given cancel mid-wait, then interrupted promptly",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(20*time.Millisecond, cancel)
				return ctx, cancel
			},
			wantIs:       context.Canceled,
			wantCategory: rpc.Interrupted,
			wantStats:    Stats{Interrupted: 1},
		},
		{
			name: "given deadline mid-wait, then deadline exceeded",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 20*time.Millisecond)
			},
			wantIs:       context.DeadlineExceeded,
			wantCategory: rpc.DeadlineExceeded,
			wantStats:    Stats{TimedOut: 1},
		},
		{
			name: "given already cancelled context, then interrupted immediately",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			wantIs:       context.Canceled,
			wantCategory: rpc.Interrupted,
			wantStats:    Stats{Interrupted: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := New(latency.Fixed(10 * time.Second))
			ctx, cancel := tt.ctx()
			defer cancel()

			start := time.Now()
			resp, err := ep.Process(ctx, &rpc.Request{Input: "slow"})

			assert.Nil(t, resp)
			assert.Less(t, time.Since(start), time.Second)
			assert.Equal(t, tt.wantCategory, rpc.CategoryOf(err))
			assert.ErrorIs(t, err, tt.wantIs)
			assert.Equal(t, tt.wantStats, ep.Stats())
		})
	}
}

func TestEndpoint_CappedAttemptIsHedged(t *testing.T) {
	delays := []time.Duration{100 * time.Millisecond, 5 * time.Millisecond}
	var next atomic.Int32
	ep := New(latency.SamplerFunc(func() time.Duration {
		return delays[int(next.Add(1)-1)%len(delays)]
	}))

	// Each call is capped the way the serve command caps it.
	capped := func(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		return ep.Process(ctx, req)
	}

	exec := hedge.NewExecutor()
	policy := hedge.Policy{MaxAttempts: 2, HedgingDelay: 50 * time.Millisecond, HedgeableFailures: hedge.DefaultHedgeableFailures()}
	out := exec.Run(context.Background(), &rpc.Request{Input: "capped"}, policy, capped)

	require.Equal(t, rpc.OK, out.Category)
	assert.Equal(t, 2, out.WinningAttempt)
	assert.Equal(t, 2, out.Launched)
	assert.Equal(t, rpc.DeadlineExceeded, out.Attempts[0].Category)
	assert.Equal(t, Stats{Served: 1, TimedOut: 1}, ep.Stats())
}

func TestEndpoint_CallsDoNotSerialize(t *testing.T) {
	const calls = 20
	ep := New(latency.Fixed(50 * time.Millisecond))

	var wg sync.WaitGroup
	start := time.Now()
	for range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ep.Process(context.Background(), &rpc.Request{Input: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Serialized calls would take a full second.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, int64(calls), ep.Stats().Served)
}

func TestEndpoint_Faults(t *testing.T) {
	tests := []struct {
		name         string
		faults       Faults
		wantCategory rpc.Category
	}{
		{
			name:         "given certain unavailable fault, then unavailable",
			faults:       Faults{UnavailableRate: 1},
			wantCategory: rpc.Unavailable,
		},
		{
			name:         "given certain internal fault, then internal",
			faults:       Faults{InternalRate: 1},
			wantCategory: rpc.Internal,
		},
		{
			name:         "given invalid rates, then faults ignored",
			faults:       Faults{UnavailableRate: 0.8, InternalRate: 0.8},
			wantCategory: rpc.OK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := New(latency.Fixed(0), WithFaults(tt.faults))

			_, err := ep.Process(context.Background(), &rpc.Request{Input: "x"})

			assert.Equal(t, tt.wantCategory, rpc.CategoryOf(err))
		})
	}
}

func TestFaults_Validate(t *testing.T) {
	assert.NoError(t, Faults{}.Validate())
	assert.NoError(t, Faults{UnavailableRate: 0.3, InternalRate: 0.7}.Validate())
	assert.Error(t, Faults{UnavailableRate: -0.1}.Validate())
	assert.Error(t, Faults{InternalRate: 1.5}.Validate())
	assert.Error(t, Faults{UnavailableRate: 0.6, InternalRate: 0.6}.Validate())
}

func TestEndpoint_SatisfiesService(t *testing.T) {
	var svc rpc.Service = New(latency.Fixed(0))

	resp, err := svc.Process(context.Background(), &rpc.Request{Input: "iface"})

	require.NoError(t, err)
	assert.Contains(t, resp.Output, "iface")
}

func TestEndpoint_Admission(t *testing.T) {
	limiter, err := ratelimit.New(1)
	require.NoError(t, err)
	ep := New(latency.Fixed(0), WithAdmission(limiter))

	_, err = ep.Process(context.Background(), &rpc.Request{Input: "first"})
	require.NoError(t, err)

	_, err = ep.Process(context.Background(), &rpc.Request{Input: "second"})

	assert.Equal(t, rpc.Unavailable, rpc.CategoryOf(err))
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
	assert.Equal(t, Stats{Served: 1, Shed: 1}, ep.Stats())
}
