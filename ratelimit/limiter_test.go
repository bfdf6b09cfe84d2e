package ratelimit

import (
	"context"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		perSecond float64
		wantErr   bool
	}{
		{name: "given positive rate, then creates limiter", perSecond: 50},
		{name: "given fractional rate, then creates limiter", perSecond: 0.5},
		{name: "given zero rate, then returns error", perSecond: 0, wantErr: true},
		{name: "given negative rate, then returns error", perSecond: -1, wantErr: true},
		{name: "given NaN rate, then returns error", perSecond: math.NaN(), wantErr: true},
		{name: "given infinite rate, then returns error", perSecond: math.Inf(1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.perSecond)

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRate)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.perSecond, l.Rate(), 0.0001)
			assert.Equal(t, 1, l.Stats().Burst)
		})
	}
}

func TestLimiter_PacesConcurrentCallers(t *testing.T) {
	t.Parallel()

	const (
		perSecond = 200.0
		callers   = 150
		window    = 250 * time.Millisecond
	)

	l, err := New(perSecond)
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	start := time.Now()
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(context.Background()))
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	// The first permit is free, the remaining ones arrive every 1/rate.
	minElapsed := time.Duration(float64(callers-1) / perSecond * 0.9 * float64(time.Second))
	assert.GreaterOrEqual(t, elapsed, minElapsed)

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	maxInWindow := int(perSecond*window.Seconds()*1.1) + 1
	for i := range times {
		count := 0
		for j := i; j < len(times) && times[j].Sub(times[i]) < window; j++ {
			count++
		}
		assert.LessOrEqual(t, count, maxInWindow, "window starting at permit %d", i)
	}
}

func TestLimiter_NoBurst(t *testing.T) {
	t.Parallel()

	l, err := New(10)
	require.NoError(t, err)

	// First permit uses the single token.
	require.NoError(t, l.TryAcquire())

	// Second permit must wait for a refill.
	assert.ErrorIs(t, l.TryAcquire(), ErrRateLimited)
	assert.Less(t, l.Stats().TokensAvailable, 1.0)
}

func TestLimiter_AcquireCancellation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ctx     func() (context.Context, context.CancelFunc)
		wantErr error
	}{
		{
			name: "given cancel while waiting, then returns canceled",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(20*time.Millisecond, cancel)
				return ctx, cancel
			},
			wantErr: context.Canceled,
		},
		{
			name: "given already cancelled context, then returns canceled",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			wantErr: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// One permit every ten seconds.
			l, err := New(0.1)
			require.NoError(t, err)
			require.NoError(t, l.TryAcquire())

			ctx, cancel := tt.ctx()
			defer cancel()

			start := time.Now()
			err = l.Acquire(ctx)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Less(t, time.Since(start), time.Second)
		})
	}
}

func TestLimiter_DeadlineTooShort(t *testing.T) {
	t.Parallel()

	l, err := New(0.1)
	require.NoError(t, err)
	require.NoError(t, l.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = l.Acquire(ctx)

	// The limiter knows the permit arrives after the deadline and fails fast.
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 40*time.Millisecond)
}
