package latency

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExponential(t *testing.T) {
	tests := []struct {
		name    string
		mean    time.Duration
		wantErr bool
	}{
		{
			name: "given positive mean, then creates model",
			mean: 200 * time.Millisecond,
		},
		{
			name:    "given zero mean, then returns error",
			mean:    0,
			wantErr: true,
		},
		{
			name:    "given negative mean, then returns error",
			mean:    -time.Millisecond,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := NewExponential(tt.mean)

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMean)
				assert.Nil(t, model)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mean, model.Mean())
		})
	}
}

func TestMeanFromMillis(t *testing.T) {
	d, err := MeanFromMillis(200)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, d)

	d, err = MeanFromMillis(0.5)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Microsecond, d)

	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1), 1e-9} {
		_, err := MeanFromMillis(bad)
		assert.ErrorIs(t, err, ErrInvalidMean, "%v", bad)
	}
}

func TestExponential_SampleMean(t *testing.T) {
	const draws = 20000
	mean := 200 * time.Millisecond

	model, err := NewExponential(mean, WithSeed(42))
	require.NoError(t, err)

	var sum float64
	for range draws {
		d := model.Sample()
		require.GreaterOrEqual(t, d, time.Duration(0))
		sum += float64(d)
	}

	got := sum / draws
	assert.InEpsilon(t, float64(mean), got, 0.05)
}

func TestExponential_HasLongTail(t *testing.T) {
	mean := 10 * time.Millisecond
	model, err := NewExponential(mean, WithSeed(7))
	require.NoError(t, err)

	var aboveThreeMeans int
	for range 10000 {
		if model.Sample() > 3*mean {
			aboveThreeMeans++
		}
	}

	// P(X > 3*mean) = e^-3, roughly 5%.
	assert.InDelta(t, 0.0498, float64(aboveThreeMeans)/10000, 0.01)
}

func TestExponential_SeedIsReproducible(t *testing.T) {
	a, err := NewExponential(time.Second, WithSeed(1))
	require.NoError(t, err)
	b, err := NewExponential(time.Second, WithSeed(1))
	require.NoError(t, err)

	for range 100 {
		assert.Equal(t, a.Sample(), b.Sample())
	}
}

func TestExponential_ConcurrentSampling(t *testing.T) {
	for _, name := range []string{"shared generator", "seeded source"} {
		t.Run("given "+name+", then sampling is race free", func(t *testing.T) {
			var opts []Option
			if name == "seeded source" {
				opts = append(opts, WithSeed(3))
			}
			model, err := NewExponential(time.Millisecond, opts...)
			require.NoError(t, err)

			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for range 1000 {
						assert.GreaterOrEqual(t, model.Sample(), time.Duration(0))
					}
				}()
			}
			wg.Wait()
		})
	}
}

func TestFixed(t *testing.T) {
	var s Sampler = Fixed(15 * time.Millisecond)
	assert.Equal(t, 15*time.Millisecond, s.Sample())

	calls := 0
	s = SamplerFunc(func() time.Duration {
		calls++
		return time.Duration(calls)
	})
	assert.Equal(t, time.Duration(1), s.Sample())
	assert.Equal(t, time.Duration(2), s.Sample())
}
