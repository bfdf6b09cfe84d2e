package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/hedgebench/rpc"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hedgebench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 200.0, cfg.MeanDelayMs)
	assert.Equal(t, 50.0, cfg.TargetQPS)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Zero(t, cfg.HedgingDelay)
	assert.Equal(t, 100, cfg.WarmupIterations)
	assert.Equal(t, 500, cfg.MeasurementIterations)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, rpc.NewCategorySet(rpc.Unavailable, rpc.DeadlineExceeded), policy.HedgeableFailures)

	mean, err := cfg.MeanDelay()
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, mean)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `
meanDelayMs: 50
targetQps: 120
maxAttempts: 2
hedgingDelay: 25ms
hedgeableFailures: [unavailable]
transport: grpc
target: localhost:50051
faults:
  unavailableRate: 0.1
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 50.0, cfg.MeanDelayMs)
	assert.Equal(t, 120.0, cfg.TargetQPS)
	assert.Equal(t, 25*time.Millisecond, cfg.HedgingDelay)
	assert.Equal(t, TransportGRPC, cfg.Transport)
	assert.Equal(t, 0.1, cfg.Faults.UnavailableRate)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, 500, cfg.MeasurementIterations)
	assert.Equal(t, "console", cfg.Log.Format)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, rpc.NewCategorySet(rpc.Unavailable), policy.HedgeableFailures)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "maxAttempts: [not, a, number]"))
	assert.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{name: "given zero mean, then invalid", mutate: func(c *Config) { c.MeanDelayMs = 0 }, wantMsg: "MeanDelayMs"},
		{name: "given negative qps, then invalid", mutate: func(c *Config) { c.TargetQPS = -1 }, wantMsg: "TargetQPS"},
		{name: "given zero attempts, then invalid", mutate: func(c *Config) { c.MaxAttempts = 0 }, wantMsg: "MaxAttempts"},
		{name: "given negative delay, then invalid", mutate: func(c *Config) { c.HedgingDelay = -time.Second }, wantMsg: "HedgingDelay"},
		{
			name:    "given unknown category, then invalid",
			mutate:  func(c *Config) { c.HedgeableFailures = []string{"UNAVAILABLE", "TEAPOT"} },
			wantMsg: `"TEAPOT" is not a failure category`,
		},
		{
			name:    "given OK as hedgeable, then invalid",
			mutate:  func(c *Config) { c.HedgeableFailures = []string{"OK"} },
			wantMsg: "not a failure category",
		},
		{name: "given negative warmup, then invalid", mutate: func(c *Config) { c.WarmupIterations = -1 }, wantMsg: "WarmupIterations"},
		{name: "given zero iterations, then invalid", mutate: func(c *Config) { c.MeasurementIterations = 0 }, wantMsg: "MeasurementIterations"},
		{name: "given unknown transport, then invalid", mutate: func(c *Config) { c.Transport = "carrier-pigeon" }, wantMsg: "Transport"},
		{
			name:    "given remote transport without target, then invalid",
			mutate:  func(c *Config) { c.Transport = TransportHTTP },
			wantMsg: "Target: required",
		},
		{name: "given unknown log level, then invalid", mutate: func(c *Config) { c.Log.Level = "loud" }, wantMsg: "Log.Level"},
		{
			name:    "given fault rates above one, then invalid",
			mutate:  func(c *Config) { c.Faults = FaultsConfig{UnavailableRate: 0.7, InternalRate: 0.7} },
			wantMsg: "must not exceed 1",
		},
		{name: "given bad ready url, then invalid", mutate: func(c *Config) { c.ReadyURL = "not a url" }, wantMsg: "ReadyURL"},
		{name: "given percentile above one, then invalid", mutate: func(c *Config) { c.AdaptivePercentile = 1.5 }, wantMsg: "AdaptivePercentile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()

			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestOverrides_OnlyChangedFlagsApply(t *testing.T) {
	t.Parallel()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	overrides := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--max-attempts=1",
		"--hedging-delay=10ms",
		"--hedgeable=unavailable,internal",
		"--compare",
		"--grpc-addr=:6000",
	}))

	cfg, err := Load(writeFile(t, "targetQps: 75\nmaxAttempts: 4\n"))
	require.NoError(t, err)
	overrides.Apply(&cfg)

	assert.Equal(t, 75.0, cfg.TargetQPS, "file value survives an unset flag")
	assert.Equal(t, 1, cfg.MaxAttempts, "set flag beats the file")
	assert.Equal(t, 10*time.Millisecond, cfg.HedgingDelay)
	assert.Equal(t, []string{"unavailable", "internal"}, cfg.HedgeableFailures)
	assert.True(t, cfg.Compare)
	assert.Equal(t, ":6000", cfg.Listen.GRPC)
	assert.Equal(t, ":8080", cfg.Listen.HTTP)
}

func TestRPCBreaker(t *testing.T) {
	t.Parallel()

	cfg := Default()
	_, ok := cfg.RPCBreaker()
	assert.False(t, ok)

	cfg.Breaker = BreakerConfig{Enabled: true, ConsecutiveFailures: 9, OpenTimeout: time.Minute}
	b, ok := cfg.RPCBreaker()
	require.True(t, ok)
	assert.Equal(t, uint32(9), b.ConsecutiveFailures)
	assert.Equal(t, time.Minute, b.Timeout)
}

func TestBench(t *testing.T) {
	t.Parallel()

	b := Default().Bench()

	assert.NoError(t, b.Validate())
	assert.Equal(t, 50.0, b.TargetQPS)
	assert.Equal(t, "test-input", b.Input)
}

func TestAdaptiveDelay(t *testing.T) {
	t.Parallel()

	cfg := Default()
	_, _, ok := cfg.AdaptiveDelay()
	assert.False(t, ok, "off by default")

	cfg.AdaptivePercentile = 0.95
	cfg.AdaptiveWindow = 50
	window, p, ok := cfg.AdaptiveDelay()
	require.True(t, ok)
	assert.Equal(t, 0.95, p)

	for range 4 {
		window.Observe(time.Millisecond)
	}
	_, warm := window.Percentile(p)
	assert.False(t, warm, "a tenth of the window is needed")

	window.Observe(time.Millisecond)
	_, warm = window.Percentile(p)
	assert.True(t, warm)
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join("..", "..", "example", "config.yaml"))

	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Default().Bench(), cfg.Bench())
	assert.True(t, cfg.Compare)
}
