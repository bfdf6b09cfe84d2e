// Package config loads and validates the hedgebench configuration.
//
// Values come from DefaultConfig, then an optional YAML file, then command
// line flags that were explicitly set. The merged result is validated once;
// a failure aborts startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kroma-labs/hedgebench/bench"
	"github.com/kroma-labs/hedgebench/endpoint"
	"github.com/kroma-labs/hedgebench/hedge"
	"github.com/kroma-labs/hedgebench/latency"
	"github.com/kroma-labs/hedgebench/rpc"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Transports a run can use to reach the endpoint.
const (
	TransportInProcess = "inprocess"
	TransportGRPC      = "grpc"
	TransportHTTP      = "http"
)

// Config is the full hedgebench configuration.
type Config struct {
	// MeanDelayMs is the mean of the endpoint's exponential delay.
	MeanDelayMs float64 `yaml:"meanDelayMs" validate:"gt=0"`

	// TargetQPS is the rate at which logical requests start.
	TargetQPS float64 `yaml:"targetQps" validate:"gt=0"`

	MaxAttempts       int           `yaml:"maxAttempts" validate:"gte=1"`
	HedgingDelay      time.Duration `yaml:"hedgingDelay" validate:"gte=0"`
	HedgeableFailures []string      `yaml:"hedgeableFailures" validate:"dive,category"`

	// AdaptivePercentile, when set, replaces HedgingDelay with that
	// percentile of recent successful call latencies once AdaptiveWindow
	// holds enough samples. Zero keeps the fixed delay.
	AdaptivePercentile float64 `yaml:"adaptivePercentile" validate:"gte=0,lte=1"`
	AdaptiveWindow     int     `yaml:"adaptiveWindow" validate:"gte=0"`

	WarmupIterations      int    `yaml:"warmupIterations" validate:"gte=0"`
	MeasurementIterations int    `yaml:"measurementIterations" validate:"gte=1"`
	Concurrency           int    `yaml:"concurrency" validate:"gte=1"`
	Input                 string `yaml:"input"`

	// Compare runs a single-attempt baseline before the hedged run.
	Compare bool `yaml:"compare"`

	// Seed makes the in-process endpoint's delays reproducible. Zero draws
	// from the shared generator.
	Seed uint64 `yaml:"seed"`

	// Transport selects how a run reaches the endpoint.
	Transport string `yaml:"transport" validate:"oneof=inprocess grpc http"`

	// Target is the remote address for the grpc and http transports.
	Target string `yaml:"target" validate:"required_unless=Transport inprocess"`

	// ReadyURL is probed before a remote run starts. Empty skips the probe.
	ReadyURL string `yaml:"readyUrl" validate:"omitempty,url"`

	// ReadyTimeout bounds the readiness wait.
	ReadyTimeout time.Duration `yaml:"readyTimeout" validate:"gte=0"`

	Listen    ListenConfig    `yaml:"listen"`
	Faults    FaultsConfig    `yaml:"faults"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Log       LogConfig       `yaml:"log"`
	Output    OutputConfig    `yaml:"output"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ListenConfig holds the addresses the serve command binds.
type ListenConfig struct {
	GRPC string `yaml:"grpc" validate:"required"`
	HTTP string `yaml:"http" validate:"required"`

	// MaxQPS sheds calls above this rate with UNAVAILABLE. Zero disables.
	MaxQPS float64 `yaml:"maxQps" validate:"gte=0"`

	// RequestTimeout caps server-side processing. Zero disables.
	RequestTimeout time.Duration `yaml:"requestTimeout" validate:"gte=0"`
}

// FaultsConfig injects endpoint failures.
type FaultsConfig struct {
	UnavailableRate float64 `yaml:"unavailableRate" validate:"gte=0,lte=1"`
	InternalRate    float64 `yaml:"internalRate" validate:"gte=0,lte=1"`
}

// BreakerConfig puts a circuit breaker in front of every attempt.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutiveFailures"`
	OpenTimeout         time.Duration `yaml:"openTimeout" validate:"gte=0"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// OutputConfig names the result files. Empty paths are skipped.
type OutputConfig struct {
	JSON string `yaml:"json"`
	Text string `yaml:"text"`
}

// TelemetryConfig selects exporters.
type TelemetryConfig struct {
	TraceExporter string `yaml:"traceExporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
}

// Default returns the reference benchmark: exponential delays with a 200ms
// mean, 50 requests per second, three attempts fanned out at once, 100
// warmup and 500 measured requests.
func Default() Config {
	return Config{
		MeanDelayMs:           200,
		TargetQPS:             50,
		MaxAttempts:           3,
		HedgingDelay:          0,
		HedgeableFailures:     []string{"UNAVAILABLE", "DEADLINE_EXCEEDED"},
		AdaptiveWindow:        200,
		WarmupIterations:      100,
		MeasurementIterations: 500,
		Concurrency:           32,
		Input:                 "test-input",
		Transport:             TransportInProcess,
		ReadyTimeout:          30 * time.Second,
		Listen: ListenConfig{
			GRPC: ":50051",
			HTTP: ":8080",
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Output: OutputConfig{
			JSON: "results.json",
		},
		Telemetry: TelemetryConfig{
			TraceExporter: "none",
			OTLPEndpoint:  "localhost:4317",
			OTLPInsecure:  true,
		},
	}
}

// Load reads path over Default. An empty path returns Default unchanged.
// The result is not validated; call Validate after applying flags.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		c, err := rpc.ParseCategory(fl.Field().String())
		return err == nil && c != rpc.OK
	})
	return v
}

// Validate checks every field and the cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.EndpointFaults().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "category":
		return fmt.Sprintf("%s: %q is not a failure category", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "required", "required_unless":
		return fmt.Sprintf("%s: required", field)
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s: must satisfy %s=%s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Sprintf("%s: must satisfy %s, got %v", field, fe.Tag(), fe.Value())
	}
}

// Policy returns the hedging policy.
func (c Config) Policy() (hedge.Policy, error) {
	set, err := rpc.ParseCategorySet(c.HedgeableFailures)
	if err != nil {
		return hedge.Policy{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	p := hedge.Policy{
		MaxAttempts:       c.MaxAttempts,
		HedgingDelay:      c.HedgingDelay,
		HedgeableFailures: set,
	}
	if err := p.Validate(); err != nil {
		return hedge.Policy{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return p, nil
}

// AdaptiveDelay returns the latency window and percentile for
// hedge.WithAdaptiveDelay, or false when adaptive delays are off.
func (c Config) AdaptiveDelay() (*hedge.LatencyWindow, float64, bool) {
	if c.AdaptivePercentile == 0 {
		return nil, 0, false
	}
	return hedge.NewLatencyWindow(c.AdaptiveWindow, c.AdaptiveWindow/10), c.AdaptivePercentile, true
}

// Bench returns the driver's load shape.
func (c Config) Bench() bench.Config {
	return bench.Config{
		TargetQPS:             c.TargetQPS,
		WarmupIterations:      c.WarmupIterations,
		MeasurementIterations: c.MeasurementIterations,
		Concurrency:           c.Concurrency,
		Input:                 c.Input,
	}
}

// MeanDelay returns MeanDelayMs as a duration.
func (c Config) MeanDelay() (time.Duration, error) {
	return latency.MeanFromMillis(c.MeanDelayMs)
}

// EndpointFaults returns the fault injection rates.
func (c Config) EndpointFaults() endpoint.Faults {
	return endpoint.Faults{
		UnavailableRate: c.Faults.UnavailableRate,
		InternalRate:    c.Faults.InternalRate,
	}
}

// RPCBreaker returns the breaker settings, or false when disabled.
func (c Config) RPCBreaker() (rpc.BreakerConfig, bool) {
	if !c.Breaker.Enabled {
		return rpc.BreakerConfig{}, false
	}
	cfg := rpc.DefaultBreakerConfig()
	if c.Breaker.ConsecutiveFailures > 0 {
		cfg.ConsecutiveFailures = c.Breaker.ConsecutiveFailures
	}
	if c.Breaker.OpenTimeout > 0 {
		cfg.Timeout = c.Breaker.OpenTimeout
	}
	return cfg, true
}
