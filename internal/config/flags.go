package config

import (
	"github.com/spf13/pflag"
)

// Overrides are command line flags layered over a loaded Config. Only flags
// the user actually set replace file values.
type Overrides struct {
	fs     *pflag.FlagSet
	values Config
	fields []override
}

type override struct {
	flag  string
	apply func(dst, src *Config)
}

// BindFlags registers every overridable option on fs. Flag defaults mirror
// Default so help output is accurate.
func BindFlags(fs *pflag.FlagSet) *Overrides {
	o := &Overrides{fs: fs, values: Default()}
	v := &o.values

	o.floatFlag(&v.MeanDelayMs, "mean-delay-ms", "mean endpoint delay in milliseconds",
		func(d, s *Config) { d.MeanDelayMs = s.MeanDelayMs })
	o.floatFlag(&v.TargetQPS, "target-qps", "rate at which logical requests start",
		func(d, s *Config) { d.TargetQPS = s.TargetQPS })
	o.intFlag(&v.MaxAttempts, "max-attempts", "attempts per logical request, 1 disables hedging",
		func(d, s *Config) { d.MaxAttempts = s.MaxAttempts })
	fs.DurationVar(&v.HedgingDelay, "hedging-delay", v.HedgingDelay, "pause before each further attempt")
	o.track("hedging-delay", func(d, s *Config) { d.HedgingDelay = s.HedgingDelay })
	fs.StringSliceVar(&v.HedgeableFailures, "hedgeable", v.HedgeableFailures, "failure categories that trigger another attempt")
	o.track("hedgeable", func(d, s *Config) { d.HedgeableFailures = s.HedgeableFailures })
	o.floatFlag(&v.AdaptivePercentile, "adaptive-percentile", "derive the hedging delay from this latency percentile, 0 disables",
		func(d, s *Config) { d.AdaptivePercentile = s.AdaptivePercentile })
	o.intFlag(&v.AdaptiveWindow, "adaptive-window", "latency samples kept for adaptive delays",
		func(d, s *Config) { d.AdaptiveWindow = s.AdaptiveWindow })
	o.intFlag(&v.WarmupIterations, "warmup", "unrecorded requests before measurement",
		func(d, s *Config) { d.WarmupIterations = s.WarmupIterations })
	o.intFlag(&v.MeasurementIterations, "iterations", "recorded requests",
		func(d, s *Config) { d.MeasurementIterations = s.MeasurementIterations })
	o.intFlag(&v.Concurrency, "concurrency", "workers issuing requests",
		func(d, s *Config) { d.Concurrency = s.Concurrency })
	o.stringFlag(&v.Input, "input", "request payload",
		func(d, s *Config) { d.Input = s.Input })
	fs.BoolVar(&v.Compare, "compare", v.Compare, "run a single-attempt baseline first")
	o.track("compare", func(d, s *Config) { d.Compare = s.Compare })
	fs.Uint64Var(&v.Seed, "seed", v.Seed, "seed for reproducible in-process delays")
	o.track("seed", func(d, s *Config) { d.Seed = s.Seed })
	o.stringFlag(&v.Transport, "transport", "inprocess, grpc or http",
		func(d, s *Config) { d.Transport = s.Transport })
	o.stringFlag(&v.Target, "target", "remote endpoint address",
		func(d, s *Config) { d.Target = s.Target })
	o.stringFlag(&v.ReadyURL, "ready-url", "readiness probe polled before a remote run",
		func(d, s *Config) { d.ReadyURL = s.ReadyURL })
	o.stringFlag(&v.Listen.GRPC, "grpc-addr", "gRPC listen address",
		func(d, s *Config) { d.Listen.GRPC = s.Listen.GRPC })
	o.stringFlag(&v.Listen.HTTP, "http-addr", "HTTP listen address",
		func(d, s *Config) { d.Listen.HTTP = s.Listen.HTTP })
	o.floatFlag(&v.Listen.MaxQPS, "max-qps", "shed calls above this rate, 0 disables",
		func(d, s *Config) { d.Listen.MaxQPS = s.Listen.MaxQPS })
	o.floatFlag(&v.Faults.UnavailableRate, "unavailable-rate", "share of calls failing UNAVAILABLE",
		func(d, s *Config) { d.Faults.UnavailableRate = s.Faults.UnavailableRate })
	o.floatFlag(&v.Faults.InternalRate, "internal-rate", "share of calls failing INTERNAL",
		func(d, s *Config) { d.Faults.InternalRate = s.Faults.InternalRate })
	fs.BoolVar(&v.Breaker.Enabled, "breaker", v.Breaker.Enabled, "put a circuit breaker in front of every attempt")
	o.track("breaker", func(d, s *Config) { d.Breaker.Enabled = s.Breaker.Enabled })
	o.stringFlag(&v.Log.Level, "log-level", "trace, debug, info, warn or error",
		func(d, s *Config) { d.Log.Level = s.Log.Level })
	o.stringFlag(&v.Log.Format, "log-format", "console or json",
		func(d, s *Config) { d.Log.Format = s.Log.Format })
	o.stringFlag(&v.Output.JSON, "out-json", "results file, empty skips",
		func(d, s *Config) { d.Output.JSON = s.Output.JSON })
	o.stringFlag(&v.Output.Text, "out-text", "text report file, empty skips",
		func(d, s *Config) { d.Output.Text = s.Output.Text })
	o.stringFlag(&v.Telemetry.TraceExporter, "trace-exporter", "none, stdout or otlp",
		func(d, s *Config) { d.Telemetry.TraceExporter = s.Telemetry.TraceExporter })

	return o
}

func (o *Overrides) track(flag string, apply func(dst, src *Config)) {
	o.fields = append(o.fields, override{flag: flag, apply: apply})
}

func (o *Overrides) floatFlag(p *float64, name, usage string, apply func(dst, src *Config)) {
	o.fs.Float64Var(p, name, *p, usage)
	o.track(name, apply)
}

func (o *Overrides) intFlag(p *int, name, usage string, apply func(dst, src *Config)) {
	o.fs.IntVar(p, name, *p, usage)
	o.track(name, apply)
}

func (o *Overrides) stringFlag(p *string, name, usage string, apply func(dst, src *Config)) {
	o.fs.StringVar(p, name, *p, usage)
	o.track(name, apply)
}

// Apply copies every changed flag into cfg.
func (o *Overrides) Apply(cfg *Config) {
	for _, f := range o.fields {
		if o.fs.Changed(f.flag) {
			f.apply(cfg, &o.values)
		}
	}
}
