// Command hedgebench measures how request hedging changes tail latency.
//
//	hedgebench run --compare                       # in-process endpoint, baseline vs hedged
//	hedgebench serve --grpc-addr :50051 --http-addr :8080
//	hedgebench run --transport grpc --target localhost:50051
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kroma-labs/hedgebench/internal/config"
	"github.com/kroma-labs/hedgebench/internal/logging"
	"github.com/kroma-labs/hedgebench/internal/telemetry"
)

const serviceName = "hedgebench"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "hedgebench:", err)
		stop()
		os.Exit(1)
	}
}

// app is what every subcommand needs once configuration is settled.
type app struct {
	cfg       config.Config
	logger    zerolog.Logger
	telemetry *telemetry.Provider
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "hedgebench",
		Short:         "Benchmark request hedging against a simulated endpoint",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	overrides := config.BindFlags(root.PersistentFlags())

	bootstrap := func(ctx context.Context) (*app, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		overrides.Apply(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}

		tel, err := telemetry.Setup(ctx, telemetry.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			TraceExporter:  cfg.Telemetry.TraceExporter,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
			SetGlobal:      true,
		})
		if err != nil {
			return nil, err
		}
		return &app{cfg: cfg, logger: logger, telemetry: tel}, nil
	}

	root.AddCommand(newRunCmd(bootstrap), newServeCmd(bootstrap))
	return root
}

// close flushes telemetry. It runs on a fresh context so a cancelled
// command still exports its last spans.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
}
