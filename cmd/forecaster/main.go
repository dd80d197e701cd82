// Command forecaster runs chronocast as a service or as a one-shot CLI.
//
// In service mode it collects a history window from an adapter on every
// interval, forecasts it with the configured engine and stores the result
// as a named snapshot. The HTTP API (port 8081 by default) provides:
//   - GET  /forecast/current?name=<name>  latest stored snapshot
//   - POST /v1/forecast                   forecast a posted table
//   - GET  /healthz                       health check
//   - GET  /metrics                       Prometheus metrics
//
// With -once it forecasts a CSV file, writes the result as CSV and exits.
//
// Usage:
//
//	forecaster \
//	  -name=checkout-rps \
//	  -adapter=prometheus \
//	  -engine=chronos2 \
//	  -model-endpoint=grpc://inference:9000 \
//	  -horizon=24 -frequency=h
//
//	forecaster -once -input=history.csv -datetime-col=ds -target-col=y -frequency=D
//
// Every flag can also be set through the environment (-model-endpoint reads
// MODEL_ENDPOINT) or a YAML file given by -config-file. Adapter settings
// come from ADAPTER_* variables, e.g. ADAPTER_URL and ADAPTER_QUERY.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HatiCode/chronocast/cmd/forecaster/config"
	"github.com/HatiCode/chronocast/cmd/forecaster/logger"
	"github.com/HatiCode/chronocast/cmd/forecaster/metrics"
	"github.com/HatiCode/chronocast/cmd/forecaster/models"
	"github.com/HatiCode/chronocast/cmd/forecaster/router"
	"github.com/HatiCode/chronocast/cmd/forecaster/store"
	"github.com/HatiCode/chronocast/pkg/adapters"
	"github.com/HatiCode/chronocast/pkg/frequency"
	"github.com/HatiCode/chronocast/pkg/httpx"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	if cfg.Once {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		err := runOnce(ctx, cfg, logger)
		stop()
		if err != nil {
			logger.Error("forecast failed", "error", err)
			os.Exit(1)
		}
		return
	}

	logger.Info("starting chronocast forecaster",
		"version", version,
		"name", cfg.Name,
		"adapter", cfg.Adapter,
		"engine", cfg.Engine,
	)

	m := metrics.New(cfg.Name, nil)

	backend, closeBackend, err := models.NewBackend(cfg, m, logger)
	if err != nil {
		logger.Error("failed to create model backend", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeBackend(); err != nil {
			logger.Error("failed to close model backend", "error", err)
		}
	}()

	predictor, err := models.NewPredictor(cfg, backend, logger)
	if err != nil {
		logger.Error("invalid forecast configuration", "error", err)
		os.Exit(1)
	}

	adapter, err := buildAdapter(cfg, predictor.Info().Frequency, logger)
	if err != nil {
		logger.Error("failed to create adapter", "error", err)
		os.Exit(1)
	}

	st, err := store.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create store", "error", err)
		os.Exit(1)
	}
	if closer, ok := st.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}()
	}

	f := New(cfg.Name, adapter, predictor, st, cfg.Window, logger, m)

	staleAfter := 2 * cfg.Interval // Snapshot is stale if older than 2x the interval
	handler := router.SetupRoutes(st, predictor, staleAfter, logger)
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	tlsConfig, err := cfg.TLS.ServerConfig()
	if err != nil {
		logger.Error("failed to load server TLS configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := f.Run(ctx, cfg.Interval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("forecast loop failed", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		if tlsConfig != nil {
			httpServer.SetTLSConfig(tlsConfig)
			serverErr <- httpServer.StartTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErr <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	cancel()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// runOnce forecasts cfg.Input and writes the result as CSV to cfg.Output.
func runOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	backend, closeBackend, err := models.NewBackend(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	predictor, err := models.NewPredictor(cfg, backend, logger)
	if err != nil {
		return err
	}

	history, err := readCSV(ctx, cfg.Input)
	if err != nil {
		return err
	}
	past, err := readCSV(ctx, cfg.PastInput)
	if err != nil {
		return err
	}
	future, err := readCSV(ctx, cfg.FutureInput)
	if err != nil {
		return err
	}

	res, err := predictor.Predict(ctx, history, past, future)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		logger.Warn("forecast warning", "warning", w.Error())
	}

	return writeOutput(cfg.Output, res.Frame, os.Stdout)
}

// readCSV loads path, or returns nil when path is empty.
func readCSV(ctx context.Context, path string) (*adapters.DataFrame, error) {
	if path == "" {
		return nil, nil
	}
	return (&adapters.CSVAdapter{Path: path}).Collect(ctx, 0)
}

// writeOutput writes df as CSV to path, or to stdout when path is "-".
func writeOutput(path string, df *adapters.DataFrame, stdout io.Writer) error {
	if path == "" || path == "-" {
		return adapters.WriteCSV(stdout, df)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := adapters.WriteCSV(out, df); err != nil {
		out.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return out.Close()
}

// buildAdapter creates the configured history adapter, querying at the
// resolution of the forecast frequency.
func buildAdapter(cfg *config.Config, freq string, logger *slog.Logger) (adapters.Adapter, error) {
	step := stepSeconds(freq)
	adapter, err := adapters.New(cfg.Adapter, cfg.AdapterConfig, step)
	if err != nil {
		return nil, err
	}
	logger.Info("adapter ready", "adapter", adapter.Name(), "step_seconds", step)
	return adapter, nil
}

// stepSeconds is the adapter query resolution for a frequency code.
// Calendar frequencies are queried at daily resolution.
func stepSeconds(code string) int {
	freq, err := frequency.Parse(code)
	if err != nil {
		return 60
	}
	if d, ok := freq.Fixed(); ok {
		return int(d.Seconds())
	}
	return int((24 * time.Hour).Seconds())
}
