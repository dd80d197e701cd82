// Package models wires the configured model backend and predictor.
package models

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/chronocast/cmd/forecaster/config"
	"github.com/HatiCode/chronocast/cmd/forecaster/metrics"
	"github.com/HatiCode/chronocast/pkg/adapters"
	"github.com/HatiCode/chronocast/pkg/engines"
	"github.com/HatiCode/chronocast/pkg/forecaster"
	"github.com/HatiCode/chronocast/pkg/fullfit"
	"github.com/HatiCode/chronocast/pkg/models"
)

// FullFitEngine names the legacy predictor in snapshots and logs.
const FullFitEngine = "fullfit"

// Info describes a predictor's fixed forecast shape.
type Info struct {
	Engine    string
	Horizon   int
	Frequency string
}

// Predictor forecasts a history table with optional covariates.
type Predictor interface {
	Predict(ctx context.Context, df, past, future *adapters.DataFrame) (*forecaster.Result, error)
	Info() Info
}

// NewBackend connects to the configured model endpoint. Load times are
// recorded on m when it is non-nil. The returned close func releases the
// backend's connection and is never nil.
func NewBackend(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (models.Backend, func() error, error) {
	backend, err := models.NewBackend(cfg.ModelEndpoint, models.Options{
		TLS:     cfg.ModelTLS,
		Timeout: cfg.ModelTimeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("model backend: %w", err)
	}
	logger.Info("model backend ready", "endpoint", cfg.ModelEndpoint)

	closeFn := func() error { return nil }
	if c, ok := backend.(interface{ Close() error }); ok {
		closeFn = c.Close
	}
	return &instrumentedBackend{next: backend, metrics: m, logger: logger}, closeFn, nil
}

// instrumentedBackend times model loads.
type instrumentedBackend struct {
	next    models.Backend
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func (b *instrumentedBackend) LoadQuantileModel(ctx context.Context, uri string, device models.Device) (models.QuantileModel, error) {
	start := time.Now()
	model, err := b.next.LoadQuantileModel(ctx, uri, device)
	b.observe("quantile", uri, device, start, err)
	return model, err
}

func (b *instrumentedBackend) LoadDataFrameModel(ctx context.Context, uri string, device models.Device) (models.DataFrameModel, error) {
	start := time.Now()
	model, err := b.next.LoadDataFrameModel(ctx, uri, device)
	b.observe("dataframe", uri, device, start, err)
	return model, err
}

func (b *instrumentedBackend) observe(kind, uri string, device models.Device, start time.Time, err error) {
	duration := time.Since(start)
	if err != nil {
		if b.metrics != nil {
			b.metrics.RecordError("model", "load_failed")
		}
		b.logger.Error("model load failed", "kind", kind, "model", uri, "error", err)
		return
	}
	if b.metrics != nil {
		b.metrics.RecordModelLoad(kind, duration.Seconds())
	}
	b.logger.Info("model loaded",
		"kind", kind,
		"model", uri,
		"device", device.Name,
		"duration_ms", duration.Milliseconds(),
	)
}

// NewPredictor builds the zero-shot forecaster, or the legacy full-fit
// predictor when cfg.FullFit is set.
func NewPredictor(cfg *config.Config, backend models.Backend, logger *slog.Logger) (Predictor, error) {
	if cfg.FullFit {
		ff, err := fullfit.New(fullfit.Config{
			Horizon:     cfg.Horizon,
			DatetimeCol: cfg.DatetimeCol,
			TargetCol:   cfg.TargetCol,
			ItemIDCol:   cfg.ItemIDCol,
			Frequency:   cfg.Frequency,
			RandomSeed:  cfg.RandomSeed(),
			Device:      cfg.Device,
			ModelPath:   cfg.ModelURI,
			Trainer:     fullfit.ZeroShotTrainer{Backend: backend, Logger: logger},
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("using full-fit predictor", "horizon", cfg.Horizon, "frequency", cfg.Frequency)
		return &fullFitPredictor{
			ff:     ff,
			info:   Info{Engine: FullFitEngine, Horizon: cfg.Horizon, Frequency: cfg.Frequency},
			logger: logger,
		}, nil
	}

	f, err := forecaster.New(forecaster.Config{
		Horizon:     cfg.Horizon,
		DatetimeCol: cfg.DatetimeCol,
		TargetCol:   cfg.TargetCol,
		ItemIDCol:   cfg.ItemIDCol,
		Frequency:   cfg.Frequency,
		Engine:      cfg.Engine,
		ModelURI:    cfg.ModelURI,
		RandomSeed:  cfg.RandomSeed(),
		Device:      cfg.Device,
		Backend:     backend,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return enginePredictor{f}, nil
}

type enginePredictor struct {
	*forecaster.Forecaster
}

func (p enginePredictor) Info() Info {
	return Info{
		Engine:    string(p.Engine()),
		Horizon:   p.Horizon(),
		Frequency: p.Frequency().String(),
	}
}

// fullFitPredictor adapts the legacy path, which has no covariate support.
type fullFitPredictor struct {
	ff     *fullfit.Forecaster
	info   Info
	logger *slog.Logger
}

func (p *fullFitPredictor) Info() Info { return p.info }

func (p *fullFitPredictor) Predict(ctx context.Context, df, past, future *adapters.DataFrame) (*forecaster.Result, error) {
	var warnings []error
	if past != nil {
		warnings = append(warnings, &engines.UnsupportedFeatureWarning{Engine: FullFitEngine, Feature: "past covariates"})
	}
	if future != nil {
		warnings = append(warnings, &engines.UnsupportedFeatureWarning{Engine: FullFitEngine, Feature: "future covariates"})
	}
	for _, w := range warnings {
		p.logger.Warn("ignoring unsupported input", "warning", w.Error())
	}

	out, err := p.ff.Predict(ctx, df)
	if err != nil {
		return nil, err
	}
	return &forecaster.Result{Frame: out, Warnings: warnings}, nil
}
