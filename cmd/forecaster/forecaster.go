// This file holds the forecast loop:
//
//	collect → predict → snapshot → store
//
// Run executes Tick at a fixed interval. Each tick replaces the stored
// snapshot for the configured name, which the HTTP API then serves.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/chronocast/cmd/forecaster/metrics"
	"github.com/HatiCode/chronocast/cmd/forecaster/models"
	"github.com/HatiCode/chronocast/pkg/adapters"
	"github.com/HatiCode/chronocast/pkg/storage"
)

// Forecaster runs the forecast loop for one named forecast.
type Forecaster struct {
	name      string
	adapter   adapters.Adapter
	predictor models.Predictor
	store     storage.Store
	window    time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates a new Forecaster. metrics may be nil.
func New(
	name string,
	adapter adapters.Adapter,
	predictor models.Predictor,
	store storage.Store,
	window time.Duration,
	logger *slog.Logger,
	metrics *metrics.Metrics,
) *Forecaster {
	if logger == nil {
		logger = slog.Default()
	}

	return &Forecaster{
		name:      name,
		adapter:   adapter,
		predictor: predictor,
		store:     store,
		window:    window,
		logger:    logger.With("name", name),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Run executes the forecast loop at regular intervals.
// Blocks until context is canceled.
func (f *Forecaster) Run(ctx context.Context, interval time.Duration) error {
	f.logger.Info("starting forecast loop", "interval", interval, "window", f.window)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := f.Tick(ctx); err != nil {
		f.logger.Error("initial forecast tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("forecast loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := f.Tick(ctx); err != nil {
				f.logger.Error("forecast tick failed", "error", err)
			}
		}
	}
}

// Tick performs one forecast cycle.
func (f *Forecaster) Tick(ctx context.Context) error {
	start := f.now()

	df, collectDuration, err := f.collect(ctx)
	if err != nil {
		f.recordError("adapter", "collect_failed")
		return fmt.Errorf("collect: %w", err)
	}
	if df.Len() == 0 {
		f.recordError("adapter", "no_data")
		return fmt.Errorf("collect: adapter %s returned no rows", f.adapter.Name())
	}

	predictStart := time.Now()
	res, err := f.predictor.Predict(ctx, df, nil, nil)
	if err != nil {
		f.recordError("model", "predict_failed")
		return fmt.Errorf("predict: %w", err)
	}
	predictDuration := time.Since(predictStart)

	info := f.predictor.Info()
	snapshot := storage.NewSnapshot(f.name, info.Engine, info.Horizon, info.Frequency, res.Frame, res.Warnings, f.now())
	if err := f.store.Put(ctx, snapshot); err != nil {
		f.recordError("store", "put_failed")
		return fmt.Errorf("store: %w", err)
	}

	if f.metrics != nil {
		f.metrics.RecordPredict(predictDuration.Seconds())
		f.metrics.RecordWarnings(len(res.Warnings))
		f.metrics.SetForecastPoints(len(snapshot.Rows))
		f.metrics.SetForecastAge(0)
	}

	f.logger.Info("forecast tick complete",
		"engine", info.Engine,
		"history_rows", df.Len(),
		"forecast_rows", len(snapshot.Rows),
		"warnings", len(res.Warnings),
		"collect_ms", collectDuration.Milliseconds(),
		"predict_ms", predictDuration.Milliseconds(),
		"total_ms", f.now().Sub(start).Milliseconds(),
	)
	return nil
}

// collect retrieves the history window from the adapter.
func (f *Forecaster) collect(ctx context.Context) (*adapters.DataFrame, time.Duration, error) {
	start := time.Now()

	df, err := f.adapter.Collect(ctx, int(f.window.Seconds()))
	if err != nil {
		return nil, 0, err
	}

	duration := time.Since(start)
	if f.metrics != nil {
		f.metrics.RecordCollect(duration.Seconds())
	}

	f.logger.Debug("collected history",
		"adapter", f.adapter.Name(),
		"rows", df.Len(),
		"window_seconds", int(f.window.Seconds()),
		"duration_ms", duration.Milliseconds(),
	)
	return df, duration, nil
}

func (f *Forecaster) recordError(component, reason string) {
	if f.metrics != nil {
		f.metrics.RecordError(component, reason)
	}
}
