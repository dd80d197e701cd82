// Package forecaster is the public entry point: it validates a forecast
// configuration once, holds a single engine for its lifetime and renders
// engine output in the caller's column names.
package forecaster

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/HatiCode/chronocast/pkg/adapters"
	"github.com/HatiCode/chronocast/pkg/engines"
	"github.com/HatiCode/chronocast/pkg/frequency"
	"github.com/HatiCode/chronocast/pkg/models"
	"github.com/HatiCode/chronocast/pkg/schema"
	"github.com/HatiCode/chronocast/pkg/validation"
)

const tracerName = "github.com/HatiCode/chronocast/pkg/forecaster"

// Defaults applied by New to empty fields.
const (
	DefaultFrequency = "h"
	DefaultEngine    = string(engines.Chronos2)
	DefaultDevice    = "auto"
)

// Config describes a forecast request. It is copied by New and never
// modified afterwards.
type Config struct {
	Horizon     int    `validate:"gt=0"`
	DatetimeCol string `validate:"required"`
	TargetCol   string `validate:"required,nefield=DatetimeCol"`
	// ItemIDCol is empty for single-series input.
	ItemIDCol string `validate:"omitempty,nefield=DatetimeCol,nefield=TargetCol"`
	Frequency string `validate:"frequency"`
	// Engine is "chronos" or "chronos2", case-insensitive.
	Engine     string
	ModelURI   string
	RandomSeed *int64
	// Device is the placement policy: auto, cpu or cuda.
	Device  string         `validate:"oneof=auto cpu cuda"`
	Backend models.Backend `validate:"-"`
	Logger  *slog.Logger   `validate:"-"`
}

func (c Config) withDefaults() Config {
	if c.Frequency == "" {
		c.Frequency = DefaultFrequency
	}
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Result is a formatted forecast.
type Result struct {
	// Frame has columns [item id?], datetime, {target}_predicted,
	// lower_bound, upper_bound.
	Frame *adapters.DataFrame
	// Warnings are non-fatal conditions such as ignored covariates.
	Warnings []error
}

// Forecaster forecasts tables described by one Config.
type Forecaster struct {
	cfg    Config
	freq   frequency.Frequency
	engine engines.Engine
	logger *slog.Logger
	tracer trace.Tracer
}

// New validates cfg and builds its engine. The model is not loaded until the
// first Predict.
func New(cfg Config) (*Forecaster, error) {
	cfg = cfg.withDefaults()
	if err := validation.Struct(cfg); err != nil {
		return nil, err
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("%w: model backend is required", schema.ErrInvalidConfiguration)
	}

	kind, err := engines.ParseKind(cfg.Engine)
	if err != nil {
		return nil, err
	}
	freq, err := frequency.Parse(cfg.Frequency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrInvalidConfiguration, err)
	}
	device, err := models.ResolveDevice(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrInvalidConfiguration, err)
	}

	logger := cfg.Logger.With("component", "forecaster", "engine", kind)
	engine, err := engines.New(kind, engines.Config{
		Horizon:    cfg.Horizon,
		Frequency:  freq,
		RandomSeed: cfg.RandomSeed,
		ModelURI:   cfg.ModelURI,
		Device:     device,
		Backend:    cfg.Backend,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("forecaster ready",
		"horizon", cfg.Horizon,
		"frequency", freq.String(),
		"device", device.Name,
	)
	return &Forecaster{
		cfg:    cfg,
		freq:   freq,
		engine: engine,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Engine reports the engine kind in use.
func (f *Forecaster) Engine() engines.Kind { return f.engine.Kind() }

// Horizon returns the number of steps forecast per series.
func (f *Forecaster) Horizon() int { return f.cfg.Horizon }

// Frequency returns the parsed series frequency.
func (f *Forecaster) Frequency() frequency.Frequency { return f.freq }

// Loaded reports whether the engine has loaded its model.
func (f *Forecaster) Loaded() bool { return f.engine.Loaded() }

// Predict forecasts Horizon steps for every series in df. past and future
// are optional covariate tables keyed by the same datetime and item-id
// columns; either may be nil.
func (f *Forecaster) Predict(ctx context.Context, df, past, future *adapters.DataFrame) (*Result, error) {
	ctx, span := f.tracer.Start(ctx, "forecaster.Predict", trace.WithAttributes(
		attribute.String("chronocast.engine", string(f.engine.Kind())),
		attribute.Int("chronocast.horizon", f.cfg.Horizon),
		attribute.Int("chronocast.rows", df.Len()),
		attribute.Bool("chronocast.past_covariates", past != nil),
		attribute.Bool("chronocast.future_covariates", future != nil),
	))
	defer span.End()

	out, err := f.engine.Predict(ctx, engines.Input{
		Context: df,
		Past:    past,
		Future:  future,
		Columns: schema.Columns{
			Datetime: f.cfg.DatetimeCol,
			Target:   f.cfg.TargetCol,
			ItemID:   f.cfg.ItemIDCol,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	frame := schema.Denormalize(out.Points, schema.OutputColumns{
		Datetime: f.cfg.DatetimeCol,
		Point:    schema.PredictedColumn(f.cfg.TargetCol),
		ItemID:   f.cfg.ItemIDCol,
	}, out.SyntheticID)

	span.SetAttributes(
		attribute.Int("chronocast.points", frame.Len()),
		attribute.Int("chronocast.warnings", len(out.Warnings)),
	)
	return &Result{Frame: frame, Warnings: out.Warnings}, nil
}
