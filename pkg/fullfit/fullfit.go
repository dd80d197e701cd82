// Package fullfit is the legacy forecasting path: every call fits a
// dedicated predictor in a scratch working directory, predicts once and
// removes the directory again.
//
// The zero-shot engines in package engines supersede it. It remains for
// callers that depend on a trainer which needs a working directory.
package fullfit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/HatiCode/chronocast/pkg/adapters"
	"github.com/HatiCode/chronocast/pkg/frequency"
	"github.com/HatiCode/chronocast/pkg/models"
	"github.com/HatiCode/chronocast/pkg/schema"
	"github.com/HatiCode/chronocast/pkg/validation"
)

const (
	// MaxHorizon bounds the forecast horizon on this path.
	MaxHorizon = 60
	// DefaultModelPath is the pretrained checkpoint handed to the trainer.
	DefaultModelPath = "autogluon/chronos-bolt-base"
	// WorkDirPrefix prefixes every per-call working directory name.
	WorkDirPrefix = "chronos_forecaster_"
)

// Predictor output columns.
const (
	ColumnLower = "0.1"
	ColumnMean  = "mean"
	ColumnUpper = "0.9"
)

// Config configures a Forecaster.
type Config struct {
	Horizon     int    `validate:"gte=1,lte=60"`
	DatetimeCol string `validate:"required"`
	TargetCol   string `validate:"required,nefield=DatetimeCol"`
	ItemIDCol   string `validate:"omitempty,nefield=DatetimeCol,nefield=TargetCol"`
	Frequency   string `validate:"frequency"`
	RandomSeed  *int64
	FineTune    bool
	// ContextLength limits the history the model sees per series; zero
	// passes the whole table.
	ContextLength int    `validate:"gte=0"`
	Device        string `validate:"oneof=auto cpu cuda"`
	ModelPath     string
	// WorkRoot is where working directories are created; empty means
	// os.TempDir().
	WorkRoot string
	Trainer  Trainer      `validate:"-"`
	Logger   *slog.Logger `validate:"-"`
}

// FitParams are the hyperparameters passed to a Trainer.
type FitParams struct {
	WorkDir       string
	Horizon       int
	Frequency     frequency.Frequency
	ContextLength int
	Device        models.Device
	ModelPath     string
	FineTune      bool
	Seed          *int64
}

// Trainer fits a predictor on a canonical item_id/timestamp/target table.
type Trainer interface {
	Fit(ctx context.Context, train *adapters.DataFrame, params FitParams) (Model, error)
}

// Model is a fitted predictor. Predict returns a table with item_id,
// timestamp, "0.1", "mean" and "0.9" columns.
type Model interface {
	Predict(ctx context.Context, data *adapters.DataFrame) (*adapters.DataFrame, error)
}

// Forecaster runs the fit-then-predict cycle.
type Forecaster struct {
	cfg    Config
	freq   frequency.Frequency
	device models.Device
	logger *slog.Logger
	tracer trace.Tracer
	remove func(string) error
}

// New validates cfg.
func New(cfg Config) (*Forecaster, error) {
	if cfg.Frequency == "" {
		cfg.Frequency = "h"
	}
	if cfg.Device == "" {
		cfg.Device = "auto"
	}
	if cfg.ModelPath == "" {
		cfg.ModelPath = DefaultModelPath
	}
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = os.TempDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := validation.Struct(cfg); err != nil {
		return nil, err
	}
	if cfg.Trainer == nil {
		return nil, fmt.Errorf("%w: trainer is required", schema.ErrInvalidConfiguration)
	}

	freq, err := frequency.Parse(cfg.Frequency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrInvalidConfiguration, err)
	}
	device, err := models.ResolveDevice(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrInvalidConfiguration, err)
	}

	return &Forecaster{
		cfg:    cfg,
		freq:   freq,
		device: device,
		logger: cfg.Logger.With("component", "fullfit"),
		tracer: otel.Tracer("github.com/HatiCode/chronocast/pkg/fullfit"),
		remove: os.RemoveAll,
	}, nil
}

// Predict fits a predictor on df and forecasts Horizon steps per series.
// The result has the caller's item-id column (when configured), the
// datetime column, the target column holding the mean forecast, and
// lower_bound/upper_bound.
func (f *Forecaster) Predict(ctx context.Context, df *adapters.DataFrame) (*adapters.DataFrame, error) {
	ctx, span := f.tracer.Start(ctx, "fullfit.Predict", trace.WithAttributes(
		attribute.Int("chronocast.horizon", f.cfg.Horizon),
		attribute.Int("chronocast.rows", df.Len()),
	))
	defer span.End()

	out, err := f.predict(ctx, df)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (f *Forecaster) predict(ctx context.Context, df *adapters.DataFrame) (*adapters.DataFrame, error) {
	norm, err := schema.Normalize(df, schema.Columns{
		Datetime: f.cfg.DatetimeCol,
		Target:   f.cfg.TargetCol,
		ItemID:   f.cfg.ItemIDCol,
	})
	if err != nil {
		return nil, err
	}
	if norm.Frame.Len() == 0 {
		return nil, errors.New("fullfit: context table has no rows")
	}

	workDir := filepath.Join(f.cfg.WorkRoot, WorkDirPrefix+uuid.NewString())
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return nil, fmt.Errorf("fullfit: create working directory: %w", err)
	}
	defer f.cleanup(workDir)

	contextLength := f.cfg.ContextLength
	if contextLength == 0 {
		contextLength = norm.Frame.Len()
	}
	model, err := f.cfg.Trainer.Fit(ctx, norm.Frame, FitParams{
		WorkDir:       workDir,
		Horizon:       f.cfg.Horizon,
		Frequency:     f.freq,
		ContextLength: contextLength,
		Device:        f.device,
		ModelPath:     f.cfg.ModelPath,
		FineTune:      f.cfg.FineTune,
		Seed:          f.cfg.RandomSeed,
	})
	if err != nil {
		return nil, fmt.Errorf("fullfit: fit: %w", err)
	}

	pred, err := model.Predict(ctx, norm.Frame)
	if err != nil {
		return nil, fmt.Errorf("fullfit: predict: %w", err)
	}
	points, err := readPredictions(pred)
	if err != nil {
		return nil, fmt.Errorf("fullfit: %w", err)
	}

	f.logger.Debug("forecast complete", "work_dir", workDir, "points", len(points))
	return schema.Denormalize(points, schema.OutputColumns{
		Datetime: f.cfg.DatetimeCol,
		Point:    f.cfg.TargetCol,
		ItemID:   f.cfg.ItemIDCol,
	}, norm.SyntheticID), nil
}

// cleanup removes the working directory. Failures never replace the
// forecast result.
func (f *Forecaster) cleanup(dir string) {
	err := f.remove(dir)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}
	f.logger.Warn("failed to remove working directory", "dir", dir, "error", err)
}

func readPredictions(pred *adapters.DataFrame) ([]schema.ForecastPoint, error) {
	for _, required := range []string{schema.Timestamp, ColumnLower, ColumnMean, ColumnUpper} {
		if !pred.HasColumn(required) {
			return nil, fmt.Errorf("predictor output: %w: %q", schema.ErrColumnNotFound, required)
		}
	}

	points := make([]schema.ForecastPoint, 0, pred.Len())
	for i, row := range pred.Rows {
		ts, err := schema.CoerceTime(row[schema.Timestamp])
		if err != nil {
			return nil, fmt.Errorf("predictor output row %d: %w", i, err)
		}
		var vals [3]float64
		for j, col := range []string{ColumnLower, ColumnMean, ColumnUpper} {
			if vals[j], err = schema.CoerceFloat(row[col]); err != nil {
				return nil, fmt.Errorf("predictor output row %d column %q: %w", i, col, err)
			}
		}
		points = append(points, schema.ForecastPoint{
			ItemID:    row[schema.ItemID],
			Timestamp: ts,
			Lower:     vals[0],
			Point:     vals[1],
			Upper:     vals[2],
		})
	}
	return points, nil
}
