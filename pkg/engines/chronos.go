package engines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/HatiCode/chronocast/pkg/models"
	"github.com/HatiCode/chronocast/pkg/schema"
)

// chronosEngine forecasts each series from its own target history only.
type chronosEngine struct {
	cfg    Config
	logger *slog.Logger
	model  *models.Lazy[models.QuantileModel]
}

func newChronos(cfg Config) *chronosEngine {
	uri := cfg.ModelURI
	if uri == "" {
		uri = DefaultChronosModel
	}
	e := &chronosEngine{cfg: cfg, logger: cfg.Logger.With("engine", Chronos, "model", uri)}
	e.model = models.NewLazy(func(ctx context.Context) (models.QuantileModel, error) {
		return cfg.Backend.LoadQuantileModel(ctx, uri, cfg.Device)
	})
	return e
}

func (e *chronosEngine) Kind() Kind { return Chronos }

func (e *chronosEngine) Loaded() bool { return e.model.Loaded() }

func (e *chronosEngine) Predict(ctx context.Context, in Input) (*Forecast, error) {
	var warnings []error
	if in.Past != nil {
		warnings = append(warnings, &UnsupportedFeatureWarning{Engine: Chronos, Feature: "past covariates"})
	}
	if in.Future != nil {
		warnings = append(warnings, &UnsupportedFeatureWarning{Engine: Chronos, Feature: "future covariates"})
	}
	for _, w := range warnings {
		e.logger.Warn("ignoring unsupported input", "warning", w.Error())
	}

	norm, err := schema.Normalize(in.Context, in.Columns)
	if err != nil {
		return nil, err
	}
	series := schema.Group(norm.Frame)
	if len(series) == 0 {
		return nil, errors.New("chronos: context table has no rows")
	}

	contexts := make([][]float64, len(series))
	for i, s := range series {
		contexts[i] = s.Targets
	}

	model, err := e.model.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("chronos: load model: %w", err)
	}
	tensor, err := model.Predict(ctx, models.QuantileRequest{
		Context:          contexts,
		PredictionLength: e.cfg.Horizon,
		Seed:             e.cfg.RandomSeed,
	})
	if err != nil {
		return nil, fmt.Errorf("chronos: predict: %w", err)
	}
	if len(tensor) != len(series) {
		return nil, fmt.Errorf("chronos: model returned %d series, want %d", len(tensor), len(series))
	}

	lo, mid, hi := quantileIndices(model.Quantiles())
	points := make([]schema.ForecastPoint, 0, len(series)*e.cfg.Horizon)
	for i, s := range series {
		levels := tensor[i]
		for _, q := range []int{lo, mid, hi} {
			if q >= len(levels) || len(levels[q]) < e.cfg.Horizon {
				return nil, fmt.Errorf("chronos: model output for series %v is missing quantile index %d", s.ItemID, q)
			}
		}
		for k, ts := range e.cfg.Frequency.Range(s.Last(), e.cfg.Horizon) {
			points = append(points, schema.ForecastPoint{
				ItemID:    s.ItemID,
				Timestamp: ts,
				Lower:     levels[lo][k],
				Point:     levels[mid][k],
				Upper:     levels[hi][k],
			})
		}
	}

	e.logger.Debug("forecast complete", "series", len(series), "points", len(points))
	return &Forecast{Points: points, SyntheticID: norm.SyntheticID, Warnings: warnings}, nil
}
