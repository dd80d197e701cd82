package engines

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HatiCode/chronocast/pkg/adapters"
	"github.com/HatiCode/chronocast/pkg/models"
	"github.com/HatiCode/chronocast/pkg/schema"
)

// chronos2Engine forecasts the whole long-format table in one model call,
// with past covariates merged into the context and future covariates passed
// alongside.
type chronos2Engine struct {
	cfg    Config
	logger *slog.Logger
	model  *models.Lazy[models.DataFrameModel]
}

func newChronos2(cfg Config) *chronos2Engine {
	uri := cfg.ModelURI
	if uri == "" {
		uri = DefaultChronos2Model
	}
	e := &chronos2Engine{cfg: cfg, logger: cfg.Logger.With("engine", Chronos2, "model", uri)}
	e.model = models.NewLazy(func(ctx context.Context) (models.DataFrameModel, error) {
		return cfg.Backend.LoadDataFrameModel(ctx, uri, cfg.Device)
	})
	return e
}

func (e *chronos2Engine) Kind() Kind { return Chronos2 }

func (e *chronos2Engine) Loaded() bool { return e.model.Loaded() }

func (e *chronos2Engine) Predict(ctx context.Context, in Input) (*Forecast, error) {
	norm, err := schema.Normalize(in.Context, in.Columns)
	if err != nil {
		return nil, err
	}
	if norm.Frame.Len() == 0 {
		return nil, fmt.Errorf("chronos2: context table has no rows")
	}

	// Only past covariates travel with the context; other input columns stay
	// out of the model call.
	frame := schema.Project(norm.Frame)
	if in.Past != nil {
		past, err := schema.PrepareCovariates(in.Past, in.Columns)
		if err != nil {
			return nil, fmt.Errorf("past %w", err)
		}
		frame = schema.MergeCovariates(frame, past)
	}
	var future *adapters.DataFrame
	if in.Future != nil {
		future, err = schema.PrepareCovariates(in.Future, in.Columns)
		if err != nil {
			return nil, fmt.Errorf("future %w", err)
		}
	}

	model, err := e.model.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("chronos2: load model: %w", err)
	}
	out, err := model.PredictDF(ctx, models.DataFrameRequest{
		Context:          frame,
		Future:           future,
		PredictionLength: e.cfg.Horizon,
		QuantileLevels:   reportedQuantiles,
		IDColumn:         schema.ItemID,
		TimestampColumn:  schema.Timestamp,
		Target:           schema.Target,
		Frequency:        e.cfg.Frequency.String(),
		Seed:             e.cfg.RandomSeed,
	})
	if err != nil {
		return nil, fmt.Errorf("chronos2: predict: %w", err)
	}

	points, err := readQuantileFrame(out, originalIDs(frame), e.cfg.Horizon)
	if err != nil {
		return nil, fmt.Errorf("chronos2: %w", err)
	}

	e.logger.Debug("forecast complete", "rows", frame.Len(), "points", len(points))
	return &Forecast{Points: points, SyntheticID: norm.SyntheticID}, nil
}

// originalIDs maps the key of each item id to its original value, so ids that
// changed type on the wire (3 -> 3.0) are restored.
func originalIDs(frame *adapters.DataFrame) map[string]any {
	ids := make(map[string]any)
	for _, row := range frame.Rows {
		id := row[schema.ItemID]
		ids[schema.IDKey(id)] = id
	}
	return ids
}

// readQuantileFrame converts a model output table with id, timestamp and
// 0.1/0.5/0.9 columns into forecast points. Every input item must come back
// with exactly horizon rows.
func readQuantileFrame(out *adapters.DataFrame, ids map[string]any, horizon int) ([]schema.ForecastPoint, error) {
	idCol := schema.ItemID
	if !out.HasColumn(idCol) {
		idCol = "id"
	}
	for _, required := range []string{idCol, schema.Timestamp} {
		if !out.HasColumn(required) {
			return nil, fmt.Errorf("model output: %w: %q", schema.ErrColumnNotFound, required)
		}
	}
	qcols := quantileColumns(out.ColumnNames())
	for _, q := range reportedQuantiles {
		if _, ok := qcols[q]; !ok {
			return nil, fmt.Errorf("model output: %w: quantile %v", schema.ErrColumnNotFound, q)
		}
	}

	points := make([]schema.ForecastPoint, 0, out.Len())
	counts := make(map[string]int, len(ids))
	for i, row := range out.Rows {
		ts, err := schema.CoerceTime(row[schema.Timestamp])
		if err != nil {
			return nil, fmt.Errorf("model output row %d: %w", i, err)
		}
		var vals [3]float64
		for j, q := range reportedQuantiles {
			v, err := schema.CoerceFloat(row[qcols[q]])
			if err != nil {
				return nil, fmt.Errorf("model output row %d: %w", i, err)
			}
			vals[j] = v
		}

		id := row[idCol]
		key := schema.IDKey(id)
		orig, ok := ids[key]
		if !ok {
			return nil, fmt.Errorf("model output row %d: unknown item %v", i, id)
		}
		counts[key]++
		id = orig
		points = append(points, schema.ForecastPoint{
			ItemID:    id,
			Timestamp: ts,
			Lower:     vals[0],
			Point:     vals[1],
			Upper:     vals[2],
		})
	}
	for key, id := range ids {
		if counts[key] != horizon {
			return nil, fmt.Errorf("model output has %d rows for item %v, want %d", counts[key], id, horizon)
		}
	}
	return points, nil
}
