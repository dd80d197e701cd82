package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/chronocast/pkg/adapters"
)

// Wire methods shared by the HTTP and gRPC backends.
const (
	methodLoad      = "load"
	methodPredict   = "predict"
	methodPredictDF = "predict_df"
)

// transport sends one request and returns the JSON-encoded response.
type transport interface {
	call(ctx context.Context, method string, payload map[string]any) ([]byte, error)
}

// remote implements Backend on top of a transport. Load returns an opaque
// handle that later predict calls refer to.
type remote struct {
	transport transport
	logger    *slog.Logger
}

func (r *remote) load(ctx context.Context, kind, uri string, device Device) (string, []float64, error) {
	start := time.Now()
	raw, err := r.transport.call(ctx, methodLoad, map[string]any{
		"model":  uri,
		"kind":   kind,
		"device": device.Name,
		"dtype":  device.DType,
	})
	if err != nil {
		return "", nil, fmt.Errorf("load %s: %w", uri, err)
	}

	handle := gjson.GetBytes(raw, "handle").String()
	if handle == "" {
		return "", nil, fmt.Errorf("load %s: response has no handle", uri)
	}
	var quantiles []float64
	for _, q := range gjson.GetBytes(raw, "quantiles").Array() {
		quantiles = append(quantiles, q.Float())
	}

	r.logger.Info("model loaded",
		"model", uri,
		"kind", kind,
		"device", device.Name,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return handle, quantiles, nil
}

func (r *remote) LoadQuantileModel(ctx context.Context, uri string, device Device) (QuantileModel, error) {
	handle, quantiles, err := r.load(ctx, "quantile", uri, device)
	if err != nil {
		return nil, err
	}
	if len(quantiles) == 0 {
		return nil, fmt.Errorf("load %s: backend reported no quantile levels", uri)
	}
	return &remoteQuantileModel{transport: r.transport, handle: handle, quantiles: quantiles}, nil
}

func (r *remote) LoadDataFrameModel(ctx context.Context, uri string, device Device) (DataFrameModel, error) {
	handle, _, err := r.load(ctx, "dataframe", uri, device)
	if err != nil {
		return nil, err
	}
	return &remoteDataFrameModel{transport: r.transport, handle: handle}, nil
}

type remoteQuantileModel struct {
	transport transport
	handle    string
	quantiles []float64
}

func (m *remoteQuantileModel) Quantiles() []float64 { return m.quantiles }

func (m *remoteQuantileModel) Predict(ctx context.Context, req QuantileRequest) ([][][]float64, error) {
	contexts := make([]any, len(req.Context))
	for i, series := range req.Context {
		values := make([]any, len(series))
		for j, v := range series {
			values[j] = wireFloat(v)
		}
		contexts[i] = values
	}

	payload := map[string]any{
		"handle":            m.handle,
		"context":           contexts,
		"prediction_length": req.PredictionLength,
	}
	if req.Seed != nil {
		payload["seed"] = *req.Seed
	}

	raw, err := m.transport.call(ctx, methodPredict, payload)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}

	predictions := gjson.GetBytes(raw, "predictions")
	if !predictions.IsArray() {
		return nil, errors.New("predict: response has no predictions array")
	}
	out := make([][][]float64, 0, len(req.Context))
	for _, series := range predictions.Array() {
		var levels [][]float64
		for _, level := range series.Array() {
			steps := make([]float64, 0, req.PredictionLength)
			for _, v := range level.Array() {
				steps = append(steps, readFloat(v))
			}
			if len(steps) != req.PredictionLength {
				return nil, fmt.Errorf("predict: expected %d steps, got %d", req.PredictionLength, len(steps))
			}
			levels = append(levels, steps)
		}
		if len(levels) != len(m.quantiles) {
			return nil, fmt.Errorf("predict: expected %d quantile levels, got %d", len(m.quantiles), len(levels))
		}
		out = append(out, levels)
	}
	if len(out) != len(req.Context) {
		return nil, fmt.Errorf("predict: expected %d series, got %d", len(req.Context), len(out))
	}
	return out, nil
}

type remoteDataFrameModel struct {
	transport transport
	handle    string
}

func (m *remoteDataFrameModel) PredictDF(ctx context.Context, req DataFrameRequest) (*adapters.DataFrame, error) {
	levels := make([]any, len(req.QuantileLevels))
	for i, q := range req.QuantileLevels {
		levels[i] = q
	}
	payload := map[string]any{
		"handle":            m.handle,
		"context":           wireRows(req.Context),
		"future":            nil,
		"prediction_length": req.PredictionLength,
		"quantile_levels":   levels,
		"id_column":         req.IDColumn,
		"timestamp_column":  req.TimestampColumn,
		"target":            req.Target,
		"freq":              req.Frequency,
	}
	if req.Future != nil {
		payload["future"] = wireRows(req.Future)
	}
	if req.Seed != nil {
		payload["seed"] = *req.Seed
	}

	raw, err := m.transport.call(ctx, methodPredictDF, payload)
	if err != nil {
		return nil, fmt.Errorf("predict_df: %w", err)
	}

	rows := gjson.GetBytes(raw, "rows")
	if !rows.IsArray() {
		return nil, errors.New("predict_df: response has no rows array")
	}
	var columns []string
	for _, c := range gjson.GetBytes(raw, "columns").Array() {
		columns = append(columns, c.String())
	}
	df := adapters.NewDataFrame(columns...)
	for _, item := range rows.Array() {
		row := make(adapters.Row)
		item.ForEach(func(key, value gjson.Result) bool {
			row[key.String()] = value.Value()
			return true
		})
		df.Append(row)
	}
	return df, nil
}

// wireRows renders a frame as JSON-safe objects: times as RFC3339 strings and
// NaN as null.
func wireRows(df *adapters.DataFrame) []any {
	rows := make([]any, 0, df.Len())
	for _, row := range df.Rows {
		obj := make(map[string]any, len(row))
		for k, v := range row {
			obj[k] = wireValue(v)
		}
		rows = append(rows, obj)
	}
	return rows
}

func wireValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int, int64:
		return x
	case float64:
		return wireFloat(x)
	case float32:
		return wireFloat(float64(x))
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func wireFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func readFloat(v gjson.Result) float64 {
	switch v.Type {
	case gjson.Null:
		return math.NaN()
	case gjson.String:
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return v.Float()
	}
}
