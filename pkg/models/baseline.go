package models

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/HatiCode/chronocast/pkg/adapters"
	"github.com/HatiCode/chronocast/pkg/frequency"
	"github.com/HatiCode/chronocast/pkg/schema"
)

// BaselineBackend serves an in-process model that extrapolates the recent
// linear trend of each series and derives quantiles from the residual spread
// around it. It needs no weights, so the model URI and device are ignored.
//
// Algorithm, per series:
//  1. Fit a line to the last trendWindow observed (non-NaN) values.
//  2. Point forecast at step k = last value + slope*k.
//  3. Quantile q at step k = point + z(q) * residual stddev * sqrt(k),
//     where z is the standard normal quantile function.
type BaselineBackend struct{}

// baselineQuantiles mirrors the nine-level quantile head of pretrained
// zero-shot models.
var baselineQuantiles = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}

const trendWindow = 10

func (BaselineBackend) LoadQuantileModel(ctx context.Context, _ string, _ Device) (QuantileModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return localQuantileModel{name: "baseline", fit: fitTrendSeries}, nil
}

func (BaselineBackend) LoadDataFrameModel(ctx context.Context, _ string, _ Device) (DataFrameModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return localDataFrameModel{name: "baseline", fit: fitTrendSeries}, nil
}

// seriesForecast is a fitted per-series model.
type seriesForecast interface {
	// quantile returns the level-q forecast for steps 1..steps.
	quantile(q float64, steps int) []float64
}

// fitFunc fits one series; NaN marks a missing value.
type fitFunc func(values []float64) seriesForecast

func fitTrendSeries(values []float64) seriesForecast { return fitTrend(values) }

// localQuantileModel and localDataFrameModel serve any in-process fitFunc.
type localQuantileModel struct {
	name string
	fit  fitFunc
}

func (localQuantileModel) Quantiles() []float64 { return baselineQuantiles }

func (m localQuantileModel) Predict(ctx context.Context, req QuantileRequest) ([][][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.PredictionLength <= 0 {
		return nil, fmt.Errorf("%s: prediction length must be positive, got %d", m.name, req.PredictionLength)
	}

	out := make([][][]float64, len(req.Context))
	for i, values := range req.Context {
		fc := m.fit(values)
		levels := make([][]float64, len(baselineQuantiles))
		for qi, q := range baselineQuantiles {
			levels[qi] = fc.quantile(q, req.PredictionLength)
		}
		out[i] = levels
	}
	return out, nil
}

type localDataFrameModel struct {
	name string
	fit  fitFunc
}

func (m localDataFrameModel) PredictDF(ctx context.Context, req DataFrameRequest) (*adapters.DataFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.PredictionLength <= 0 {
		return nil, fmt.Errorf("%s: prediction length must be positive, got %d", m.name, req.PredictionLength)
	}
	freq, err := frequency.Parse(req.Frequency)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.name, err)
	}

	history, err := collectSeries(req.Context, req.IDColumn, req.TimestampColumn, req.Target)
	if err != nil {
		return nil, fmt.Errorf("%s: context: %w", m.name, err)
	}
	future := map[string][]time.Time{}
	if req.Future != nil {
		known, err := collectSeries(req.Future, req.IDColumn, req.TimestampColumn, "")
		if err != nil {
			return nil, fmt.Errorf("%s: future: %w", m.name, err)
		}
		for _, s := range known {
			future[s.key] = s.timestamps
		}
	}

	columns := []string{req.IDColumn, req.TimestampColumn}
	for _, q := range req.QuantileLevels {
		columns = append(columns, strconv.FormatFloat(q, 'f', -1, 64))
	}
	df := adapters.NewDataFrame(columns...)

	for _, s := range history {
		if len(s.timestamps) == 0 {
			continue
		}
		steps := future[s.key]
		if len(steps) >= req.PredictionLength {
			steps = steps[:req.PredictionLength]
		} else {
			steps = freq.Range(s.timestamps[len(s.timestamps)-1], req.PredictionLength)
		}

		fc := m.fit(s.values)
		byLevel := make([][]float64, len(req.QuantileLevels))
		for qi, q := range req.QuantileLevels {
			byLevel[qi] = fc.quantile(q, req.PredictionLength)
		}
		for k, ts := range steps {
			row := adapters.Row{req.IDColumn: s.id, req.TimestampColumn: ts}
			for qi := range req.QuantileLevels {
				row[columns[2+qi]] = byLevel[qi][k]
			}
			df.Rows = append(df.Rows, row)
		}
	}
	return df, nil
}

type rawSeries struct {
	key        string
	id         any
	timestamps []time.Time
	values     []float64
}

// collectSeries groups a long-format table by id, ordered by timestamp. An
// empty target skips value extraction.
func collectSeries(df *adapters.DataFrame, idCol, tsCol, target string) ([]*rawSeries, error) {
	var order []*rawSeries
	byKey := map[string]*rawSeries{}
	for _, row := range df.Rows {
		ts, err := schema.CoerceTime(row[tsCol])
		if err != nil {
			return nil, err
		}
		id := row[idCol]
		key := schema.IDKey(id)
		s, ok := byKey[key]
		if !ok {
			s = &rawSeries{key: key, id: id}
			byKey[key] = s
			order = append(order, s)
		}
		s.timestamps = append(s.timestamps, ts)
		if target != "" {
			v, err := schema.CoerceFloat(row[target])
			if err != nil {
				return nil, err
			}
			s.values = append(s.values, v)
		}
	}
	for _, s := range order {
		idx := make([]int, len(s.timestamps))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return s.timestamps[idx[a]].Before(s.timestamps[idx[b]]) })
		ts := make([]time.Time, len(idx))
		for i, j := range idx {
			ts[i] = s.timestamps[j]
		}
		if target != "" {
			vals := make([]float64, len(idx))
			for i, j := range idx {
				vals[i] = s.values[j]
			}
			s.values = vals
		}
		s.timestamps = ts
	}
	return order, nil
}

// trendForecast is a fitted linear extrapolation.
type trendForecast struct {
	last   float64
	slope  float64
	stddev float64
}

func fitTrend(values []float64) trendForecast {
	observed := dropNaN(values)
	if len(observed) == 0 {
		return trendForecast{last: math.NaN()}
	}

	window := observed[max(0, len(observed)-trendWindow):]
	intercept, slope := linearFit(window)

	var ss float64
	for i, y := range window {
		r := y - (intercept + slope*float64(i))
		ss += r * r
	}
	stddev := 0.0
	if len(window) > 2 {
		stddev = math.Sqrt(ss / float64(len(window)-2))
	}

	return trendForecast{last: observed[len(observed)-1], slope: slope, stddev: stddev}
}

func (f trendForecast) quantile(q float64, steps int) []float64 {
	z := normalQuantile(q)
	out := make([]float64, steps)
	for k := range out {
		h := float64(k + 1)
		out[k] = f.last + f.slope*h + z*f.stddev*math.Sqrt(h)
	}
	return out
}

// normalQuantile is the standard normal quantile function.
func normalQuantile(q float64) float64 { return math.Sqrt2 * math.Erfinv(2*q-1) }

func dropNaN(values []float64) []float64 {
	observed := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			observed = append(observed, v)
		}
	}
	return observed
}

// linearFit fits y = a + b*x over x = 0..n-1 by least squares.
func linearFit(ys []float64) (a, b float64) {
	n := float64(len(ys))
	if len(ys) < 2 {
		return ys[0], 0
	}
	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return sumY / n, 0
	}
	b = (n*sumXY - sumX*sumY) / denominator
	a = (sumY - b*sumX) / n
	return a, b
}
