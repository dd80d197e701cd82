// Package adapters provides the tabular DataFrame type used across chronocast
// and the history sources that fill it from external systems.
//
// A DataFrame is the caller-facing table: forecaster inputs (context and
// covariate tables) and outputs are all DataFrames. Sources implement the
// Adapter interface and shape whatever they fetch into rows of
//
//	{"ts": time.Time, "value": float64[, "series": string]}
//
// Available adapters:
//   - PrometheusAdapter      Prometheus HTTP API range queries
//   - VictoriaMetricsAdapter VictoriaMetrics Prometheus-compatible API
//   - HTTPAdapter            any REST API with JSON responses (gjson paths)
//   - CSVAdapter             a CSV file on disk
//
// Adapters only pull and shape data. Normalization into the canonical series
// schema happens in package schema.
package adapters

import (
	"context"
	"slices"
	"sort"
	"time"
)

// Default column names emitted by the history sources.
const (
	ColumnTimestamp = "ts"
	ColumnValue     = "value"
	ColumnSeries    = "series"
)

// Row represents a single observation keyed by column name.
// Example: {"ts": time.Time, "value": 312.4, "store": "north"}
type Row map[string]any

// DataFrame is a lightweight ordered table.
//
// Columns fixes the column order used when the frame is rendered (CSV, JSON
// output). Rows may omit a column; a missing key reads as nil.
type DataFrame struct {
	Columns []string
	Rows    []Row
}

// NewDataFrame creates an empty frame with the given column order.
func NewDataFrame(columns ...string) *DataFrame {
	return &DataFrame{Columns: slices.Clone(columns)}
}

// Len returns the number of rows.
func (df *DataFrame) Len() int {
	if df == nil {
		return 0
	}
	return len(df.Rows)
}

// Append adds a row and registers any column the frame has not seen yet.
func (df *DataFrame) Append(row Row) {
	df.Rows = append(df.Rows, row)
	if len(row) == 0 {
		return
	}
	var missing []string
	for k := range row {
		if !slices.Contains(df.Columns, k) {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	df.Columns = append(df.Columns, missing...)
}

// HasColumn reports whether name is a column of the frame. Frames built
// without an explicit column list fall back to inspecting the rows.
func (df *DataFrame) HasColumn(name string) bool {
	if df == nil {
		return false
	}
	if slices.Contains(df.Columns, name) {
		return true
	}
	if len(df.Columns) > 0 {
		return false
	}
	for _, row := range df.Rows {
		if _, ok := row[name]; ok {
			return true
		}
	}
	return false
}

// ColumnNames returns the frame's columns. When Columns is empty the names are
// derived from the rows, sorted for a stable order.
func (df *DataFrame) ColumnNames() []string {
	if df == nil {
		return nil
	}
	if len(df.Columns) > 0 {
		return slices.Clone(df.Columns)
	}
	seen := make(map[string]struct{})
	var names []string
	for _, row := range df.Rows {
		for k := range row {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}

// Column returns the values of one column, nil where a row lacks it.
func (df *DataFrame) Column(name string) []any {
	values := make([]any, df.Len())
	for i, row := range df.Rows {
		values[i] = row[name]
	}
	return values
}

// Adapter is the interface that all history sources implement.
//
// The Collect() call is synchronous and should respect context cancellation
// and deadlines.
type Adapter interface {
	// Collect fetches observations for the last windowSeconds and returns them
	// as a DataFrame. It must handle transient errors gracefully and never panic.
	Collect(ctx context.Context, windowSeconds int) (*DataFrame, error)

	// Name returns a short, unique identifier for the adapter.
	// Example: "prometheus", "http", "csv".
	Name() string
}

// AlignTimestamp truncates ts to a consistent step duration.
func AlignTimestamp(ts time.Time, stepSec int) time.Time {
	return ts.Truncate(time.Duration(stepSec) * time.Second)
}

// sortRows orders rows by timestamp, keeping the relative order of ties.
func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i][ColumnTimestamp].(time.Time).Before(rows[j][ColumnTimestamp].(time.Time))
	})
}
