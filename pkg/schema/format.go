package schema

import (
	"time"

	"github.com/HatiCode/chronocast/pkg/adapters"
)

// ForecastPoint is one forecast step of one series, at quantiles 0.1, 0.5 and 0.9.
type ForecastPoint struct {
	ItemID    any
	Timestamp time.Time
	Lower     float64
	Point     float64
	Upper     float64
}

// OutputColumns names the caller-facing result columns.
type OutputColumns struct {
	Datetime string
	// Point names the point forecast column, usually PredictedColumn(target).
	Point  string
	ItemID string
}

// PredictedColumn is the default point forecast column for a target column.
func PredictedColumn(target string) string { return target + "_predicted" }

// Denormalize renders forecast points in the caller's column names, ordered
//
//	[item_id?], datetime, point, lower_bound, upper_bound
//
// The item-id column is omitted when the series id was synthesized.
func Denormalize(points []ForecastPoint, out OutputColumns, syntheticID bool) *adapters.DataFrame {
	withID := !syntheticID && out.ItemID != ""

	columns := make([]string, 0, 5)
	if withID {
		columns = append(columns, out.ItemID)
	}
	columns = append(columns, out.Datetime, out.Point, LowerBound, UpperBound)

	df := adapters.NewDataFrame(columns...)
	df.Rows = make([]adapters.Row, 0, len(points))
	for _, p := range points {
		row := adapters.Row{
			out.Datetime: p.Timestamp,
			out.Point:    p.Point,
			LowerBound:   p.Lower,
			UpperBound:   p.Upper,
		}
		if withID {
			row[out.ItemID] = p.ItemID
		}
		df.Rows = append(df.Rows, row)
	}
	return df
}
