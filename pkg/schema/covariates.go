package schema

import (
	"fmt"
	"slices"
	"time"

	"github.com/HatiCode/chronocast/pkg/adapters"
)

// PrepareCovariates renames the datetime and item-id columns of a covariate
// table to the canonical names. A table without the item-id column applies
// to the synthetic series and gets item_id = 0. The caller's target column is
// dropped, since observed targets belong to the context table.
func PrepareCovariates(cov *adapters.DataFrame, cols Columns) (*adapters.DataFrame, error) {
	if !cov.HasColumn(cols.Datetime) {
		return nil, fmt.Errorf("covariates: %w: %q", ErrColumnNotFound, cols.Datetime)
	}
	hasID := cols.ItemID != "" && cov.HasColumn(cols.ItemID)

	var extra []string
	for _, name := range cov.ColumnNames() {
		switch name {
		case cols.Datetime, cols.Target:
			continue
		}
		if hasID && name == cols.ItemID {
			continue
		}
		if name == ItemID || name == Timestamp {
			continue
		}
		extra = append(extra, name)
	}

	out := adapters.NewDataFrame(append([]string{ItemID, Timestamp}, extra...)...)
	out.Rows = make([]adapters.Row, 0, cov.Len())
	seen := make(map[seriesKey]struct{}, cov.Len())

	for i, row := range cov.Rows {
		ts, err := CoerceTime(row[cols.Datetime])
		if err != nil {
			return nil, fmt.Errorf("covariates: row %d column %q: %w", i, cols.Datetime, err)
		}
		var id any = SyntheticItemID
		if hasID {
			id = row[cols.ItemID]
		}
		k := keyOf(id, ts)
		if _, dup := seen[k]; dup {
			return nil, fmt.Errorf("covariates: %w: item %v has %s more than once",
				ErrDuplicateTimestamp, id, ts.Format(time.RFC3339Nano))
		}
		seen[k] = struct{}{}

		prepared := make(adapters.Row, len(out.Columns))
		prepared[ItemID] = id
		prepared[Timestamp] = ts
		for _, name := range extra {
			prepared[name] = row[name]
		}
		out.Rows = append(out.Rows, prepared)
	}
	return out, nil
}

// MergeCovariates left-joins a prepared covariate table onto a canonical
// context frame on (item_id, timestamp). Every context row is kept, covariate
// rows without a matching context row are dropped and unmatched cells are nil.
// Covariate columns already present on the context frame are ignored.
func MergeCovariates(frame, cov *adapters.DataFrame) *adapters.DataFrame {
	var added []string
	for _, name := range cov.ColumnNames() {
		if name == ItemID || name == Timestamp || frame.HasColumn(name) {
			continue
		}
		added = append(added, name)
	}

	index := make(map[seriesKey]adapters.Row, cov.Len())
	for _, row := range cov.Rows {
		ts, ok := row[Timestamp].(time.Time)
		if !ok {
			continue
		}
		index[keyOf(row[ItemID], ts)] = row
	}

	out := adapters.NewDataFrame(append(slices.Clone(frame.ColumnNames()), added...)...)
	out.Rows = make([]adapters.Row, 0, frame.Len())
	for _, row := range frame.Rows {
		merged := make(adapters.Row, len(out.Columns))
		for k, v := range row {
			merged[k] = v
		}
		var match adapters.Row
		if ts, ok := row[Timestamp].(time.Time); ok {
			match = index[keyOf(row[ItemID], ts)]
		}
		for _, name := range added {
			merged[name] = match[name]
		}
		out.Rows = append(out.Rows, merged)
	}
	return out
}
