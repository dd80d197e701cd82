// Package schema converts caller tables into the canonical series schema the
// engines consume, and converts engine output back into the caller's column
// names.
//
// The canonical schema is one row per observation:
//
//	item_id   any        series identifier (0 for a single synthesized series)
//	timestamp time.Time
//	target    float64    NaN when missing
//
// plus any passthrough columns of the input table.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/chronocast/pkg/adapters"
)

// Canonical column names.
const (
	ItemID     = "item_id"
	Timestamp  = "timestamp"
	Target     = "target"
	LowerBound = "lower_bound"
	UpperBound = "upper_bound"
)

// SyntheticItemID is the identifier given to the single series of a table
// that has no item-id column.
const SyntheticItemID = 0

var canonical = []string{ItemID, Timestamp, Target}

// Columns names the caller's datetime, target and optional item-id columns.
type Columns struct {
	Datetime string
	Target   string
	ItemID   string
}

// Normalized is a table in canonical form.
type Normalized struct {
	Frame *adapters.DataFrame
	// SyntheticID is set when item_id was injected because the caller
	// configured no item-id column.
	SyntheticID bool
}

type seriesKey struct {
	id string
	ts int64
}

func keyOf(id any, ts time.Time) seriesKey {
	return seriesKey{id: IDKey(id), ts: ts.UnixNano()}
}

// IDKey returns the comparable form of an item id. Numbers compare by value
// whatever their Go type, so 3, int64(3), 3.0 and json.Number("3") name one
// series, while the string "3" names another.
func IDKey(id any) string {
	switch x := id.(type) {
	case nil:
		return "nil"
	case string:
		return "s:" + x
	case int:
		return numberKey(float64(x), strconv.FormatInt(int64(x), 10))
	case int32:
		return numberKey(float64(x), strconv.FormatInt(int64(x), 10))
	case int64:
		return numberKey(float64(x), strconv.FormatInt(x, 10))
	case uint:
		return numberKey(float64(x), strconv.FormatUint(uint64(x), 10))
	case uint32:
		return numberKey(float64(x), strconv.FormatUint(uint64(x), 10))
	case uint64:
		return numberKey(float64(x), strconv.FormatUint(x, 10))
	case float32:
		return numberKey(float64(x), "")
	case float64:
		return numberKey(x, "")
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return numberKey(float64(i), strconv.FormatInt(i, 10))
		}
		if f, err := x.Float64(); err == nil {
			return numberKey(f, "")
		}
		return "s:" + x.String()
	default:
		return fmt.Sprintf("%T:%v", id, id)
	}
}

// numberKey keys integral values by their exact decimal form when known, so
// large integers that share a float64 stay apart.
func numberKey(f float64, exact string) string {
	if exact != "" {
		return "n:" + exact
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return "n:" + strconv.FormatInt(int64(f), 10)
	}
	return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
}

// Normalize validates df and renames its columns into the canonical schema.
// It never deduplicates: a repeated timestamp within one series is an error.
func Normalize(df *adapters.DataFrame, cols Columns) (*Normalized, error) {
	if cols.Datetime == "" || cols.Target == "" {
		return nil, fmt.Errorf("%w: datetime and target columns are required", ErrInvalidConfiguration)
	}
	if cols.Datetime == cols.Target {
		return nil, fmt.Errorf("%w: target column %q must differ from datetime column", ErrInvalidConfiguration, cols.Target)
	}
	for _, name := range []string{cols.Datetime, cols.Target, cols.ItemID} {
		if name != "" && !df.HasColumn(name) {
			return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
		}
	}

	synthetic := cols.ItemID == ""
	passthrough := passthroughColumns(df, cols)
	out := adapters.NewDataFrame(append(slices.Clone(canonical), passthrough...)...)
	out.Rows = make([]adapters.Row, 0, df.Len())
	seen := make(map[seriesKey]struct{}, df.Len())

	for i, row := range df.Rows {
		ts, err := CoerceTime(row[cols.Datetime])
		if err != nil {
			return nil, fmt.Errorf("row %d column %q: %w", i, cols.Datetime, err)
		}
		target, err := CoerceFloat(row[cols.Target])
		if err != nil {
			return nil, fmt.Errorf("row %d column %q: %w", i, cols.Target, err)
		}

		var id any = SyntheticItemID
		if !synthetic {
			id = row[cols.ItemID]
		}

		k := keyOf(id, ts)
		if _, dup := seen[k]; dup {
			if synthetic {
				return nil, fmt.Errorf("%w: %s appears more than once; configure an item id column for multi-series input",
					ErrDuplicateTimestamp, ts.Format(time.RFC3339Nano))
			}
			return nil, fmt.Errorf("%w: item %v has %s more than once", ErrDuplicateTimestamp, id, ts.Format(time.RFC3339Nano))
		}
		seen[k] = struct{}{}

		canon := make(adapters.Row, len(out.Columns))
		canon[ItemID] = id
		canon[Timestamp] = ts
		canon[Target] = target
		for _, name := range passthrough {
			canon[name] = row[name]
		}
		out.Rows = append(out.Rows, canon)
	}

	return &Normalized{Frame: out, SyntheticID: synthetic}, nil
}

// Project returns a copy of a canonical frame holding only the item_id,
// timestamp and target columns.
func Project(frame *adapters.DataFrame) *adapters.DataFrame {
	out := adapters.NewDataFrame(canonical...)
	out.Rows = make([]adapters.Row, 0, frame.Len())
	for _, row := range frame.Rows {
		out.Rows = append(out.Rows, adapters.Row{
			ItemID:    row[ItemID],
			Timestamp: row[Timestamp],
			Target:    row[Target],
		})
	}
	return out
}

func passthroughColumns(df *adapters.DataFrame, cols Columns) []string {
	var names []string
	for _, name := range df.ColumnNames() {
		if name == cols.Datetime || name == cols.Target || name == cols.ItemID {
			continue
		}
		if slices.Contains(canonical, name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// CoerceTime converts a cell into a time.Time. Strings are parsed with the
// common ISO layouts (UTC unless they carry an offset) and numbers are read
// as Unix seconds.
func CoerceTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, x)
	case int:
		return time.Unix(int64(x), 0).UTC(), nil
	case int64:
		return time.Unix(x, 0).UTC(), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, x)
		}
		sec, frac := math.Modf(x)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, x.String())
		}
		return CoerceTime(f)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidTimestamp, v)
	}
}

// CoerceFloat converts a cell into a float64. Missing values (nil, empty
// strings) become NaN.
func CoerceFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidValue, x.String())
		}
		return f, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return math.NaN(), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidValue, x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, v)
	}
}
