package schema

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/HatiCode/chronocast/pkg/adapters"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestNormalize_SingleSeries(t *testing.T) {
	df := adapters.NewDataFrame("date", "sales", "promo")
	df.Append(adapters.Row{"date": "2024-01-02", "sales": "12", "promo": true})
	df.Append(adapters.Row{"date": "2024-01-01", "sales": 10, "promo": false})
	df.Append(adapters.Row{"date": "2024-01-03", "sales": nil, "promo": false})

	n, err := Normalize(df, Columns{Datetime: "date", Target: "sales"})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if !n.SyntheticID {
		t.Error("SyntheticID = false, want true")
	}
	if got := strings.Join(n.Frame.Columns, ","); got != "item_id,timestamp,target,promo" {
		t.Errorf("Columns = %s", got)
	}
	first := n.Frame.Rows[0]
	if first[ItemID] != SyntheticItemID {
		t.Errorf("item_id = %v, want 0", first[ItemID])
	}
	if !first[Timestamp].(time.Time).Equal(day(2)) {
		t.Errorf("timestamp = %v, want %v", first[Timestamp], day(2))
	}
	if first[Target] != 12.0 {
		t.Errorf("target = %v, want 12", first[Target])
	}
	if first["promo"] != true {
		t.Errorf("promo = %v, want passthrough true", first["promo"])
	}
	if !math.IsNaN(n.Frame.Rows[2][Target].(float64)) {
		t.Errorf("missing target = %v, want NaN", n.Frame.Rows[2][Target])
	}
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		rows    []adapters.Row
		cols    Columns
		wantErr error
	}{
		{
			name:    "missing datetime column",
			rows:    []adapters.Row{{"sales": 1}},
			cols:    Columns{Datetime: "date", Target: "sales"},
			wantErr: ErrColumnNotFound,
		},
		{
			name:    "missing target column",
			rows:    []adapters.Row{{"date": day(1)}},
			cols:    Columns{Datetime: "date", Target: "sales"},
			wantErr: ErrColumnNotFound,
		},
		{
			name:    "missing item id column",
			rows:    []adapters.Row{{"date": day(1), "sales": 1}},
			cols:    Columns{Datetime: "date", Target: "sales", ItemID: "store"},
			wantErr: ErrColumnNotFound,
		},
		{
			name:    "duplicate timestamp single series",
			rows:    []adapters.Row{{"date": day(1), "sales": 1}, {"date": "2024-01-01", "sales": 2}},
			cols:    Columns{Datetime: "date", Target: "sales"},
			wantErr: ErrDuplicateTimestamp,
		},
		{
			name: "duplicate timestamp within item",
			rows: []adapters.Row{
				{"date": day(1), "sales": 1, "store": "a"},
				{"date": day(1), "sales": 2, "store": "b"},
				{"date": day(1), "sales": 3, "store": "a"},
			},
			cols:    Columns{Datetime: "date", Target: "sales", ItemID: "store"},
			wantErr: ErrDuplicateTimestamp,
		},
		{
			name:    "bad timestamp",
			rows:    []adapters.Row{{"date": "yesterday", "sales": 1}},
			cols:    Columns{Datetime: "date", Target: "sales"},
			wantErr: ErrInvalidTimestamp,
		},
		{
			name:    "bad target",
			rows:    []adapters.Row{{"date": day(1), "sales": "lots"}},
			cols:    Columns{Datetime: "date", Target: "sales"},
			wantErr: ErrInvalidValue,
		},
		{
			name:    "target equals datetime",
			rows:    []adapters.Row{{"date": day(1)}},
			cols:    Columns{Datetime: "date", Target: "date"},
			wantErr: ErrInvalidConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(&adapters.DataFrame{Rows: tt.rows}, tt.cols)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Normalize() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalize_MultiSeriesKeepsIDs(t *testing.T) {
	df := &adapters.DataFrame{Rows: []adapters.Row{
		{"date": day(1), "sales": 1, "store": "a", "item_id": "ignored"},
		{"date": day(1), "sales": 2, "store": "b", "item_id": "ignored"},
	}}
	n, err := Normalize(df, Columns{Datetime: "date", Target: "sales", ItemID: "store"})
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}
	if n.SyntheticID {
		t.Error("SyntheticID = true, want false")
	}
	if n.Frame.Rows[1][ItemID] != "b" {
		t.Errorf("item_id = %v, want b", n.Frame.Rows[1][ItemID])
	}
	if got := strings.Join(n.Frame.Columns, ","); got != "item_id,timestamp,target" {
		t.Errorf("colliding passthrough column kept: %s", got)
	}
}

func TestNormalize_IDsCompareByTypeAndValue(t *testing.T) {
	tests := []struct {
		name    string
		ids     []any
		wantDup bool
	}{
		{name: "number and string stay apart", ids: []any{1, "1"}},
		{name: "json number and json string stay apart", ids: []any{json.Number("7"), "7"}},
		{name: "int and float are one series", ids: []any{3, 3.0}, wantDup: true},
		{name: "int64 and json number are one series", ids: []any{int64(5), json.Number("5")}, wantDup: true},
		{name: "large integers stay apart", ids: []any{int64(1<<53 + 1), int64(1 << 53)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			df := adapters.NewDataFrame("date", "sales", "store")
			for _, id := range tt.ids {
				df.Append(adapters.Row{"date": day(1), "sales": 1.0, "store": id})
			}
			n, err := Normalize(df, Columns{Datetime: "date", Target: "sales", ItemID: "store"})
			if tt.wantDup {
				if !errors.Is(err, ErrDuplicateTimestamp) {
					t.Fatalf("Normalize error = %v, want ErrDuplicateTimestamp", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize error: %v", err)
			}
			if got := len(Group(n.Frame)); got != len(tt.ids) {
				t.Errorf("series = %d, want %d", got, len(tt.ids))
			}
		})
	}
}

func TestCoerceTime(t *testing.T) {
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	for _, v := range []any{
		want,
		"2023-11-14T22:13:20Z",
		"2023-11-14 22:13:20",
		"2023-11-14T22:13:20",
		int64(1700000000),
		1700000000,
		1700000000.0,
		json.Number("1700000000"),
	} {
		got, err := CoerceTime(v)
		if err != nil {
			t.Errorf("CoerceTime(%#v) error: %v", v, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("CoerceTime(%#v) = %v, want %v", v, got, want)
		}
	}
	if _, err := CoerceTime(true); !errors.Is(err, ErrInvalidTimestamp) {
		t.Errorf("CoerceTime(true) error = %v, want ErrInvalidTimestamp", err)
	}
}

func TestCovariates_PrepareAndMerge(t *testing.T) {
	ctx := &adapters.DataFrame{Rows: []adapters.Row{
		{"date": day(1), "sales": 1, "store": "a", "temp": 5.0},
		{"date": day(2), "sales": 2, "store": "a", "temp": 6.0},
		{"date": day(1), "sales": 3, "store": "b", "temp": 7.0},
	}}
	cols := Columns{Datetime: "date", Target: "sales", ItemID: "store"}
	n, err := Normalize(ctx, cols)
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}

	past := &adapters.DataFrame{Rows: []adapters.Row{
		{"date": "2024-01-01", "store": "a", "price": 9.5, "temp": 100.0, "sales": 42},
		{"date": "2024-01-01", "store": "b", "price": 8.0},
		{"date": "2024-01-05", "store": "a", "price": 1.0}, // no context row
	}}
	prepared, err := PrepareCovariates(past, cols)
	if err != nil {
		t.Fatalf("PrepareCovariates error: %v", err)
	}
	if prepared.HasColumn("sales") {
		t.Error("target column should be dropped from covariates")
	}

	merged := MergeCovariates(n.Frame, prepared)
	if merged.Len() != 3 {
		t.Fatalf("merged rows = %d, want 3", merged.Len())
	}
	if merged.Rows[0]["price"] != 9.5 {
		t.Errorf("a/day1 price = %v, want 9.5", merged.Rows[0]["price"])
	}
	if merged.Rows[1]["price"] != nil {
		t.Errorf("a/day2 price = %v, want nil", merged.Rows[1]["price"])
	}
	if merged.Rows[2]["price"] != 8.0 {
		t.Errorf("b/day1 price = %v, want 8", merged.Rows[2]["price"])
	}
	if merged.Rows[0]["temp"] != 5.0 {
		t.Errorf("context column overwritten: temp = %v, want 5", merged.Rows[0]["temp"])
	}
}

func TestPrepareCovariates_Errors(t *testing.T) {
	cols := Columns{Datetime: "date", Target: "sales"}

	_, err := PrepareCovariates(&adapters.DataFrame{Rows: []adapters.Row{{"price": 1}}}, cols)
	if !errors.Is(err, ErrColumnNotFound) {
		t.Errorf("missing datetime: error = %v, want ErrColumnNotFound", err)
	}

	dup := &adapters.DataFrame{Rows: []adapters.Row{{"date": day(1)}, {"date": day(1)}}}
	_, err = PrepareCovariates(dup, cols)
	if !errors.Is(err, ErrDuplicateTimestamp) {
		t.Errorf("duplicate key: error = %v, want ErrDuplicateTimestamp", err)
	}
}

func TestPrepareCovariates_InjectsSyntheticID(t *testing.T) {
	cov := &adapters.DataFrame{Rows: []adapters.Row{{"date": day(3), "holiday": 1}}}
	out, err := PrepareCovariates(cov, Columns{Datetime: "date", Target: "sales", ItemID: "store"})
	if err != nil {
		t.Fatalf("PrepareCovariates error: %v", err)
	}
	if out.Rows[0][ItemID] != SyntheticItemID {
		t.Errorf("item_id = %v, want 0", out.Rows[0][ItemID])
	}
}

func TestGroup(t *testing.T) {
	frame := &adapters.DataFrame{Rows: []adapters.Row{
		{ItemID: "b", Timestamp: day(2), Target: 2.0},
		{ItemID: "a", Timestamp: day(3), Target: 30.0},
		{ItemID: "b", Timestamp: day(1), Target: 1.0},
		{ItemID: "a", Timestamp: day(1), Target: 10.0},
	}}
	groups := Group(frame)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if groups[0].ItemID != "b" || groups[1].ItemID != "a" {
		t.Errorf("order = %v, %v, want b, a", groups[0].ItemID, groups[1].ItemID)
	}
	if groups[0].Targets[0] != 1 || groups[0].Targets[1] != 2 {
		t.Errorf("b targets = %v, want [1 2]", groups[0].Targets)
	}
	if !groups[1].Last().Equal(day(3)) {
		t.Errorf("a last = %v, want %v", groups[1].Last(), day(3))
	}
}

func TestDenormalize(t *testing.T) {
	points := []ForecastPoint{
		{ItemID: "a", Timestamp: day(4), Lower: 1, Point: 2, Upper: 3},
	}

	withID := Denormalize(points, OutputColumns{Datetime: "date", Point: PredictedColumn("sales"), ItemID: "store"}, false)
	if got := strings.Join(withID.Columns, ","); got != "store,date,sales_predicted,lower_bound,upper_bound" {
		t.Errorf("Columns = %s", got)
	}
	row := withID.Rows[0]
	if row["store"] != "a" || row["sales_predicted"] != 2.0 || row[LowerBound] != 1.0 || row[UpperBound] != 3.0 {
		t.Errorf("row = %v", row)
	}

	synthetic := Denormalize(points, OutputColumns{Datetime: "date", Point: "sales", ItemID: "store"}, true)
	if got := strings.Join(synthetic.Columns, ","); got != "date,sales,lower_bound,upper_bound" {
		t.Errorf("synthetic Columns = %s", got)
	}
	if _, ok := synthetic.Rows[0]["store"]; ok {
		t.Error("synthetic id leaked into output")
	}
}
