package adapters

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"
)

// CSVAdapter loads a history table from a CSV file with a header row.
//
// Cells that parse as floats become float64, empty cells become nil, and
// everything else is kept as a string. Timestamps are left for the schema
// normalizer to coerce. The whole file is returned regardless of windowSeconds.
type CSVAdapter struct {
	Path string
}

func (c *CSVAdapter) Name() string { return "csv" }

// Collect implements Adapter.
func (c *CSVAdapter) Collect(ctx context.Context, _ int) (*DataFrame, error) {
	if c.Path == "" {
		return &DataFrame{}, errors.New("csv adapter: Path is required")
	}
	if err := ctx.Err(); err != nil {
		return &DataFrame{}, err
	}
	f, err := os.Open(c.Path)
	if err != nil {
		return &DataFrame{}, fmt.Errorf("csv adapter: %w", err)
	}
	defer f.Close()

	df, err := ReadCSV(f)
	if err != nil {
		return &DataFrame{}, fmt.Errorf("csv adapter: %s: %w", c.Path, err)
	}
	return df, nil
}

// ReadCSV parses CSV with a header row into a DataFrame.
func ReadCSV(r io.Reader) (*DataFrame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("missing header row")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	df := NewDataFrame(header...)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make(Row, len(header))
		for i, name := range header {
			row[name] = parseCell(record[i])
		}
		df.Rows = append(df.Rows, row)
	}
	return df, nil
}

func parseCell(s string) any {
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// WriteCSV renders df as CSV in its column order. Times are written as
// RFC3339 and NaN or nil cells as empty strings.
func WriteCSV(w io.Writer, df *DataFrame) error {
	writer := csv.NewWriter(w)
	columns := df.ColumnNames()
	if err := writer.Write(columns); err != nil {
		return err
	}
	record := make([]string, len(columns))
	for _, row := range df.Rows {
		for i, name := range columns {
			record[i] = formatCell(row[name])
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
