// Package storage keeps the latest forecast snapshot per named forecast.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/HatiCode/chronocast/pkg/adapters"
)

// Snapshot is a stored forecast result. Rows hold cells in Columns order and
// are JSON-safe: timestamps are RFC3339 strings and missing values are nil.
type Snapshot struct {
	Name        string    `json:"name"`
	Engine      string    `json:"engine"`
	GeneratedAt time.Time `json:"generatedAt"`
	Horizon     int       `json:"horizon"`
	Frequency   string    `json:"frequency"`
	Columns     []string  `json:"columns"`
	Rows        [][]any   `json:"rows"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// NewSnapshot captures frame as a snapshot generated at now.
func NewSnapshot(name, engine string, horizon int, frequency string, frame *adapters.DataFrame, warnings []error, now time.Time) Snapshot {
	s := Snapshot{
		Name:        name,
		Engine:      engine,
		GeneratedAt: now.UTC(),
		Horizon:     horizon,
		Frequency:   frequency,
		Columns:     frame.ColumnNames(),
	}
	s.Rows = make([][]any, 0, frame.Len())
	for _, row := range frame.Rows {
		cells := make([]any, len(s.Columns))
		for i, name := range s.Columns {
			cells[i] = jsonCell(row[name])
		}
		s.Rows = append(s.Rows, cells)
	}
	for _, w := range warnings {
		s.Warnings = append(s.Warnings, w.Error())
	}
	return s
}

func jsonCell(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	}
	return v
}

// Frame rebuilds the forecast table.
func (s Snapshot) Frame() *adapters.DataFrame {
	df := adapters.NewDataFrame(s.Columns...)
	df.Rows = make([]adapters.Row, 0, len(s.Rows))
	for _, cells := range s.Rows {
		row := make(adapters.Row, len(s.Columns))
		for i, name := range s.Columns {
			if i < len(cells) {
				row[name] = cells[i]
			}
		}
		df.Rows = append(df.Rows, row)
	}
	return df
}

// Store persists the latest snapshot per name.
//
// Put keeps the newest snapshot by GeneratedAt: a snapshot older than the
// one already stored is discarded without error, so a slow forecaster
// instance cannot replace a fresher result.
type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context, name string) (Snapshot, bool, error)
}

// ErrInvalidName is returned for empty names and names with characters other
// than letters, digits, hyphens and underscores.
var ErrInvalidName = errors.New("invalid snapshot name")

// ValidName reports whether name can identify a snapshot.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

func checkName(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w %q", ErrInvalidName, name)
	}
	return nil
}
