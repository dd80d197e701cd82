package engines

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Quantile levels every engine reports.
const (
	LowerQuantile  = 0.1
	MedianQuantile = 0.5
	UpperQuantile  = 0.9
)

var reportedQuantiles = []float64{LowerQuantile, MedianQuantile, UpperQuantile}

// ParseQuantileLevel parses a quantile level from either p-notation (p90, p95)
// or decimal notation (0.9, 0.90). Model outputs name their quantile columns
// in decimal notation.
//
// Examples:
//   - "p10" → 0.10
//   - "0.5" → 0.50
//   - "0.90" → 0.90
//
// Returns error if the format is invalid or value is out of range [0, 1].
func ParseQuantileLevel(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty quantile level")
	}

	if strings.HasPrefix(strings.ToLower(s), "p") {
		percentile, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid p-notation %q: %w", s, err)
		}
		if percentile < 0 || percentile > 100 {
			return 0, fmt.Errorf("percentile %v out of range [0, 100]", percentile)
		}
		return percentile / 100.0, nil
	}

	quantile, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantile %q: %w", s, err)
	}
	if quantile < 0 || quantile > 1 {
		return 0, fmt.Errorf("quantile %v out of range [0, 1]", quantile)
	}
	return quantile, nil
}

const quantileTolerance = 1e-9

func sameLevel(a, b float64) bool { return math.Abs(a-b) < quantileTolerance }

// quantileIndices picks the tensor indices for the 0.1, 0.5 and 0.9 levels.
// When a level is absent it falls back to the first, middle and last index
// respectively. The fallback is approximate: for an irregular quantile set
// the chosen levels may not bracket the median the way 0.1/0.9 would.
func quantileIndices(levels []float64) (lower, median, upper int) {
	find := func(q float64, fallback int) int {
		for i, l := range levels {
			if sameLevel(l, q) {
				return i
			}
		}
		return fallback
	}
	return find(LowerQuantile, 0), find(MedianQuantile, len(levels)/2), find(UpperQuantile, len(levels)-1)
}

// quantileColumns maps each reported level to a column of a model output
// table whose name parses to that level.
func quantileColumns(columns []string) map[float64]string {
	out := make(map[float64]string, len(reportedQuantiles))
	for _, name := range columns {
		level, err := ParseQuantileLevel(name)
		if err != nil {
			continue
		}
		for _, q := range reportedQuantiles {
			if sameLevel(level, q) {
				out[q] = name
			}
		}
	}
	return out
}
