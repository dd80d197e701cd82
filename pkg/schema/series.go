package schema

import (
	"math"
	"sort"
	"time"

	"github.com/HatiCode/chronocast/pkg/adapters"
)

// Series is one item's observations in timestamp order.
type Series struct {
	ItemID     any
	Timestamps []time.Time
	Targets    []float64
}

// Last returns the series' latest timestamp.
func (s Series) Last() time.Time {
	return s.Timestamps[len(s.Timestamps)-1]
}

// Group splits a canonical frame into series, in order of each item's first
// appearance, each sorted by timestamp.
func Group(frame *adapters.DataFrame) []Series {
	var order []string
	byID := make(map[string]*Series)

	for _, row := range frame.Rows {
		id := row[ItemID]
		key := IDKey(id)
		s, ok := byID[key]
		if !ok {
			s = &Series{ItemID: id}
			byID[key] = s
			order = append(order, key)
		}
		ts, _ := row[Timestamp].(time.Time)
		target, ok := row[Target].(float64)
		if !ok {
			target = math.NaN()
		}
		s.Timestamps = append(s.Timestamps, ts)
		s.Targets = append(s.Targets, target)
	}

	out := make([]Series, 0, len(order))
	for _, key := range order {
		s := byID[key]
		sort.Stable(byTime{s})
		out = append(out, *s)
	}
	return out
}

type byTime struct{ s *Series }

func (b byTime) Len() int { return len(b.s.Timestamps) }
func (b byTime) Less(i, j int) bool {
	return b.s.Timestamps[i].Before(b.s.Timestamps[j])
}
func (b byTime) Swap(i, j int) {
	b.s.Timestamps[i], b.s.Timestamps[j] = b.s.Timestamps[j], b.s.Timestamps[i]
	b.s.Targets[i], b.s.Targets[j] = b.s.Targets[j], b.s.Targets[i]
}
