// Package frequency parses pandas-style frequency codes and steps timestamps
// forward by them.
//
// Supported codes, each optionally prefixed by a positive multiplier ("15min", "2h"):
//
//	s            seconds
//	min, T       minutes
//	h, H         hours
//	D            calendar days
//	B            business days (Mon-Fri)
//	W, W-SUN..   weeks anchored on a weekday (Sunday by default)
//	M, ME        month end
//	MS           month start
//	Q, QE        quarter end (Mar, Jun, Sep, Dec)
//	QS           quarter start (Jan, Apr, Jul, Oct)
//	Y, YE, A     year end
//	YS, AS       year start
//
// Anchored codes roll a timestamp that is not on an anchor forward to the next
// anchor, which counts as the first step. The time of day is preserved.
package frequency

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidFrequency is returned for codes Parse does not understand.
var ErrInvalidFrequency = errors.New("invalid frequency")

type unit int

const (
	second unit = iota
	minute
	hour
	day
	businessDay
	week
	monthEnd
	monthStart
	quarterEnd
	quarterStart
	yearEnd
	yearStart
)

var units = map[string]unit{
	"s":   second,
	"S":   second,
	"min": minute,
	"T":   minute,
	"h":   hour,
	"H":   hour,
	"D":   day,
	"d":   day,
	"B":   businessDay,
	"W":   week,
	"M":   monthEnd,
	"ME":  monthEnd,
	"MS":  monthStart,
	"Q":   quarterEnd,
	"QE":  quarterEnd,
	"QS":  quarterStart,
	"Y":   yearEnd,
	"YE":  yearEnd,
	"A":   yearEnd,
	"YS":  yearStart,
	"AS":  yearStart,
}

var weekdays = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

// Frequency is a parsed frequency code.
type Frequency struct {
	code    string
	n       int
	unit    unit
	weekday time.Weekday
}

// Parse parses a frequency code such as "h", "15min", "D" or "W-MON".
func Parse(code string) (Frequency, error) {
	s := strings.TrimSpace(code)
	if s == "" {
		return Frequency{}, fmt.Errorf("%w: empty code", ErrInvalidFrequency)
	}

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n := 1
	if i > 0 {
		v, err := strconv.Atoi(s[:i])
		if err != nil || v <= 0 {
			return Frequency{}, fmt.Errorf("%w: %q has a non-positive multiplier", ErrInvalidFrequency, code)
		}
		n = v
	}

	name := s[i:]
	f := Frequency{code: s, n: n, weekday: time.Sunday}
	if base, anchor, ok := strings.Cut(name, "-"); ok {
		if n > maxCalendarMultiplier {
			return Frequency{}, fmt.Errorf("%w: %q multiplier exceeds %d", ErrInvalidFrequency, code, maxCalendarMultiplier)
		}
		if base != "W" {
			return Frequency{}, fmt.Errorf("%w: %q", ErrInvalidFrequency, code)
		}
		wd, ok := weekdays[strings.ToUpper(anchor)]
		if !ok {
			return Frequency{}, fmt.Errorf("%w: %q has unknown weekday anchor", ErrInvalidFrequency, code)
		}
		f.unit = week
		f.weekday = wd
		return f, nil
	}

	u, ok := units[name]
	if !ok {
		return Frequency{}, fmt.Errorf("%w: %q", ErrInvalidFrequency, code)
	}
	f.unit = u
	if d, fixed := unitDurations[u]; fixed {
		if int64(n) > math.MaxInt64/int64(d) {
			return Frequency{}, fmt.Errorf("%w: %q overflows a time.Duration", ErrInvalidFrequency, code)
		}
	} else if n > maxCalendarMultiplier {
		return Frequency{}, fmt.Errorf("%w: %q multiplier exceeds %d", ErrInvalidFrequency, code, maxCalendarMultiplier)
	}
	return f, nil
}

var unitDurations = map[unit]time.Duration{
	second: time.Second,
	minute: time.Minute,
	hour:   time.Hour,
}

// maxCalendarMultiplier bounds multipliers so stepping stays within the
// years time.Time can represent and anchored steps stay cheap.
const maxCalendarMultiplier = 100000

// MustParse is like Parse but panics on error.
func MustParse(code string) Frequency {
	f, err := Parse(code)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the code the frequency was parsed from.
func (f Frequency) String() string { return f.code }

// Fixed returns the step as a duration for frequencies of constant length.
func (f Frequency) Fixed() (time.Duration, bool) {
	d, ok := unitDurations[f.unit]
	if !ok {
		return 0, false
	}
	return time.Duration(f.n) * d, true
}

// Next returns the timestamp one step after t. The result is always strictly
// after t.
func (f Frequency) Next(t time.Time) time.Time {
	if d, ok := f.Fixed(); ok {
		return t.Add(d)
	}
	switch f.unit {
	case day:
		return t.AddDate(0, 0, f.n)
	case week:
		if t.Weekday() == f.weekday {
			return t.AddDate(0, 0, 7*f.n)
		}
	}
	for range f.n {
		t = f.nextAnchor(t)
	}
	return t
}

// Range returns n timestamps following after, each one step apart.
func (f Frequency) Range(after time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, n)
	t := after
	for i := range out {
		t = f.Next(t)
		out[i] = t
	}
	return out
}

// nextAnchor returns the first anchor date strictly after t's date.
func (f Frequency) nextAnchor(t time.Time) time.Time {
	y, m, d := t.Date()
	switch f.unit {
	case businessDay:
		next := t.AddDate(0, 0, 1)
		for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
			next = next.AddDate(0, 0, 1)
		}
		return next
	case week:
		delta := (int(f.weekday) - int(t.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return t.AddDate(0, 0, delta)
	case monthEnd:
		if d < daysIn(y, m) {
			return at(t, y, m, daysIn(y, m))
		}
		ny, nm := addMonths(y, m, 1)
		return at(t, ny, nm, daysIn(ny, nm))
	case monthStart:
		ny, nm := addMonths(y, m, 1)
		return at(t, ny, nm, 1)
	case quarterEnd:
		qm := m + (3-m%3)%3
		if m == qm && d == daysIn(y, m) {
			qm += 3
		}
		ny, nm := addMonths(y, qm, 0)
		return at(t, ny, nm, daysIn(ny, nm))
	case quarterStart:
		qm := m + 3 - (m-1)%3
		ny, nm := addMonths(y, qm, 0)
		return at(t, ny, nm, 1)
	case yearEnd:
		if m == time.December && d == 31 {
			y++
		}
		return at(t, y, time.December, 31)
	case yearStart:
		return at(t, y+1, time.January, 1)
	}
	return t
}

func at(t time.Time, y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// addMonths normalizes y/m+k into a valid year and month.
func addMonths(y int, m time.Month, k int) (int, time.Month) {
	idx := int(m) - 1 + k
	y += idx / 12
	idx %= 12
	if idx < 0 {
		idx += 12
		y--
	}
	return y, time.Month(idx + 1)
}
