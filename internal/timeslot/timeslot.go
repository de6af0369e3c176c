// Package timeslot implements minute-granularity clock arithmetic and
// half-open [start, end) intervals within a single day.
//
// A day is 1440 minutes. Arithmetic that would run past 23:59 is clamped to
// 23:59 instead of rolling over to the next day; this is lossy and kept on
// purpose, callers must not rely on it to detect overflow.
package timeslot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	MinutesPerDay = 24 * 60
	LastMinute    = Clock(MinutesPerDay - 1)
)

// Clock is a time of day in minutes since midnight.
type Clock int

func NewClock(hour, minute int) Clock {
	return clamp(hour*60 + minute)
}

// ClockOf returns the time of day of t in t's own location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

// ParseClock accepts "HH:MM" and "HH:MM:SS" (seconds are dropped).
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid clock %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q: bad minute", s)
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("invalid clock %q: bad second", s)
		}
	}
	return Clock(h*60 + m), nil
}

func MustParseClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Add moves the clock by minutes, clamped to [00:00, 23:59].
func (c Clock) Add(minutes int) Clock {
	return clamp(int(c) + minutes)
}

// On places the clock on the calendar day of date, in date's location.
func (c Clock) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, date.Location())
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func clamp(minutes int) Clock {
	if minutes < 0 {
		return 0
	}
	if minutes > int(LastMinute) {
		return LastMinute
	}
	return Clock(minutes)
}

// RoundUpToStep returns the first multiple of step (counted from midnight)
// that is >= c. Non-positive steps leave c unchanged.
func RoundUpToStep(c Clock, step int) Clock {
	if step <= 0 {
		return c
	}
	rem := int(c) % step
	if rem == 0 {
		return c
	}
	return c.Add(step - rem)
}

// Interval is the half-open range [Start, End).
type Interval struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

func NewInterval(start Clock, minutes int) Interval {
	return Interval{Start: start, End: start.Add(minutes)}
}

func (i Interval) Minutes() int {
	return int(i.End - i.Start)
}

func (i Interval) Empty() bool {
	return i.End <= i.Start
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}

func Overlaps(a, b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

func Contains(outer, inner Interval) bool {
	return outer.Start <= inner.Start && inner.End <= outer.End
}

// ContainedInAny reports whether inner fits entirely within one of outers.
func ContainedInAny(outers []Interval, inner Interval) bool {
	for _, o := range outers {
		if Contains(o, inner) {
			return true
		}
	}
	return false
}

// Sort orders intervals by start, then end.
func Sort(intervals []Interval) {
	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].Start != intervals[j].Start {
			return intervals[i].Start < intervals[j].Start
		}
		return intervals[i].End < intervals[j].End
	})
}

// Merge returns the sorted union of intervals with overlapping or touching
// ranges coalesced. Empty intervals are dropped.
func Merge(intervals []Interval) []Interval {
	in := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if !iv.Empty() {
			in = append(in, iv)
		}
	}
	if len(in) == 0 {
		return nil
	}
	Sort(in)

	out := []Interval{in[0]}
	for _, iv := range in[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Subtract removes every cut from base and returns a sorted, disjoint set.
func Subtract(base, cuts []Interval) []Interval {
	remaining := Merge(base)
	for _, cut := range Merge(cuts) {
		next := remaining[:0:0]
		for _, iv := range remaining {
			if !Overlaps(iv, cut) {
				next = append(next, iv)
				continue
			}
			if iv.Start < cut.Start {
				next = append(next, Interval{Start: iv.Start, End: cut.Start})
			}
			if cut.End < iv.End {
				next = append(next, Interval{Start: cut.End, End: iv.End})
			}
		}
		remaining = next
	}
	return remaining
}
