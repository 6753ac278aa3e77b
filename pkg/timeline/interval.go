package timeline

import (
	"sort"
	"time"
)

// Interval is a closed time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns End minus Start, floored at zero.
func (iv Interval) Duration() time.Duration {
	if iv.End.Before(iv.Start) {
		return 0
	}
	return iv.End.Sub(iv.Start)
}

// Sum adds up the durations of all intervals, counting overlaps twice.
func Sum(intervals []Interval) time.Duration {
	var total time.Duration
	for _, iv := range intervals {
		total += iv.Duration()
	}
	return total
}

// Union returns the length of the merged union of the intervals. Overlapping
// and touching intervals are merged, so the result never exceeds Sum.
func Union(intervals []Interval) time.Duration {
	if len(intervals) == 0 {
		return 0
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	var total time.Duration
	cur := sorted[0]
	for _, iv := range sorted[1:] {
		if !iv.Start.After(cur.End) {
			if iv.End.After(cur.End) {
				cur.End = iv.End
			}
			continue
		}
		total += cur.Duration()
		cur = iv
	}
	return total + cur.Duration()
}

// Clip restricts the intervals to window, dropping empty results.
func Clip(intervals []Interval, window Interval) []Interval {
	var out []Interval
	for _, iv := range intervals {
		c := iv
		if c.Start.Before(window.Start) {
			c.Start = window.Start
		}
		if c.End.After(window.End) {
			c.End = window.End
		}
		if c.Start.Before(c.End) {
			out = append(out, c)
		}
	}
	return out
}
