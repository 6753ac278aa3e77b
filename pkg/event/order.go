package event

import "sort"

// TimeLess orders events by instant; events without one sort after all
// timestamped events.
func TimeLess(a, b *Event) bool {
	switch {
	case !a.HasTime():
		return false
	case !b.HasTime():
		return true
	default:
		return a.Timestamp.Time.Before(b.Timestamp.Time)
	}
}

// SortChronological sorts events in place by instant. The sort is stable, so
// events with equal or absent instants keep their input order.
func SortChronological(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return TimeLess(events[i], events[j])
	})
}

// SortBySequence sorts events in place by their batch position.
func SortBySequence(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].SequenceIndex < events[j].SequenceIndex
	})
}
