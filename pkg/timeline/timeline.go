// Package timeline derives per-service segments and duration metrics from a
// request session.
package timeline

import (
	"time"

	"github.com/ccollicutt/reqtrace/pkg/event"
)

// Segment is the span during which one service was active in a session.
type Segment struct {
	Service string `json:"service"`

	// HasTime is false for a placeholder segment with no timestamped events.
	HasTime bool      `json:"has_time"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`

	// StartRaw and EndRaw carry the source text of the extremal events.
	StartRaw string `json:"start_raw,omitempty"`
	EndRaw   string `json:"end_raw,omitempty"`

	// Host is the most frequent host among the events, ties broken by first
	// occurrence.
	Host string `json:"host,omitempty"`

	// Exclusive is the part of the span no other segment covers.
	Exclusive time.Duration `json:"exclusive"`

	Events []*event.Event `json:"-"`
}

// Duration returns End minus Start, zero for placeholders.
func (s *Segment) Duration() time.Duration {
	if !s.HasTime {
		return 0
	}
	return s.End.Sub(s.Start)
}

// Interval returns the segment span.
func (s *Segment) Interval() Interval {
	return Interval{Start: s.Start, End: s.End}
}

// Transition records a host change between adjacent segments.
type Transition struct {
	FromService string `json:"from_service"`
	ToService   string `json:"to_service"`
	FromHost    string `json:"from_host"`
	ToHost      string `json:"to_host"`

	// At is the start of the later segment, zero when it has no instant.
	At time.Time `json:"at"`
}

// Options configures Build.
type Options struct {
	// FinalService names the terminal stage whose end is preferred as the
	// overall end.
	FinalService string
}

// Timeline is the derived view of one session.
type Timeline struct {
	Segments []Segment `json:"segments"`

	HasTime  bool      `json:"has_time"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	StartRaw string    `json:"start_raw,omitempty"`
	EndRaw   string    `json:"end_raw,omitempty"`

	// Total is End minus Start.
	Total time.Duration `json:"total"`

	// Span runs from the earliest segment start to the latest segment end,
	// ignoring the final service preference.
	Span time.Duration `json:"span"`

	// Sum adds up every segment duration.
	Sum time.Duration `json:"sum"`

	// Union is the wall-clock time covered by at least one segment.
	Union time.Duration `json:"union"`

	Transitions []Transition `json:"transitions,omitempty"`
}

// Segment returns the segment for a service.
func (t *Timeline) Segment(service string) (*Segment, bool) {
	for i := range t.Segments {
		if t.Segments[i].Service == service {
			return &t.Segments[i], true
		}
	}
	return nil, false
}

// Build derives a timeline from session events. Segments follow flow with
// duplicates removed; services outside flow are ignored. With an empty flow,
// services appear in order of first occurrence.
func Build(events []*event.Event, flow []string, opts Options) *Timeline {
	byService := make(map[string][]*event.Event)
	var seenOrder []string
	for _, e := range events {
		if e.Service == "" {
			continue
		}
		if _, ok := byService[e.Service]; !ok {
			seenOrder = append(seenOrder, e.Service)
		}
		byService[e.Service] = append(byService[e.Service], e)
	}

	order := dedupe(flow)
	if len(order) == 0 {
		order = seenOrder
	}

	t := &Timeline{Segments: make([]Segment, 0, len(order))}
	for _, svc := range order {
		t.Segments = append(t.Segments, segment(svc, byService[svc]))
	}

	var intervals []Interval
	for i := range t.Segments {
		if t.Segments[i].HasTime {
			intervals = append(intervals, t.Segments[i].Interval())
		}
	}
	t.Sum = Sum(intervals)
	t.Union = Union(intervals)

	for i := range t.Segments {
		t.Segments[i].Exclusive = exclusive(t.Segments, i)
	}
	t.Transitions = transitions(t.Segments)
	t.bounds(opts.FinalService)
	return t
}

func (t *Timeline) bounds(finalService string) {
	var first, last *Segment
	for i := range t.Segments {
		s := &t.Segments[i]
		if !s.HasTime {
			continue
		}
		if first == nil || s.Start.Before(first.Start) {
			first = s
		}
		if last == nil || s.End.After(last.End) {
			last = s
		}
	}
	if first == nil {
		return
	}
	t.Span = last.End.Sub(first.Start)
	if final, ok := t.Segment(finalService); ok && finalService != "" && final.HasTime {
		last = final
	}

	t.HasTime = true
	t.Start, t.StartRaw = first.Start, first.StartRaw
	t.End, t.EndRaw = last.End, last.EndRaw
	t.Total = t.End.Sub(t.Start)
}

func segment(service string, events []*event.Event) Segment {
	s := Segment{Service: service, Events: events}

	counts := make(map[string]int)
	var hosts []string
	for _, e := range events {
		if e.Host != "" {
			if counts[e.Host] == 0 {
				hosts = append(hosts, e.Host)
			}
			counts[e.Host]++
		}

		if !e.HasTime() {
			continue
		}
		t := e.Timestamp.Time
		if !s.HasTime || t.Before(s.Start) {
			s.Start, s.StartRaw = t, e.Timestamp.Display()
		}
		if !s.HasTime || t.After(s.End) {
			s.End, s.EndRaw = t, e.Timestamp.Display()
		}
		s.HasTime = true
	}

	for _, h := range hosts {
		if counts[h] > counts[s.Host] {
			s.Host = h
		}
	}
	return s
}

// exclusive is the span of segments[i] minus the union of every other
// segment clipped to it.
func exclusive(segments []Segment, i int) time.Duration {
	own := &segments[i]
	if !own.HasTime {
		return 0
	}
	var others []Interval
	for j := range segments {
		if j != i && segments[j].HasTime {
			others = append(others, segments[j].Interval())
		}
	}
	d := own.Duration() - Union(Clip(others, own.Interval()))
	if d < 0 {
		return 0
	}
	return d
}

func transitions(segments []Segment) []Transition {
	var out []Transition
	for i := 1; i < len(segments); i++ {
		prev, cur := &segments[i-1], &segments[i]
		if prev.Host == "" || cur.Host == "" || prev.Host == cur.Host {
			continue
		}
		tr := Transition{
			FromService: prev.Service,
			ToService:   cur.Service,
			FromHost:    prev.Host,
			ToHost:      cur.Host,
		}
		if cur.HasTime {
			tr.At = cur.Start
		}
		out = append(out, tr)
	}
	return out
}

func dedupe(flow []string) []string {
	seen := make(map[string]bool, len(flow))
	out := make([]string, 0, len(flow))
	for _, s := range flow {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
