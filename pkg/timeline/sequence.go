package timeline

import (
	"sort"

	"github.com/ccollicutt/reqtrace/pkg/event"
)

// OrdinalSegment is a run of consecutive same-service events measured in
// batch positions instead of time.
type OrdinalSegment struct {
	Service    string `json:"service"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	StartRaw   string `json:"start_raw,omitempty"`
	EndRaw     string `json:"end_raw,omitempty"`
	Events     int    `json:"events"`
}

// Steps is the number of positions the segment spans.
func (s OrdinalSegment) Steps() int {
	return s.EndIndex - s.StartIndex + 1
}

// Sequence is the clock-independent view of a session.
type Sequence struct {
	Segments   []OrdinalSegment `json:"segments"`
	StartIndex int              `json:"start_index"`
	EndIndex   int              `json:"end_index"`
}

// Steps is the number of positions the session spans, zero when empty.
func (s *Sequence) Steps() int {
	if len(s.Segments) == 0 {
		return 0
	}
	return s.EndIndex - s.StartIndex + 1
}

// BuildSequence orders events by batch position, drops events without a
// service and groups consecutive events of the same service.
func BuildSequence(events []*event.Event) *Sequence {
	ordered := make([]*event.Event, 0, len(events))
	for _, e := range events {
		if e.Service != "" {
			ordered = append(ordered, e)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SequenceIndex < ordered[j].SequenceIndex
	})

	seq := &Sequence{}
	for i := 0; i < len(ordered); {
		first := ordered[i]
		j := i
		for j+1 < len(ordered) && ordered[j+1].Service == first.Service {
			j++
		}
		last := ordered[j]
		seq.Segments = append(seq.Segments, OrdinalSegment{
			Service:    first.Service,
			StartIndex: first.SequenceIndex,
			EndIndex:   last.SequenceIndex,
			StartRaw:   first.Timestamp.Raw,
			EndRaw:     last.Timestamp.Raw,
			Events:     j - i + 1,
		})
		i = j + 1
	}

	if len(seq.Segments) > 0 {
		seq.StartIndex = seq.Segments[0].StartIndex
		seq.EndIndex = seq.Segments[len(seq.Segments)-1].EndIndex
	}
	return seq
}
