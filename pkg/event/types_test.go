package event

import (
	"testing"
	"time"
)

func TestRow_Get(t *testing.T) {
	row := Row{Fields: []Field{
		{Name: "vm", Value: "host-1"},
		{Name: "time", Value: "  "},
		{Name: "_timestamp", Value: "2025-11-21T10:54:40Z"},
	}}

	tests := []struct {
		name       string
		candidates []string
		want       string
		wantOK     bool
	}{
		{"first candidate", []string{"vm"}, "host-1", true},
		{"blank value skipped", []string{"time", "_timestamp"}, "2025-11-21T10:54:40Z", true},
		{"missing", []string{"service"}, "", false},
		{"no candidates", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := row.Get(tt.candidates...)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Get(%v) = (%q, %v), want (%q, %v)", tt.candidates, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRow_Raw(t *testing.T) {
	row := Row{Fields: []Field{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}}
	if got := row.Raw(); got != "1,2" {
		t.Errorf("Raw() = %q, want %q", got, "1,2")
	}

	row.Line = "original line"
	if got := row.Raw(); got != "original line" {
		t.Errorf("Raw() = %q, want line", got)
	}
}

func TestRow_Set(t *testing.T) {
	var row Row
	row.Set("vm", "a")
	row.Set("vm", "b")
	if len(row.Fields) != 1 {
		t.Fatalf("len(Fields) = %d, want 1", len(row.Fields))
	}
	if v, _ := row.Get("vm"); v != "b" {
		t.Errorf("vm = %q, want b", v)
	}
}

func TestTimestamp_Millis(t *testing.T) {
	ts := Timestamp{
		Kind: KindExplicit,
		Time: time.Date(1970, 1, 1, 0, 0, 1, 123456000, time.UTC),
	}
	if got := ts.Millis(); got < 1123.4559 || got > 1123.4561 {
		t.Errorf("Millis() = %v, want 1123.456", got)
	}

	if got := (Timestamp{}).Millis(); got != 0 {
		t.Errorf("absent Millis() = %v, want 0", got)
	}
}

func TestTimestamp_Display(t *testing.T) {
	instant := time.Date(2025, 11, 21, 10, 54, 40, 0, time.UTC)

	if got := (Timestamp{Kind: KindExplicit, Time: instant, Raw: "2025-11-21T10:54:40.000000Z"}).Display(); got != "2025-11-21T10:54:40.000000Z" {
		t.Errorf("Display() = %q, want raw text", got)
	}
	if got := (Timestamp{Kind: KindExplicit, Time: instant}).Display(); got != "2025-11-21T10:54:40Z" {
		t.Errorf("Display() = %q, want formatted instant", got)
	}
	if got := (Timestamp{}).Display(); got != "" {
		t.Errorf("Display() = %q, want empty", got)
	}
}

func TestSortChronological_AbsentLast(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(idx int, offset time.Duration) *Event {
		return &Event{SequenceIndex: idx, Timestamp: Timestamp{Kind: KindExplicit, Time: base.Add(offset)}}
	}
	absent := func(idx int) *Event { return &Event{SequenceIndex: idx} }

	events := []*Event{absent(0), at(1, 2*time.Second), absent(2), at(3, time.Second), at(4, time.Second)}
	SortChronological(events)

	want := []int{3, 4, 1, 0, 2}
	for i, e := range events {
		if e.SequenceIndex != want[i] {
			t.Fatalf("order[%d] = %d, want %d (full order %v)", i, e.SequenceIndex, want[i], indexes(events))
		}
	}
}

func TestSortBySequence(t *testing.T) {
	events := []*Event{{SequenceIndex: 5}, {SequenceIndex: 1}, {SequenceIndex: 3}}
	SortBySequence(events)
	want := []int{1, 3, 5}
	for i, e := range events {
		if e.SequenceIndex != want[i] {
			t.Fatalf("order = %v, want %v", indexes(events), want)
		}
	}
}

func indexes(events []*Event) []int {
	out := make([]int, len(events))
	for i, e := range events {
		out[i] = e.SequenceIndex
	}
	return out
}

func TestTimestampKind_Text(t *testing.T) {
	for _, k := range []TimestampKind{KindAbsent, KindExplicit, KindReconstructed} {
		text, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText() error = %v", err)
		}
		var got TimestampKind
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText() error = %v", err)
		}
		if got != k {
			t.Errorf("round trip of %s = %s", k, got)
		}
	}

	var k TimestampKind = KindExplicit
	_ = k.UnmarshalText([]byte("bogus"))
	if k != KindAbsent {
		t.Errorf("unknown name decoded as %s, want absent", k)
	}
}
