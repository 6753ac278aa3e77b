package correlate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccollicutt/reqtrace/pkg/event"
)

const (
	reqA  = "b69c7c19-8808-411c-813b-deaaa6b55295"
	reqB  = "0f4e2c1a-1111-4222-8333-944455556666"
	doc1  = "65a1b2c3d4e5f60718293a4b"
	doc2  = "75a1b2c3d4e5f60718293a4c"
	mongo = "mystack_mongo"
)

var base = time.Date(2025, 11, 21, 10, 54, 40, 0, time.UTC)

func ev(service, reqID, msg string, offset time.Duration) *event.Event {
	return &event.Event{
		Raw:       msg,
		Message:   msg,
		Service:   service,
		RequestID: reqID,
		Timestamp: event.Timestamp{Kind: event.KindExplicit, Time: base.Add(offset)},
	}
}

func untimed(service, reqID, msg string) *event.Event {
	return &event.Event{Raw: msg, Message: msg, Service: service, RequestID: reqID}
}

func index(events []*event.Event) []*event.Event {
	for i, e := range events {
		e.SequenceIndex = i
	}
	return events
}

func group(t *testing.T, opts Options, events []*event.Event) *Result {
	t.Helper()
	res, err := New(opts).Group(context.Background(), events)
	require.NoError(t, err)
	return res
}

func TestGroup_SeedsInOrderOfAppearance(t *testing.T) {
	events := index([]*event.Event{
		ev("svc-a", reqB, "b1", 0),
		ev("svc-a", reqA, "a1", time.Second),
		ev("svc-b", reqB, "b2", 2*time.Second),
		ev("svc-c", "", "unrelated", 3*time.Second),
	})

	res := group(t, Options{}, events)

	require.Equal(t, 2, res.Len())
	assert.Equal(t, reqB, res.Sessions[0].ID)
	assert.Equal(t, reqA, res.Sessions[1].ID)

	s, ok := res.Get(reqB)
	require.True(t, ok)
	assert.Equal(t, []*event.Event{events[0], events[2]}, s.Events)

	_, ok = res.Get("missing")
	assert.False(t, ok)
}

func TestGroup_NoRequestIDs(t *testing.T) {
	res := group(t, Options{}, []*event.Event{ev("svc", "", "x", 0)})
	assert.Equal(t, 0, res.Len())

	res = group(t, Options{}, nil)
	assert.Equal(t, 0, res.Len())
}

func TestGroup_TokenPropagation(t *testing.T) {
	events := index([]*event.Event{
		ev("mystack_get-data", reqA, "fetched "+doc1, 0),
		ev("mystack_optimize-data", "", "optimizing "+doc1, 100*time.Millisecond),
		ev("mystack_upload-data", "", "upload for "+reqA, 200*time.Millisecond),
		ev("mystack_other", "", "nothing shared", 300*time.Millisecond),
	})

	res := group(t, Options{}, events)
	s, ok := res.Get(reqA)
	require.True(t, ok)

	assert.Equal(t, []*event.Event{events[0], events[1], events[2]}, s.Events)
	assert.Equal(t, []string{reqA, doc1}, s.Tokens)
}

func TestGroup_ExpansionDepth(t *testing.T) {
	events := index([]*event.Event{
		ev("svc-a", reqA, "start "+doc1, 0),
		ev("svc-b", "", "step "+doc1+" then "+doc2, time.Second),
		ev("svc-c", "", "second generation "+doc2, 2*time.Second),
	})

	tests := []struct {
		name  string
		depth int
		want  int
	}{
		{"zero is a single pass", 0, 2},
		{"single pass leaves second generation out", 1, 2},
		{"two passes", 2, 3},
		{"full closure", FullClosure, 3},
		{"below full closure runs to a fixed point", -5, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := group(t, Options{ExpansionDepth: tt.depth}, events)
			s, ok := res.Get(reqA)
			require.True(t, ok)
			assert.Len(t, s.Events, tt.want)
			assert.Equal(t, events[:tt.want], s.Events)
		})
	}
}

func TestGroup_EventsCanJoinSeveralSessions(t *testing.T) {
	shared := ev("svc-x", "", "batch "+reqA+" "+reqB, time.Second)
	events := index([]*event.Event{
		ev("svc-a", reqA, "a", 0),
		ev("svc-b", reqB, "b", 0),
		shared,
	})

	res := group(t, Options{}, events)
	a, _ := res.Get(reqA)
	b, _ := res.Get(reqB)
	assert.Contains(t, a.Events, shared)
	assert.Contains(t, b.Events, shared)
}

func TestGroup_SortAbsentLast(t *testing.T) {
	events := index([]*event.Event{
		untimed("svc-a", reqA, "no time"),
		ev("svc-b", reqA, "late", 2*time.Second),
		ev("svc-c", reqA, "early", time.Second),
		untimed("svc-d", reqA, "also no time"),
	})

	res := group(t, Options{}, events)
	s, _ := res.Get(reqA)
	assert.Equal(t, []*event.Event{events[2], events[1], events[0], events[3]}, s.Events)

	start, ok := s.Start()
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Second), start)
	end, ok := s.End()
	require.True(t, ok)
	assert.Equal(t, base.Add(2*time.Second), end)
	assert.Equal(t, time.Second, s.Span())
}

func TestGroup_AttachWindowBoundary(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		attach bool
	}{
		{"at start", 0, true},
		{"inside", 10 * time.Second, true},
		{"exactly at window", 30000 * time.Millisecond, true},
		{"one ms past window", 30001 * time.Millisecond, false},
		{"before start", -time.Millisecond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ev(mongo, "", "write ack", tt.offset)
			events := index([]*event.Event{ev("svc-a", reqA, "start", 0), m})

			res := group(t, Options{BackingStore: mongo}, events)
			s, _ := res.Get(reqA)
			if tt.attach {
				assert.Same(t, m, s.Attached)
				assert.Contains(t, s.Events, m)
			} else {
				assert.Nil(t, s.Attached)
				assert.NotContains(t, s.Events, m)
			}
		})
	}
}

func TestGroup_AttachIgnoresExpansionTokens(t *testing.T) {
	// doc2 only appears in a member added by expansion, so a backing-store
	// event mentioning it gets no preference over the latest candidate.
	secondGen := ev(mongo, "", "insert "+doc2, 5*time.Second)
	latest := ev(mongo, "", "insert other", 20*time.Second)
	events := index([]*event.Event{
		ev("svc-a", reqA, "start "+doc1, 0),
		ev("svc-b", "", "step "+doc1+" "+doc2, time.Second),
		secondGen,
		latest,
	})

	res := group(t, Options{BackingStore: mongo}, events)
	s, _ := res.Get(reqA)
	assert.Same(t, latest, s.Attached)
	assert.NotContains(t, s.Events, secondGen)
	assert.Contains(t, s.Tokens, doc2, "Tokens still lists the expanded set")
}

func TestGroup_AttachPicksLatestAndLastAmongTies(t *testing.T) {
	first := ev(mongo, "", "ack 1", 10*time.Second)
	tieA := ev(mongo, "", "ack 2", 20*time.Second)
	tieB := ev(mongo, "", "ack 3", 20*time.Second)
	events := index([]*event.Event{ev("svc-a", reqA, "start", 0), first, tieA, tieB})

	res := group(t, Options{BackingStore: mongo}, events)
	s, _ := res.Get(reqA)
	assert.Same(t, tieB, s.Attached)
	assert.Len(t, s.Events, 2, "only one backing-store event is attached")
}

func TestGroup_NoAttachWithoutStart(t *testing.T) {
	events := index([]*event.Event{
		untimed("svc-a", reqA, "start"),
		ev(mongo, "", "ack", 0),
	})
	res := group(t, Options{BackingStore: mongo}, events)
	s, _ := res.Get(reqA)
	assert.Nil(t, s.Attached)
}

func TestGroup_CustomWindow(t *testing.T) {
	m := ev(mongo, "", "ack", 45*time.Second)
	events := index([]*event.Event{ev("svc-a", reqA, "start", 0), m})

	res := group(t, Options{BackingStore: mongo, AttachWindow: time.Minute}, events)
	s, _ := res.Get(reqA)
	assert.Same(t, m, s.Attached)
}

func TestGroup_Idempotent(t *testing.T) {
	events := index([]*event.Event{
		ev("svc-a", reqA, "start "+doc1, 0),
		ev("svc-b", "", "step "+doc1, time.Second),
		ev("svc-a", reqB, "other", 0),
		ev(mongo, "", "ack "+reqA, 3*time.Second),
	})
	g := New(Options{BackingStore: mongo, Workers: 2})

	first, err := g.Group(context.Background(), events)
	require.NoError(t, err)
	second, err := g.Group(context.Background(), events)
	require.NoError(t, err)

	assert.Equal(t, first.Sessions, second.Sessions)
}

func TestGroup_ManySessionsParallel(t *testing.T) {
	var events []*event.Event
	ids := []string{reqA, reqB, "11111111-2222-4333-8444-555555555555", "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee", "req-5"}
	for i, id := range ids {
		events = append(events, ev("svc", id, "m", time.Duration(i)*time.Second))
	}
	index(events)

	res := group(t, Options{Workers: 3}, events)
	require.Equal(t, len(ids), res.Len())
	for i, id := range ids {
		assert.Equal(t, id, res.Sessions[i].ID)
		assert.Len(t, res.Sessions[i].Events, 1)
	}
}

func TestGroup_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{}).Group(ctx, []*event.Event{ev("svc", reqA, "x", 0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
