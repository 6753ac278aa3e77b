// Package correlate groups normalized events into request sessions.
//
// Sessions are seeded by explicit request ids, expanded by identifier tokens
// shared with events that carry no id, ordered by instant and finally given
// at most one asynchronous completion event from the backing-store service.
package correlate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ccollicutt/reqtrace/pkg/event"
	"github.com/ccollicutt/reqtrace/pkg/token"
)

// FullClosure repeats expansion until no session grows any further.
const FullClosure = -1

const (
	// DefaultAttachWindow bounds how long after a session start a backing-store
	// event may be attached.
	DefaultAttachWindow = 30 * time.Second

	// DefaultWorkers is the number of sessions expanded concurrently.
	DefaultWorkers = 4
)

// Options configures a Grouper.
type Options struct {
	// ExpansionDepth is the number of token expansion passes. Zero selects a
	// single pass; FullClosure runs to a fixed point.
	ExpansionDepth int

	// BackingStore names the service whose events may be attached after
	// expansion. Empty disables attachment.
	BackingStore string

	// AttachWindow is the inclusive window after the session start.
	AttachWindow time.Duration

	// Workers bounds the worker pool.
	Workers int
}

// Session is the set of events attributed to one request id.
type Session struct {
	// ID is the explicit request id the session was seeded with.
	ID string `json:"id"`

	// Events holds the members sorted by instant, absent instants last.
	Events []*event.Event `json:"events"`

	// Tokens holds the identifiers collected from the members, the id first.
	Tokens []string `json:"tokens,omitempty"`

	// Attached is the backing-store event added by attachment, if any.
	Attached *event.Event `json:"attached,omitempty"`
}

// Start returns the earliest instant of the session.
func (s *Session) Start() (time.Time, bool) {
	if len(s.Events) == 0 || !s.Events[0].HasTime() {
		return time.Time{}, false
	}
	return s.Events[0].Timestamp.Time, true
}

// End returns the latest instant of the session.
func (s *Session) End() (time.Time, bool) {
	for i := len(s.Events) - 1; i >= 0; i-- {
		if s.Events[i].HasTime() {
			return s.Events[i].Timestamp.Time, true
		}
	}
	return time.Time{}, false
}

// Span is End minus Start, or zero when the session has no instant.
func (s *Session) Span() time.Duration {
	start, ok := s.Start()
	if !ok {
		return 0
	}
	end, _ := s.End()
	return end.Sub(start)
}

// Result is the output of one grouping run. It is not modified after Group
// returns.
type Result struct {
	// Sessions are ordered by the first appearance of their id in the batch.
	Sessions []*Session

	index map[string]int
}

// Get returns the session for a request id.
func (r *Result) Get(id string) (*Session, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.Sessions[i], true
}

// Len returns the number of sessions.
func (r *Result) Len() int {
	return len(r.Sessions)
}

// Grouper builds sessions from a batch of events.
type Grouper struct {
	opts Options
}

// New creates a Grouper. Zero-valued options fall back to the defaults.
func New(opts Options) *Grouper {
	switch {
	case opts.ExpansionDepth == 0:
		opts.ExpansionDepth = 1
	case opts.ExpansionDepth < FullClosure:
		opts.ExpansionDepth = FullClosure
	}
	if opts.AttachWindow <= 0 {
		opts.AttachWindow = DefaultAttachWindow
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Grouper{opts: opts}
}

// Group assigns events to sessions. The input slice and its events are only
// read, so Group may run concurrently on the same batch and always produces
// the same result for it.
func (g *Grouper) Group(ctx context.Context, events []*event.Event) (*Result, error) {
	ids, seeds := seed(events)
	result := &Result{
		Sessions: make([]*Session, len(ids)),
		index:    make(map[string]int, len(ids)),
	}
	for i, id := range ids {
		result.index[id] = i
	}
	if len(ids) == 0 {
		return result, nil
	}

	jobs := make(chan int, len(ids))
	for i := range ids {
		jobs <- i
	}
	close(jobs)

	workers := g.opts.Workers
	if workers > len(ids) {
		workers = len(ids)
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					errOnce.Do(func() { firstErr = err })
					return
				}
				result.Sessions[i] = g.build(ids[i], seeds[ids[i]], events)
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, fmt.Errorf("grouping sessions: %w", firstErr)
	}
	return result, nil
}

// seed returns request ids in order of first appearance and the input
// positions of the events carrying each id.
func seed(events []*event.Event) ([]string, map[string][]int) {
	var ids []string
	members := make(map[string][]int)
	for i, e := range events {
		if e.RequestID == "" {
			continue
		}
		if _, ok := members[e.RequestID]; !ok {
			ids = append(ids, e.RequestID)
		}
		members[e.RequestID] = append(members[e.RequestID], i)
	}
	return ids, members
}

func (g *Grouper) build(id string, seedIdx []int, events []*event.Event) *Session {
	present := make(map[int]bool, len(seedIdx))
	order := make([]int, 0, len(seedIdx))
	for _, i := range seedIdx {
		present[i] = true
		order = append(order, i)
	}
	seedTokens := collect(id, order, events)

	for pass := 0; g.opts.ExpansionDepth == FullClosure || pass < g.opts.ExpansionDepth; pass++ {
		tokens := collect(id, order, events)
		grew := false
		for i, e := range events {
			if present[i] {
				continue
			}
			if tokens.ContainedIn(e.Text()) {
				present[i] = true
				order = append(order, i)
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	tokens := collect(id, order, events)
	members := make([]*event.Event, len(order))
	for k, i := range order {
		members[k] = events[i]
	}
	event.SortChronological(members)

	s := &Session{ID: id, Events: members, Tokens: tokens.Values()}
	if att := g.attach(s, seedTokens, present, events); att != nil {
		s.Attached = att
		s.Events = append(s.Events, att)
		event.SortChronological(s.Events)
	}
	return s
}

// collect gathers the session id plus every token found in the members.
func collect(id string, order []int, events []*event.Event) *token.Set {
	set := token.NewSet(id)
	for _, i := range order {
		set.AddFrom(events[i].Text())
	}
	return set
}

// attach picks the latest backing-store event within the window after the
// session start. Candidates mentioning the id or a token of the seeded
// events are preferred over the rest. Among equal instants the later input wins.
func (g *Grouper) attach(s *Session, tokens *token.Set, present map[int]bool, events []*event.Event) *event.Event {
	if g.opts.BackingStore == "" {
		return nil
	}
	start, ok := s.Start()
	if !ok {
		return nil
	}
	limit := start.Add(g.opts.AttachWindow)

	var best, bestPreferred *event.Event
	for i, e := range events {
		if present[i] || e.Service != g.opts.BackingStore || !e.HasTime() {
			continue
		}
		t := e.Timestamp.Time
		if t.Before(start) || t.After(limit) {
			continue
		}
		if best == nil || !t.Before(best.Timestamp.Time) {
			best = e
		}
		if tokens.ContainedIn(e.Text()) && (bestPreferred == nil || !t.Before(bestPreferred.Timestamp.Time)) {
			bestPreferred = e
		}
	}
	if bestPreferred != nil {
		return bestPreferred
	}
	return best
}
