package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ccollicutt/reqtrace/pkg/config"
	"github.com/ccollicutt/reqtrace/pkg/correlate"
	"github.com/ccollicutt/reqtrace/pkg/event"
	"github.com/ccollicutt/reqtrace/pkg/normalize"
	"github.com/ccollicutt/reqtrace/pkg/timeline"
)

// Analyzer orchestrates one correlation run per batch.
type Analyzer struct {
	cfg        *config.Config
	normalizer *normalize.Normalizer
	grouper    *correlate.Grouper

	// Options
	logger        *slog.Logger
	timeRange     *TimeRange
	requestFilter map[string]bool // nil means all sessions
	now           func() time.Time
}

// TimeRange limits a run to events with an instant inside [Start, End].
// Events without an instant are kept.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range.
func (r *TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// AnalyzerOption configures analyzer behavior.
type AnalyzerOption func(*Analyzer)

// WithLogger sets the logger used for run diagnostics.
func WithLogger(l *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTimeRange limits analysis to events within the given time range.
func WithTimeRange(start, end time.Time) AnalyzerOption {
	return func(a *Analyzer) {
		a.timeRange = &TimeRange{Start: start, End: end}
	}
}

// WithRequestFilter limits the reported sessions to the given request ids.
// Grouping still sees the whole batch.
func WithRequestFilter(ids []string) AnalyzerOption {
	return func(a *Analyzer) {
		if len(ids) > 0 {
			a.requestFilter = make(map[string]bool, len(ids))
			for _, id := range ids {
				a.requestFilter[id] = true
			}
		}
	}
}

// WithClock replaces the clock used for run metadata.
func WithClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an analyzer from a validated configuration.
func New(cfg *config.Config, opts ...AnalyzerOption) (*Analyzer, error) {
	if cfg == nil {
		return nil, errors.New("nil configuration")
	}

	a := &Analyzer{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.timeRange != nil && a.timeRange.End.Before(a.timeRange.Start) {
		return nil, fmt.Errorf("time range end %s is before start %s",
			a.timeRange.End.Format(time.RFC3339), a.timeRange.Start.Format(time.RFC3339))
	}

	a.normalizer = normalize.New(NormalizerOptions(cfg))

	a.grouper = correlate.New(correlate.Options{
		ExpansionDepth: cfg.Correlation.ExpansionDepth,
		BackingStore:   cfg.Flow.BackingStore,
		AttachWindow:   cfg.Correlation.AttachWindow,
		Workers:        cfg.Correlation.Workers,
	})

	return a, nil
}

// NormalizerOptions maps the column and pattern configuration onto
// normalizer options. Empty lists fall back to the normalizer defaults.
func NormalizerOptions(cfg *config.Config) normalize.Options {
	return normalize.Options{
		TimestampColumns: nonEmpty(cfg.Columns.Timestamp),
		MessageColumns:   nonEmpty(cfg.Columns.Message),
		RequestIDColumns: nonEmpty(cfg.Columns.RequestID),
		HostColumns:      nonEmpty(cfg.Columns.Host),
		ServiceColumns:   nonEmpty(cfg.Columns.Service),
		ServicePattern:   cfg.Patterns.CompiledService(),
		HostPattern:      cfg.Patterns.CompiledHost(),
		RequestIDPattern: cfg.Patterns.CompiledRequestID(),
	}
}

// Run analyzes one batch. The batch is only read.
func (a *Analyzer) Run(ctx context.Context, batch event.Batch) (*Result, error) {
	result := &Result{
		Metadata: Metadata{
			RunID:     uuid.NewString(),
			Batch:     batch.Name,
			Rows:      len(batch.Rows),
			TimeRange: a.timeRange,
			StartTime: a.now(),
		},
		index: make(map[string]int),
	}
	log := a.logger.With("run_id", result.Metadata.RunID, "batch", batch.Name)

	events := a.normalizer.NormalizeBatch(batch)
	if a.timeRange != nil {
		events = filterTime(events, a.timeRange)
	}
	result.Metadata.Events = len(events)
	log.Debug("normalized batch", "rows", len(batch.Rows), "events", len(events))

	grouped, err := a.grouper.Group(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("analyzing batch %s: %w", batch.Name, err)
	}

	for _, s := range grouped.Sessions {
		if a.requestFilter != nil && !a.requestFilter[s.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("analyzing batch %s: %w", batch.Name, err)
		}
		report := &SessionReport{
			Session:  s,
			Timeline: timeline.Build(s.Events, a.cfg.Flow.Services, timeline.Options{FinalService: a.cfg.Flow.FinalService}),
			Sequence: timeline.BuildSequence(s.Events),
		}
		result.index[s.ID] = len(result.Sessions)
		result.Sessions = append(result.Sessions, report)
	}

	result.Summaries = summarize(result.Sessions)
	result.Outliers = DetectOutliers(result.Sessions, a.cfg.Outliers)
	result.Metadata.FirstRequest, result.Metadata.LastRequest = requestBounds(events)
	result.Warnings = warnings(events, grouped.Len())
	for _, w := range result.Warnings {
		log.Warn(w.Message, "code", string(w.Code))
	}

	result.Metadata.EndTime = a.now()
	log.Info("analysis complete",
		"sessions", len(result.Sessions),
		"outliers", len(result.Outliers),
		"duration", result.Metadata.EndTime.Sub(result.Metadata.StartTime))

	return result, nil
}

func filterTime(events []*event.Event, r *TimeRange) []*event.Event {
	kept := make([]*event.Event, 0, len(events))
	for _, e := range events {
		if e.HasTime() && !r.Contains(e.Timestamp.Time) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// summarize lists every session with its timeline total, longest first. The
// total ends at the final service when one is configured. Sessions without
// timed flow segments fall back to their raw event span. Ties keep session
// order.
func summarize(reports []*SessionReport) []SessionSummary {
	out := make([]SessionSummary, len(reports))
	for i, r := range reports {
		d := r.Span()
		if r.Timeline != nil && r.Timeline.HasTime {
			d = r.Timeline.Total
		}
		out[i] = SessionSummary{ID: r.ID, EventCount: len(r.Events), Duration: d}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Duration > out[j].Duration
	})
	return out
}

// requestBounds returns the earliest and latest instants among events that
// carry a request id.
func requestBounds(events []*event.Event) (first, last time.Time) {
	for _, e := range events {
		if e.RequestID == "" || !e.HasTime() {
			continue
		}
		t := e.Timestamp.Time
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if last.IsZero() || t.After(last) {
			last = t
		}
	}
	return first, last
}

func warnings(events []*event.Event, sessions int) []Warning {
	var hasTime, hasService bool
	for _, e := range events {
		hasTime = hasTime || e.HasTime()
		hasService = hasService || e.Service != ""
	}

	var out []Warning
	if !hasTime {
		out = append(out, Warning{Code: WarningNoTimestamps, Message: "no event has a resolvable timestamp"})
	}
	if !hasService {
		out = append(out, Warning{Code: WarningNoServices, Message: "no event has a service"})
	}
	if sessions == 0 {
		out = append(out, Warning{Code: WarningNoSessions, Message: "no event carries a request id"})
	}
	return out
}

func nonEmpty(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	return names
}
