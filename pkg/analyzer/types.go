// Package analyzer runs one correlation pass over a batch: rows become
// events, events become request sessions and every session gets a timeline.
package analyzer

import (
	"time"

	"github.com/ccollicutt/reqtrace/pkg/correlate"
	"github.com/ccollicutt/reqtrace/pkg/timeline"
)

// WarningCode categorizes run-level warnings.
type WarningCode string

const (
	// WarningNoTimestamps indicates no event resolved an instant.
	WarningNoTimestamps WarningCode = "no_timestamps"

	// WarningNoServices indicates no event resolved a service.
	WarningNoServices WarningCode = "no_services"

	// WarningNoSessions indicates no event carried a request id.
	WarningNoSessions WarningCode = "no_sessions"
)

// Warning is a condition that degrades the whole run without failing it.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// SessionReport is the derived view of one request session.
type SessionReport struct {
	*correlate.Session

	// Timeline holds the per-service segments and duration metrics.
	Timeline *timeline.Timeline `json:"timeline"`

	// Sequence is the clock-independent ordering of the session.
	Sequence *timeline.Sequence `json:"sequence"`
}

// SessionSummary is one line of the session list.
type SessionSummary struct {
	ID         string        `json:"id"`
	EventCount int           `json:"event_count"`
	Duration   time.Duration `json:"duration"`
}

// Outlier is a session whose wall-clock span is out of proportion to the
// time its services report.
type Outlier struct {
	ID         string        `json:"id"`
	Span       time.Duration `json:"span"`
	Sum        time.Duration `json:"sum"`
	Threshold  time.Duration `json:"threshold"`
	EventCount int           `json:"event_count"`
}

// Metadata provides context about the run.
type Metadata struct {
	// RunID uniquely identifies the run.
	RunID string `json:"run_id"`

	// Batch is the name of the analyzed batch.
	Batch string `json:"batch"`

	// Rows is the number of rows read from the batch.
	Rows int `json:"rows"`

	// Events is the number of events left after time filtering.
	Events int `json:"events"`

	// TimeRange is the event filter applied, if any.
	TimeRange *TimeRange `json:"time_range,omitempty"`

	// FirstRequest and LastRequest bound the instants of events that carry a
	// request id. Zero when none has one.
	FirstRequest time.Time `json:"first_request,omitempty"`
	LastRequest  time.Time `json:"last_request,omitempty"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Result contains the complete output of one run.
type Result struct {
	Sessions []*SessionReport `json:"sessions"`

	// Summaries are ordered by duration, longest first.
	Summaries []SessionSummary `json:"summaries"`

	// Outliers are ordered by span, longest first.
	Outliers []Outlier `json:"outliers,omitempty"`

	Warnings []Warning `json:"warnings,omitempty"`

	Metadata Metadata `json:"metadata"`

	index map[string]int
}

// Session returns the report for a request id.
func (r *Result) Session(id string) (*SessionReport, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.Sessions[i], true
}

// HasOutliers returns true if any session was flagged.
func (r *Result) HasOutliers() bool {
	return len(r.Outliers) > 0
}

// HasWarning reports whether a warning with the given code was raised.
func (r *Result) HasWarning(code WarningCode) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}
