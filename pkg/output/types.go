// Package output provides formatting and output generation for analysis results.
package output

import (
	"time"

	"github.com/ccollicutt/reqtrace/pkg/analyzer"
)

// Report is the complete analysis output for one batch.
type Report struct {
	// Summary provides aggregate statistics.
	Summary Summary `json:"summary"`

	// Sessions lists every request, longest first.
	Sessions []analyzer.SessionSummary `json:"sessions"`

	// Outliers lists the flagged requests, longest span first.
	Outliers []analyzer.Outlier `json:"outliers,omitempty"`

	// Warnings lists run-level conditions that degraded the analysis.
	Warnings []analyzer.Warning `json:"warnings,omitempty"`

	// Details holds the full per-session breakdown. Compact drops it.
	Details []*analyzer.SessionReport `json:"details,omitempty"`

	// Metadata provides context about the analysis.
	Metadata Metadata `json:"metadata"`
}

// Summary provides aggregate statistics.
type Summary struct {
	// Sessions is the number of request sessions found.
	Sessions int `json:"sessions"`

	// Outliers is the number of sessions flagged as outliers.
	Outliers int `json:"outliers"`

	// Warnings is the number of run-level warnings.
	Warnings int `json:"warnings"`

	// Rows is the number of rows read from the batch.
	Rows int `json:"rows"`

	// Events is the number of events analyzed.
	Events int `json:"events"`
}

// Metadata provides context about the analysis run.
type Metadata struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// ConfigFile is the path to the configuration file used.
	ConfigFile string `json:"config_file,omitempty"`

	// Batch is the analyzed batch.
	Batch string `json:"batch"`

	// TimeRange is the time filter that was applied, if any.
	TimeRange *TimeRange `json:"time_range,omitempty"`

	// FirstRequest and LastRequest bound the request events of the batch.
	FirstRequest *time.Time `json:"first_request,omitempty"`
	LastRequest  *time.Time `json:"last_request,omitempty"`

	// AnalyzedAt is when the analysis was performed.
	AnalyzedAt time.Time `json:"analyzed_at"`

	// Duration is how long the analysis took.
	Duration time.Duration `json:"duration"`
}

// TimeRange represents a time window for filtering.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewReport creates a Report from analysis results.
func NewReport(result *analyzer.Result, configFile string) *Report {
	md := result.Metadata
	report := &Report{
		Sessions: result.Summaries,
		Outliers: result.Outliers,
		Warnings: result.Warnings,
		Details:  result.Sessions,
		Metadata: Metadata{
			RunID:      md.RunID,
			ConfigFile: configFile,
			Batch:      md.Batch,
			AnalyzedAt: md.EndTime,
			Duration:   md.EndTime.Sub(md.StartTime),
		},
		Summary: Summary{
			Sessions: len(result.Sessions),
			Outliers: len(result.Outliers),
			Warnings: len(result.Warnings),
			Rows:     md.Rows,
			Events:   md.Events,
		},
	}

	if md.TimeRange != nil {
		report.Metadata.TimeRange = &TimeRange{
			Start: md.TimeRange.Start,
			End:   md.TimeRange.End,
		}
	}
	if !md.FirstRequest.IsZero() {
		first, last := md.FirstRequest, md.LastRequest
		report.Metadata.FirstRequest = &first
		report.Metadata.LastRequest = &last
	}

	return report
}

// HasOutliers returns true if any outliers were detected.
func (r *Report) HasOutliers() bool {
	return r.Summary.Outliers > 0
}

// Compact returns a copy of the report without per-session details.
func (r *Report) Compact() *Report {
	c := *r
	c.Details = nil
	return &c
}
