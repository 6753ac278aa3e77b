package output

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ccollicutt/reqtrace/pkg/analyzer"
	"github.com/ccollicutt/reqtrace/pkg/event"
	"github.com/ccollicutt/reqtrace/pkg/timeline"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// TextFormatter formats reports as human-readable text.
type TextFormatter struct {
	opts FormatOptions
}

// NewTextFormatter creates a new text formatter with the given options.
func NewTextFormatter(opts FormatOptions) *TextFormatter {
	return &TextFormatter{opts: opts}
}

// Name returns the format name.
func (f *TextFormatter) Name() string {
	return "text"
}

// Format renders the report as text.
func (f *TextFormatter) Format(ctx context.Context, report *Report, w io.Writer) error {
	if f.opts.Quiet {
		return f.formatQuiet(report, w)
	}
	return f.formatFull(ctx, report, w)
}

func (f *TextFormatter) formatQuiet(report *Report, w io.Writer) error {
	fmt.Fprintf(w, "reqtrace: %s: %d sessions, %d outliers, %d warnings\n",
		report.Metadata.Batch,
		report.Summary.Sessions,
		report.Summary.Outliers,
		report.Summary.Warnings)
	return nil
}

func (f *TextFormatter) formatFull(ctx context.Context, report *Report, w io.Writer) error {
	// Header
	fmt.Fprintln(w, "=== reqtrace Analysis Report ===")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Batch: %s\n", report.Metadata.Batch)
	fmt.Fprintf(w, "Events: %d (%d rows)\n", report.Summary.Events, report.Summary.Rows)
	if report.Metadata.FirstRequest != nil {
		fmt.Fprintf(w, "Requests: %s to %s\n",
			report.Metadata.FirstRequest.UTC().Format(timeLayout),
			report.Metadata.LastRequest.UTC().Format(timeLayout))
	}
	fmt.Fprintln(w)

	f.formatSessions(report, w)
	f.formatOutliers(report, w)

	if len(report.Warnings) > 0 {
		fmt.Fprintln(w, "[WARNINGS]")
		for _, warn := range report.Warnings {
			fmt.Fprintf(w, "  - %s: %s\n", warn.Code, warn.Message)
		}
		fmt.Fprintln(w)
	}

	if f.opts.Verbose {
		for _, s := range report.Details {
			if err := f.FormatSession(ctx, s, w); err != nil {
				return err
			}
		}
	}

	// Summary
	fmt.Fprintln(w, "---")
	fmt.Fprintf(w, "Summary: %d sessions, %d outliers, %d warnings\n",
		report.Summary.Sessions,
		report.Summary.Outliers,
		report.Summary.Warnings)

	if f.opts.Verbose {
		fmt.Fprintf(w, "Run: %s\n", report.Metadata.RunID)
		fmt.Fprintf(w, "Duration: %s\n", report.Metadata.Duration.Round(time.Millisecond))
	}

	return nil
}

func (f *TextFormatter) formatSessions(report *Report, w io.Writer) {
	sessions := report.Sessions
	if f.opts.Top > 0 && len(sessions) > f.opts.Top {
		sessions = sessions[:f.opts.Top]
		fmt.Fprintf(w, "[SESSIONS] %d longest of %d\n", len(sessions), len(report.Sessions))
	} else {
		fmt.Fprintf(w, "[SESSIONS] %d\n", len(sessions))
	}

	if len(sessions) == 0 {
		fmt.Fprintln(w, "  No sessions found")
		fmt.Fprintln(w)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range sessions {
		fmt.Fprintf(tw, "  %s\t%d events\t%s\n", s.ID, s.EventCount, s.Duration)
	}
	_ = tw.Flush()
	fmt.Fprintln(w)
}

func (f *TextFormatter) formatOutliers(report *Report, w io.Writer) {
	fmt.Fprintln(w, "[OUTLIERS]")
	if len(report.Outliers) == 0 {
		fmt.Fprintln(w, "  No outliers detected")
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintf(w, "  Flagged: %d request(s)\n", len(report.Outliers))
	for _, o := range report.Outliers {
		fmt.Fprintf(w, "  - %s: span %s, services %s (threshold %s, %d events)\n",
			o.ID, o.Span, o.Sum, o.Threshold, o.EventCount)
	}
	fmt.Fprintln(w)
}

// FormatSession renders a per-service breakdown of one request.
func (f *TextFormatter) FormatSession(ctx context.Context, s *analyzer.SessionReport, w io.Writer) error {
	tl := s.Timeline

	fmt.Fprintf(w, "=== Request %s ===\n", s.ID)
	fmt.Fprintf(w, "Events: %d\n", len(s.Events))
	if s.Attached != nil {
		fmt.Fprintf(w, "Attached: %s %s\n", displayTime(s.Attached.Timestamp), s.Attached.Service)
	}
	if tl.HasTime {
		fmt.Fprintf(w, "Start: %s\n", tl.StartRaw)
		fmt.Fprintf(w, "End: %s\n", tl.EndRaw)
		fmt.Fprintf(w, "Total: %s\n", tl.Total)
	} else {
		fmt.Fprintln(w, "No timestamps resolved")
	}
	fmt.Fprintf(w, "Sum of durations: %s\n", tl.Sum)
	fmt.Fprintf(w, "Non-overlapping total: %s\n", tl.Union)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Per-service:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  SERVICE\tHOST\tSTART\tEND\tDURATION\tEXCLUSIVE\tEVENTS")
	for i := range tl.Segments {
		seg := &tl.Segments[i]
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			seg.Service, orDash(seg.Host), orDash(seg.StartRaw), orDash(seg.EndRaw),
			segmentDuration(seg), seg.Exclusive, len(seg.Events))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)

	if len(tl.Transitions) > 0 {
		fmt.Fprintln(w, "Host transitions:")
		for _, t := range tl.Transitions {
			at := "-"
			if !t.At.IsZero() {
				at = t.At.UTC().Format(timeLayout)
			}
			fmt.Fprintf(w, "  %s (%s) -> %s (%s) at %s\n", t.FromService, t.FromHost, t.ToService, t.ToHost, at)
		}
		fmt.Fprintln(w)
	}

	if s.Sequence != nil && len(s.Sequence.Segments) > 0 {
		fmt.Fprintf(w, "Sequence (%d steps):\n", s.Sequence.Steps())
		for _, seg := range s.Sequence.Segments {
			fmt.Fprintf(w, "  #%d-#%d %s (%d events)\n", seg.StartIndex, seg.EndIndex, seg.Service, seg.Events)
		}
		fmt.Fprintln(w)
	}

	if f.opts.Verbose {
		fmt.Fprintln(w, "Events:")
		for _, e := range s.Events {
			fmt.Fprintf(w, "  %s %s %s\n", displayTime(e.Timestamp), orDash(e.Service), e.Text())
		}
		fmt.Fprintln(w)
	}

	return nil
}

func segmentDuration(seg *timeline.Segment) string {
	if !seg.HasTime {
		return "-"
	}
	return seg.Duration().String()
}

func displayTime(ts event.Timestamp) string {
	return orDash(ts.Display())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
