package output

import (
	"context"
	"encoding/json"
	"io"

	"github.com/ccollicutt/reqtrace/pkg/analyzer"
)

// JSONFormatter formats reports as JSON.
type JSONFormatter struct {
	opts FormatOptions
}

// NewJSONFormatter creates a new JSON formatter with the given options.
func NewJSONFormatter(opts FormatOptions) *JSONFormatter {
	return &JSONFormatter{opts: opts}
}

// Name returns the format name.
func (f *JSONFormatter) Name() string {
	return "json"
}

// Format renders the report as JSON. Session details are only included in
// verbose mode.
func (f *JSONFormatter) Format(ctx context.Context, report *Report, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if f.opts.Quiet {
		// Quiet mode: just summary
		return encoder.Encode(report.Summary)
	}

	out := report
	if !f.opts.Verbose {
		out = report.Compact()
	}
	if f.opts.Top > 0 && len(out.Sessions) > f.opts.Top {
		c := *out
		c.Sessions = c.Sessions[:f.opts.Top]
		out = &c
	}
	return encoder.Encode(out)
}

// FormatSession renders one session breakdown as JSON.
func (f *JSONFormatter) FormatSession(ctx context.Context, session *analyzer.SessionReport, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(session)
}
