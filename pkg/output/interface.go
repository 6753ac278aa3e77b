package output

import (
	"context"
	"fmt"
	"io"

	"github.com/ccollicutt/reqtrace/pkg/analyzer"
)

// Formatter renders analysis results in a specific format.
type Formatter interface {
	// Format renders the report to the given writer.
	Format(ctx context.Context, report *Report, w io.Writer) error

	// FormatSession renders the breakdown of a single request.
	FormatSession(ctx context.Context, session *analyzer.SessionReport, w io.Writer) error

	// Name returns the format name (text, json).
	Name() string
}

// FormatOptions controls formatter behavior.
type FormatOptions struct {
	// Verbose enables detailed output including per-session details and
	// individual events.
	Verbose bool

	// Quiet enables minimal summary-only output.
	Quiet bool

	// Top limits the session list to the longest N requests. Zero lists all.
	Top int
}

// NewFormatter returns the formatter for a format name.
func NewFormatter(name string, opts FormatOptions) (Formatter, error) {
	switch name {
	case "text", "":
		return NewTextFormatter(opts), nil
	case "json":
		return NewJSONFormatter(opts), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (must be text or json)", name)
	}
}
