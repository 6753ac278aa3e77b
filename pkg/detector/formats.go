package detector

import (
	"regexp"

	"github.com/ccollicutt/reqtrace/pkg/config"
)

// InputShape is a recognizable line shape that points at an input format.
type InputShape struct {
	Name       string         // Human-readable name
	Format     config.Format  // Input format the shape belongs to
	Pattern    *regexp.Regexp // Compiled regex (set during init)
	PatternStr string         // Pattern string for reports
	Examples   []string       // Example lines
}

// DefaultShapes returns the built-in line shapes. A line is classified by the
// first shape it matches, so more specific shapes come first.
func DefaultShapes() []*InputShape {
	shapes := []*InputShape{
		{
			Name:       "JSON object",
			Format:     config.FormatJSONL,
			PatternStr: `^\s*\{.*\}\s*$`,
			Examples:   []string{`{"timestamp":"2025-11-21T10:54:40.479Z","message":"fetched"}`},
		},
		{
			Name:       "Host and date-hour prefix",
			Format:     config.FormatLines,
			PatternStr: `^[^,\s]+,\d{4}-\d{2}-\d{2}T\d{2}(?::\d{2})?\s*$`,
			Examples:   []string{"MSVirtualMachine-1,2025-11-21T10"},
		},
		{
			Name:       "Minute-second fragment",
			Format:     config.FormatLines,
			PatternStr: `^,\d{2}:\d{2}(?:\.\d+)?Z\s`,
			Examples:   []string{",54:40.479Z mystack_get-data.1.abc@MSVirtualMachine-3 | fetched"},
		},
		{
			Name:       "Container log line",
			Format:     config.FormatLines,
			PatternStr: `^\S+\s*\|\s*\S`,
			Examples:   []string{"mystack_get-data.1.abc@MSVirtualMachine-3 | fetched"},
		},
		{
			Name:       "Comma-separated record",
			Format:     config.FormatCSV,
			PatternStr: `^[^,]*(?:,[^,]*)+$`,
			Examples:   []string{"MSVirtualMachine-1,2025-11-21T10:54:40.479Z,mystack_get-data,fetched,b69c7c19-8808-411c-813b-deaaa6b55295"},
		},
		{
			Name:       "Free text with ISO instant",
			Format:     config.FormatLines,
			PatternStr: `\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`,
			Examples:   []string{"2025-11-21T10:54:40Z upload complete"},
		},
	}

	// Compile all patterns
	for _, s := range shapes {
		s.Pattern = regexp.MustCompile(s.PatternStr)
	}

	return shapes
}
