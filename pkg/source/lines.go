package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/ccollicutt/reqtrace/pkg/event"
	"github.com/ccollicutt/reqtrace/pkg/normalize"
)

// prefixLine matches a context line such as "MSVirtualMachine-1,2025-11-21T10"
// that sets the host and date-hour for the lines after it.
var prefixLine = regexp.MustCompile(`^([^,\s]+),(\d{4}-\d{2}-\d{2}T\d{2})(?::\d{2})?\s*$`)

// LineSource reads raw text lines. Prefix lines are consumed and their host
// and date-hour are carried onto every following row until the next prefix.
type LineSource struct {
	path    string
	file    *os.File
	scanner *bufio.Scanner
	lineNum int

	host     string
	dateHour string
}

// NewLineSource opens a raw text log file.
func NewLineSource(path string) (*LineSource, error) {
	f, err := os.Open(path) // #nosec G304 -- user-provided paths are expected
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	s := newLineSource(path, f)
	s.file = f
	return s, nil
}

func newLineSource(path string, r io.Reader) *LineSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max line size
	return &LineSource{path: path, scanner: scanner}
}

// Next returns the next non-blank, non-prefix line.
func (s *LineSource) Next(ctx context.Context) (*event.Row, error) {
	for {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading %s: %w", s.path, err)
			}
			return nil, io.EOF
		}
		s.lineNum++

		line := strings.TrimRight(s.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if m := prefixLine.FindStringSubmatch(line); m != nil {
			s.host, s.dateHour = m[1], m[2]
			continue
		}

		row := event.NewLineRow(line)
		if s.dateHour != "" {
			row.Set(normalize.DateHourColumn, s.dateHour)
		}
		if s.host != "" {
			row.Set(normalize.CarriedHostColumn, s.host)
		}
		return &row, nil
	}
}

// Close releases the underlying file.
func (s *LineSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
