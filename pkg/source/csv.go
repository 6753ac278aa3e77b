package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ccollicutt/reqtrace/pkg/event"
)

// CSVSource reads delimited rows. The first record is the header unless
// column names are given.
type CSVSource struct {
	path   string
	file   *os.File
	reader *csv.Reader
	header []string
	record int
}

// NewCSVSource opens a CSV file. A non-empty header names the columns of a
// headerless file.
func NewCSVSource(path string, header []string) (*CSVSource, error) {
	f, err := os.Open(path) // #nosec G304 -- user-provided paths are expected
	if err != nil {
		return nil, fmt.Errorf("opening csv file %s: %w", path, err)
	}
	return newCSVSource(path, f, header), nil
}

func newCSVSource(path string, r io.Reader, header []string) *CSVSource {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	s := &CSVSource{path: path, reader: reader}
	if f, ok := r.(*os.File); ok {
		s.file = f
	}
	if len(header) > 0 {
		s.header = append([]string(nil), header...)
	}
	return s
}

// Next returns the next record as a row. Missing trailing columns are left
// empty and extra columns are dropped.
func (s *CSVSource) Next(ctx context.Context) (*event.Row, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	if s.header == nil {
		rec, err := s.read()
		if err != nil {
			return nil, err
		}
		s.header = make([]string, len(rec))
		for i, h := range rec {
			s.header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		}
	}

	rec, err := s.read()
	if err != nil {
		return nil, err
	}

	row := &event.Row{Fields: make([]event.Field, len(s.header))}
	for i, name := range s.header {
		row.Fields[i].Name = name
		if i < len(rec) {
			row.Fields[i].Value = rec[i]
		}
	}
	return row, nil
}

func (s *CSVSource) read() ([]string, error) {
	rec, err := s.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	s.record++
	if err != nil {
		return nil, fmt.Errorf("reading %s record %d: %w", s.path, s.record, err)
	}
	return rec, nil
}

// Close releases the underlying file.
func (s *CSVSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
