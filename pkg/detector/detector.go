// Package detector reports how a batch file fits reqtrace: which input format
// its lines look like and which event fields the normalizer can resolve from
// a sample of its rows.
package detector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ccollicutt/reqtrace/pkg/config"
	"github.com/ccollicutt/reqtrace/pkg/event"
	"github.com/ccollicutt/reqtrace/pkg/normalize"
	"github.com/ccollicutt/reqtrace/pkg/source"
)

// Field names reported in DetectionResult.Fields, in report order.
var FieldNames = []string{"timestamp", "message", "request_id", "host", "service"}

// DetectionResult holds the result of analyzing a batch file.
type DetectionResult struct {
	Matches       []FormatMatch `json:"matches"`        // Formats that matched, sorted by confidence descending
	SampledLines  int           `json:"sampled_lines"`  // Number of raw lines sampled
	ParsedLines   int           `json:"parsed_lines"`   // Number of lines the best format explains
	AmbiguityNote string        `json:"ambiguity_note,omitempty"`

	// Format is the format rows were read with.
	Format      config.Format     `json:"format,omitempty"`
	JSONFields  map[string]string `json:"json_fields,omitempty"` // Suggested JMESPath fields for jsonl
	SampledRows int               `json:"sampled_rows"`
	Columns     []ColumnFill      `json:"columns,omitempty"`
	Fields      []FieldCoverage   `json:"fields,omitempty"`

	// Timestamps counts sampled rows per timestamp kind.
	Timestamps map[string]int `json:"timestamps,omitempty"`
}

// FormatMatch is an input format with the share of lines it explains.
type FormatMatch struct {
	Format     config.Format `json:"format"`
	Shapes     []string      `json:"shapes"`     // Shapes seen, in first-seen order
	Confidence float64       `json:"confidence"` // 0.0 to 1.0 (share of lines matched)
	MatchCount int           `json:"match_count"`
	SampleLine string        `json:"sample_line"`
}

// ColumnFill is how often a column carries a non-blank value.
type ColumnFill struct {
	Name   string  `json:"name"`
	Filled int     `json:"filled"`
	Fill   float64 `json:"fill"`
}

// FieldCoverage is how often an event field resolved, and by which strategy.
type FieldCoverage struct {
	Field      string         `json:"field"`
	Resolved   int            `json:"resolved"`
	Coverage   float64        `json:"coverage"`
	Strategies map[string]int `json:"strategies,omitempty"`
	Sample     string         `json:"sample,omitempty"`
}

// Detector samples batch files.
type Detector struct {
	shapes     []*InputShape
	sampleSize int
	format     config.Format
	normalizer *normalize.Normalizer
}

// Option configures the Detector.
type Option func(*Detector)

// WithSampleSize sets the number of lines and rows to sample (default 100).
func WithSampleSize(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.sampleSize = n
		}
	}
}

// WithFormat reads rows with the given format instead of the detected one.
func WithFormat(f config.Format) Option {
	return func(d *Detector) {
		d.format = f
	}
}

// WithNormalizer sets the normalizer used to resolve fields.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(d *Detector) {
		if n != nil {
			d.normalizer = n
		}
	}
}

// New creates a new Detector with default shapes and normalizer.
func New(opts ...Option) *Detector {
	d := &Detector{
		shapes:     DefaultShapes(),
		sampleSize: 100,
		normalizer: normalize.New(normalize.Options{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DetectFromFile samples a file, detects its format, then reads a sample of
// rows in that format and reports field coverage.
func (d *Detector) DetectFromFile(ctx context.Context, path string) (*DetectionResult, error) {
	lines, err := d.sampleFile(path)
	if err != nil {
		return nil, err
	}
	result := d.DetectFromLines(lines)

	in := config.InputConfig{Format: d.format}
	if in.Format == "" {
		in.Format = config.FormatLines
		if best := result.BestMatch(); best != nil {
			in.Format = best.Format
		}
	}
	if in.Format == config.FormatJSONL {
		in.JSONFields = SuggestJSONFields(lines)
		if len(in.JSONFields) == 0 {
			in.JSONFields = map[string]string{"message": "message"}
		}
		result.JSONFields = in.JSONFields
	}

	src, err := source.OpenFile(in, path)
	if err != nil {
		return nil, err
	}
	rows, err := d.readRows(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("sampling %s: %w", path, err)
	}

	result.Format = in.Format
	d.detectRows(result, rows, path)
	return result, nil
}

// DetectFromLines classifies raw lines by shape and ranks the formats they
// point at.
func (d *Detector) DetectFromLines(lines []string) *DetectionResult {
	result := &DetectionResult{
		SampledLines: len(lines),
	}

	if len(lines) == 0 {
		return result
	}

	// Track matches per format
	stats := make(map[config.Format]*FormatMatch)
	var order []config.Format

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		for _, shape := range d.shapes {
			if !shape.Pattern.MatchString(line) {
				continue
			}
			m, ok := stats[shape.Format]
			if !ok {
				m = &FormatMatch{Format: shape.Format, SampleLine: line}
				stats[shape.Format] = m
				order = append(order, shape.Format)
			}
			m.MatchCount++
			if !contains(m.Shapes, shape.Name) {
				m.Shapes = append(m.Shapes, shape.Name)
			}
			break
		}
	}

	for _, f := range order {
		m := stats[f]
		m.Confidence = float64(m.MatchCount) / float64(len(lines))
		result.Matches = append(result.Matches, *m)
	}

	// Sort by confidence descending, first seen wins ties
	sort.SliceStable(result.Matches, func(i, j int) bool {
		return result.Matches[i].Confidence > result.Matches[j].Confidence
	})

	if len(result.Matches) > 0 {
		result.ParsedLines = result.Matches[0].MatchCount
	}

	if len(result.Matches) > 1 && result.Matches[1].Confidence >= 0.2 {
		result.AmbiguityNote = fmt.Sprintf(
			"Lines match both %s and %s. Verify the input format, or pass --format to choose one.",
			result.Matches[0].Format, result.Matches[1].Format)
	}

	return result
}

// DetectFromRows reports column fill and field coverage for rows already read.
func (d *Detector) DetectFromRows(rows []event.Row, batchName string) *DetectionResult {
	result := &DetectionResult{}
	d.detectRows(result, rows, batchName)
	return result
}

func (d *Detector) detectRows(result *DetectionResult, rows []event.Row, batchName string) {
	result.SampledRows = len(rows)
	result.Timestamps = make(map[string]int)

	fields := make(map[string]*FieldCoverage, len(FieldNames))
	for _, name := range FieldNames {
		fields[name] = &FieldCoverage{Field: name, Strategies: make(map[string]int)}
	}
	record := func(name, strategy, value string) {
		if strategy == "" {
			return
		}
		f := fields[name]
		f.Resolved++
		f.Strategies[strategy]++
		if f.Sample == "" {
			f.Sample = value
		}
	}

	columns := make(map[string]*ColumnFill)
	var columnOrder []string

	for i, row := range rows {
		for _, f := range row.Fields {
			c, ok := columns[f.Name]
			if !ok {
				c = &ColumnFill{Name: f.Name}
				columns[f.Name] = c
				columnOrder = append(columnOrder, f.Name)
			}
			if strings.TrimSpace(f.Value) != "" {
				c.Filled++
			}
		}

		e, how := d.normalizer.Explain(row, batchName, i)
		result.Timestamps[e.Timestamp.Kind.String()]++
		if e.HasTime() {
			record("timestamp", e.Timestamp.Kind.String(), e.Timestamp.Display())
		}
		record("message", how.Message, e.Message)
		record("request_id", how.RequestID, e.RequestID)
		record("host", how.Host, e.Host)
		record("service", how.Service, e.Service)
	}

	for _, name := range columnOrder {
		c := columns[name]
		if len(rows) > 0 {
			c.Fill = float64(c.Filled) / float64(len(rows))
		}
		result.Columns = append(result.Columns, *c)
	}
	for _, name := range FieldNames {
		f := fields[name]
		if len(rows) > 0 {
			f.Coverage = float64(f.Resolved) / float64(len(rows))
		}
		result.Fields = append(result.Fields, *f)
	}
}

// Field returns the coverage of a named field.
func (r *DetectionResult) Field(name string) (FieldCoverage, bool) {
	for _, f := range r.Fields {
		if f.Field == name {
			return f, true
		}
	}
	return FieldCoverage{}, false
}

// SuggestJSONFields maps every top-level key seen in JSON object lines to a
// JMESPath expression selecting it.
func SuggestJSONFields(lines []string) map[string]string {
	fields := make(map[string]string)
	for _, line := range lines {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &doc); err != nil {
			continue
		}
		for key := range doc {
			if _, ok := fields[key]; ok {
				continue
			}
			quoted, err := json.Marshal(key)
			if err != nil {
				continue
			}
			fields[key] = string(quoted)
		}
	}
	return fields
}

func (d *Detector) readRows(ctx context.Context, src source.RowSource) ([]event.Row, error) {
	defer src.Close()

	var rows []event.Row
	for len(rows) < d.sampleSize {
		row, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, *row)
	}
	return rows, nil
}

// sampleFile reads up to sampleSize non-blank lines from a file.
// Uses simple head sampling for efficiency.
func (d *Detector) sampleFile(path string) ([]string, error) {
	// #nosec G304 - path is provided by user via CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() && len(lines) < d.sampleSize {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

// BestMatch returns the highest confidence match, or nil if none found.
func (r *DetectionResult) BestMatch() *FormatMatch {
	if len(r.Matches) == 0 {
		return nil
	}
	return &r.Matches[0]
}

// HasMatch returns true if at least one format matched.
func (r *DetectionResult) HasMatch() bool {
	return len(r.Matches) > 0
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
