package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"

	"github.com/ccollicutt/reqtrace/pkg/event"
)

// FieldExtractor maps JSON documents to row columns with compiled JMESPath
// expressions.
type FieldExtractor struct {
	names []string
	exprs []*jmespath.JMESPath
}

// NewFieldExtractor compiles one expression per column. Columns are emitted in
// name order.
func NewFieldExtractor(fields map[string]string) (*FieldExtractor, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	fx := &FieldExtractor{names: names, exprs: make([]*jmespath.JMESPath, len(names))}
	for i, name := range names {
		expr, err := jmespath.Compile(fields[name])
		if err != nil {
			return nil, fmt.Errorf("compiling json field %s: %w", name, err)
		}
		fx.exprs[i] = expr
	}
	return fx, nil
}

// Extract decodes raw as JSON and evaluates every expression against it. Text
// that is not JSON is evaluated as {"message": raw}.
func (fx *FieldExtractor) Extract(raw string) event.Row {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		doc = map[string]any{"message": raw}
	}

	var row event.Row
	for i, name := range fx.names {
		res, err := fx.exprs[i].Search(doc)
		if err != nil {
			continue
		}
		if v, ok := stringify(res); ok {
			row.Fields = append(row.Fields, event.Field{Name: name, Value: v})
		}
	}
	return row
}

// stringify renders a JMESPath result as column text. Arrays yield their
// first element.
func stringify(v any) (string, bool) {
	if isEmpty(v) {
		return "", false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		v = rv.Index(0).Interface()
		if isEmpty(v) {
			return "", false
		}
	}

	switch t := v.(type) {
	case string:
		return t, t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		s := string(b)
		return s, s != "null" && s != "{}" && s != "[]"
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	}
	return false
}

// JSONLSource reads one JSON object per line.
type JSONLSource struct {
	path    string
	file    *os.File
	scanner *bufio.Scanner
	fields  *FieldExtractor
}

// NewJSONLSource opens a JSON lines file.
func NewJSONLSource(path string, fields map[string]string) (*JSONLSource, error) {
	fx, err := NewFieldExtractor(fields)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) // #nosec G304 -- user-provided paths are expected
	if err != nil {
		return nil, fmt.Errorf("opening jsonl file %s: %w", path, err)
	}
	s := newJSONLSource(path, f, fx)
	s.file = f
	return s, nil
}

func newJSONLSource(path string, r io.Reader, fx *FieldExtractor) *JSONLSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &JSONLSource{path: path, scanner: scanner, fields: fx}
}

// Next returns the next non-blank line mapped to columns.
func (s *JSONLSource) Next(ctx context.Context) (*event.Row, error) {
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
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		row := s.fields.Extract(line)
		return &row, nil
	}
}

// Close releases the underlying file.
func (s *JSONLSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
