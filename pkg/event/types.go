// Package event defines the canonical records the correlation engine works on.
package event

import (
	"strings"
	"time"
)

// TimestampKind tells where an event's instant came from.
type TimestampKind int

const (
	// KindAbsent means no usable timestamp could be resolved.
	KindAbsent TimestampKind = iota

	// KindExplicit means a full ISO-8601 instant was found verbatim.
	KindExplicit

	// KindReconstructed means the instant was assembled from a date-hour
	// prefix and a minute:second fragment.
	KindReconstructed
)

// String returns the kind name used in reports.
func (k TimestampKind) String() string {
	switch k {
	case KindExplicit:
		return "explicit"
	case KindReconstructed:
		return "reconstructed"
	default:
		return "absent"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k TimestampKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names decode as
// KindAbsent.
func (k *TimestampKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "explicit":
		*k = KindExplicit
	case "reconstructed":
		*k = KindReconstructed
	default:
		*k = KindAbsent
	}
	return nil
}

// Timestamp is a resolved instant plus the source text it was built from.
// Time keeps nanosecond precision so sub-millisecond fractions survive.
type Timestamp struct {
	Kind TimestampKind `json:"kind"`
	Time time.Time     `json:"time,omitempty"`
	Raw  string        `json:"raw,omitempty"`
}

// Valid reports whether the timestamp carries an instant.
func (t Timestamp) Valid() bool {
	return t.Kind != KindAbsent
}

// Millis returns fractional milliseconds since the Unix epoch.
// Returns 0 for an absent timestamp.
func (t Timestamp) Millis() float64 {
	if !t.Valid() {
		return 0
	}
	sec := t.Time.Unix()
	nsec := t.Time.Nanosecond()
	return float64(sec)*1e3 + float64(nsec)/1e6
}

// Display returns the raw source text when present, otherwise the instant
// formatted as RFC3339 with nanoseconds, or "" when absent.
func (t Timestamp) Display() string {
	if t.Raw != "" {
		return t.Raw
	}
	if !t.Valid() {
		return ""
	}
	return t.Time.UTC().Format(time.RFC3339Nano)
}

// Event is one normalized log record. It is not modified after creation.
type Event struct {
	// Raw is the original text of the record.
	Raw string `json:"raw"`

	// Message is the best-effort free-text payload.
	Message string `json:"message,omitempty"`

	// Service is the logical service name, empty when unknown.
	Service string `json:"service,omitempty"`

	// Host is the originating machine, empty when unknown.
	Host string `json:"host,omitempty"`

	// RequestID is the explicit correlation id, empty when unknown.
	RequestID string `json:"request_id,omitempty"`

	// Timestamp is the resolved instant.
	Timestamp Timestamp `json:"timestamp"`

	// SequenceIndex is the 0-based position of the record in its batch.
	SequenceIndex int `json:"sequence_index"`

	// Source is the batch name the record came from.
	Source string `json:"source,omitempty"`
}

// Text returns the text correlation matching runs against: the message,
// falling back to the raw record.
func (e *Event) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Raw
}

// HasTime reports whether the event has a resolved instant.
func (e *Event) HasTime() bool {
	return e.Timestamp.Valid()
}

// Field is a single named column value.
type Field struct {
	Name  string
	Value string
}

// Row is one raw record: ordered named columns, or a single text line.
type Row struct {
	// Fields holds the columns in source order.
	Fields []Field

	// Line is the original text line, if the row came from one.
	Line string
}

// NewLineRow creates a row from a raw text line.
func NewLineRow(line string) Row {
	return Row{Line: line}
}

// Get returns the first non-empty value among the candidate column names.
func (r Row) Get(candidates ...string) (string, bool) {
	for _, name := range candidates {
		for _, f := range r.Fields {
			if f.Name != name {
				continue
			}
			if v := strings.TrimSpace(f.Value); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// Set appends or replaces a column value.
func (r *Row) Set(name, value string) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			r.Fields[i].Value = value
			return
		}
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: value})
}

// Raw returns the original text: the line if present, otherwise the column
// values joined by commas.
func (r Row) Raw() string {
	if r.Line != "" {
		return r.Line
	}
	values := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		values[i] = f.Value
	}
	return strings.Join(values, ",")
}

// Batch is one finite, fully loaded set of rows analyzed in a single run.
type Batch struct {
	// Name identifies the batch, usually the source file name.
	Name string

	// Rows holds the records in source order.
	Rows []Row
}
