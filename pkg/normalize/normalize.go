// Package normalize turns raw tabular rows and text lines into canonical
// events.
//
// Every derived field is resolved by an ordered list of named strategies:
// candidate columns first, then pattern extraction from the message and the
// raw text. Pattern extraction only runs when no column carries a value.
// Normalization never fails; unresolvable fields are left empty.
package normalize

import (
	"regexp"
	"strings"

	"github.com/ccollicutt/reqtrace/pkg/event"
)

// Default column candidates, tried in order.
var (
	DefaultTimestampColumns = []string{"timestamp", "time", "_timestamp"}
	DefaultMessageColumns   = []string{"message", "msg", "log", "raw"}
	DefaultRequestIDColumns = []string{"requestId", "requestID", "request_id"}
	DefaultHostColumns      = []string{"vm", "host"}
	DefaultServiceColumns   = []string{"service"}
)

// Default extraction patterns. A pattern with a capture group yields the
// first group, otherwise the whole match.
const (
	DefaultServicePattern   = `mystack_[A-Za-z0-9_-]+`
	DefaultHostPattern      = `MSVirtualMachine-\d+`
	DefaultRequestIDPattern = `RequestId:\s*([0-9a-fA-F-]{36})`
)

// Columns line sources use to carry prefix-line context to the lines that
// follow it. The carried host only applies when nothing else resolves one.
const (
	DateHourColumn    = "date_hour"
	CarriedHostColumn = "carried_host"
)

// Options configures column candidates and extraction patterns.
type Options struct {
	TimestampColumns []string
	MessageColumns   []string
	RequestIDColumns []string
	HostColumns      []string
	ServiceColumns   []string

	ServicePattern   *regexp.Regexp
	HostPattern      *regexp.Regexp
	RequestIDPattern *regexp.Regexp
}

// DefaultOptions returns the default column candidates and patterns.
func DefaultOptions() Options {
	return Options{
		TimestampColumns: DefaultTimestampColumns,
		MessageColumns:   DefaultMessageColumns,
		RequestIDColumns: DefaultRequestIDColumns,
		HostColumns:      DefaultHostColumns,
		ServiceColumns:   DefaultServiceColumns,
		ServicePattern:   regexp.MustCompile(DefaultServicePattern),
		HostPattern:      regexp.MustCompile(DefaultHostPattern),
		RequestIDPattern: regexp.MustCompile(DefaultRequestIDPattern),
	}
}

// Input is what a strategy sees: the row plus its already-resolved message.
type Input struct {
	Row     event.Row
	Message string
	Raw     string
}

// Strategy is one named, pure way of resolving a field.
type Strategy struct {
	Name    string
	Extract func(in Input) (string, bool)
}

// Column resolves a field from the first non-empty candidate column.
func Column(names ...string) Strategy {
	return Strategy{
		Name: "column:" + strings.Join(names, "|"),
		Extract: func(in Input) (string, bool) {
			return in.Row.Get(names...)
		},
	}
}

// Pattern resolves a field by matching re against the message, then the raw
// text.
func Pattern(name string, re *regexp.Regexp) Strategy {
	return Strategy{
		Name: "pattern:" + name,
		Extract: func(in Input) (string, bool) {
			if re == nil {
				return "", false
			}
			for _, text := range distinct(in.Message, in.Raw) {
				if v, ok := firstMatch(re, text); ok {
					return v, true
				}
			}
			return "", false
		},
	}
}

// PipeSuffix resolves a message from a raw text line as the text after its
// last '|' separator.
func PipeSuffix() Strategy {
	return Strategy{
		Name: "pipe-suffix",
		Extract: func(in Input) (string, bool) {
			if in.Row.Line == "" {
				return "", false
			}
			i := strings.LastIndex(in.Raw, "|")
			if i < 0 {
				return "", false
			}
			v := strings.TrimSpace(in.Raw[i+1:])
			return v, v != ""
		},
	}
}

// RawText resolves a field to the whole raw record.
func RawText() Strategy {
	return Strategy{
		Name: "raw",
		Extract: func(in Input) (string, bool) {
			return in.Raw, in.Raw != ""
		},
	}
}

// Chain is an ordered list of strategies for one field.
type Chain []Strategy

// Resolve returns the first value produced by the chain and the name of the
// strategy that produced it.
func (c Chain) Resolve(in Input) (value, strategy string) {
	for _, s := range c {
		if v, ok := s.Extract(in); ok {
			return v, s.Name
		}
	}
	return "", ""
}

// Normalizer converts rows into events.
type Normalizer struct {
	message   Chain
	requestID Chain
	host      Chain
	service   Chain
	tsColumns []string
	resolver  TimestampResolver
}

// New creates a Normalizer. Zero-valued options fall back to the defaults.
func New(opts Options) *Normalizer {
	def := DefaultOptions()
	if opts.TimestampColumns == nil {
		opts.TimestampColumns = def.TimestampColumns
	}
	if opts.MessageColumns == nil {
		opts.MessageColumns = def.MessageColumns
	}
	if opts.RequestIDColumns == nil {
		opts.RequestIDColumns = def.RequestIDColumns
	}
	if opts.HostColumns == nil {
		opts.HostColumns = def.HostColumns
	}
	if opts.ServiceColumns == nil {
		opts.ServiceColumns = def.ServiceColumns
	}
	if opts.ServicePattern == nil {
		opts.ServicePattern = def.ServicePattern
	}
	if opts.HostPattern == nil {
		opts.HostPattern = def.HostPattern
	}
	if opts.RequestIDPattern == nil {
		opts.RequestIDPattern = def.RequestIDPattern
	}

	return &Normalizer{
		message:   Chain{Column(opts.MessageColumns...), PipeSuffix(), RawText()},
		requestID: Chain{Column(opts.RequestIDColumns...), Pattern("request_id", opts.RequestIDPattern)},
		host:      Chain{Column(opts.HostColumns...), Pattern("host", opts.HostPattern), Column(CarriedHostColumn)},
		service:   Chain{Column(opts.ServiceColumns...), Pattern("service", opts.ServicePattern)},
		tsColumns: opts.TimestampColumns,
		resolver:  TimestampResolver{DateHourColumn: DateHourColumn},
	}
}

// Resolution names the strategy that produced each derived field. An empty
// name means the field stayed unresolved.
type Resolution struct {
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Host      string `json:"host,omitempty"`
	Service   string `json:"service,omitempty"`
}

// Normalize converts one row at position index of the named batch.
func (n *Normalizer) Normalize(row event.Row, source string, index int) event.Event {
	e, _ := n.Explain(row, source, index)
	return e
}

// Explain normalizes a row and reports which strategy resolved each field.
func (n *Normalizer) Explain(row event.Row, source string, index int) (event.Event, Resolution) {
	raw := row.Raw()
	in := Input{Row: row, Raw: raw}

	var res Resolution
	in.Message, res.Message = n.message.Resolve(in)

	requestID, rs := n.requestID.Resolve(in)
	res.RequestID = rs
	host, hs := n.host.Resolve(in)
	res.Host = hs
	service, ss := n.service.Resolve(in)
	res.Service = ss
	column, _ := row.Get(n.tsColumns...)

	return event.Event{
		Raw:           raw,
		Message:       in.Message,
		Service:       service,
		Host:          host,
		RequestID:     requestID,
		Timestamp:     n.resolver.Resolve(column, in.Message, raw, row, source),
		SequenceIndex: index,
		Source:        source,
	}, res
}

// NormalizeBatch converts every row of a batch, preserving order.
func (n *Normalizer) NormalizeBatch(batch event.Batch) []*event.Event {
	events := make([]*event.Event, len(batch.Rows))
	for i, row := range batch.Rows {
		e := n.Normalize(row, batch.Name, i)
		events[i] = &e
	}
	return events
}

func firstMatch(re *regexp.Regexp, text string) (string, bool) {
	if text == "" {
		return "", false
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	if len(m) > 1 && m[1] != "" {
		return m[1], true
	}
	return m[0], m[0] != ""
}
