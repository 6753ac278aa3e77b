// Package config provides configuration loading and validation for reqtrace.
package config

import (
	"regexp"
	"time"
)

// Config is the root configuration structure loaded from YAML.
type Config struct {
	Input       InputConfig       `yaml:"input"`
	Columns     ColumnsConfig     `yaml:"columns"`
	Patterns    PatternsConfig    `yaml:"patterns"`
	Flow        FlowConfig        `yaml:"flow"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Outliers    OutlierConfig     `yaml:"outliers"`
	CloudWatch  CloudWatchConfig  `yaml:"cloudwatch,omitempty"`
	Webhooks    []WebhookConfig   `yaml:"webhooks,omitempty"`
	Publish     *PublishConfig    `yaml:"publish,omitempty"`

	// LogLevel is the diagnostic log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level,omitempty"`
}

// Format names a batch source format.
type Format string

const (
	FormatCSV        Format = "csv"
	FormatLines      Format = "lines"
	FormatJSONL      Format = "jsonl"
	FormatCloudWatch Format = "cloudwatch"
)

// InputConfig defines where batches come from.
type InputConfig struct {
	// Format is the batch format. Defaults to csv.
	Format Format `yaml:"format"`

	// Paths are file paths or glob patterns. Each matched file is one batch.
	Paths []string `yaml:"paths"`

	// Header names the columns of a headerless CSV file. When empty the first
	// record is the header.
	Header []string `yaml:"header,omitempty"`

	// JSONFields maps column names to JMESPath expressions evaluated against
	// each JSON line.
	JSONFields map[string]string `yaml:"json_fields,omitempty"`
}

// ColumnsConfig lists candidate column names per field, tried in order.
type ColumnsConfig struct {
	Timestamp []string `yaml:"timestamp,omitempty"`
	Message   []string `yaml:"message,omitempty"`
	RequestID []string `yaml:"request_id,omitempty"`
	Host      []string `yaml:"host,omitempty"`
	Service   []string `yaml:"service,omitempty"`
}

// PatternsConfig holds the extraction regexes used when no column value
// exists. A pattern with a capture group yields its first group.
type PatternsConfig struct {
	Service   string `yaml:"service"`
	Host      string `yaml:"host"`
	RequestID string `yaml:"request_id"`

	compiledService   *regexp.Regexp
	compiledHost      *regexp.Regexp
	compiledRequestID *regexp.Regexp
}

// CompiledService returns the compiled service pattern.
func (p *PatternsConfig) CompiledService() *regexp.Regexp {
	return p.compiledService
}

// CompiledHost returns the compiled host pattern.
func (p *PatternsConfig) CompiledHost() *regexp.Regexp {
	return p.compiledHost
}

// CompiledRequestID returns the compiled request id pattern.
func (p *PatternsConfig) CompiledRequestID() *regexp.Regexp {
	return p.compiledRequestID
}

// FlowConfig describes the canonical service pipeline.
type FlowConfig struct {
	// Services is the canonical order. Duplicates are ignored.
	Services []string `yaml:"services"`

	// FinalService is the terminal stage whose end is reported as the request
	// end.
	FinalService string `yaml:"final_service,omitempty"`

	// BackingStore is the service whose asynchronous completion events are
	// attached to sessions.
	BackingStore string `yaml:"backing_store,omitempty"`
}

// CorrelationConfig tunes session grouping.
type CorrelationConfig struct {
	AttachWindow time.Duration `yaml:"attach_window,omitempty"`

	// ExpansionDepth is the number of token expansion passes; -1 runs to a
	// fixed point.
	ExpansionDepth int `yaml:"expansion_depth,omitempty"`

	Workers int `yaml:"workers,omitempty"`
}

// OutlierConfig flags sessions whose wall-clock span is out of proportion to
// the time their services actually report.
type OutlierConfig struct {
	// MinSpan is the span below which a session is never flagged.
	MinSpan time.Duration `yaml:"min_span,omitempty"`

	// Factor multiplies the sum of segment durations.
	Factor float64 `yaml:"factor,omitempty"`
}

// CloudWatchConfig selects the log groups and time range fetched when the
// input format is cloudwatch.
type CloudWatchConfig struct {
	Region        string   `yaml:"region,omitempty"`
	Profile       string   `yaml:"profile,omitempty"`
	Groups        []string `yaml:"groups,omitempty"`
	FilterPattern string   `yaml:"filter_pattern,omitempty"`

	// Start and End bound the fetch. A zero Start means End minus Since.
	Start time.Time     `yaml:"start,omitempty"`
	End   time.Time     `yaml:"end,omitempty"`
	Since time.Duration `yaml:"since,omitempty"`
}

// Trigger determines when a report sink fires.
type Trigger string

const (
	// TriggerOnOutliers fires only when outliers are detected (default).
	TriggerOnOutliers Trigger = "on_outliers"
	// TriggerAlways fires after every analysis.
	TriggerAlways Trigger = "always"
	// TriggerNever disables the sink.
	TriggerNever Trigger = "never"
)

// WebhookConfig defines a webhook endpoint for sending analysis results.
type WebhookConfig struct {
	// Name is an optional identifier for the webhook.
	Name string `yaml:"name,omitempty"`

	// URL is the webhook endpoint (required).
	URL string `yaml:"url"`

	// Token is an optional bearer token; ${VAR} is expanded.
	Token string `yaml:"token,omitempty"`

	// Trigger defaults to on_outliers.
	Trigger Trigger `yaml:"trigger,omitempty"`

	// Timeout is the HTTP request timeout. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// PublishConfig defines an AMQP exchange that receives the report.
type PublishConfig struct {
	// URL is the broker URL; ${VAR} is expanded.
	URL        string  `yaml:"url"`
	Exchange   string  `yaml:"exchange"`
	RoutingKey string  `yaml:"routing_key,omitempty"`
	Trigger    Trigger `yaml:"trigger,omitempty"`
}
