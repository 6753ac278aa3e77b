package config

import (
	"os"
	"strings"
	"time"
)

// Default values for configuration.
const (
	DefaultAttachWindow     = 30 * time.Second
	DefaultExpansionDepth   = 1
	DefaultWorkers          = 4
	DefaultOutlierMinSpan   = 5 * time.Second
	DefaultOutlierFactor    = 5.0
	DefaultWebhookTimeout   = 10 * time.Second
	DefaultCloudWatchSince  = time.Hour
	DefaultServicePattern   = `mystack_[A-Za-z0-9_-]+`
	DefaultHostPattern      = `MSVirtualMachine-\d+`
	DefaultRequestIDPattern = `RequestId:\s*([0-9a-fA-F-]{36})`
	DefaultRoutingKey       = "reqtrace.report"
)

// Environment variable names.
const (
	EnvInput    = "REQTRACE_INPUT"
	EnvFormat   = "REQTRACE_FORMAT"
	EnvLogLevel = "REQTRACE_LOG_LEVEL"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Input: InputConfig{
			Format: FormatCSV,
			Paths:  []string{},
		},
		Columns: ColumnsConfig{
			Timestamp: []string{"timestamp", "time", "_timestamp"},
			Message:   []string{"message", "msg", "log", "raw"},
			RequestID: []string{"requestId", "requestID", "request_id"},
			Host:      []string{"vm", "host"},
			Service:   []string{"service"},
		},
		Patterns: PatternsConfig{
			Service:   DefaultServicePattern,
			Host:      DefaultHostPattern,
			RequestID: DefaultRequestIDPattern,
		},
		Correlation: CorrelationConfig{
			AttachWindow:   DefaultAttachWindow,
			ExpansionDepth: DefaultExpansionDepth,
			Workers:        DefaultWorkers,
		},
		Outliers: OutlierConfig{
			MinSpan: DefaultOutlierMinSpan,
			Factor:  DefaultOutlierFactor,
		},
		LogLevel: "info",
	}
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvironmentOverrides() {
	if input := os.Getenv(EnvInput); input != "" {
		var paths []string
		for _, p := range strings.Split(input, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		c.Input.Paths = paths
	}
	if format := os.Getenv(EnvFormat); format != "" {
		c.Input.Format = Format(strings.ToLower(format))
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}
}
