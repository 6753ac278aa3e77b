package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a configuration file.
func Load(_ context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user-provided config path is expected
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks a configuration for errors, fills defaults for zero values
// and compiles regex patterns.
func Validate(cfg *Config) error {
	if err := validateInput(cfg); err != nil {
		return fmt.Errorf("input: %w", err)
	}

	if err := validatePatterns(&cfg.Patterns); err != nil {
		return fmt.Errorf("patterns: %w", err)
	}

	if err := validateFlow(&cfg.Flow); err != nil {
		return fmt.Errorf("flow: %w", err)
	}

	if err := validateCorrelation(&cfg.Correlation); err != nil {
		return fmt.Errorf("correlation: %w", err)
	}

	if err := validateOutliers(&cfg.Outliers); err != nil {
		return fmt.Errorf("outliers: %w", err)
	}

	// Webhooks are optional, but validate if present
	for i := range cfg.Webhooks {
		if err := validateWebhook(&cfg.Webhooks[i]); err != nil {
			name := cfg.Webhooks[i].Name
			if name == "" {
				name = cfg.Webhooks[i].URL
			}
			return fmt.Errorf("webhooks[%d] (%s): %w", i, name, err)
		}
	}

	if cfg.Publish != nil {
		if err := validatePublish(cfg.Publish); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
	}

	return nil
}

func validateInput(cfg *Config) error {
	in := &cfg.Input
	if in.Format == "" {
		in.Format = FormatCSV
	}

	switch in.Format {
	case FormatCSV, FormatLines:
	case FormatJSONL:
		if len(in.JSONFields) == 0 {
			return errors.New("json_fields: at least one field is required for jsonl input")
		}
		for name, expr := range in.JSONFields {
			if strings.TrimSpace(expr) == "" {
				return fmt.Errorf("json_fields.%s: expression is required", name)
			}
		}
	case FormatCloudWatch:
		if len(cfg.CloudWatch.Groups) == 0 {
			return errors.New("cloudwatch.groups: at least one log group is required")
		}
		if !cfg.CloudWatch.Start.IsZero() && !cfg.CloudWatch.End.IsZero() && cfg.CloudWatch.End.Before(cfg.CloudWatch.Start) {
			return errors.New("cloudwatch: end is before start")
		}
		if cfg.CloudWatch.Since <= 0 {
			cfg.CloudWatch.Since = DefaultCloudWatchSince
		}
	default:
		return fmt.Errorf("invalid format %q (must be csv, lines, jsonl, or cloudwatch)", in.Format)
	}

	return nil
}

func validatePatterns(p *PatternsConfig) error {
	var err error
	if p.compiledService, err = compileOptional("service", p.Service); err != nil {
		return err
	}
	if p.compiledHost, err = compileOptional("host", p.Host); err != nil {
		return err
	}
	if p.compiledRequestID, err = compileOptional("request_id", p.RequestID); err != nil {
		return err
	}
	return nil
}

func compileOptional(name, pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid %s pattern: %w", name, err)
	}
	return re, nil
}

func validateFlow(f *FlowConfig) error {
	for i, s := range f.Services {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("services[%d]: empty service name", i)
		}
	}
	return nil
}

func validateCorrelation(c *CorrelationConfig) error {
	if c.AttachWindow < 0 {
		return errors.New("attach_window must not be negative")
	}
	if c.AttachWindow == 0 {
		c.AttachWindow = DefaultAttachWindow
	}

	if c.ExpansionDepth < -1 {
		return fmt.Errorf("expansion_depth must be -1 (full closure) or a positive pass count, got %d", c.ExpansionDepth)
	}
	if c.ExpansionDepth == 0 {
		c.ExpansionDepth = DefaultExpansionDepth
	}

	if c.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}

	return nil
}

func validateOutliers(o *OutlierConfig) error {
	if o.MinSpan < 0 {
		return errors.New("min_span must not be negative")
	}
	if o.Factor < 0 {
		return errors.New("factor must not be negative")
	}
	if o.Factor == 0 {
		o.Factor = DefaultOutlierFactor
	}
	return nil
}

func validateTrigger(t *Trigger) error {
	if *t == "" {
		*t = TriggerOnOutliers
		return nil
	}
	if !t.Valid() {
		return fmt.Errorf("invalid trigger %q (must be on_outliers, always, or never)", *t)
	}
	return nil
}

// Valid reports whether t names a known trigger.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerOnOutliers, TriggerAlways, TriggerNever:
		return true
	default:
		return false
	}
}

func validateWebhook(wh *WebhookConfig) error {
	if wh.URL == "" {
		return errors.New("url is required")
	}

	u, err := url.Parse(wh.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("url must have a host")
	}

	wh.Token = expandEnvVar(wh.Token)

	if err := validateTrigger(&wh.Trigger); err != nil {
		return err
	}

	if wh.Timeout <= 0 {
		wh.Timeout = DefaultWebhookTimeout
	}

	return nil
}

func validatePublish(p *PublishConfig) error {
	p.URL = expandEnvVar(p.URL)
	if p.URL == "" {
		return errors.New("url is required")
	}

	u, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return fmt.Errorf("url scheme must be amqp or amqps, got %q", u.Scheme)
	}

	if p.Exchange == "" {
		return errors.New("exchange is required")
	}
	if p.RoutingKey == "" {
		p.RoutingKey = DefaultRoutingKey
	}

	return validateTrigger(&p.Trigger)
}

// ShouldFire reports whether a sink with trigger t fires for a run.
func (t Trigger) ShouldFire(hasOutliers bool) bool {
	switch t {
	case TriggerAlways:
		return true
	case TriggerOnOutliers, "":
		return hasOutliers
	default:
		return false
	}
}

// expandEnvVar expands environment variables in the format ${VAR} or $VAR.
func expandEnvVar(s string) string {
	if s == "" {
		return s
	}

	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}

	if strings.HasPrefix(s, "$") && !strings.HasPrefix(s, "${") {
		return os.Getenv(s[1:])
	}

	return s
}
