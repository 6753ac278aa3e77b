package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ccollicutt/reqtrace/internal/logging"
	"github.com/ccollicutt/reqtrace/pkg/analyzer"
	"github.com/ccollicutt/reqtrace/pkg/config"
	"github.com/ccollicutt/reqtrace/pkg/event"
	"github.com/ccollicutt/reqtrace/pkg/output"
	"github.com/ccollicutt/reqtrace/pkg/publish"
	"github.com/ccollicutt/reqtrace/pkg/source"
	"github.com/ccollicutt/reqtrace/pkg/webhook"
)

// ExitCode is set by commands to indicate the result
var ExitCode = 0

// AnalyzeOptions holds command-line options for the analyze command.
type AnalyzeOptions struct {
	Output    string
	TimeRange string
	Since     string
	Until     string
	Requests  []string
	Top       int
	Timeout   time.Duration
	LogLevel  string
	Verbose   bool
	Quiet     bool

	// Webhook options
	WebhookURL     string
	WebhookToken   string
	WebhookTrigger string

	NoPublish bool
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	opts := &AnalyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <config-file> [batch...]",
		Short: "Reconstruct request timelines and flag slow requests",
		Long: `Analyze log batches according to the configuration file.

Each batch file (or the CloudWatch fetch) is normalized into events, grouped
into request sessions and turned into per-service timelines. Requests whose
end-to-end span is far larger than the time spent inside the services are
reported as outliers.

Batch arguments override input.paths from the configuration.

Exit codes:
  0 - No outliers detected
  1 - Outliers detected
  2 - Configuration or runtime error`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "text", "Output format (text|json)")
	cmd.Flags().StringVar(&opts.TimeRange, "time-range", "", "Limit analysis to a window ending now (e.g., 2h, 24h)")
	cmd.Flags().StringVar(&opts.Since, "since", "", "Ignore events before this RFC3339 instant")
	cmd.Flags().StringVar(&opts.Until, "until", "", "Ignore events after this RFC3339 instant")
	cmd.Flags().StringSliceVar(&opts.Requests, "request", nil, "Report only these request id(s) (can be repeated)")
	cmd.Flags().IntVar(&opts.Top, "top", 0, "List only the N longest requests")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "Abort the run after this long (0 = no limit)")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Diagnostic log level (debug|info|warn|error)")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Include per-request breakdowns")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Summary only, no details")

	// Webhook flags
	cmd.Flags().StringVar(&opts.WebhookURL, "webhook-url", "", "Webhook endpoint URL")
	cmd.Flags().StringVar(&opts.WebhookToken, "webhook-token", "", "Bearer token for webhook auth")
	cmd.Flags().StringVar(&opts.WebhookTrigger, "webhook-trigger", "on_outliers", "When to fire webhook (on_outliers|always|never)")

	cmd.Flags().BoolVar(&opts.NoPublish, "no-publish", false, "Skip the configured AMQP publisher")

	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string, opts *AnalyzeOptions) error {
	configPath := args[0]
	ctx := commandContext(cmd)
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := initLogging(cmd, cfg, opts.LogLevel, opts.Output == "json")

	analyzerOpts := []analyzer.AnalyzerOption{analyzer.WithLogger(logger)}
	win, err := parseWindow(opts.TimeRange, opts.Since, opts.Until, time.Now())
	if err != nil {
		return err
	}
	if win != nil {
		analyzerOpts = append(analyzerOpts, analyzer.WithTimeRange(win.Start, win.End))
		if cfg.Input.Format == config.FormatCloudWatch {
			cfg.CloudWatch.Start, cfg.CloudWatch.End = win.Start, win.End
		}
	}
	if len(opts.Requests) > 0 {
		analyzerOpts = append(analyzerOpts, analyzer.WithRequestFilter(opts.Requests))
	}

	a, err := analyzer.New(cfg, analyzerOpts...)
	if err != nil {
		return fmt.Errorf("creating analyzer: %w", err)
	}

	formatter, err := output.NewFormatter(opts.Output, output.FormatOptions{
		Verbose: opts.Verbose,
		Quiet:   opts.Quiet,
		Top:     opts.Top,
	})
	if err != nil {
		return err
	}

	sinks, err := newSinks(cfg, opts, logger)
	if err != nil {
		return err
	}
	defer sinks.Close()

	outliers := false
	err = eachBatch(ctx, cfg, args[1:], func(batch event.Batch) error {
		result, err := a.Run(ctx, batch)
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}

		report := output.NewReport(result, configPath)
		if err := formatter.Format(ctx, report, cmd.OutOrStdout()); err != nil {
			return fmt.Errorf("formatting output: %w", err)
		}

		sinks.Send(ctx, report)
		outliers = outliers || report.HasOutliers()
		return nil
	})
	if err != nil {
		return err
	}

	if outliers {
		ExitCode = 1
	}

	return nil
}

// timeWindow is a resolved analysis time range.
type timeWindow struct {
	Start time.Time
	End   time.Time
}

// parseWindow resolves --time-range, --since and --until. A relative range
// ends at now; --since and --until override either bound.
func parseWindow(timeRange, since, until string, now time.Time) (*timeWindow, error) {
	if timeRange == "" && since == "" && until == "" {
		return nil, nil
	}

	w := &timeWindow{End: now}
	if timeRange != "" {
		d, err := time.ParseDuration(timeRange)
		if err != nil {
			return nil, fmt.Errorf("invalid time-range %q: %w", timeRange, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid time-range %q: must be positive", timeRange)
		}
		w.Start = now.Add(-d)
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return nil, fmt.Errorf("invalid since %q: %w", since, err)
		}
		w.Start = t
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return nil, fmt.Errorf("invalid until %q: %w", until, err)
		}
		w.End = t
	}
	if w.End.Before(w.Start) {
		return nil, fmt.Errorf("until %s is before since %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return w, nil
}

// eachBatch loads the configured batches one at a time and hands each to fn.
// File batches come from paths when given, otherwise from input.paths.
func eachBatch(ctx context.Context, cfg *config.Config, paths []string, fn func(event.Batch) error) error {
	if cfg.Input.Format == config.FormatCloudWatch {
		client, err := source.NewCloudWatchClient(ctx, cfg.CloudWatch.Region, cfg.CloudWatch.Profile)
		if err != nil {
			return err
		}
		src, err := source.NewCloudWatchSource(client, cfg.CloudWatch, cfg.Input.JSONFields)
		if err != nil {
			return fmt.Errorf("creating cloudwatch source: %w", err)
		}
		batch, err := source.ReadBatch(ctx, src.Name(), src)
		if err != nil {
			return err
		}
		return fn(batch)
	}

	if len(paths) == 0 {
		paths = cfg.Input.Paths
	}
	if len(paths) == 0 {
		return fmt.Errorf("no batches given and input.paths is empty")
	}

	files, err := source.ExpandGlobs(paths)
	if err != nil {
		return fmt.Errorf("expanding batch paths: %w", err)
	}

	for _, file := range files {
		batch, err := source.LoadFile(ctx, cfg.Input, file)
		if err != nil {
			return fmt.Errorf("loading batch: %w", err)
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

// sinks fans a report out to webhooks and the AMQP publisher. Delivery
// failures are logged and never fail the analysis.
type sinks struct {
	webhooks  []config.WebhookConfig
	client    *webhook.Client
	publisher *publish.Publisher
	logger    *slog.Logger
}

func newSinks(cfg *config.Config, opts *AnalyzeOptions, logger *slog.Logger) (*sinks, error) {
	s := &sinks{
		webhooks: collectWebhooks(cfg, opts),
		client:   webhook.NewClient(webhook.WithLogger(logger)),
		logger:   logger,
	}

	if cfg.Publish != nil && !opts.NoPublish && cfg.Publish.Trigger != config.TriggerNever {
		p, err := publish.Dial(*cfg.Publish, publish.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("connecting publisher: %w", err)
		}
		s.publisher = p
	}
	return s, nil
}

func (s *sinks) Send(ctx context.Context, report *output.Report) {
	s.client.Notify(ctx, report, s.webhooks)

	if s.publisher != nil {
		if _, err := s.publisher.Publish(ctx, report); err != nil {
			s.logger.Warn("publish failed", "error", err)
		}
	}
}

func (s *sinks) Close() {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Debug("closing publisher", "error", err)
		}
	}
}

// collectWebhooks merges config file webhooks with CLI webhook.
func collectWebhooks(cfg *config.Config, opts *AnalyzeOptions) []config.WebhookConfig {
	webhooks := make([]config.WebhookConfig, 0, len(cfg.Webhooks)+1)

	webhooks = append(webhooks, cfg.Webhooks...)

	if opts.WebhookURL != "" {
		trigger := config.Trigger(opts.WebhookTrigger)
		if !trigger.Valid() {
			trigger = config.TriggerOnOutliers
		}

		webhooks = append(webhooks, config.WebhookConfig{
			Name:    "cli",
			URL:     opts.WebhookURL,
			Token:   opts.WebhookToken,
			Trigger: trigger,
			Timeout: config.DefaultWebhookTimeout,
		})
	}

	return webhooks
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// initLogging sets up diagnostics on the command's stderr. The flag level wins
// over the configured one.
func initLogging(cmd *cobra.Command, cfg *config.Config, flagLevel string, jsonReport bool) *slog.Logger {
	level := cfg.LogLevel
	if flagLevel != "" {
		level = flagLevel
	}
	return logging.Init(cmd.ErrOrStderr(), jsonReport, logging.ParseLevel(level))
}
