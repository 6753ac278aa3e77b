package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ccollicutt/reqtrace/pkg/analyzer"
	"github.com/ccollicutt/reqtrace/pkg/config"
	"github.com/ccollicutt/reqtrace/pkg/detector"
	"github.com/ccollicutt/reqtrace/pkg/normalize"
)

// DetectOptions holds command-line options for the detect command.
type DetectOptions struct {
	Output      string
	SampleSize  int
	Format      string
	ConfigFile  string
	ShowAll     bool
	WriteConfig string
}

// NewDetectCommand creates the detect command.
func NewDetectCommand() *cobra.Command {
	opts := &DetectOptions{}

	cmd := &cobra.Command{
		Use:   "detect <batch-file>",
		Short: "Report which fields reqtrace can resolve from a batch file",
		Long: `Sample a batch file, detect its input format and report which columns are
present and which event fields (timestamp, message, request id, host,
service) the normalizer resolves, and by which strategy.

Optionally generates a starter config file with --write-config.

Example:
  reqtrace detect logs/batch.csv
  reqtrace detect --sample 500 logs/raw.log
  reqtrace detect --config reqtrace.yaml logs/batch.csv
  reqtrace detect -w reqtrace.yaml logs/app.jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "text", "Output format (text|json)")
	cmd.Flags().IntVarP(&opts.SampleSize, "sample", "n", 100, "Number of lines and rows to sample")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "Read rows with this format (csv|lines|jsonl)")
	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "Resolve fields with the columns and patterns of this config")
	cmd.Flags().BoolVar(&opts.ShowAll, "all", false, "Show all detected formats, not just the best match")
	cmd.Flags().StringVarP(&opts.WriteConfig, "write-config", "w", "", "Write starter config to file (will not overwrite)")

	return cmd
}

func runDetect(cmd *cobra.Command, args []string, opts *DetectOptions) error {
	batchFile := args[0]
	ctx := commandContext(cmd)

	if _, err := os.Stat(batchFile); os.IsNotExist(err) {
		return fmt.Errorf("batch file not found: %s", batchFile)
	}

	detectOpts := []detector.Option{detector.WithSampleSize(opts.SampleSize)}
	if opts.Format != "" {
		f := config.Format(strings.ToLower(opts.Format))
		if f == config.FormatCloudWatch {
			return fmt.Errorf("detect reads files; format %q is not a file format", f)
		}
		detectOpts = append(detectOpts, detector.WithFormat(f))
	}
	if opts.ConfigFile != "" {
		cfg, err := config.Load(ctx, opts.ConfigFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		detectOpts = append(detectOpts, detector.WithNormalizer(normalize.New(analyzer.NormalizerOptions(cfg))))
	}

	d := detector.New(detectOpts...)

	result, err := d.DetectFromFile(ctx, batchFile)
	if err != nil {
		return fmt.Errorf("detection failed: %w", err)
	}

	w := cmd.OutOrStdout()

	if opts.WriteConfig != "" {
		if err := writeStarterConfig(result, batchFile, opts.WriteConfig); err != nil {
			return err
		}
		fmt.Fprintf(w, "Wrote starter config to: %s\n\n", opts.WriteConfig)
	}

	switch opts.Output {
	case "json":
		return outputDetectJSON(w, result, batchFile, opts)
	case "text", "":
		return outputDetectText(w, result, batchFile, opts)
	default:
		return fmt.Errorf("unknown output format %q (must be text or json)", opts.Output)
	}
}

func outputDetectText(w io.Writer, result *detector.DetectionResult, batchFile string, opts *DetectOptions) error {
	fmt.Fprintln(w, "=== Batch Detection ===")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "File: %s\n", batchFile)
	fmt.Fprintf(w, "Lines sampled: %d\n", result.SampledLines)
	fmt.Fprintf(w, "Rows sampled: %d (read as %s)\n", result.SampledRows, result.Format)
	fmt.Fprintln(w)

	if best := result.BestMatch(); best != nil {
		fmt.Fprintf(w, "Detected Format: %s\n", best.Format)
		fmt.Fprintf(w, "Confidence: %.1f%% (%d/%d lines matched)\n",
			best.Confidence*100, best.MatchCount, result.SampledLines)
		fmt.Fprintf(w, "Shapes: %s\n", strings.Join(best.Shapes, ", "))
		fmt.Fprintf(w, "Sample line:\n  %s\n", best.SampleLine)
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "No known line shape detected.")
		fmt.Fprintln(w)
	}

	if result.AmbiguityNote != "" {
		fmt.Fprintf(w, "Note: %s\n", result.AmbiguityNote)
		fmt.Fprintln(w)
	}

	if opts.ShowAll && len(result.Matches) > 1 {
		fmt.Fprintln(w, "--- Alternative formats detected ---")
		for i, m := range result.Matches[1:] {
			fmt.Fprintf(w, "%d. %s (%.1f%% confidence, %s)\n", i+2, m.Format, m.Confidence*100, strings.Join(m.Shapes, ", "))
		}
		fmt.Fprintln(w)
	}

	if len(result.Columns) > 0 {
		fmt.Fprintln(w, "Columns:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, c := range result.Columns {
			fmt.Fprintf(tw, "  %s\t%d/%d\t%.0f%%\n", c.Name, c.Filled, result.SampledRows, c.Fill*100)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Fields:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, f := range result.Fields {
		fmt.Fprintf(tw, "  %s\t%.0f%%\t%s\t%s\n", f.Field, f.Coverage*100, strategies(f.Strategies), orDash(f.Sample))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)

	if len(result.JSONFields) > 0 {
		fmt.Fprintln(w, "--- Configuration snippet (copy to your config file) ---")
		fmt.Fprintln(w)
		snippet, err := yaml.Marshal(map[string]any{
			"input": map[string]any{"format": config.FormatJSONL, "json_fields": result.JSONFields},
		})
		if err != nil {
			return err
		}
		fmt.Fprint(w, string(snippet))
		fmt.Fprintln(w)
	}

	if f, ok := result.Field("request_id"); ok && f.Resolved == 0 {
		fmt.Fprintln(w, "Tip: no request id resolved. Check columns.request_id or patterns.request_id.")
	}

	return nil
}

// strategies renders a strategy histogram as "name=n" pairs, most used first.
func strategies(m map[string]int) string {
	if len(m) == 0 {
		return "-"
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if m[names[i]] != m[names[j]] {
			return m[names[i]] > m[names[j]]
		}
		return names[i] < names[j]
	})
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, m[name])
	}
	return strings.Join(parts, " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// DetectJSON is the JSON output of the detect command.
type DetectJSON struct {
	File string `json:"file"`
	*detector.DetectionResult
}

func outputDetectJSON(w io.Writer, result *detector.DetectionResult, batchFile string, opts *DetectOptions) error {
	out := *result
	if !opts.ShowAll && len(out.Matches) > 1 {
		out.Matches = out.Matches[:1]
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(DetectJSON{File: batchFile, DetectionResult: &out})
}

// writeStarterConfig generates a starter config file for the detected format.
func writeStarterConfig(result *detector.DetectionResult, batchFile, configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s (will not overwrite)", configPath)
	}

	content, err := generateStarterConfig(result, batchFile)
	if err != nil {
		return err
	}

	// #nosec G306 - config file doesn't need restrictive permissions
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateStarterConfig renders the default config pointed at the batch in
// its detected format.
func generateStarterConfig(result *detector.DetectionResult, batchFile string) ([]byte, error) {
	absBatch := batchFile
	if abs, err := filepath.Abs(batchFile); err == nil {
		absBatch = abs
	}

	cfg := config.DefaultConfig()
	cfg.Input.Format = result.Format
	cfg.Input.Paths = []string{absBatch}
	cfg.Input.JSONFields = result.JSONFields
	cfg.Flow.Services = []string{}

	body, err := yaml.Marshal(starterConfig{
		Input:       cfg.Input,
		Columns:     cfg.Columns,
		Patterns:    cfg.Patterns,
		Flow:        cfg.Flow,
		Correlation: cfg.Correlation,
		Outliers:    cfg.Outliers,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering config: %w", err)
	}

	header := fmt.Sprintf(`# reqtrace configuration
# Generated by: reqtrace detect
# Detected format: %s
#
# List the services of the request flow in order under flow.services, e.g.
#   flow:
#     services: [mystack_get-data, mystack_process-data, mystack_upload-data]
#     final_service: mystack_upload-data
#     backing_store: mystack_mongo

`, result.Format)
	return append([]byte(header), body...), nil
}

// starterConfig is the subset of Config written by --write-config.
type starterConfig struct {
	Input       config.InputConfig       `yaml:"input"`
	Columns     config.ColumnsConfig     `yaml:"columns"`
	Patterns    config.PatternsConfig    `yaml:"patterns"`
	Flow        config.FlowConfig        `yaml:"flow"`
	Correlation config.CorrelationConfig `yaml:"correlation"`
	Outliers    config.OutlierConfig     `yaml:"outliers"`
}
