package commands

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ccollicutt/reqtrace/pkg/config"
	"github.com/ccollicutt/reqtrace/pkg/output"
)

func resetExitCode(t *testing.T) {
	t.Helper()
	ExitCode = 0
	t.Cleanup(func() { ExitCode = 0 })
}

func TestRunAnalyze_JSON(t *testing.T) {
	resetExitCode(t)
	configPath, _ := writeFixture(t, "")

	out, err := execute(t, NewAnalyzeCommand(), "-o", "json", configPath)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	var report output.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("Output is not valid JSON: %v\n%s", err, out)
	}

	if report.Summary.Sessions != 2 || report.Summary.Events != 5 {
		t.Errorf("Summary = %+v", report.Summary)
	}
	if len(report.Outliers) != 1 || report.Outliers[0].ID != "slow42" {
		t.Fatalf("Outliers = %+v, want slow42", report.Outliers)
	}
	if report.Outliers[0].Threshold != 5*time.Second {
		t.Errorf("Threshold = %s, want 5s", report.Outliers[0].Threshold)
	}
	if report.Sessions[0].ID != "slow42" {
		t.Errorf("longest session = %s, want slow42", report.Sessions[0].ID)
	}
	if ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", ExitCode)
	}
}

func TestRunAnalyze_Text(t *testing.T) {
	resetExitCode(t)
	configPath, batchPath := writeFixture(t, "")

	out, err := execute(t, NewAnalyzeCommand(), "--top", "1", configPath, batchPath)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	for _, want := range []string{"Batch: " + batchPath, "[SESSIONS] 1 longest of 2", "- slow42: span 10s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunAnalyze_RequestFilter(t *testing.T) {
	resetExitCode(t)
	configPath, _ := writeFixture(t, "")

	out, err := execute(t, NewAnalyzeCommand(), "-q", "--request", "abc123", configPath)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	if !strings.Contains(out, "1 sessions, 0 outliers") {
		t.Errorf("unexpected summary: %s", out)
	}
	if ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", ExitCode)
	}
}

func TestRunAnalyze_TimeWindow(t *testing.T) {
	resetExitCode(t)
	configPath, _ := writeFixture(t, "")

	out, err := execute(t, NewAnalyzeCommand(), "-q",
		"--since", "2025-11-21T10:00:00.5Z",
		"--until", "2025-11-21T10:00:05Z",
		configPath)
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	// Only slow42's svc-a events fall in the window.
	if !strings.Contains(out, "1 sessions, 0 outliers") {
		t.Errorf("unexpected summary: %s", out)
	}
}

func TestRunAnalyze_Webhook(t *testing.T) {
	resetExitCode(t)

	var hits atomic.Int32
	var auth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	t.Setenv("REQTRACE_TEST_TOKEN", "s3cret")
	configPath, _ := writeFixture(t, `webhooks:
  - name: ops
    url: `+server.URL+`
    token: ${REQTRACE_TEST_TOKEN}
  - name: muted
    url: `+server.URL+`
    trigger: never
`)

	if _, err := execute(t, NewAnalyzeCommand(), "-q", configPath); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	if hits.Load() != 1 {
		t.Errorf("webhook hits = %d, want 1", hits.Load())
	}
	if got, _ := auth.Load().(string); got != "Bearer s3cret" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestRunAnalyze_Errors(t *testing.T) {
	configPath, _ := writeFixture(t, "")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing config", []string{"/nonexistent/config.yaml"}, "loading config"},
		{"bad time range", []string{"--time-range", "invalid", configPath}, "invalid time-range"},
		{"bad since", []string{"--since", "yesterday", configPath}, "invalid since"},
		{"inverted window", []string{"--since", "2025-01-02T00:00:00Z", "--until", "2025-01-01T00:00:00Z", configPath}, "before since"},
		{"bad output", []string{"-o", "xml", configPath}, "unknown output format"},
		{"missing batch", []string{configPath, "/nonexistent/batch.csv"}, "loading batch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetExitCode(t)
			_, err := execute(t, NewAnalyzeCommand(), tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestParseWindow(t *testing.T) {
	now := time.Date(2025, 11, 21, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name                   string
		timeRange, since, till string
		wantNil                bool
		wantStart, wantEnd     time.Time
		wantErr                bool
	}{
		{name: "none", wantNil: true},
		{name: "relative", timeRange: "2h", wantStart: now.Add(-2 * time.Hour), wantEnd: now},
		{name: "since only", since: "2025-11-21T10:00:00Z", wantStart: now.Add(-2 * time.Hour), wantEnd: now},
		{name: "until only", till: "2025-11-21T11:00:00Z", wantEnd: now.Add(-time.Hour)},
		{name: "since overrides range", timeRange: "1h", since: "2025-11-21T09:00:00Z", wantStart: now.Add(-3 * time.Hour), wantEnd: now},
		{name: "negative range", timeRange: "-1h", wantErr: true},
		{name: "inverted", since: "2025-11-21T13:00:00Z", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := parseWindow(tt.timeRange, tt.since, tt.till, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseWindow() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantNil {
				if w != nil {
					t.Errorf("parseWindow() = %+v, want nil", w)
				}
				return
			}
			if !w.Start.Equal(tt.wantStart) || !w.End.Equal(tt.wantEnd) {
				t.Errorf("parseWindow() = [%s, %s], want [%s, %s]", w.Start, w.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestCollectWebhooks(t *testing.T) {
	t.Run("config only", func(t *testing.T) {
		cfg := &config.Config{
			Webhooks: []config.WebhookConfig{
				{Name: "slack", URL: "https://slack.com/webhook"},
				{Name: "pagerduty", URL: "https://pagerduty.com/webhook"},
			},
		}

		webhooks := collectWebhooks(cfg, &AnalyzeOptions{})

		if len(webhooks) != 2 {
			t.Errorf("got %d webhooks, want 2", len(webhooks))
		}
	})

	t.Run("cli only", func(t *testing.T) {
		opts := &AnalyzeOptions{
			WebhookURL:     "https://cli.example.com/webhook",
			WebhookToken:   "secret",
			WebhookTrigger: "always",
		}

		webhooks := collectWebhooks(&config.Config{}, opts)

		if len(webhooks) != 1 {
			t.Fatalf("got %d webhooks, want 1", len(webhooks))
		}
		if webhooks[0].Name != "cli" || webhooks[0].Token != "secret" {
			t.Errorf("got %+v", webhooks[0])
		}
		if webhooks[0].Trigger != config.TriggerAlways {
			t.Errorf("got trigger %q, want always", webhooks[0].Trigger)
		}
	})

	t.Run("config and cli", func(t *testing.T) {
		cfg := &config.Config{
			Webhooks: []config.WebhookConfig{
				{Name: "config-webhook", URL: "https://config.example.com/webhook"},
			},
		}
		opts := &AnalyzeOptions{WebhookURL: "https://cli.example.com/webhook"}

		if webhooks := collectWebhooks(cfg, opts); len(webhooks) != 2 {
			t.Errorf("got %d webhooks, want 2", len(webhooks))
		}
	})

	t.Run("unknown trigger falls back to on_outliers", func(t *testing.T) {
		opts := &AnalyzeOptions{WebhookURL: "https://example.com/webhook", WebhookTrigger: "sometimes"}

		webhooks := collectWebhooks(&config.Config{}, opts)

		if webhooks[0].Trigger != config.TriggerOnOutliers {
			t.Errorf("got trigger %q, want on_outliers", webhooks[0].Trigger)
		}
	})
}
