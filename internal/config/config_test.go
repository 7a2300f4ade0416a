package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"kpi-alerts/internal/rules"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("加载默认配置失败: %v", err)
	}

	if cfg.Analysis.Granularity != "day" {
		t.Fatalf("expected default granularity day, got %q", cfg.Analysis.Granularity)
	}
	if cfg.Analysis.RangeDays != 30 {
		t.Fatalf("expected range_days 30, got %d", cfg.Analysis.RangeDays)
	}
	if !cfg.Analysis.MovingAverage.Enabled || cfg.Analysis.MovingAverage.Window != 3 {
		t.Fatalf("unexpected moving average defaults: %+v", cfg.Analysis.MovingAverage)
	}
	if cfg.Logging.Output != "stderr" {
		t.Fatalf("expected logs on stderr by default, got %q", cfg.Logging.Output)
	}
	if len(cfg.Rules) != 2 {
		t.Fatalf("expected two default rules, got %d", len(cfg.Rules))
	}
	if cfg.Rules[0].ID != "r1" || cfg.Rules[0].Type != string(rules.KindZScore) || !cfg.Rules[0].Notify {
		t.Fatalf("unexpected first default rule: %+v", cfg.Rules[0])
	}
	if cfg.Source.Timeout != 15*time.Second {
		t.Fatalf("expected source timeout 15s, got %s", cfg.Source.Timeout)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kpiwatch.yaml")
	content := `
analysis:
  granularity: week
  range_days: 0
rules:
  - id: spike
    type: zscore
    window: 5
    threshold: 3
    direction: up
    severity: crit
    notify: true
source:
  path: ./data.csv
alerting:
  enabled: true
  webhook:
    enabled: true
    url: http://hooks.local/kpi
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KPIWATCH_ANALYSIS_TOP", "5")
	t.Setenv("KPIWATCH_SOURCE_TIMEOUT", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Analysis.Granularity != "week" || cfg.Analysis.RangeDays != 0 {
		t.Fatalf("unexpected analysis section: %+v", cfg.Analysis)
	}
	if cfg.Analysis.Top != 5 {
		t.Fatalf("环境变量应覆盖 top, got %d", cfg.Analysis.Top)
	}
	if cfg.Source.Timeout != 2*time.Second {
		t.Fatalf("环境变量应覆盖 source.timeout, got %s", cfg.Source.Timeout)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].ID != "spike" || cfg.Rules[0].Threshold != 3 {
		t.Fatalf("inline rules should replace defaults, got %+v", cfg.Rules)
	}
	if cfg.Alerting.Webhook.URL != "http://hooks.local/kpi" {
		t.Fatalf("unexpected webhook url %q", cfg.Alerting.Webhook.URL)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Analysis:  AnalysisConfig{Granularity: "day", RangeDays: 30, MovingAverage: MovingAverageConfig{Enabled: true, Window: 3}},
			Scheduler: SchedulerConfig{Interval: time.Hour},
			Export:    ExportConfig{MaxDataPoints: 10},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad granularity", mutate: func(c *Config) { c.Analysis.Granularity = "hour" }, wantErr: true},
		{name: "negative range", mutate: func(c *Config) { c.Analysis.RangeDays = -1 }, wantErr: true},
		{name: "zero ma window", mutate: func(c *Config) { c.Analysis.MovingAverage.Window = 0 }, wantErr: true},
		{name: "webhook without url", mutate: func(c *Config) { c.Alerting.Webhook.Enabled = true }, wantErr: true},
		{name: "telegram without token", mutate: func(c *Config) { c.Alerting.Telegram.Enabled = true; c.Alerting.Telegram.ChatID = "1" }, wantErr: true},
		{name: "unknown dedupe backend", mutate: func(c *Config) { c.Alerting.Dedupe.Backend = "etcd" }, wantErr: true},
		{name: "zero interval", mutate: func(c *Config) { c.Scheduler.Interval = 0 }, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := Config{Export: ExportConfig{MaxDataPoints: 100}}
	if got := cfg.ResolveMaxPoints(0); got != 100 {
		t.Fatalf("expected config default, got %d", got)
	}
	if got := cfg.ResolveMaxPoints(7); got != 7 {
		t.Fatalf("expected override, got %d", got)
	}
}
