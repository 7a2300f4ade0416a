package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"kpi-alerts/internal/config"
	"kpi-alerts/internal/rules"
)

const sampleCSV = `date,metric,value
2025-01-01,sales,100
2025-01-02,sales,100
2025-01-03,sales,100
2025-01-04,sales,100
2025-01-05,sales,100
2025-01-06,sales,100
2025-01-07,sales,200
bad-date,visits,3
`

func testConfig() *config.Config {
	return &config.Config{
		Analysis: config.AnalysisConfig{
			Granularity:   "day",
			MovingAverage: config.MovingAverageConfig{Enabled: true, Window: 3},
			Top:           3,
		},
		Rules:     rules.Defaults(),
		Scheduler: config.SchedulerConfig{Interval: time.Hour},
		Export:    config.ExportConfig{MaxDataPoints: 1000},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return &App{Config: cfg, Logger: zerolog.Nop(), Out: &out}, &out
}

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kpi.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o600); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func TestShowPrintsTables(t *testing.T) {
	cfg := testConfig()
	cfg.Source.Path = writeSample(t)
	a, out := newTestApp(t, cfg)

	if err := a.Show(context.Background(), ShowOptions{}); err != nil {
		t.Fatalf("show: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"Highlights",
		"Anomalies (1)",
		"2025-01-07",
		"±2.0σ over 7-period rolling",
		"2.45",
		"WARN",
		"↑",
		"Data quality: 1 invalid date(s), 0 duplicate key(s)",
		"invalid: bad-date",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("show output missing %q:\n%s", want, text)
		}
	}
}

func TestShowAndExportTolerateOverflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.csv")
	content := "date,metric,value\n" +
		"2024-12-23,big,1\n" +
		"2024-12-30,big,1\n" +
		"2025-01-06,big,1.7e308\n" +
		"2025-01-07,big,1.7e308\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write sample: %v", err)
	}

	cfg := testConfig()
	cfg.Source.Path = path
	cfg.Analysis.Granularity = "week"
	cfg.Rules = []rules.Spec{{ID: "p1", Type: "pct_change", Window: 2, ThresholdPct: 20, Notify: true}}
	a, out := newTestApp(t, cfg)

	if err := a.Show(context.Background(), ShowOptions{}); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out.String(), "2025-W02") || !strings.Contains(out.String(), "+Inf") {
		t.Fatalf("周汇总溢出应显示为 +Inf:\n%s", out.String())
	}

	csvPath := filepath.Join(t.TempDir(), "anomalies.csv")
	if err := a.Export(context.Background(), ExportOptions{AnomaliesCSV: csvPath}); err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := readLines(t, csvPath)
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "2025-W02,big,+Inf,p1,") {
		t.Fatalf("unexpected anomalies export: %v", lines)
	}
}

func TestShowWithoutSource(t *testing.T) {
	a, _ := newTestApp(t, testConfig())
	if err := a.Show(context.Background(), ShowOptions{}); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}

func TestExportWritesFiles(t *testing.T) {
	cfg := testConfig()
	cfg.Source.Path = writeSample(t)
	a, _ := newTestApp(t, cfg)

	dir := t.TempDir()
	opts := ExportOptions{
		AnomaliesCSV: filepath.Join(dir, "out", "anomalies.csv"),
		DataCSV:      filepath.Join(dir, "out", "data.csv"),
		PNGPath:      filepath.Join(dir, "out", "chart.png"),
	}
	if err := a.Export(context.Background(), opts); err != nil {
		t.Fatalf("export: %v", err)
	}

	anomalies := readLines(t, opts.AnomaliesCSV)
	if len(anomalies) != 2 {
		t.Fatalf("expected header plus one anomaly, got %v", anomalies)
	}
	if anomalies[0] != "date,metric,value,rule_id,rule,score,severity,direction" {
		t.Fatalf("unexpected header %q", anomalies[0])
	}
	if !strings.HasPrefix(anomalies[1], "2025-01-07,sales,200.0000,r1,") {
		t.Fatalf("unexpected anomaly row %q", anomalies[1])
	}

	data := readLines(t, opts.DataCSV)
	if len(data) != 9 {
		t.Fatalf("expected header plus 8 periods, got %d lines", len(data))
	}

	png, err := os.ReadFile(opts.PNGPath)
	if err != nil {
		t.Fatalf("read png: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatal("chart output is not a PNG")
	}
}

func TestExportDownsamplesAndFilters(t *testing.T) {
	cfg := testConfig()
	cfg.Source.Path = writeSample(t)
	a, _ := newTestApp(t, cfg)

	path := filepath.Join(t.TempDir(), "data.csv")
	if err := a.Export(context.Background(), ExportOptions{DataCSV: path, Metric: "sales", MaxPoints: 3}); err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := readLines(t, path)
	want := []string{"period,metric,value", "2025-01-01,sales,100.0000", "2025-01-04,sales,100.0000", "2025-01-07,sales,200.0000"}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected downsampled export:\n%s", strings.Join(lines, "\n"))
	}
}

func TestExportDownsamplesEachMetric(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("date,metric,value\n")
	for _, d := range []string{"01", "02", "03", "04", "05", "06", "07"} {
		sb.WriteString("2025-01-" + d + ",sales,1\n")
		sb.WriteString("2025-01-" + d + ",visits,2\n")
	}
	src := filepath.Join(t.TempDir(), "two.csv")
	if err := os.WriteFile(src, []byte(sb.String()), 0o600); err != nil {
		t.Fatalf("write sample: %v", err)
	}

	cfg := testConfig()
	cfg.Source.Path = src
	a, _ := newTestApp(t, cfg)

	path := filepath.Join(t.TempDir(), "data.csv")
	if err := a.Export(context.Background(), ExportOptions{DataCSV: path, MaxPoints: 3}); err != nil {
		t.Fatalf("export: %v", err)
	}
	want := []string{
		"period,metric,value",
		"2025-01-01,sales,1.0000", "2025-01-04,sales,1.0000", "2025-01-07,sales,1.0000",
		"2025-01-01,visits,2.0000", "2025-01-04,visits,2.0000", "2025-01-07,visits,2.0000",
	}
	lines := readLines(t, path)
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Fatalf("每个指标应各自抽样到 3 个点:\n%s", strings.Join(lines, "\n"))
	}
}

func TestExportRequiresTarget(t *testing.T) {
	a, _ := newTestApp(t, testConfig())
	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("expected error without output paths")
	}
}

func TestImportDryRun(t *testing.T) {
	cfg := testConfig()
	cfg.Source.Path = writeSample(t)
	a, out := newTestApp(t, cfg)

	if err := a.Import(context.Background(), ImportOptions{DryRun: true}); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out.String(), "dry-run: 8 row(s) would be imported, 0 dropped") {
		t.Fatalf("unexpected dry-run output %q", out.String())
	}
}

func TestImportRequiresDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.Source.Path = writeSample(t)
	a, _ := newTestApp(t, cfg)

	if err := a.Import(context.Background(), ImportOptions{}); err == nil {
		t.Fatal("未配置数据库时导入应报错")
	}
}

func TestRulesAddListRemove(t *testing.T) {
	cfg := testConfig()
	cfg.RulesFile = filepath.Join(t.TempDir(), "rules.yaml")
	a, out := newTestApp(t, cfg)

	rule, err := a.RulesAdd(rules.Spec{Type: "pct_change", Window: 3, ThresholdPct: 50, Direction: "down"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if rule.Common().ID != "r1" {
		t.Fatalf("expected generated id r1, got %q", rule.Common().ID)
	}
	if _, err := a.RulesAdd(rules.Spec{ID: "r1", Type: "zscore", Window: 7, Threshold: 2}); !errors.Is(err, rules.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if _, err := a.RulesAdd(rules.Spec{Type: "median", Window: 3}); !errors.Is(err, rules.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}

	if err := a.RulesList(); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "±50% change vs 3 periods ago") {
		t.Fatalf("list output missing rule label:\n%s", out.String())
	}

	if err := a.RulesRemove("missing"); !errors.Is(err, rules.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := a.RulesRemove("r1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	set, _, err := rules.LoadFile(cfg.RulesFile)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if set.Len() != 0 {
		t.Fatalf("expected empty rules file, got %d rules", set.Len())
	}
}

func TestRulesEditRequiresFile(t *testing.T) {
	a, _ := newTestApp(t, testConfig())
	if _, err := a.RulesAdd(rules.Spec{Type: "zscore", Window: 7, Threshold: 2}); !errors.Is(err, ErrNoRulesFile) {
		t.Fatalf("expected ErrNoRulesFile, got %v", err)
	}
}

func TestSyntheticSeriesDeterministic(t *testing.T) {
	end := time.Date(2025, 2, 28, 15, 0, 0, 0, time.UTC)
	opts := SimulateOptions{Metrics: []string{"a", "b"}, Days: 20, Spikes: 3, Seed: 42}

	first := SyntheticSeries(opts, end)
	second := SyntheticSeries(opts, end)
	if len(first) != 40 {
		t.Fatalf("expected 40 rows, got %d", len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("same seed should yield same rows; diff at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
	if first[0].Date != "2025-02-09" || first[19].Date != "2025-02-28" {
		t.Fatalf("unexpected date range %s..%s", first[0].Date, first[19].Date)
	}
}

func TestSimulate(t *testing.T) {
	a, out := newTestApp(t, testConfig())
	if err := a.Simulate(context.Background(), SimulateOptions{Metrics: []string{"sales"}, Days: 30, Spikes: 2, Seed: 7}); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Simulated 30 row(s)") {
		t.Fatalf("unexpected simulate output %q", out.String())
	}

	if err := a.Simulate(context.Background(), SimulateOptions{Notify: true}); err == nil {
		t.Fatal("notify without alerting enabled should fail")
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}
