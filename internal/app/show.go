package app

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"kpi-alerts/internal/detector"
	"kpi-alerts/internal/report"
	"kpi-alerts/internal/storage"
)

// Show evaluates the configured source once and prints anomalies, summaries and data quality.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	result, _, err := a.analyze(ctx)
	if err != nil {
		return err
	}

	top := opts.Top
	if top <= 0 {
		top = a.Config.Analysis.Top
	}

	if highlights := detector.Top(result.Anomalies, top); len(highlights) > 0 {
		fmt.Fprintln(a.Out, "Highlights")
		writeAnomalies(a.Out, highlights)
		fmt.Fprintln(a.Out)
	}

	fmt.Fprintf(a.Out, "Anomalies (%d)\n", len(result.Anomalies))
	if len(result.Anomalies) == 0 {
		fmt.Fprintln(a.Out, "no anomalies found")
	} else {
		writeAnomalies(a.Out, result.Anomalies)
	}
	fmt.Fprintln(a.Out)

	fmt.Fprintln(a.Out, "Metrics")
	writeSummaries(a.Out, result.Summaries)
	fmt.Fprintln(a.Out)

	writeQuality(a.Out, result.Quality)

	if opts.History > 0 {
		return a.showHistory(ctx, opts.History)
	}
	return nil
}

func (a *App) showHistory(ctx context.Context, limit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; no anomaly history")
		return nil
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentAnomalies(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out)
	fmt.Fprintf(a.Out, "History (%d)\n", len(records))
	writeHistory(a.Out, records)
	return nil
}

func writeAnomalies(out io.Writer, anomalies []detector.Anomaly) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tMetric\tValue\tRule\tScore\tSeverity\tDirection")
	for _, an := range anomalies {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			an.Date,
			sanitizeInline(an.Metric),
			formatFloat(an.Value, 2),
			an.RuleLabel,
			formatFloat(an.Score, 2),
			strings.ToUpper(string(an.Severity)),
			arrow(string(an.Direction)),
		)
	}
	writer.Flush()
}

func writeSummaries(out io.Writer, summaries []report.MetricSummary) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Metric\tLast\tChange%\tPoints")
	for _, s := range summaries {
		last, change := "-", "-"
		if s.Last != nil {
			last = formatFloat(*s.Last, 2)
		}
		if s.ChangePct != nil {
			change = signed(*s.ChangePct, 2) + "%"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\n", sanitizeInline(s.Metric), last, change, len(s.Series))
	}
	writer.Flush()
}

func writeQuality(out io.Writer, q report.Quality) {
	fmt.Fprintf(out, "Data quality: %d invalid date(s), %d duplicate key(s)\n", q.InvalidCount, q.DuplicateCount)
	if len(q.InvalidDates) > 0 {
		fmt.Fprintf(out, "  invalid: %s\n", strings.Join(q.InvalidDates, ", "))
	}
}

func writeHistory(out io.Writer, records []storage.AnomalyRecord) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Evaluated (UTC)\tPeriod\tMetric\tValue\tRule\tScore\tSeverity\tNotified")
	for _, r := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			r.EvaluatedAt.UTC().Format(time.RFC3339),
			r.Period,
			sanitizeInline(r.Metric),
			r.Value.StringFixed(2),
			r.RuleID,
			r.Score.StringFixed(2),
			strings.ToUpper(r.Severity),
			r.Notified,
		)
	}
	writer.Flush()
}

// formatFloat renders v with a fixed number of places. decimal cannot hold
// infinities or NaN, which show up when a roll-up sum overflows.
func formatFloat(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

func signed(v float64, places int32) string {
	s := formatFloat(v, places)
	if v > 0 && !math.IsInf(v, 1) {
		return "+" + s
	}
	return s
}

func arrow(direction string) string {
	if direction == "down" {
		return "↓"
	}
	return "↑"
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
