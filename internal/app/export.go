package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	chart "github.com/wcharczuk/go-chart/v2"

	"kpi-alerts/internal/detector"
	"kpi-alerts/internal/series"
	"kpi-alerts/internal/service"
	"kpi-alerts/internal/window"
)

const maxChartTicks = 12

// Export renders one analysis pass as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.AnomaliesCSV == "" && opts.DataCSV == "" && opts.PNGPath == "" {
		return errors.New("at least one of --anomalies-csv, --data-csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	result, _, err := a.analyze(ctx)
	if err != nil {
		return err
	}

	anomalies := detector.ForMetric(result.Anomalies, opts.Metric)
	periods := periodsForMetric(result.Periods, opts.Metric)
	a.Logger.Info().
		Int("periods", len(periods)).
		Int("anomalies", len(anomalies)).
		Str("metric", opts.Metric).
		Msg("exporting analysis")

	if opts.AnomaliesCSV != "" {
		if err := writeAnomaliesCSV(opts.AnomaliesCSV, anomalies); err != nil {
			return err
		}
	}

	if opts.DataCSV != "" {
		if err := writePeriodsCSV(opts.DataCSV, downsampleByMetric(periods, opts.MaxPoints)); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeChartPNG(opts.PNGPath, result.Chart, anomalies, opts.Metric); err != nil {
			return err
		}
	}

	return nil
}

func periodsForMetric(periods []series.Period, metric string) []series.Period {
	if metric == "" {
		return periods
	}
	out := make([]series.Period, 0, len(periods))
	for _, p := range periods {
		if p.Metric == metric {
			out = append(out, p)
		}
	}
	return out
}

// downsampleByMetric caps every metric at max points; metrics keep their first-appearance order.
func downsampleByMetric(periods []series.Period, max int) []series.Period {
	if max <= 0 {
		return periods
	}
	order := make([]string, 0)
	groups := make(map[string][]series.Period)
	for _, p := range periods {
		if _, ok := groups[p.Metric]; !ok {
			order = append(order, p.Metric)
		}
		groups[p.Metric] = append(groups[p.Metric], p)
	}
	out := make([]series.Period, 0, len(periods))
	for _, m := range order {
		out = append(out, downsamplePeriods(groups[m], max)...)
	}
	return out
}

func downsamplePeriods(periods []series.Period, max int) []series.Period {
	if max <= 0 || len(periods) <= max {
		return periods
	}
	if max == 1 {
		return periods[len(periods)-1:]
	}

	result := make([]series.Period, 0, max)
	step := float64(len(periods)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(periods) {
			idx = len(periods) - 1
		}
		result = append(result, periods[idx])
	}
	return result
}

func writeAnomaliesCSV(path string, anomalies []detector.Anomaly) error {
	return writeCSV(path, []string{"date", "metric", "value", "rule_id", "rule", "score", "severity", "direction"}, len(anomalies), func(i int) []string {
		an := anomalies[i]
		return []string{
			an.Date,
			an.Metric,
			formatFloat(an.Value, 4),
			an.RuleID,
			an.RuleLabel,
			formatFloat(an.Score, 4),
			string(an.Severity),
			string(an.Direction),
		}
	})
}

func writePeriodsCSV(path string, periods []series.Period) error {
	return writeCSV(path, []string{"period", "metric", "value"}, len(periods), func(i int) []string {
		p := periods[i]
		return []string{p.Key, p.Metric, formatFloat(p.Value, 4)}
	})
}

func writeCSV(path string, header []string, n int, record func(int) []string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := writer.Write(record(i)); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// chartSeries converts the grid into go-chart series. go-chart cannot draw
// gaps, so undefined and non-finite points are left out and the line joins
// across them.
func chartSeries(grid service.Chart, anomalies []detector.Anomaly, metric string) []chart.Series {
	keyIndex := make(map[string]int, len(grid.Keys))
	for i, k := range grid.Keys {
		keyIndex[k] = i
	}

	out := make([]chart.Series, 0)
	for _, cs := range grid.Series {
		if metric != "" && cs.Metric != metric {
			continue
		}
		if line, ok := continuous(cs.Metric, cs.Values, chart.Style{StrokeWidth: 2}); ok {
			out = append(out, line)
		}
		dashed := chart.Style{StrokeWidth: 1, StrokeDashArray: []float64{5, 5}}
		if line, ok := continuous(cs.Metric+" MA", cs.MovingAverage, dashed); ok {
			out = append(out, line)
		}
	}

	marks := make([]chart.Value2, 0, len(anomalies))
	for _, an := range anomalies {
		x, ok := keyIndex[an.Date]
		if !ok || math.IsInf(an.Value, 0) || math.IsNaN(an.Value) {
			continue
		}
		marks = append(marks, chart.Value2{XValue: float64(x), YValue: an.Value, Label: an.RuleID})
	}
	if len(marks) > 0 && len(out) > 0 {
		out = append(out, chart.AnnotationSeries{Name: "anomalies", Annotations: marks})
	}
	return out
}

func continuous(name string, values []window.Value, style chart.Style) (chart.ContinuousSeries, bool) {
	xs := make([]float64, 0, len(values))
	ys := make([]float64, 0, len(values))
	for i, v := range values {
		if !v.Valid || math.IsInf(v.Float, 0) || math.IsNaN(v.Float) {
			continue
		}
		xs = append(xs, float64(i))
		ys = append(ys, v.Float)
	}
	if len(xs) < 2 {
		return chart.ContinuousSeries{}, false
	}
	return chart.ContinuousSeries{Name: name, XValues: xs, YValues: ys, Style: style}, true
}

func axisTicks(keys []string) []chart.Tick {
	step := 1
	if len(keys) > maxChartTicks {
		step = (len(keys) + maxChartTicks - 1) / maxChartTicks
	}
	ticks := make([]chart.Tick, 0, maxChartTicks+1)
	for i := 0; i < len(keys); i += step {
		ticks = append(ticks, chart.Tick{Value: float64(i), Label: keys[i]})
	}
	return ticks
}

func writeChartPNG(path string, grid service.Chart, anomalies []detector.Anomaly, metric string) error {
	seriesList := chartSeries(grid, anomalies, metric)
	if len(seriesList) == 0 {
		return fmt.Errorf("nothing to plot: need at least two points per series")
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name:  "Period",
			Ticks: axisTicks(grid.Keys),
		},
		YAxis: chart.YAxis{
			Name:           "Value",
			ValueFormatter: valueFormatter,
		},
		Series: seriesList,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
