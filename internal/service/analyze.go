package service

import (
	"sort"

	"kpi-alerts/internal/detector"
	"kpi-alerts/internal/report"
	"kpi-alerts/internal/rules"
	"kpi-alerts/internal/series"
	"kpi-alerts/internal/window"
)

// Options configure one analysis pass.
type Options struct {
	Granularity series.Granularity
	// RangeDays keeps the trailing days ending at the latest date; 0 keeps everything.
	RangeDays int
	Rules     []rules.Rule
	// MovingAverage is the overlay window; 0 disables the overlay.
	MovingAverage int
}

// Result is everything the dashboard, exporters and notifiers consume.
type Result struct {
	Rows      []series.Observation
	Periods   []series.Period
	Anomalies []detector.Anomaly
	Summaries []report.MetricSummary
	Quality   report.Quality
	Chart     Chart
}

// Chart is the aggregated data laid out on a shared period grid.
type Chart struct {
	Keys   []string
	Series []ChartSeries
}

// ChartSeries holds one metric's values on the grid; missing periods are undefined.
type ChartSeries struct {
	Metric        string
	Values        []window.Value
	MovingAverage []window.Value
}

// Analyze filters, aggregates and evaluates rows. Quality is measured on the
// unfiltered rows, summaries on the filtered ones.
func Analyze(rows []series.Observation, opts Options) Result {
	filtered := series.FilterRecentDays(rows, opts.RangeDays)
	periods := series.Aggregate(filtered, opts.Granularity)

	return Result{
		Rows:      filtered,
		Periods:   periods,
		Anomalies: detector.Evaluate(periods, opts.Rules),
		Summaries: report.Summaries(filtered),
		Quality:   report.Check(rows),
		Chart:     buildChart(periods, opts.MovingAverage),
	}
}

func buildChart(periods []series.Period, maWindow int) Chart {
	seen := make(map[string]struct{})
	keys := make([]string, 0)
	metrics := make([]string, 0)
	values := make(map[string]map[string]float64)
	for _, p := range periods {
		if _, ok := seen[p.Key]; !ok {
			seen[p.Key] = struct{}{}
			keys = append(keys, p.Key)
		}
		byKey, ok := values[p.Metric]
		if !ok {
			byKey = make(map[string]float64)
			values[p.Metric] = byKey
			metrics = append(metrics, p.Metric)
		}
		if _, dup := byKey[p.Key]; !dup {
			byKey[p.Key] = p.Value
		}
	}
	sort.Strings(keys)

	out := Chart{Keys: keys, Series: make([]ChartSeries, 0, len(metrics))}
	for _, m := range metrics {
		cs := ChartSeries{Metric: m, Values: make([]window.Value, len(keys))}
		for i, k := range keys {
			if v, ok := values[m][k]; ok {
				cs.Values[i] = window.Some(v)
			}
		}
		if maWindow > 0 {
			cs.MovingAverage = window.MovingAverage(cs.Values, maWindow)
		}
		out.Series = append(out.Series, cs)
	}
	return out
}

// Metric looks up a metric on the chart grid.
func (c Chart) Metric(name string) (ChartSeries, bool) {
	for _, s := range c.Series {
		if s.Metric == name {
			return s, true
		}
	}
	return ChartSeries{}, false
}
