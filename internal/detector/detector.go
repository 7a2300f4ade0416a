// Package detector evaluates rules against aggregated per-metric series and
// returns a ranked anomaly list. Evaluation is pure and recomputed from
// scratch on every call.
package detector

import (
	"math"
	"sort"

	"kpi-alerts/internal/rules"
	"kpi-alerts/internal/series"
	"kpi-alerts/internal/window"
)

// Anomaly is one threshold crossing of one rule at one period of one metric.
type Anomaly struct {
	Date      string          `json:"date"`
	Metric    string          `json:"metric"`
	Value     float64         `json:"value"`
	RuleID    string          `json:"ruleId"`
	RuleLabel string          `json:"ruleLabel"`
	Score     float64         `json:"score"`
	Severity  rules.Severity  `json:"severity"`
	Direction rules.Direction `json:"direction"`
}

type metricSeries struct {
	name    string
	periods []series.Period
	values  []float64

	meanStd map[int][2][]window.Value
	change  map[int][]window.Value
}

// Evaluate runs every rule over every metric. The result is ordered by
// descending score; equal scores keep evaluation order (metrics in order of
// first appearance after sorting by period, rules in the given order within
// a metric).
//
// Rules whose window exceeds the series simply match nothing. Rules of an
// unknown variant are skipped.
func Evaluate(periods []series.Period, rs []rules.Rule) []Anomaly {
	anomalies := make([]Anomaly, 0)
	if len(rs) == 0 {
		return anomalies
	}

	for _, ms := range partition(periods) {
		for _, rule := range rs {
			anomalies = append(anomalies, ms.evaluate(rule)...)
		}
	}

	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].Score > anomalies[j].Score
	})
	return anomalies
}

func partition(periods []series.Period) []*metricSeries {
	sorted := make([]series.Period, len(periods))
	copy(sorted, periods)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	index := make(map[string]*metricSeries)
	out := make([]*metricSeries, 0)
	for _, p := range sorted {
		ms, ok := index[p.Metric]
		if !ok {
			ms = &metricSeries{
				name:    p.Metric,
				meanStd: make(map[int][2][]window.Value),
				change:  make(map[int][]window.Value),
			}
			index[p.Metric] = ms
			out = append(out, ms)
		}
		ms.periods = append(ms.periods, p)
		ms.values = append(ms.values, p.Value)
	}
	return out
}

func (ms *metricSeries) rollingMeanStd(w int) ([]window.Value, []window.Value) {
	if cached, ok := ms.meanStd[w]; ok {
		return cached[0], cached[1]
	}
	means, stds := window.RollingMeanStd(ms.values, w)
	ms.meanStd[w] = [2][]window.Value{means, stds}
	return means, stds
}

func (ms *metricSeries) rollingPctChange(w int) []window.Value {
	if cached, ok := ms.change[w]; ok {
		return cached
	}
	changes := window.RollingPctChange(ms.values, w)
	ms.change[w] = changes
	return changes
}

func (ms *metricSeries) evaluate(rule rules.Rule) []Anomaly {
	var out []Anomaly
	switch r := rule.(type) {
	case rules.ZScore:
		base := r.Common()
		means, stds := ms.rollingMeanStd(base.Window)
		for i, p := range ms.periods {
			if !means[i].Valid || !stds[i].Valid || stds[i].Float == 0 {
				continue
			}
			z := (p.Value - means[i].Float) / stds[i].Float
			if math.Abs(z) >= r.Threshold && base.Direction.Matches(z) {
				out = append(out, ms.anomaly(p, rule, base, z))
			}
		}
	case rules.PctChange:
		base := r.Common()
		changes := ms.rollingPctChange(base.Window)
		for i, p := range ms.periods {
			if !changes[i].Valid {
				continue
			}
			c := changes[i].Float
			if math.Abs(c) >= r.ThresholdPct && base.Direction.Matches(c) {
				out = append(out, ms.anomaly(p, rule, base, c))
			}
		}
	}
	return out
}

func (ms *metricSeries) anomaly(p series.Period, rule rules.Rule, base rules.Base, deviation float64) Anomaly {
	return Anomaly{
		Date:      p.Key,
		Metric:    ms.name,
		Value:     p.Value,
		RuleID:    base.ID,
		RuleLabel: rules.Label(rule),
		Score:     math.Abs(deviation),
		Severity:  base.Severity,
		Direction: rules.Of(deviation),
	}
}

// Top returns at most n leading anomalies. n <= 0 returns all of them.
func Top(anomalies []Anomaly, n int) []Anomaly {
	if n <= 0 || n >= len(anomalies) {
		return anomalies
	}
	return anomalies[:n]
}

// Notifiable keeps the anomalies whose originating rule has Notify set.
func Notifiable(anomalies []Anomaly, set rules.Set) []Anomaly {
	out := make([]Anomaly, 0, len(anomalies))
	for _, a := range anomalies {
		if set.Notifiable(a.RuleID) {
			out = append(out, a)
		}
	}
	return out
}

// ForMetric keeps the anomalies of one metric; an empty name keeps all.
func ForMetric(anomalies []Anomaly, metric string) []Anomaly {
	if metric == "" {
		return anomalies
	}
	out := make([]Anomaly, 0, len(anomalies))
	for _, a := range anomalies {
		if a.Metric == metric {
			out = append(out, a)
		}
	}
	return out
}
