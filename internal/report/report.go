// Package report derives dashboard summaries and data-quality counts from
// normalised observation rows.
package report

import (
	"math"

	"kpi-alerts/internal/series"
)

// MetricSummary is the latest value of a metric and its change against the
// previous point.
type MetricSummary struct {
	Metric    string               `json:"metric"`
	Last      *float64             `json:"last"`
	ChangePct *float64             `json:"changePct"`
	Series    []series.Observation `json:"series"`
}

// Quality counts rows with unparseable dates and duplicated (date, metric)
// keys. A key repeated any number of times counts once.
type Quality struct {
	InvalidCount   int      `json:"invalidCount"`
	DuplicateCount int      `json:"duplicateCount"`
	InvalidDates   []string `json:"invalidDates,omitempty"`
}

// Summaries builds one summary per metric in first-appearance order after
// sorting rows by date.
func Summaries(rows []series.Observation) []MetricSummary {
	sorted := series.SortByDate(rows)

	index := make(map[string]int)
	out := make([]MetricSummary, 0)
	for _, r := range sorted {
		i, ok := index[r.Metric]
		if !ok {
			i = len(out)
			index[r.Metric] = i
			out = append(out, MetricSummary{Metric: r.Metric})
		}
		out[i].Series = append(out[i].Series, r)
	}

	for i := range out {
		s := out[i].Series
		n := len(s)
		if n == 0 {
			continue
		}
		last := s[n-1].Value
		out[i].Last = &last
		if n < 2 {
			continue
		}
		prev := s[n-2].Value
		if prev == 0 {
			continue
		}
		change := (last - prev) / math.Abs(prev) * 100
		out[i].ChangePct = &change
	}
	return out
}

// Check computes quality counts over the full, unfiltered row set.
func Check(rows []series.Observation) Quality {
	var q Quality
	seen := make(map[[2]string]struct{}, len(rows))
	dup := make(map[[2]string]struct{})
	for _, r := range rows {
		if _, ok := series.ParseDay(r.Date); !ok {
			q.InvalidCount++
			q.InvalidDates = append(q.InvalidDates, r.Date)
		}
		key := [2]string{r.Date, r.Metric}
		if _, ok := seen[key]; ok {
			dup[key] = struct{}{}
		}
		seen[key] = struct{}{}
	}
	q.DuplicateCount = len(dup)
	return q
}
