package series

import (
	"fmt"
	"sort"
	"time"
)

// Period is the summed value of one metric within one period key.
type Period struct {
	Key    string  `json:"period"`
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

// SortByDate returns a copy of rows stably ordered by date string.
func SortByDate(rows []Observation) []Observation {
	out := make([]Observation, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Aggregate rolls rows up to g. Day is a sorted pass-through; week and month
// sum values per (period, metric). Values are summed, not averaged, which
// distorts ratio metrics above daily granularity.
//
// Rows whose date is not a calendar day have no week or month and are left
// out of week/month roll-ups.
func Aggregate(rows []Observation, g Granularity) []Period {
	if g != Week && g != Month {
		sorted := SortByDate(rows)
		out := make([]Period, len(sorted))
		for i, r := range sorted {
			out[i] = Period{Key: r.Date, Metric: r.Metric, Value: r.Value}
		}
		return out
	}

	type bucket struct {
		metrics []string
		sums    map[string]float64
	}
	buckets := make(map[string]*bucket)
	for _, r := range rows {
		day, ok := ParseDay(r.Date)
		if !ok {
			continue
		}
		key := MonthKey(day)
		if g == Week {
			key = WeekKey(day)
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{sums: make(map[string]float64)}
			buckets[key] = b
		}
		if _, seen := b.sums[r.Metric]; !seen {
			b.metrics = append(b.metrics, r.Metric)
		}
		b.sums[r.Metric] += r.Value
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Period, 0, len(rows))
	for _, k := range keys {
		b := buckets[k]
		for _, m := range b.metrics {
			out = append(out, Period{Key: k, Metric: m, Value: b.sums[m]})
		}
	}
	return out
}

// WeekKey formats the ISO-8601 week of t as <isoYear>-W<ww>. The ISO year
// is the year of the Thursday of t's week, so late-December days can belong
// to week 1 of the following year.
func WeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// MonthKey formats t as <year>-<mm>.
func MonthKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}
