package series

import (
	"fmt"
	"strings"
)

// Observation is a single labelled data point as produced by ingestion.
// Duplicate (Date, Metric) pairs are legal.
type Observation struct {
	Date   string  `json:"date"`
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

// Granularity is the bucket size observations are summed into.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ParseGranularity accepts day, week or month (case-insensitive).
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case Day, Week, Month:
		return g, nil
	case "":
		return Day, nil
	default:
		return "", fmt.Errorf("unknown granularity %q (want day, week or month)", s)
	}
}

// Metrics returns the distinct metric names in first-appearance order.
func Metrics(rows []Observation) []string {
	seen := make(map[string]struct{}, len(rows))
	out := make([]string, 0)
	for _, r := range rows {
		if _, ok := seen[r.Metric]; ok {
			continue
		}
		seen[r.Metric] = struct{}{}
		out = append(out, r.Metric)
	}
	return out
}
