package series

// FilterRecentDays keeps the rows dated within the trailing window of days
// ending at the most recent parseable date, inclusive of both ends. days <= 0
// disables the filter. Rows whose date does not parse cannot be placed in the
// window and are dropped.
func FilterRecentDays(rows []Observation, days int) []Observation {
	if days <= 0 || len(rows) == 0 {
		return rows
	}

	var latestDay string
	for _, r := range rows {
		if _, ok := ParseDay(r.Date); ok && r.Date > latestDay {
			latestDay = r.Date
		}
	}
	if latestDay == "" {
		return []Observation{}
	}

	latest, _ := ParseDay(latestDay)
	cutoff := latest.AddDate(0, 0, -(days - 1))

	out := make([]Observation, 0, len(rows))
	for _, r := range rows {
		d, ok := ParseDay(r.Date)
		if !ok || d.Before(cutoff) {
			continue
		}
		out = append(out, r)
	}
	return out
}
