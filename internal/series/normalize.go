package series

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DayLayout is the canonical calendar-day form. Lexical and chronological
// order coincide for it.
const DayLayout = "2006-01-02"

// Spreadsheet serials are days since 1899-12-30 (the 1900 leap-year bug is
// already folded into that base).
const (
	serialMin = 20000
	serialMax = 60000
)

var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

var separatorReplacer = strings.NewReplacer("/", "-", ".", "-")

// Layouts tried after '/' and '.' have been rewritten to '-'.
var dateLayouts = []string{
	"2006-1-2",
	"2006-1-2 15:04:05",
	"2006-1-2 15:04",
	"2006-1-2T15:04:05",
	"2006-1-2T15:04:05Z07:00",
	"1-2-2006",
	"Jan 2 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
}

// Normalize maps a raw date (time.Time, string or spreadsheet serial) onto
// DayLayout. Values it cannot interpret come back trimmed but otherwise
// unchanged; it never fails.
func Normalize(raw any) string {
	switch v := raw.(type) {
	case time.Time:
		return v.Format(DayLayout)
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.Format(DayLayout)
	case string:
		return normalizeString(v)
	case float64:
		return normalizeNumber(v, strconv.FormatFloat(v, 'f', -1, 64))
	case float32:
		return normalizeNumber(float64(v), strconv.FormatFloat(float64(v), 'f', -1, 32))
	case int:
		return normalizeNumber(float64(v), strconv.Itoa(v))
	case int64:
		return normalizeNumber(float64(v), strconv.FormatInt(v, 10))
	case nil:
		return ""
	default:
		return normalizeString(fmt.Sprint(v))
	}
}

func normalizeString(raw string) string {
	s := strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.Format(DayLayout)
	}

	replaced := separatorReplacer.Replace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, replaced); err == nil {
			return t.Format(DayLayout)
		}
	}

	if num, err := strconv.ParseFloat(s, 64); err == nil {
		if day, ok := fromSerial(num); ok {
			return day
		}
	}
	return s
}

func normalizeNumber(num float64, text string) string {
	if day, ok := fromSerial(num); ok {
		return day
	}
	return text
}

func fromSerial(num float64) (string, bool) {
	if math.IsNaN(num) || num <= serialMin || num >= serialMax {
		return "", false
	}
	t := serialEpoch.Add(time.Duration(num * float64(24*time.Hour)))
	return t.Format(DayLayout), true
}

// ParseDay parses a canonical calendar day.
func ParseDay(s string) (time.Time, bool) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
