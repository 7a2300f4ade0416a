// Package ingest turns delimited text and spreadsheets into observation rows.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"kpi-alerts/internal/series"
)

var (
	// ErrMissingHeader means the header row lacks date, metric or value.
	ErrMissingHeader = errors.New("ingest: header must contain date, metric and value")
	// ErrUnsupportedFormat is returned for sources that are neither CSV nor XLSX.
	ErrUnsupportedFormat = errors.New("ingest: unsupported source format")
	// ErrInsufficientData is returned for a sheet without data rows.
	ErrInsufficientData = errors.New("ingest: insufficient data")
)

// Format names a source encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Result carries the accepted rows and how many data rows were dropped.
type Result struct {
	Rows    []series.Observation
	Total   int
	Dropped int
}

// Source describes where observations come from.
type Source struct {
	// Location is a file path or an http(s) URL.
	Location  string
	Format    Format
	Timeout   time.Duration
	UserAgent string
}

// Load reads a Source, choosing the decoder from Format or the location's
// extension.
func Load(ctx context.Context, src Source) (Result, error) {
	if strings.TrimSpace(src.Location) == "" {
		return Result{}, errors.New("ingest: source location is empty")
	}

	if isURL(src.Location) {
		fetcher := NewHTTPFetcher(HTTPOptions{Timeout: src.Timeout, UserAgent: src.UserAgent})
		return fetcher.Fetch(ctx, src.Location)
	}

	format, err := detectFormat(src)
	if err != nil {
		return Result{}, err
	}

	file, err := os.Open(src.Location)
	if err != nil {
		return Result{}, fmt.Errorf("open source: %w", err)
	}
	defer file.Close()

	switch format {
	case FormatCSV:
		return ReadCSV(file)
	case FormatXLSX:
		return ReadXLSX(file)
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func detectFormat(src Source) (Format, error) {
	if src.Format != "" {
		switch f := Format(strings.ToLower(string(src.Format))); f {
		case FormatCSV, FormatXLSX:
			return f, nil
		case "xls":
			return FormatXLSX, nil
		default:
			return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, src.Format)
		}
	}

	switch strings.ToLower(filepath.Ext(src.Location)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xls":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, src.Location)
	}
}

func isURL(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

type columns struct {
	date, metric, value int
}

func resolveColumns(header []string) (columns, error) {
	cols := columns{date: -1, metric: -1, value: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "date":
			if cols.date < 0 {
				cols.date = i
			}
		case "metric":
			if cols.metric < 0 {
				cols.metric = i
			}
		case "value":
			if cols.value < 0 {
				cols.value = i
			}
		}
	}
	if cols.date < 0 || cols.metric < 0 || cols.value < 0 {
		return cols, ErrMissingHeader
	}
	return cols, nil
}

// row converts one record; ok is false for rows that must be dropped.
func (c columns) row(record []string) (series.Observation, bool) {
	get := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	date := get(c.date)
	metric := get(c.metric)
	if date == "" || metric == "" {
		return series.Observation{}, false
	}

	value, err := parseValue(get(c.value))
	if err != nil {
		return series.Observation{}, false
	}

	return series.Observation{Date: series.Normalize(date), Metric: metric, Value: value}, true
}

// An empty cell reads as zero, like a blank numeric field in a spreadsheet.
func parseValue(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("value is not finite")
	}
	return v, nil
}
