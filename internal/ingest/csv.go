package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// ReadCSV parses delimited text whose header names date, metric and value in
// any order and case. Malformed data rows are dropped and counted.
func ReadCSV(r io.Reader) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	var result Result

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return result, fmt.Errorf("read csv header: %w", ErrMissingHeader)
		}
		return result, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = trimBOM(header[0])
	}

	cols, err := resolveColumns(header)
	if err != nil {
		return result, err
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		result.Total++
		if err != nil {
			result.Dropped++
			continue
		}
		if isBlank(record) {
			result.Total--
			continue
		}

		obs, ok := cols.row(record)
		if !ok {
			result.Dropped++
			continue
		}
		result.Rows = append(result.Rows, obs)
	}

	return result, nil
}

func trimBOM(s string) string {
	const bom = "\ufeff"
	if len(s) >= len(bom) && s[:len(bom)] == bom {
		return s[len(bom):]
	}
	return s
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if cell != "" {
			return false
		}
	}
	return true
}
