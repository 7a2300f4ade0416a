package ingest

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ReadXLSX reads the first sheet that holds any rows. The first row is the
// header; cells are read raw so date cells arrive as spreadsheet serials and
// go through the same normalisation as text dates.
func ReadXLSX(r io.Reader) (Result, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return Result{}, fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	var grid [][]string
	for _, name := range book.GetSheetList() {
		rows, err := book.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return Result{}, fmt.Errorf("read sheet %s: %w", name, err)
		}
		if len(rows) > 0 {
			grid = rows
			break
		}
	}
	if len(grid) < 2 {
		return Result{}, ErrInsufficientData
	}

	cols, err := resolveColumns(grid[0])
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, record := range grid[1:] {
		if isBlank(record) {
			continue
		}
		result.Total++
		obs, ok := cols.row(record)
		if !ok {
			result.Dropped++
			continue
		}
		result.Rows = append(result.Rows, obs)
	}
	return result, nil
}
