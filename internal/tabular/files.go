package tabular

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kingrea/buckling-automation/internal/automation"
)

// Format is a supported file layout, chosen by extension.
type Format string

const (
	FormatTSV  Format = "tsv"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const resultsSheet = "Results"

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".txt", ".tab":
		return FormatTSV, nil
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("tabular: unsupported file type %q", filepath.Ext(path))
}

// ReadRowsFile loads input rows from a .tsv, .csv or .xlsx file. Workbooks
// are read from their first sheet.
func ReadRowsFile(path string) ([]automation.InputRow, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	var records [][]string
	switch format {
	case FormatXLSX:
		records, err = readWorkbook(path)
	default:
		records, err = readTextFile(path, delimiter(format))
	}
	if err != nil {
		return nil, err
	}
	rows, err := RowsFromRecords(records)
	if err != nil {
		return nil, fmt.Errorf("%w in %s", err, path)
	}
	return rows, nil
}

// WriteResultsFile writes rows and their results with a header row.
func WriteResultsFile(path string, rows []automation.InputRow, results []automation.ResultRow) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("tabular: create %s: %w", dir, err)
		}
	}
	records := resultRecords(rows, results)
	if format == FormatXLSX {
		return writeWorkbook(path, records)
	}
	return writeTextFile(path, delimiter(format), records)
}

func delimiter(format Format) rune {
	if format == FormatCSV {
		return ','
	}
	return '\t'
}

func readTextFile(path string, comma rune) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tabular: open %s: %w", path, err)
	}
	defer f.Close()
	return readDelimited(f, comma)
}

func writeTextFile(path string, comma rune, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tabular: create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	w.Comma = comma
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("tabular: write %s: %w", path, err)
	}
	return f.Close()
}

func readWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("tabular: open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("tabular: workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("tabular: read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func writeWorkbook(path string, records [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), resultsSheet); err != nil {
		return fmt.Errorf("tabular: name sheet: %w", err)
	}
	for r, record := range records {
		cellName, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return err
		}
		values := make([]any, len(record))
		for i, v := range record {
			values[i] = v
		}
		if err := f.SetSheetRow(resultsSheet, cellName, &values); err != nil {
			return fmt.Errorf("tabular: write row %d: %w", r+1, err)
		}
	}
	if err := f.SetColWidth(resultsSheet, "A", "C", 22); err != nil {
		return fmt.Errorf("tabular: column width: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("tabular: save %s: %w", path, err)
	}
	return nil
}
