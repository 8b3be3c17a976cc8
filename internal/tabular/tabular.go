// Package tabular moves batch rows in and out of spreadsheets: clipboard
// text pasted from Excel, tab or comma separated files and .xlsx workbooks.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kingrea/buckling-automation/internal/automation"
)

// Column headers used when writing files.
const (
	HeaderDepth         = "Depth (ft)"
	HeaderSurfaceWeight = "Surface Weight (lbs)"
	HeaderResult        = "WOB Buckling"
)

// ErrNoRows reports input that held no usable rows.
var ErrNoRows = errors.New("tabular: no rows detected")

var (
	depthHeaders  = []string{normalizeHeader(HeaderDepth), "depth"}
	weightHeaders = []string{normalizeHeader(HeaderSurfaceWeight), "surface_weight"}
)

// normalizeHeader folds a header cell so "Surface Weight (lbs)" and
// "surface_weight_lbs" compare equal.
func normalizeHeader(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.ReplaceAll(value, " ", "_")
	value = strings.ReplaceAll(value, "(", "")
	return strings.ReplaceAll(value, ")", "")
}

// ParseClipboard parses tab separated text copied from a spreadsheet.
func ParseClipboard(text string) ([]automation.InputRow, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoRows
	}
	records, err := readDelimited(strings.NewReader(text), '\t')
	if err != nil {
		return nil, err
	}
	return RowsFromRecords(records)
}

// RowsFromRecords maps raw cells to input rows. When the first record names
// both input columns it is treated as a header and columns are matched by
// name; otherwise depth is the first column and surface weight the second.
// Cells are trimmed and rows with no values are skipped.
func RowsFromRecords(records [][]string) ([]automation.InputRow, error) {
	if len(records) == 0 {
		return nil, ErrNoRows
	}
	depthCol, weightCol := 0, 1
	data := records
	if d, w, ok := headerColumns(records[0]); ok {
		depthCol, weightCol = d, w
		data = records[1:]
	}

	var rows []automation.InputRow
	for _, record := range data {
		row := automation.InputRow{
			Depth:         cell(record, depthCol),
			SurfaceWeight: cell(record, weightCol),
		}
		if row.Depth == "" && row.SurfaceWeight == "" {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows, nil
}

// FormatResults renders results the way "copy results" puts them on the
// clipboard: one value per line, no header.
func FormatResults(results []automation.ResultRow) string {
	var b strings.Builder
	for _, r := range results {
		b.WriteString(r.Value)
		b.WriteByte('\n')
	}
	return b.String()
}

func headerColumns(record []string) (depth, weight int, ok bool) {
	depth, weight = -1, -1
	for i, value := range record {
		name := normalizeHeader(value)
		if depth < 0 && contains(depthHeaders, name) {
			depth = i
		}
		if weight < 0 && contains(weightHeaders, name) {
			weight = i
		}
	}
	return depth, weight, depth >= 0 && weight >= 0
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func readDelimited(r io.Reader, comma rune) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("tabular: parse: %w", err)
	}
	return records, nil
}

// resultRecords lays rows and results side by side under the file header.
// Rows without a result yet get an empty result cell.
func resultRecords(rows []automation.InputRow, results []automation.ResultRow) [][]string {
	n := len(rows)
	if len(results) > n {
		n = len(results)
	}
	records := make([][]string, 0, n+1)
	records = append(records, []string{HeaderDepth, HeaderSurfaceWeight, HeaderResult})
	for i := 0; i < n; i++ {
		var rec [3]string
		if i < len(rows) {
			rec[0], rec[1] = rows[i].Depth, rows[i].SurfaceWeight
		}
		if i < len(results) {
			rec[2] = results[i].Value
		}
		records = append(records, rec[:])
	}
	return records
}
