package tabular

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kingrea/buckling-automation/internal/automation"
)

func TestParseClipboardWithHeader(t *testing.T) {
	text := "Surface Weight (lbs)\tDepth (ft)\n138661.3\t5374\n\t\n 135469.6 \t 5206 \r\n"
	rows, err := ParseClipboard(text)
	if err != nil {
		t.Fatalf("ParseClipboard: %v", err)
	}
	want := []automation.InputRow{
		{Depth: "5374", SurfaceWeight: "138661.3"},
		{Depth: "5206", SurfaceWeight: "135469.6"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %+v, want %+v", rows, want)
	}
}

func TestParseClipboardWithoutHeader(t *testing.T) {
	rows, err := ParseClipboard("5374\t138661.3\n5206\n")
	if err != nil {
		t.Fatalf("ParseClipboard: %v", err)
	}
	want := []automation.InputRow{
		{Depth: "5374", SurfaceWeight: "138661.3"},
		{Depth: "5206", SurfaceWeight: ""},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %+v, want %+v", rows, want)
	}
}

func TestParseClipboardShortHeaderNames(t *testing.T) {
	rows, err := ParseClipboard("depth\tsurface_weight\n100\t200\n")
	if err != nil {
		t.Fatalf("ParseClipboard: %v", err)
	}
	if len(rows) != 1 || rows[0].Depth != "100" || rows[0].SurfaceWeight != "200" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestParseClipboardEmpty(t *testing.T) {
	for _, text := range []string{"", "  \n", "\t\n\t\n"} {
		if _, err := ParseClipboard(text); !errors.Is(err, ErrNoRows) {
			t.Fatalf("ParseClipboard(%q) error = %v, want ErrNoRows", text, err)
		}
	}
}

func TestFormatResults(t *testing.T) {
	got := FormatResults([]automation.ResultRow{{Value: "10.2"}, {Value: "11.7"}})
	if got != "10.2\n11.7\n" {
		t.Fatalf("FormatResults = %q", got)
	}
	if FormatResults(nil) != "" {
		t.Fatalf("expected empty output for no results")
	}
}

func TestWriteAndReadTextFiles(t *testing.T) {
	dir := t.TempDir()
	rows := []automation.InputRow{
		{Depth: "5374", SurfaceWeight: "138661.3"},
		{Depth: "5206", SurfaceWeight: "135469.6"},
	}
	results := []automation.ResultRow{{Value: "10.2"}}

	for _, name := range []string{"out.tsv", "out.csv"} {
		path := filepath.Join(dir, "nested", name)
		if err := WriteResultsFile(path, rows, results); err != nil {
			t.Fatalf("WriteResultsFile(%s): %v", name, err)
		}
		back, err := ReadRowsFile(path)
		if err != nil {
			t.Fatalf("ReadRowsFile(%s): %v", name, err)
		}
		if !reflect.DeepEqual(back, rows) {
			t.Fatalf("%s round trip = %+v", name, back)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "nested", "out.csv"))
	if err != nil {
		t.Fatal(err)
	}
	want := "Depth (ft),Surface Weight (lbs),WOB Buckling\n5374,138661.3,10.2\n5206,135469.6,\n"
	if string(data) != want {
		t.Fatalf("csv = %q, want %q", data, want)
	}
}

func TestWriteResultsWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.xlsx")
	rows := []automation.InputRow{{Depth: "5374", SurfaceWeight: "138661.3"}}
	results := []automation.ResultRow{{Value: "10.2"}}
	if err := WriteResultsFile(path, rows, results); err != nil {
		t.Fatalf("WriteResultsFile: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	if sheets := f.GetSheetList(); len(sheets) != 1 || sheets[0] != "Results" {
		t.Fatalf("sheets = %v", sheets)
	}
	if v, _ := f.GetCellValue("Results", "C1"); v != HeaderResult {
		t.Fatalf("C1 = %q", v)
	}
	if v, _ := f.GetCellValue("Results", "C2"); v != "10.2" {
		t.Fatalf("C2 = %q", v)
	}

	back, err := ReadRowsFile(path)
	if err != nil {
		t.Fatalf("ReadRowsFile: %v", err)
	}
	if !reflect.DeepEqual(back, rows) {
		t.Fatalf("workbook rows = %+v", back)
	}
}

func TestUnsupportedExtension(t *testing.T) {
	if _, err := ReadRowsFile("rows.json"); err == nil {
		t.Fatalf("expected unsupported file type error")
	}
}

func TestMemoryClipboard(t *testing.T) {
	var cb Clipboard = &MemoryClipboard{}
	if err := cb.WriteText("10.2\n"); err != nil {
		t.Fatal(err)
	}
	if text, _ := cb.ReadText(); text != "10.2\n" {
		t.Fatalf("text = %q", text)
	}
}
