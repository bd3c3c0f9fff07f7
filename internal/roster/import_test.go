package roster_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/RyderBlack/Ekho/internal/roster"
)

// xlsxFixture builds an in-memory workbook whose first sheet holds rows.
func xlsxFixture(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("CoordinatesToCellName: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		filename string
		want     roster.Format
		wantErr  bool
	}{
		{"promo.csv", roster.FormatCSV, false},
		{"PROMO.CSV", roster.FormatCSV, false},
		{"/tmp/upload/promo.xlsx", roster.FormatXLSX, false},
		{"promo.xls", "", true},
		{"promo.ods", "", true},
		{"promo", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.filename, func(t *testing.T) {
			t.Parallel()
			got, err := roster.DetectFormat(tc.filename)
			if tc.wantErr {
				if !errors.Is(err, roster.ErrUnrecognizedFormat) {
					t.Fatalf("err = %v, want ErrUnrecognizedFormat", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("format = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseCSV(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
		want  [][]string
	}{
		{
			name:  "comma separated",
			input: "first,last\nJean,Dupont\n",
			want:  [][]string{{"first", "last"}, {"Jean", "Dupont"}},
		},
		{
			name:  "semicolon separated",
			input: "Prénom;Nom\nMarie;Curie\n",
			want:  [][]string{{"Prénom", "Nom"}, {"Marie", "Curie"}},
		},
		{
			name:  "byte order mark stripped",
			input: "\xEF\xBB\xBFfirst,last\nJean,Dupont\n",
			want:  [][]string{{"first", "last"}, {"Jean", "Dupont"}},
		},
		{
			name:  "ragged rows allowed",
			input: "first,last\nJean\nMarie,Curie,extra\n",
			want:  [][]string{{"first", "last"}, {"Jean"}, {"Marie", "Curie", "extra"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := roster.ParseCSV(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("rows = %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if strings.Join(got[i], "|") != strings.Join(tc.want[i], "|") {
					t.Errorf("row %d = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestParseXLSX_FirstSheet(t *testing.T) {
	t.Parallel()
	data := xlsxFixture(t, [][]any{
		{"Prénom", "Nom"},
		{"Jean", "Dupont"},
		{"Marie", "Curie"},
	})

	rows, err := roster.ParseXLSX(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	if rows[2][0] != "Marie" || rows[2][1] != "Curie" {
		t.Errorf("rows[2] = %v, want [Marie Curie]", rows[2])
	}
}

func TestParseXLSX_Garbage(t *testing.T) {
	t.Parallel()
	if _, err := roster.ParseXLSX(strings.NewReader("not a zip file")); err == nil {
		t.Fatal("expected error for invalid workbook")
	}
}

func TestRead_CSV(t *testing.T) {
	t.Parallel()
	r, err := roster.Read(strings.NewReader("first,last\nJean,Dupont\n"), "promo.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if r.Source() != "promo.csv" {
		t.Errorf("Source() = %q, want promo.csv", r.Source())
	}
}

func TestRead_XLSX(t *testing.T) {
	t.Parallel()
	data := xlsxFixture(t, [][]any{{"first", "last"}, {"Ada", "Lovelace"}})
	r, err := roster.Read(bytes.NewReader(data), "promo.xlsx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := r.Entries(); len(got) != 1 || got[0].LastName != "Lovelace" {
		t.Errorf("entries = %v, want [{Ada Lovelace}]", got)
	}
}

func TestRead_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		filename string
		wantErr  error
	}{
		{"unknown extension", "first,last\nJean,Dupont\n", "promo.txt", roster.ErrUnrecognizedFormat},
		{"single column", "name\nJean Dupont\n", "promo.csv", roster.ErrMalformedRoster},
		{"header only", "first,last\n", "promo.csv", roster.ErrEmptyRoster},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := roster.Read(strings.NewReader(tc.input), tc.filename)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "promo.csv")
	if err := os.WriteFile(path, []byte("first,last\nJean,Dupont\nMarie,Curie\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r, err := roster.LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	if _, err := roster.LoadFile(filepath.Join(dir, "missing.csv")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v, want os.ErrNotExist", err)
	}
}
