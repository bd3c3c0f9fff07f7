package roster

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format identifies a spreadsheet file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// utf8BOM is stripped from the start of CSV files exported by spreadsheet
// applications.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectFormat picks a [Format] from the file name's extension. It returns
// [ErrUnrecognizedFormat] for anything other than .csv and .xlsx.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognizedFormat, filepath.Base(filename))
}

// ParseCSV reads every record from a CSV stream. Both comma and semicolon
// separated files are accepted; the separator is guessed from the first line.
// Records may have varying widths.
func ParseCSV(r io.Reader) ([][]string, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	// Peek returns what is buffered plus an error when the file is shorter
	// than the buffer, which is fine for sniffing.
	head, _ := br.Peek(br.Size())
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	if bytes.Count(head, []byte{';'}) > bytes.Count(head, []byte{','}) {
		cr.Comma = ';'
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("roster: parse csv: %w", err)
	}
	return rows, nil
}

// ParseXLSX reads every row of the first worksheet of an XLSX workbook.
func ParseXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("roster: open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyRoster
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("roster: read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// ParseRows reads raw rows from r in the given format.
func ParseRows(r io.Reader, format Format) ([][]string, error) {
	switch format {
	case FormatCSV:
		return ParseCSV(r)
	case FormatXLSX:
		return ParseXLSX(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnrecognizedFormat, format)
}

// Read parses a spreadsheet named filename from r and builds a Roster from it.
// The format is chosen from the file extension.
func Read(r io.Reader, filename string) (*Roster, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	rows, err := ParseRows(r, format)
	if err != nil {
		return nil, err
	}
	ros, err := Load(rows)
	if err != nil {
		return nil, err
	}
	return ros.WithSource(filepath.Base(filename)), nil
}

// LoadFile reads a roster from a CSV or XLSX file on disk.
func LoadFile(path string) (*Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("roster: open %q: %w", path, err)
	}
	defer f.Close()

	ros, err := Read(f, path)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", path, err)
	}
	return ros, nil
}
