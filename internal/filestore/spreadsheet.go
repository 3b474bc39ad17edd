package filestore

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Row is one data line of the spreadsheet: ordered header→value pairs.
// Duplicate headers are preserved here; the parser merges them.
type Row struct {
	Headers []string
	Values  []string
}

// Get returns the first value under the given header.
func (r Row) Get(header string) (string, bool) {
	for i, h := range r.Headers {
		if h == header && i < len(r.Values) {
			return r.Values[i], true
		}
	}
	return "", false
}

// Blank reports whether the row carries no values at all.
func (r Row) Blank() bool {
	for _, v := range r.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

type Spreadsheet struct {
	Headers []string
	Rows    []Row
}

// VisibleRowNumber converts a zero-based data row index into the number the
// spreadsheet author sees.
func VisibleRowNumber(index int) int {
	return index + RowOffset
}

// ParseCSV decodes metadata.csv content. The first record is the header line;
// records may be ragged.
func ParseCSV(content []byte) (*Spreadsheet, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("spreadsheet has no header line")
	}
	return fromRecords(records), nil
}

// ParseXLSX decodes an uploaded workbook; only the first sheet is read.
func ParseXLSX(content []byte) (*Spreadsheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("spreadsheet has no header line")
	}
	return fromRecords(records), nil
}

func fromRecords(records [][]string) *Spreadsheet {
	headers := records[0]
	sheet := &Spreadsheet{Headers: headers}
	for _, record := range records[1:] {
		row := Row{Headers: headers, Values: record}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet
}

// MarshalCSV renders the spreadsheet back into metadata.csv content.
func MarshalCSV(s *Spreadsheet) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(s.Headers); err != nil {
		return nil, err
	}
	for _, row := range s.Rows {
		if err := w.Write(row.Values); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// NewTemplate builds an empty draft spreadsheet with one column per field and
// one row per pre-selected object id (the id column is first, when present).
func NewTemplate(fields []string, objectIDs []string) *Spreadsheet {
	headers := append([]string{"id"}, fields...)
	sheet := &Spreadsheet{Headers: headers}
	for _, id := range objectIDs {
		values := make([]string, len(headers))
		values[0] = id
		sheet.Rows = append(sheet.Rows, Row{Headers: headers, Values: values})
	}
	return sheet
}
