package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/digitalcollections/bulkops/internal/filestore"
	"github.com/digitalcollections/bulkops/internal/store/model"
)

var intRe = regexp.MustCompile(`\A[-+]?[0-9]+\z`)

// InterpretTarget decodes a relationship cell value into an addressing scheme
// and a target locator. The "prefix:value" notation in the cell overrides the
// scheme passed in. Under the "row" scheme three shorthands apply:
//
//   - a negative integer N addresses N rows before the current row
//   - a positive integer is a spreadsheet-visible row number and is shifted
//     by the header offset to a zero-based data row index
//   - any token containing "prev" addresses the nearest earlier row whose own
//     copy of this column is blank
//
// Row targets are returned as decimal strings holding the zero-based data row
// index.
func InterpretTarget(identifierType, value string, rowIndex int, sheet *filestore.Spreadsheet, field string) (string, string) {
	if split := strings.SplitN(value, ":", 2); len(split) == 2 && split[0] != "" && split[1] != "" {
		identifierType = strings.ToLower(strings.TrimSpace(split[0]))
		value = strings.TrimSpace(split[1])
	}

	if identifierType != model.IdentifierTypeRow {
		return identifierType, value
	}

	switch {
	case intRe.MatchString(value):
		n, _ := strconv.Atoi(value)
		if n < 0 {
			return identifierType, strconv.Itoa(rowIndex + n)
		}
		if n > 0 {
			return identifierType, strconv.Itoa(n - filestore.RowOffset)
		}
	case strings.Contains(strings.ToLower(value), "prev"):
		return identifierType, strconv.Itoa(FindPreviousParent(sheet, rowIndex, field))
	}
	return identifierType, value
}

// FindPreviousParent returns the index of the most recent preceding row whose
// own copy of the field is blank, or -1 when every earlier row declares one.
func FindPreviousParent(sheet *filestore.Spreadsheet, rowIndex int, field string) int {
	for i := rowIndex - 1; i >= 0; i-- {
		value, _ := sheet.Rows[i].Get(field)
		if strings.TrimSpace(value) == "" {
			return i
		}
	}
	return -1
}

// FormatReferenceIdentifier normalizes the value of a reference-identifier
// option column into one of the addressing schemes. Schema field names pass
// through as search fields; row-number aliases collapse to "row".
func FormatReferenceIdentifier(value string, isSchemaField func(string) bool) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == model.IdentifierTypeID {
		return model.IdentifierTypeID
	}
	if isSchemaField != nil && isSchemaField(trimmed) {
		return trimmed
	}
	switch strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(trimmed)) {
	case "row", "rownum", "rownumber":
		return model.IdentifierTypeRow
	}
	return ""
}
