// Package schema holds the metadata schema registry injected into the parser
// and resolver. The registry is read only: it answers which fields exist,
// which of them take controlled vocabulary values, and how a free-form
// spreadsheet header maps onto a canonical field name.
package schema

import (
	"regexp"
	"strings"
)

type Vocabulary struct {
	Authority    string `json:"authority"`
	Subauthority string `json:"subauthority"`
}

type Field struct {
	Name         string       `json:"name"`
	Controlled   bool         `json:"controlled"`
	Multiple     bool         `json:"multiple"`
	Vocabularies []Vocabulary `json:"vocabularies,omitempty"`
}

// LocalSubauthority returns the subauthority of the first local vocabulary
// attached to the field. There is only ever one local authority per field.
func (f Field) LocalSubauthority() (string, bool) {
	for _, voc := range f.Vocabularies {
		if strings.EqualFold(voc.Authority, "local") {
			return voc.Subauthority, true
		}
	}
	return "", false
}

type Registry interface {
	Field(name string) (Field, bool)
	AllFields() []Field
	ControlledFieldNames() []string
}

type StaticRegistry struct {
	fields []Field
	index  map[string]Field
}

// Make sure we conform to Registry interface
var _ Registry = (*StaticRegistry)(nil)

func NewStaticRegistry(fields ...Field) *StaticRegistry {
	index := make(map[string]Field, len(fields))
	for _, f := range fields {
		index[normalizeKey(f.Name)] = f
	}
	return &StaticRegistry{fields: fields, index: index}
}

func (r *StaticRegistry) Field(name string) (Field, bool) {
	f, ok := r.index[normalizeKey(name)]
	return f, ok
}

func (r *StaticRegistry) AllFields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

func (r *StaticRegistry) ControlledFieldNames() []string {
	var names []string
	for _, f := range r.fields {
		if f.Controlled {
			names = append(names, f.Name)
		}
	}
	return names
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeKey reduces a header or field name to its comparison form:
// lowercased with all whitespace, punctuation and separators removed.
func normalizeKey(s string) string {
	return nonAlnumRe.ReplaceAllString(strings.ToLower(s), "")
}

var (
	attributesSuffixRe = regexp.MustCompile(`(?i)[_\s-]?attributes$`)
	labelSuffixRe      = regexp.MustCompile(`(?i)[_\s-]?label$`)
	removePrefixRe     = regexp.MustCompile(`(?i)^remove[_\s-]?`)
	deletePrefixRe     = regexp.MustCompile(`(?i)^delete[_\s-]?`)
)

// MatchFieldName maps a spreadsheet column header onto a canonical schema
// field name. The matching rules, in order:
//
//  1. strip a trailing "attributes" suffix
//  2. strip a trailing "label" suffix
//  3. strip a leading "remove" or "delete" prefix
//  4. compare the normalized remainder against every field name
//
// The second return value is false when no schema field matches.
func MatchFieldName(r Registry, header string) (string, bool) {
	name := attributesSuffixRe.ReplaceAllString(header, "")
	name = labelSuffixRe.ReplaceAllString(name, "")
	name = removePrefixRe.ReplaceAllString(name, "")
	name = deletePrefixRe.ReplaceAllString(name, "")

	key := normalizeKey(name)
	if key == "" {
		return "", false
	}
	for _, f := range r.AllFields() {
		if normalizeKey(f.Name) == key {
			return f.Name, true
		}
	}
	return "", false
}

// NormalizeHeader exposes the comparison form used by MatchFieldName so other
// components (option columns, ignore lists) compare headers the same way.
func NormalizeHeader(s string) string {
	return normalizeKey(s)
}
