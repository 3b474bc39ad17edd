package parser

import (
	"strings"
	"unicode/utf8"
)

// Separator joins multiple values inside one cell. A backslash escapes it.
const Separator = ";"

// SplitValues splits a cell on every unescaped separator, then unescapes the
// separator in each piece and trims it.
func SplitValues(value string) []string {
	var parts []string
	var current strings.Builder
	escaped := false
	for _, r := range value {
		switch {
		case escaped:
			if string(r) != Separator {
				current.WriteRune('\\')
			}
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case string(r) == Separator:
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if escaped {
		current.WriteRune('\\')
	}
	parts = append(parts, strings.TrimSpace(current.String()))

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// UnescapeCSV removes the backslash escapes spreadsheet authors use around
// quotes, commas and semicolons.
func UnescapeCSV(value string) string {
	replacer := strings.NewReplacer(`\'`, `'`, `\"`, `"`, `\;`, `;`, `\,`, `,`)
	return replacer.Replace(value)
}

// sanitizeUTF8 replaces invalid byte sequences with underscores so values are
// always safe to index.
func sanitizeUTF8(value string) string {
	if utf8.ValidString(value) {
		return value
	}
	var b strings.Builder
	for _, r := range value {
		if r == utf8.RuneError {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Visibility values understood by the object repository.
const (
	VisibilityOpen        = "open"
	VisibilityInstitution = "institution"
	VisibilityRestricted  = "restricted"
)

// FormatVisibility maps the aliases spreadsheet authors use onto the
// canonical visibility values. Unknown aliases return "".
func FormatVisibility(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "public", "open", "true":
		return VisibilityOpen
	case "campus", "institution", "ucsc":
		return VisibilityInstitution
	case "restricted", "private", "closed", "false":
		return VisibilityRestricted
	}
	return ""
}

// FormatWorkType normalizes a declared work type into class-name form
// (e.g. "audio work" -> "AudioWork") and validates it against the known
// types; unknown declarations fall back through the operation default to the
// generic default.
func FormatWorkType(value string, knownTypes []string, operationDefault string) string {
	formatted := toClassName(value)
	for _, t := range knownTypes {
		if t == formatted {
			return formatted
		}
	}
	if operationDefault != "" {
		return operationDefault
	}
	return DefaultWorkType
}

// DefaultWorkType is the generic fallback object class.
const DefaultWorkType = "Work"

func toClassName(value string) string {
	var b strings.Builder
	for _, word := range strings.FieldsFunc(value, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}) {
		b.WriteString(strings.ToUpper(word[:1]))
		if len(word) > 1 {
			b.WriteString(word[1:])
		}
	}
	return b.String()
}
