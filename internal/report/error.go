package report

import "fmt"

// Kind tags an Error with one of the closed set of failure categories. Kinds
// drive both report grouping and the per-kind rendering in render.go.
type Kind string

const (
	KindMismatchedAuthTerms   Kind = "mismatched_auth_terms"
	KindUploadError           Kind = "upload_error"
	KindNoWorkIDField         Kind = "no_work_id_field"
	KindJobFailure            Kind = "job_failure"
	KindMissingRequiredOption Kind = "missing_required_option"
	KindInvalidConfigValue    Kind = "invalid_config_value"
	KindCannotGetHeaders      Kind = "cannot_get_headers"
	KindBadHeader             Kind = "bad_header"
	KindCannotRetrieveLabel   Kind = "cannot_retrieve_label"
	KindCannotRetrieveURL     Kind = "cannot_retrieve_url"
	KindBadObjectReference    Kind = "bad_object_reference"
	KindCannotFindFile        Kind = "cannot_find_file"
	KindCannotFindWork        Kind = "cannot_find_work"
	KindRelationshipError     Kind = "relationship_error"
	KindIngestFailure         Kind = "ingest_failure"
	KindIDNotUnique           Kind = "id_not_unique"
)

// Error is a tagged error value accumulated during a run. It is not a
// persisted entity: errors live in memory until rendered into a report.
type Error struct {
	Kind         Kind
	RowNumber    int // spreadsheet-visible row number, 0 when not row scoped
	ObjectID     string
	Message      string
	OptionName   string
	OptionValues string
	Field        string
	File         string
	URL          string
}

func (e Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func NewRowError(kind Kind, row int, message string) Error {
	return Error{Kind: kind, RowNumber: row, Message: message}
}

func NewOptionError(kind Kind, optionName, optionValues string) Error {
	return Error{Kind: kind, OptionName: optionName, OptionValues: optionValues}
}

func NewURLError(kind Kind, row int, url, message string) Error {
	return Error{Kind: kind, RowNumber: row, URL: url, Message: message}
}

func NewFileError(row int, file, message string) Error {
	return Error{Kind: KindCannotFindFile, RowNumber: row, File: file, Message: message}
}

func NewObjectError(kind Kind, row int, objectID, message string) Error {
	return Error{Kind: kind, RowNumber: row, ObjectID: objectID, Message: message}
}
