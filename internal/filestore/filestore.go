// Package filestore is the boundary to the version-controlled store that
// holds each operation's spreadsheet and configuration on its own branch.
package filestore

import (
	"context"
	"errors"
)

const (
	SpreadsheetFilename = "metadata.csv"
	OptionsFilename     = "configuration.yml"
	ErrorsDir           = "errors"

	// RowOffset translates spreadsheet-visible row numbers (1-based, with a
	// header line) into zero-based data row indexes.
	RowOffset = 2

	// MainBranch holds the merged state an operation reads once it is running.
	MainBranch = "master"
)

// ErrMergeRejected marks an approval merge refused by store policy, as
// opposed to an unexpected transport or storage failure.
var ErrMergeRejected = errors.New("merge rejected by store policy")

// Options is the structured content of an operation's configuration.yml.
type Options struct {
	Name                string   `json:"name,omitempty"`
	Type                string   `json:"type,omitempty"`
	WorkType            string   `json:"work_type,omitempty"`
	Visibility          string   `json:"visibility,omitempty"`
	ReferenceIdentifier string   `json:"reference_identifier,omitempty"`
	UpdateIdentifier    string   `json:"update_identifier,omitempty"`
	FileMethod          string   `json:"file_method,omitempty"`
	FilePrefix          string   `json:"file_prefix,omitempty"`
	Notifications       []string `json:"notifications,omitempty"`
	IgnoredHeaders      []string `json:"ignored_headers,omitempty"`
	MetadataInheritance string   `json:"metadata_inheritance,omitempty"`
	IgnoreLabels        bool     `json:"ignore_labels,omitempty"`
	ImportLabels        bool     `json:"import_labels,omitempty"`
}

type Store interface {
	CreateBranch(ctx context.Context, name string) error
	DeleteBranch(ctx context.Context, name string) error
	ListBranchNames(ctx context.Context) ([]string, error)

	LoadSpreadsheet(ctx context.Context, branch string) (*Spreadsheet, error)
	UpdateSpreadsheet(ctx context.Context, branch string, content []byte, message string) error
	LoadOptions(ctx context.Context, branch string) (Options, error)
	UpdateOptions(ctx context.Context, branch string, opts Options, message string) error

	// WriteErrorReport stores a rendered report under the branch's errors/
	// path and returns the report file name used to build reference URLs.
	WriteErrorReport(ctx context.Context, branch, name, content string) (string, error)

	// CreateApprovalRequest opens a request to merge the branch into the main
	// branch and returns its id.
	CreateApprovalRequest(ctx context.Context, branch, message string) (int, error)
	// MergeApprovalRequest merges an open request. A policy refusal is
	// reported as ErrMergeRejected; anything else is unexpected.
	MergeApprovalRequest(ctx context.Context, id int, message string) error
}
