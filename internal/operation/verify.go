package operation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/thoas/go-funk"

	"github.com/digitalcollections/bulkops/internal/filestore"
	"github.com/digitalcollections/bulkops/internal/parser"
	"github.com/digitalcollections/bulkops/internal/report"
	"github.com/digitalcollections/bulkops/internal/repository"
	"github.com/digitalcollections/bulkops/internal/schema"
	"github.com/digitalcollections/bulkops/internal/store/model"
)

// Verify checks the operation's spreadsheet and configuration before any row
// runs: headers must mean something, options must carry legal values, files
// must exist, and object references must point somewhere plausible. Problems
// come back as report errors so verification and run-time failures share one
// reporting path.
func (s *Service) Verify(ctx context.Context, op *model.Operation) ([]report.Error, error) {
	opts, err := s.files.LoadOptions(ctx, op.Branch)
	if err != nil {
		return nil, err
	}
	sheet, err := s.files.LoadSpreadsheet(ctx, op.Branch)
	if err != nil {
		return nil, err
	}

	var problems []report.Error
	problems = append(problems, s.verifyOptions(op, opts)...)
	problems = append(problems, s.verifyHeaders(sheet, opts)...)
	problems = append(problems, s.verifyFiles(sheet, opts)...)
	problems = append(problems, s.verifyReferences(ctx, sheet, opts)...)
	if op.Type == model.OperationTypeUpdate {
		problems = append(problems, s.verifyUpdateTargets(ctx, sheet, opts)...)
	}
	return problems, nil
}

func (s *Service) verifyOptions(op *model.Operation, opts filestore.Options) []report.Error {
	var problems []report.Error

	if opts.Type != "" && opts.Type != model.OperationTypeIngest && opts.Type != model.OperationTypeUpdate {
		problems = append(problems, report.NewOptionError(report.KindInvalidConfigValue, "type", opts.Type))
	}
	if opts.Visibility != "" && parser.FormatVisibility(opts.Visibility) == "" {
		problems = append(problems, report.NewOptionError(report.KindInvalidConfigValue, "visibility", opts.Visibility))
	}
	if opts.WorkType != "" && !funk.ContainsString(s.workTypes, opts.WorkType) {
		problems = append(problems, report.NewOptionError(report.KindInvalidConfigValue, "work_type", opts.WorkType))
	}
	if opts.ReferenceIdentifier != "" {
		if parser.FormatReferenceIdentifier(opts.ReferenceIdentifier, func(name string) bool {
			_, ok := s.schema.Field(name)
			return ok
		}) == "" {
			problems = append(problems, report.NewOptionError(report.KindInvalidConfigValue, "reference_identifier", opts.ReferenceIdentifier))
		}
	}
	if op.Type == model.OperationTypeUpdate && opts.UpdateIdentifier == "" {
		problems = append(problems, report.NewOptionError(report.KindMissingRequiredOption, "update_identifier", ""))
	}
	return problems
}

func (s *Service) verifyHeaders(sheet *filestore.Spreadsheet, opts filestore.Options) []report.Error {
	if len(sheet.Headers) == 0 {
		return []report.Error{{Kind: report.KindCannotGetHeaders, Message: "spreadsheet has no header row"}}
	}

	ignored := map[string]bool{}
	for _, h := range opts.IgnoredHeaders {
		ignored[schema.NormalizeHeader(h)] = true
	}
	if opts.UpdateIdentifier != "" {
		ignored[schema.NormalizeHeader(opts.UpdateIdentifier)] = true
	}

	var problems []report.Error
	for _, header := range sheet.Headers {
		if strings.TrimSpace(header) == "" || ignored[schema.NormalizeHeader(header)] {
			continue
		}
		if !parser.RecognizedHeader(s.schema, header) {
			problems = append(problems, report.Error{
				Kind:    report.KindBadHeader,
				Field:   header,
				Message: fmt.Sprintf("header %q does not match any known field", header),
			})
		}
	}
	return problems
}

func (s *Service) verifyFiles(sheet *filestore.Spreadsheet, opts filestore.Options) []report.Error {
	var problems []report.Error
	for i, row := range sheet.Rows {
		for j, header := range row.Headers {
			if j >= len(row.Values) || strings.TrimSpace(row.Values[j]) == "" {
				continue
			}
			if parser.FileFieldAction(s.schema, header) != "add" {
				continue
			}
			for _, name := range parser.SplitValues(row.Values[j]) {
				path := parser.MediaPath(s.mediaRoot, opts.FilePrefix, name)
				if _, err := os.Stat(path); err != nil {
					problems = append(problems, report.NewFileError(
						filestore.VisibleRowNumber(i), path,
						fmt.Sprintf("cannot find file: %s", path)))
				}
			}
		}
	}
	return problems
}

// verifyReferences checks id-scheme and row-scheme relationship targets. Only
// references that can never resolve are flagged here; title and identifier
// targets may legitimately point at objects other rows will create.
func (s *Service) verifyReferences(ctx context.Context, sheet *filestore.Spreadsheet, opts filestore.Options) []report.Error {
	defaultScheme := opts.ReferenceIdentifier
	if defaultScheme == "" {
		defaultScheme = model.IdentifierTypeID
	}

	var problems []report.Error
	for i, row := range sheet.Rows {
		for j, header := range row.Headers {
			if j >= len(row.Values) || strings.TrimSpace(row.Values[j]) == "" {
				continue
			}
			kind, headerScheme, ok := parser.RelationshipHeader(header)
			if !ok || kind == model.RelationshipOrder || kind == model.RelationshipCollection {
				continue
			}
			scheme := defaultScheme
			if headerScheme != "" {
				scheme = headerScheme
			}

			value := parser.UnescapeCSV(strings.TrimSpace(row.Values[j]))
			idType, target := parser.InterpretTarget(scheme, value, i, sheet, header)
			switch idType {
			case model.IdentifierTypeID:
				_, err := s.repo.FindByID(ctx, target)
				if err != nil && (errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrGone)) {
					problems = append(problems, report.NewObjectError(
						report.KindBadObjectReference, filestore.VisibleRowNumber(i), target,
						fmt.Sprintf("cannot find object %q", target)))
				}
			case model.IdentifierTypeRow:
				n, err := strconv.Atoi(target)
				if err != nil || n < 0 || n >= len(sheet.Rows) {
					problems = append(problems, report.NewObjectError(
						report.KindBadObjectReference, filestore.VisibleRowNumber(i), value,
						fmt.Sprintf("row reference %q is outside the spreadsheet", value)))
				}
			}
		}
	}
	return problems
}

func (s *Service) verifyUpdateTargets(ctx context.Context, sheet *filestore.Spreadsheet, opts filestore.Options) []report.Error {
	if opts.UpdateIdentifier == "" {
		return nil
	}
	norm := schema.NormalizeHeader(opts.UpdateIdentifier)
	column := -1
	for j, header := range sheet.Headers {
		if schema.NormalizeHeader(header) == norm {
			column = j
			break
		}
	}
	if column < 0 {
		return []report.Error{{
			Kind:    report.KindNoWorkIDField,
			Field:   opts.UpdateIdentifier,
			Message: fmt.Sprintf("spreadsheet has no %q column to identify works", opts.UpdateIdentifier),
		}}
	}

	fieldName := opts.UpdateIdentifier
	if canonical, ok := schema.MatchFieldName(s.schema, opts.UpdateIdentifier); ok {
		fieldName = canonical
	}

	var problems []report.Error
	for i, row := range sheet.Rows {
		if row.Blank() || column >= len(row.Values) {
			continue
		}
		value := strings.TrimSpace(row.Values[column])
		if value == "" {
			continue
		}

		if norm == "id" {
			if _, err := s.repo.FindByID(ctx, value); err != nil {
				problems = append(problems, report.NewObjectError(
					report.KindCannotFindWork, filestore.VisibleRowNumber(i), value,
					fmt.Sprintf("cannot find work %q", value)))
			}
			continue
		}

		hits, err := s.repo.SearchByField(ctx, fieldName, value, 2)
		if err != nil {
			continue
		}
		switch len(hits) {
		case 0:
			problems = append(problems, report.NewObjectError(
				report.KindCannotFindWork, filestore.VisibleRowNumber(i), value,
				fmt.Sprintf("cannot find work with %s %q", fieldName, value)))
		case 1:
		default:
			problems = append(problems, report.Error{
				Kind:         report.KindIDNotUnique,
				RowNumber:    filestore.VisibleRowNumber(i),
				OptionName:   opts.UpdateIdentifier,
				OptionValues: value,
				Message:      fmt.Sprintf("identifier %q matches more than one work", value),
			})
		}
	}
	return problems
}
