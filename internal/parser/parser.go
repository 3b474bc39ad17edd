// Package parser turns one spreadsheet row into a structured change-set plus
// relationship declarations and typed parse errors. Interpretation never
// aborts a row: errors accumulate and the caller decides whether to submit
// the row.
package parser

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/thoas/go-funk"

	"github.com/digitalcollections/bulkops/internal/filestore"
	"github.com/digitalcollections/bulkops/internal/report"
	"github.com/digitalcollections/bulkops/internal/repository"
	"github.com/digitalcollections/bulkops/internal/schema"
	"github.com/digitalcollections/bulkops/internal/store/model"
	"github.com/digitalcollections/bulkops/internal/vocab"
)

// DefaultAdminSetTitle names the admin grouping bulk-created objects land in
// when none is declared.
const (
	DefaultAdminSetTitle = "Bulk Ingest Set"
	DefaultAdminSetID    = "admin_set/default"
)

var relationshipFields = []string{
	model.RelationshipParent,
	model.RelationshipChild,
	model.RelationshipCollection,
	model.RelationshipOrder,
	"next",
}

var collectionAliases = []string{"collection", "collectiontitle", "collectionname", "collectionid", "memberofcollection"}

var referenceIdentifierAliases = []string{
	"referenceidentifier", "referenceid", "refid",
	"referenceidentifiertype", "referenceidtype", "refidtype",
	"relationshipidentifier", "relationshipid",
	"relationshipidentifiertype", "relationshipidtype",
	"relid", "relidtype",
}

var (
	fileFieldWords  = []string{"file", "files", "filename", "filenames"}
	fileRemoveWords = []string{"remove", "delete"}
)

// ControlledValue is one resolved controlled-vocabulary assignment.
type ControlledValue struct {
	URL    string
	Remove bool
}

// ChangeSet is the structured output of row interpretation: everything the
// work job needs to create or update one object.
type ChangeSet struct {
	AdminSetID          string
	MetadataInheritance string
	Scalar              map[string][]string
	Controlled          map[string][]ControlledValue
	// ClearFields lists every multi-valued controlled field to wipe before
	// applying new values (full-replace updates).
	ClearFields     []string
	UploadedFileIDs []string
	RemovedFileIDs  []string
	CollectionIDs   []string
}

// RelationshipDecl is a declared relationship reference awaiting persistence
// by the caller.
type RelationshipDecl struct {
	Kind           string
	IdentifierType string
	Target         string
	// PreviousSiblingRow is the data row index of the previous row declaring
	// the same parent, or -1 when the chain breaks here.
	PreviousSiblingRow int
}

// Result carries everything interpretation produced for one row.
type Result struct {
	ChangeSet     ChangeSet
	Relationships []RelationshipDecl
	WorkType      string
	Visibility    string
	// ReferenceIdentifier is the addressing scheme the row declared for its
	// relationship targets, when it overrode the operation default.
	ReferenceIdentifier string
	Order               float64
	HasOrder            bool
	// ObjectID is the pre-existing object the row connected to (updates).
	ObjectID string
	Errors   []report.Error
}

// Uploader stages a local media file with the object repository and returns
// the uploaded-file id to reference from the change-set.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Config is the operation-level context interpretation runs under.
type Config struct {
	Options   filestore.Options
	Schema    schema.Registry
	WorkTypes []string
	MediaRoot string
	// ReplaceAll wipes all multi-valued controlled fields before an update.
	ReplaceAll bool
}

type Parser struct {
	cfg      Config
	repo     repository.Repository
	vocab    vocab.Service
	uploader Uploader
}

func New(cfg Config, repo repository.Repository, vocabSvc vocab.Service, uploader Uploader) *Parser {
	return &Parser{cfg: cfg, repo: repo, vocab: vocabSvc, uploader: uploader}
}

// Interpret parses one data row. rowIndex is the zero-based data row index;
// the sheet is needed for previous-row walks and file-set continuations.
// The interpretation order is fixed: relationship fields run before
// inheritance because containment can affect whether metadata is inherited,
// and type fields run before field interpretation because the declared type
// governs the schema.
func (p *Parser) Interpret(ctx context.Context, sheet *filestore.Spreadsheet, rowIndex int) Result {
	b := &builder{
		parser:   p,
		sheet:    sheet,
		rowIndex: rowIndex,
		result: Result{ChangeSet: ChangeSet{
			Scalar:     map[string][]string{},
			Controlled: map[string][]ControlledValue{},
		}},
	}
	b.row = mergeDuplicateColumns(sheet.Rows[rowIndex])

	b.setAdminSet(ctx)
	b.interpretRelationshipFields(ctx)
	b.setMetadataInheritance()
	b.interpretOptionFields()
	if p.cfg.ReplaceAll {
		b.addClearFields()
	}
	b.interpretFileFields(ctx)
	b.interpretControlledFields(ctx)
	b.interpretScalarFields()
	b.connectExistingObject(ctx)

	return b.result
}

// FileSetUploads interprets only the file columns of a continuation row,
// returning the uploaded file ids to fold into the preceding work.
func (p *Parser) FileSetUploads(ctx context.Context, sheet *filestore.Spreadsheet, rowIndex int) ([]string, []report.Error) {
	b := &builder{
		parser:   p,
		sheet:    sheet,
		rowIndex: rowIndex,
		result: Result{ChangeSet: ChangeSet{
			Scalar:     map[string][]string{},
			Controlled: map[string][]ControlledValue{},
		}},
	}
	b.row = mergeDuplicateColumns(sheet.Rows[rowIndex])
	b.interpretFileFields(ctx)
	return b.result.ChangeSet.UploadedFileIDs, b.result.Errors
}

// builder threads the accumulating result through the interpretation stages.
// The row itself is never mutated after duplicate-column merging.
type builder struct {
	parser   *Parser
	sheet    *filestore.Spreadsheet
	rowIndex int
	row      []cell
	result   Result
}

type cell struct {
	header string
	value  string
}

// mergeDuplicateColumns joins the values of identically named columns with
// the separator so later stages see one logical field per header.
func mergeDuplicateColumns(row filestore.Row) []cell {
	var cells []cell
	index := map[string]int{}
	for i, header := range row.Headers {
		if i >= len(row.Values) {
			break
		}
		value := row.Values[i]
		if at, seen := index[header]; seen {
			if value != "" {
				if cells[at].value != "" {
					cells[at].value += Separator + value
				} else {
					cells[at].value = value
				}
			}
			continue
		}
		index[header] = len(cells)
		cells = append(cells, cell{header: header, value: value})
	}
	return cells
}

func (b *builder) reportError(e report.Error) {
	b.result.Errors = append(b.result.Errors, e)
}

func (b *builder) visibleRow() int {
	return filestore.VisibleRowNumber(b.rowIndex)
}

func (b *builder) setAdminSet(ctx context.Context) {
	hits, err := b.parser.repo.SearchByField(ctx, "title", DefaultAdminSetTitle, 1)
	if err == nil && len(hits) > 0 {
		b.result.ChangeSet.AdminSetID = hits[0].ID
		return
	}
	b.result.ChangeSet.AdminSetID = DefaultAdminSetID
}

func (b *builder) setMetadataInheritance() {
	if v := b.parser.cfg.Options.MetadataInheritance; v != "" {
		b.result.ChangeSet.MetadataInheritance = v
	}
}

// RelationshipHeader reports the relationship kind a header declares, along
// with the addressing scheme when the header carries one ("parent id").
func RelationshipHeader(header string) (kind, identifierType string, ok bool) {
	if split := strings.FieldsFunc(header, func(r rune) bool {
		return r == ':' || r == '_' || r == '-' || r == ' '
	}); len(split) == 2 {
		if kind, ok := normalizeRelationshipField(split[0]); ok {
			return kind, strings.ToLower(split[1]), true
		}
	}
	kind, ok = normalizeRelationshipField(header)
	return kind, "", ok
}

func normalizeRelationshipField(field string) (string, bool) {
	norm := schema.NormalizeHeader(field)
	for _, rel := range relationshipFields {
		if norm == rel {
			if rel == "next" {
				rel = model.RelationshipOrder
			}
			return rel, true
		}
	}
	return "", false
}

// referenceIdentifier is the addressing scheme for the row's relationship
// targets. Relationship columns run before option columns, so the row's own
// declaration is scanned for here instead of read off the result.
func (b *builder) referenceIdentifier() string {
	for _, c := range b.row {
		if c.value == "" || c.value == c.header {
			continue
		}
		if funk.ContainsString(referenceIdentifierAliases, schema.NormalizeHeader(c.header)) {
			if v := FormatReferenceIdentifier(c.value, b.isSchemaField); v != "" {
				return v
			}
		}
	}
	if b.parser.cfg.Options.ReferenceIdentifier != "" {
		return b.parser.cfg.Options.ReferenceIdentifier
	}
	return model.IdentifierTypeID
}

func (b *builder) interpretRelationshipFields(ctx context.Context) {
	for _, c := range b.row {
		if c.value == "" || c.header == "" || c.value == c.header {
			continue
		}
		value := UnescapeCSV(c.value)
		identifierType := b.referenceIdentifier()

		field := c.header
		// a header like "parent id" or "parent:id" carries its own scheme
		if split := strings.FieldsFunc(field, func(r rune) bool {
			return r == ':' || r == '_' || r == '-' || r == ' '
		}); len(split) == 2 {
			if _, ok := normalizeRelationshipField(split[0]); ok {
				field = split[0]
				identifierType = strings.ToLower(split[1])
			}
		}

		if norm := schema.NormalizeHeader(field); funk.ContainsString(collectionAliases, norm) {
			b.addCollection(ctx, value)
			continue
		}

		kind, ok := normalizeRelationshipField(field)
		if !ok {
			continue
		}
		switch kind {
		case model.RelationshipOrder:
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				b.result.Order = f
				b.result.HasOrder = true
			} else {
				// an order header may also be a sibling reference
				b.addRelationshipDecl(ctx, model.RelationshipOrder, identifierType, c.header, value)
			}
		case model.RelationshipParent, model.RelationshipChild:
			b.addRelationshipDecl(ctx, kind, identifierType, c.header, value)
		}
	}
}

func (b *builder) addRelationshipDecl(ctx context.Context, kind, identifierType, header, value string) {
	idType, target := InterpretTarget(identifierType, value, b.rowIndex, b.sheet, header)

	decl := RelationshipDecl{
		Kind:               kind,
		IdentifierType:     idType,
		Target:             target,
		PreviousSiblingRow: -1,
	}

	// link the previous row as a sibling when it declares the same parent
	if kind == model.RelationshipParent && b.rowIndex > 0 {
		if prevValue, ok := b.sheet.Rows[b.rowIndex-1].Get(header); ok && strings.TrimSpace(prevValue) != "" {
			_, prevTarget := InterpretTarget(identifierType, UnescapeCSV(prevValue), b.rowIndex-1, b.sheet, header)
			if prevTarget == target || sameRelativeRowTarget(idType, value, prevValue) {
				decl.PreviousSiblingRow = b.rowIndex - 1
			}
		}
	}

	b.result.Relationships = append(b.result.Relationships, decl)
}

// sameRelativeRowTarget recognizes chains like "row:-1" repeated down a
// column, and "prev" shorthands, where the literal cell values match even
// though the computed targets differ per row.
func sameRelativeRowTarget(idType, value, prevValue string) bool {
	if idType != model.IdentifierTypeRow {
		return false
	}
	return strings.TrimSpace(value) == strings.TrimSpace(prevValue)
}

func (b *builder) addCollection(ctx context.Context, value string) {
	col, err := b.findOrCreateCollection(ctx, value)
	if err != nil {
		b.reportError(report.NewObjectError(report.KindBadObjectReference, b.visibleRow(), value, err.Error()))
		return
	}
	if col != nil {
		b.result.ChangeSet.CollectionIDs = append(b.result.ChangeSet.CollectionIDs, col.ID)
	}
}

func (b *builder) findOrCreateCollection(ctx context.Context, locator string) (*repository.Object, error) {
	if obj, err := b.parser.repo.FindByID(ctx, locator); err == nil {
		return obj, nil
	}
	hits, err := b.parser.repo.SearchByField(ctx, "title", locator, 2)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		return hits[len(hits)-1], nil
	}
	// a bare number that matched nothing is a dangling id, not a new title
	if n, err := strconv.Atoi(locator); err == nil && n > 0 {
		return nil, nil
	}
	return b.parser.repo.Create(ctx, &repository.Object{Type: repository.CollectionType, Title: locator})
}

func (b *builder) interpretOptionFields() {
	for _, c := range b.row {
		if c.value == "" || c.header == "" || c.value == c.header {
			continue
		}
		norm := schema.NormalizeHeader(c.header)
		switch {
		case norm == "visibility" || norm == "public":
			if v := FormatVisibility(c.value); v != "" {
				b.result.Visibility = v
			}
		case norm == "worktype" || norm == "model" || norm == "type":
			b.result.WorkType = FormatWorkType(c.value, b.parser.cfg.WorkTypes, b.parser.cfg.Options.WorkType)
		case funk.ContainsString(referenceIdentifierAliases, norm):
			if v := FormatReferenceIdentifier(c.value, b.isSchemaField); v != "" {
				b.result.ReferenceIdentifier = v
			}
		}
	}
}

func (b *builder) isSchemaField(name string) bool {
	_, ok := b.parser.cfg.Schema.Field(name)
	return ok
}

func (b *builder) addClearFields() {
	for _, f := range b.parser.cfg.Schema.AllFields() {
		if f.Controlled && f.Multiple {
			b.result.ChangeSet.ClearFields = append(b.result.ChangeSet.ClearFields, f.Name)
		}
	}
}

// FileFieldAction classifies a header as a file addition ("add"), a file
// removal ("remove"), or not a file field at all ("").
func FileFieldAction(reg schema.Registry, header string) string {
	if header == "" {
		return ""
	}
	if _, ok := reg.Field(header); ok {
		return ""
	}
	parts := strings.FieldsFunc(strings.ToLower(header), func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	isFile := false
	for _, part := range parts {
		if funk.ContainsString(fileFieldWords, part) {
			isFile = true
			break
		}
	}
	if !isFile {
		return ""
	}
	for _, part := range parts {
		if funk.ContainsString(fileRemoveWords, part) {
			return "remove"
		}
	}
	return "add"
}

func (b *builder) fileFieldAction(header string) string {
	return FileFieldAction(b.parser.cfg.Schema, header)
}

// RecognizedHeader reports whether a spreadsheet header means anything to the
// interpreter: a schema field, a relationship or collection column, an
// option column, a file column, or the id column.
func RecognizedHeader(reg schema.Registry, header string) bool {
	if strings.TrimSpace(header) == "" {
		return false
	}
	norm := schema.NormalizeHeader(header)
	if norm == "id" || norm == "visibility" || norm == "public" ||
		norm == "worktype" || norm == "model" || norm == "type" ||
		norm == "order" {
		return true
	}
	if funk.ContainsString(referenceIdentifierAliases, norm) || funk.ContainsString(collectionAliases, norm) {
		return true
	}

	field := header
	if split := strings.SplitN(field, ".", 2); len(split) == 2 {
		field = split[0]
	}
	if _, ok := schema.MatchFieldName(reg, field); ok {
		return true
	}

	if _, ok := normalizeRelationshipField(header); ok {
		return true
	}
	if split := strings.FieldsFunc(header, func(r rune) bool {
		return r == ':' || r == '_' || r == '-' || r == ' '
	}); len(split) == 2 {
		if _, ok := normalizeRelationshipField(split[0]); ok {
			return true
		}
	}

	return FileFieldAction(reg, header) != ""
}

func (b *builder) interpretFileFields(ctx context.Context) {
	// a pure collection declaration carries no files
	if b.declaredType() == repository.CollectionType {
		return
	}
	for _, c := range b.row {
		if c.value == "" || c.header == "" || c.value == c.header {
			continue
		}
		action := b.fileFieldAction(c.header)
		if action == "" {
			continue
		}
		// the header may still name another property (e.g. masterFilename)
		if _, ok := schema.MatchFieldName(b.parser.cfg.Schema, c.header); ok {
			continue
		}

		if action == "remove" {
			for _, fileID := range SplitValues(c.value) {
				exists, err := b.parser.repo.Exists(ctx, fileID)
				if err != nil || !exists {
					continue
				}
				b.result.ChangeSet.RemovedFileIDs = append(b.result.ChangeSet.RemovedFileIDs, fileID)
			}
			continue
		}

		for _, path := range b.filePaths(c.value) {
			id, err := b.parser.uploader.Upload(ctx, path)
			if err != nil {
				b.reportError(report.Error{
					Kind:      report.KindUploadError,
					RowNumber: b.visibleRow(),
					File:      path,
					Message:   fmt.Sprintf("error opening file: %s -- %v", path, err),
				})
				continue
			}
			b.result.ChangeSet.UploadedFileIDs = append(b.result.ChangeSet.UploadedFileIDs, id)
		}
	}
}

func (b *builder) filePaths(value string) []string {
	var paths []string
	for _, name := range SplitValues(value) {
		paths = append(paths, MediaPath(b.parser.cfg.MediaRoot, b.parser.cfg.Options.FilePrefix, name))
	}
	return paths
}

// MediaPath joins the media root, optional prefix, and file name into an
// absolute path.
func MediaPath(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, strings.Trim(p, "/"))
		}
	}
	return "/" + strings.Join(nonEmpty, "/")
}

func (b *builder) declaredType() string {
	if b.result.WorkType != "" {
		return b.result.WorkType
	}
	return b.parser.cfg.Options.WorkType
}

func (b *builder) interpretControlledFields(ctx context.Context) {
	for _, c := range b.row {
		if c.value == "" || c.header == "" || c.value == c.header {
			continue
		}
		fieldName := c.header

		// "field_name.authority" syntax pins the authority
		authority := ""
		if split := strings.SplitN(fieldName, ".", 2); len(split) == 2 {
			fieldName = split[0]
			authority = split[1]
		}

		canonical, ok := schema.MatchFieldName(b.parser.cfg.Schema, fieldName)
		if !ok {
			continue
		}
		field, _ := b.parser.cfg.Schema.Field(canonical)
		if !field.Controlled {
			continue
		}

		isLabel := strings.HasSuffix(strings.ToLower(fieldName), "label")
		if isLabel {
			if b.parser.cfg.Options.IgnoreLabels {
				continue
			}
			if !b.parser.cfg.Options.ImportLabels {
				continue
			}
		}
		remove := strings.HasPrefix(strings.ToLower(fieldName), "remove") ||
			strings.HasPrefix(strings.ToLower(fieldName), "delete")

		for _, value := range SplitValues(c.value) {
			value = strings.TrimSpace(value)
			if isURL(value) && !isLabel {
				b.addControlled(canonical, ControlledValue{URL: value, Remove: remove})
				continue
			}
			value = UnescapeCSV(value)
			resolved := b.resolveLabel(ctx, field, canonical, authority, value)
			if resolved == "" {
				b.reportError(report.NewURLError(report.KindCannotRetrieveURL, b.visibleRow(), value,
					fmt.Sprintf("cannot find or create url for controlled vocabulary label: %s", value)))
				continue
			}
			b.addControlled(canonical, ControlledValue{URL: resolved, Remove: remove})
		}
	}
}

func (b *builder) resolveLabel(ctx context.Context, field schema.Field, canonical, authority, label string) string {
	if remote, err := b.parser.vocab.RemoteURL(ctx, authority, canonical, label); err == nil && remote != "" {
		return remote
	}
	sub, ok := field.LocalSubauthority()
	if !ok {
		// no local authority configured for this field: keep the label
		return label
	}
	local, err := b.parser.vocab.LocalURL(ctx, sub, label)
	if err != nil {
		return ""
	}
	return local
}

func (b *builder) addControlled(field string, value ControlledValue) {
	for _, existing := range b.result.ChangeSet.Controlled[field] {
		if existing == value {
			return
		}
	}
	b.result.ChangeSet.Controlled[field] = append(b.result.ChangeSet.Controlled[field], value)
}

func (b *builder) interpretScalarFields() {
	for _, c := range b.row {
		if c.value == "" || c.header == "" || c.value == c.header {
			continue
		}
		canonical, ok := schema.MatchFieldName(b.parser.cfg.Schema, c.header)
		if !ok {
			continue
		}
		field, _ := b.parser.cfg.Schema.Field(canonical)
		if field.Controlled {
			continue
		}
		for _, value := range SplitValues(c.value) {
			if value == "" {
				continue
			}
			value = UnescapeCSV(sanitizeUTF8(strings.TrimSpace(value)))
			b.result.ChangeSet.Scalar[canonical] = append(b.result.ChangeSet.Scalar[canonical], value)
		}
	}
}

// connectExistingObject binds the row to a pre-existing object by the
// configured unique-identifier field (updates only). More than one match is
// ambiguous and reported as id_not_unique.
func (b *builder) connectExistingObject(ctx context.Context) {
	column := b.parser.cfg.Options.UpdateIdentifier
	if column == "" {
		return
	}
	norm := schema.NormalizeHeader(column)
	for _, c := range b.row {
		if c.value == "" || schema.NormalizeHeader(c.header) != norm {
			continue
		}
		fieldName := column
		if canonical, ok := schema.MatchFieldName(b.parser.cfg.Schema, column); ok {
			fieldName = canonical
		}
		hits, err := b.parser.repo.SearchByField(ctx, fieldName, c.value, 2)
		if err != nil {
			b.reportError(report.NewObjectError(report.KindBadObjectReference, b.visibleRow(), c.value, err.Error()))
			return
		}
		switch len(hits) {
		case 0:
			return
		case 1:
			b.result.ObjectID = hits[0].ID
			return
		default:
			b.reportError(report.Error{
				Kind:         report.KindIDNotUnique,
				RowNumber:    b.visibleRow(),
				OptionName:   column,
				OptionValues: c.value,
				Message:      fmt.Sprintf("identifier %q matches more than one object", c.value),
			})
			return
		}
	}
}

func isURL(value string) bool {
	u, err := url.Parse(value)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsFileSetRow reports whether the row is a pure file continuation that
// attaches to the preceding work instead of becoming its own object. An
// explicit work-type column decides when present; otherwise any substantive
// non-file field makes the row a work.
func IsFileSetRow(sheet *filestore.Spreadsheet, rowIndex int, reg schema.Registry) bool {
	if rowIndex < 0 || rowIndex >= len(sheet.Rows) {
		return false
	}
	row := sheet.Rows[rowIndex]
	if row.Blank() {
		return false
	}

	for i, header := range row.Headers {
		if !strings.Contains(schema.NormalizeHeader(header), "worktype") {
			continue
		}
		if i >= len(row.Values) || strings.TrimSpace(row.Values[i]) == "" {
			continue
		}
		return strings.EqualFold(strings.TrimSpace(row.Values[i]), "fileset")
	}

	checker := &builder{parser: &Parser{cfg: Config{Schema: reg}}}
	for i, header := range row.Headers {
		if i >= len(row.Values) || strings.TrimSpace(row.Values[i]) == "" {
			continue
		}
		if checker.fileFieldAction(header) != "" {
			continue
		}
		if kind, ok := normalizeRelationshipField(header); ok &&
			(kind == model.RelationshipParent || kind == model.RelationshipOrder) {
			continue
		}
		norm := strings.ToLower(strings.TrimSpace(header))
		if norm == "title" || norm == "label" {
			continue
		}
		return false
	}
	return true
}
