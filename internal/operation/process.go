package operation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/digitalcollections/bulkops/internal/filestore"
	"github.com/digitalcollections/bulkops/internal/parser"
	"github.com/digitalcollections/bulkops/internal/report"
	"github.com/digitalcollections/bulkops/internal/repository"
	"github.com/digitalcollections/bulkops/internal/store"
	"github.com/digitalcollections/bulkops/internal/store/model"
	"github.com/digitalcollections/bulkops/pkg/metrics"
)

// ProcessRow is the job body for one row proxy: interpret the row, create or
// update its object, persist and resolve its relationships, then poke the
// finish check. A missing proxy is tolerated so a stale job after a destroy
// is harmless.
func (s *Service) ProcessRow(ctx context.Context, proxyID uint) error {
	proxy, err := s.store.RowProxy().Get(ctx, proxyID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			s.log.Warnw("row job for missing proxy", "proxy", proxyID)
			return nil
		}
		return err
	}

	op, err := s.store.Operation().Get(ctx, proxy.OperationID)
	if err != nil {
		return err
	}

	proxy.Status = model.ProxyStatusStarting
	if err := s.store.RowProxy().Save(ctx, proxy); err != nil {
		return err
	}

	if err := s.processRow(ctx, op, proxy); err != nil {
		proxy.Status = model.ProxyStatusJobError
		proxy.Message = err.Error()
		if saveErr := s.store.RowProxy().Save(ctx, proxy); saveErr != nil {
			return saveErr
		}
		metrics.IncreaseRowsProcessedMetric(model.ProxyStatusJobError)
		s.reportRowErrors(ctx, op, []report.Error{{
			Kind:      report.KindJobFailure,
			RowNumber: visibleRow(proxy),
			Message:   err.Error(),
		}})
	}

	return s.CheckIfFinished(ctx, op.ID)
}

func (s *Service) processRow(ctx context.Context, op *model.Operation, proxy *model.RowProxy) error {
	if proxy.RowNumber == nil {
		return fmt.Errorf("proxy %d has no row number", proxy.ID)
	}

	sheet, err := s.files.LoadSpreadsheet(ctx, op.Branch)
	if err != nil {
		return err
	}
	opts, err := s.files.LoadOptions(ctx, op.Branch)
	if err != nil {
		return err
	}

	p := s.rowParser(opts)
	result := p.Interpret(ctx, sheet, *proxy.RowNumber)

	// continuation rows below this one contribute their files to this work
	for j := *proxy.RowNumber + 1; j < len(sheet.Rows) && parser.IsFileSetRow(sheet, j, s.schema); j++ {
		ids, errs := p.FileSetUploads(ctx, sheet, j)
		result.ChangeSet.UploadedFileIDs = append(result.ChangeSet.UploadedFileIDs, ids...)
		result.Errors = append(result.Errors, errs...)
	}

	if len(result.Errors) > 0 {
		proxy.Status = model.ProxyStatusError
		proxy.Message = summarize(result.Errors)
		if err := s.store.RowProxy().Save(ctx, proxy); err != nil {
			return err
		}
		metrics.IncreaseRowsProcessedMetric(model.ProxyStatusError)
		s.reportRowErrors(ctx, op, result.Errors)
		return nil
	}

	proxy.Status = model.ProxyStatusRunning
	proxy.WorkType = result.WorkType
	proxy.Visibility = result.Visibility
	proxy.ReferenceIdentifier = result.ReferenceIdentifier
	if result.HasOrder {
		proxy.Order = result.Order
	}
	if err := s.store.RowProxy().Save(ctx, proxy); err != nil {
		return err
	}

	objectID, err := s.writeObject(ctx, op, proxy, opts, result)
	if err != nil {
		return err
	}
	proxy.ObjectID = &objectID

	if err := s.persistRelationships(ctx, op, proxy, result.Relationships); err != nil {
		return err
	}

	proxy.Status = model.ProxyStatusComplete
	if err := s.store.RowProxy().Save(ctx, proxy); err != nil {
		return err
	}
	metrics.IncreaseRowsProcessedMetric(model.ProxyStatusComplete)

	// resolve what this row declared, then retry anything that was waiting
	// on this row's object
	if _, err := s.resolver.ResolveProxy(ctx, proxy.ID); err != nil {
		s.log.Warnw("relationship resolution failed", "proxy", proxy.ID, "error", err)
	}
	if _, err := s.resolver.ResolvePending(ctx, op.ID); err != nil {
		s.log.Warnw("pending resolution failed", "operation", op.ID, "error", err)
	}
	return nil
}

func (s *Service) rowParser(opts filestore.Options) *parser.Parser {
	return parser.New(parser.Config{
		Options:    opts,
		Schema:     s.schema,
		WorkTypes:  s.workTypes,
		MediaRoot:  s.mediaRoot,
		ReplaceAll: opts.FileMethod == "replace_all",
	}, s.repo, s.vocab, s.uploader)
}

// writeObject creates the row's object, or updates the one it connected to.
func (s *Service) writeObject(ctx context.Context, op *model.Operation, proxy *model.RowProxy, opts filestore.Options, result parser.Result) (string, error) {
	targetID := result.ObjectID
	if targetID == "" && proxy.ObjectID != nil {
		targetID = *proxy.ObjectID
	}

	workType := result.WorkType
	if workType == "" {
		workType = opts.WorkType
	}
	if workType == "" {
		workType = parser.DefaultWorkType
	}
	visibility := result.Visibility
	if visibility == "" {
		visibility = opts.Visibility
	}

	if targetID == "" {
		obj := &repository.Object{
			Type:       workType,
			Visibility: visibility,
			Metadata:   buildMetadata(nil, result.ChangeSet),
		}
		obj.Title = firstValue(obj.Metadata["title"])
		created, err := s.repo.Create(ctx, obj)
		if err != nil {
			return "", fmt.Errorf("creating object: %w", err)
		}
		if err := s.attachCollections(ctx, created.ID, result.ChangeSet.CollectionIDs); err != nil {
			return "", err
		}
		return created.ID, nil
	}

	obj, err := s.repo.FindByID(ctx, targetID)
	if err != nil {
		return "", fmt.Errorf("loading object %s: %w", targetID, err)
	}
	if result.Visibility != "" {
		obj.Visibility = result.Visibility
	}
	obj.Metadata = buildMetadata(obj.Metadata, result.ChangeSet)
	if t := firstValue(obj.Metadata["title"]); t != "" {
		obj.Title = t
	}
	if err := s.repo.Save(ctx, obj); err != nil {
		return "", fmt.Errorf("saving object %s: %w", targetID, err)
	}
	if err := s.attachCollections(ctx, obj.ID, result.ChangeSet.CollectionIDs); err != nil {
		return "", err
	}
	return obj.ID, nil
}

func (s *Service) attachCollections(ctx context.Context, objectID string, collectionIDs []string) error {
	for _, colID := range collectionIDs {
		if err := s.repo.AddMember(ctx, colID, objectID); err != nil {
			return fmt.Errorf("adding %s to collection %s: %w", objectID, colID, err)
		}
	}
	return nil
}

// buildMetadata folds a change-set into existing metadata. Cleared fields are
// wiped first, removals subtract, everything else appends without
// duplicating.
func buildMetadata(existing map[string][]string, cs parser.ChangeSet) map[string][]string {
	metadata := map[string][]string{}
	for field, values := range existing {
		metadata[field] = append([]string(nil), values...)
	}
	for _, field := range cs.ClearFields {
		delete(metadata, field)
	}

	for field, values := range cs.Scalar {
		for _, v := range values {
			metadata[field] = appendUnique(metadata[field], v)
		}
	}
	for field, values := range cs.Controlled {
		for _, cv := range values {
			if cv.Remove {
				metadata[field] = without(metadata[field], cv.URL)
				continue
			}
			metadata[field] = appendUnique(metadata[field], cv.URL)
		}
	}

	if len(cs.UploadedFileIDs) > 0 {
		metadata["file_ids"] = append(metadata["file_ids"], cs.UploadedFileIDs...)
	}
	for _, removed := range cs.RemovedFileIDs {
		metadata["file_ids"] = without(metadata["file_ids"], removed)
	}
	if cs.MetadataInheritance != "" {
		metadata["metadata_inheritance"] = []string{cs.MetadataInheritance}
	}
	if cs.AdminSetID != "" {
		metadata["admin_set_id"] = []string{cs.AdminSetID}
	}
	return metadata
}

func (s *Service) persistRelationships(ctx context.Context, op *model.Operation, proxy *model.RowProxy, decls []parser.RelationshipDecl) error {
	for _, decl := range decls {
		rel := model.Relationship{
			RowProxyID:       proxy.ID,
			IdentifierType:   decl.IdentifierType,
			RelationshipType: decl.Kind,
			ObjectIdentifier: decl.Target,
			Status:           model.RelationshipStatusNew,
		}
		if decl.PreviousSiblingRow >= 0 {
			sibling, err := s.store.RowProxy().GetByRowNumber(ctx, op.ID, decl.PreviousSiblingRow)
			if err == nil {
				rel.PreviousSiblingID = &sibling.ID
				proxy.PreviousSiblingID = &sibling.ID
			}
		}
		if _, err := s.store.Relationship().Create(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}

// CheckIfFinished settles the operation once no row remains in flight: a
// final relationship pass, a re-save of every touched object so late
// membership writes stick, hold release, and the terminal stage. Safe to call
// from every job and sweep tick.
func (s *Service) CheckIfFinished(ctx context.Context, id uuid.UUID) error {
	op, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	// finishing is included so a sweep can pick up an operation interrupted
	// mid-finish
	if op.Stage != model.StageRunning && op.Stage != model.StageFinishing {
		return nil
	}

	unfinished, err := s.store.RowProxy().CountUnfinished(ctx, id)
	if err != nil {
		return err
	}
	if unfinished > 0 {
		return nil
	}

	if _, err := s.setStage(ctx, id, model.StageFinishing, "finishing"); err != nil {
		return err
	}

	if _, err := s.resolver.ResolvePending(ctx, id); err != nil {
		s.log.Warnw("final resolution pass failed", "operation", id, "error", err)
	}

	proxies, err := s.store.RowProxy().ListByOperation(ctx, id)
	if err != nil {
		return err
	}

	var errs []report.Error
	for i := range proxies {
		proxy := &proxies[i]

		if proxy.ObjectID != nil {
			if obj, err := s.repo.FindByID(ctx, *proxy.ObjectID); err == nil {
				if err := s.repo.Save(ctx, obj); err != nil {
					s.log.Warnw("final object save failed", "object", obj.ID, "error", err)
				}
			}
		}

		switch proxy.Status {
		case model.ProxyStatusError, model.ProxyStatusJobError:
			errs = append(errs, report.Error{
				Kind:      report.KindIngestFailure,
				RowNumber: visibleRow(proxy),
				Message:   proxy.Message,
			})
		}

		relationships, err := s.store.Relationship().ListByProxy(ctx, proxy.ID)
		if err != nil {
			return err
		}
		for _, rel := range relationships {
			if rel.Status != model.RelationshipStatusFailed {
				continue
			}
			errs = append(errs, report.Error{
				Kind:      report.KindRelationshipError,
				RowNumber: visibleRow(proxy),
				Message: fmt.Sprintf("could not resolve %s relationship to %s %q",
					rel.RelationshipType, rel.IdentifierType, rel.ObjectIdentifier),
			})
		}

		if proxy.Held {
			proxy.Held = false
			if err := s.store.RowProxy().Save(ctx, proxy); err != nil {
				return err
			}
		}
	}

	if len(errs) > 0 {
		s.reportRowErrors(ctx, op, errs)
		_, err = s.setStage(ctx, id, model.StageErrors, fmt.Sprintf("completed with %d errors", len(errs)))
		return err
	}
	_, err = s.setStage(ctx, id, model.StageComplete, "complete")
	return err
}

func (s *Service) reportRowErrors(ctx context.Context, op *model.Operation, errs []report.Error) {
	opts, err := s.files.LoadOptions(ctx, op.Branch)
	if err != nil {
		s.log.Warnw("loading options for report failed", "operation", op.ID, "error", err)
	}
	if _, err := s.reporter.Write(ctx, op.Branch, op.Name, opts.Notifications, errs); err != nil {
		s.log.Errorw("error report failed", "operation", op.ID, "error", err)
	}
}

func visibleRow(proxy *model.RowProxy) int {
	if proxy.RowNumber == nil {
		return 0
	}
	return filestore.VisibleRowNumber(*proxy.RowNumber)
}

func summarize(errs []report.Error) string {
	var parts []string
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func appendUnique(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}

func without(values []string, v string) []string {
	var out []string
	for _, existing := range values {
		if existing != v {
			out = append(out, existing)
		}
	}
	return out
}
