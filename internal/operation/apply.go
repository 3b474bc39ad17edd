package operation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/digitalcollections/bulkops/internal/filestore"
	"github.com/digitalcollections/bulkops/internal/parser"
	"github.com/digitalcollections/bulkops/internal/store"
	"github.com/digitalcollections/bulkops/internal/store/model"
)

// Finalize moves a draft to pending and opens the approval request for its
// branch.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID) (*model.Operation, error) {
	op, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if op.Stage != model.StageDraft && op.Stage != model.StageNew {
		return nil, NewErrStageConflict(id, op.Stage, "finalize")
	}

	approvalID, err := s.files.CreateApprovalRequest(ctx, op.Branch,
		fmt.Sprintf("bulk %s operation %q awaiting approval", op.Type, op.Name))
	if err != nil {
		return nil, err
	}

	stage := model.StagePending
	message := "awaiting approval"
	return s.store.Operation().Update(ctx, id, &stage, nil, &message, &approvalID)
}

// Merge merges the operation's approval request and applies the operation.
// A policy refusal leaves the operation pending; only unexpected store
// failures surface as plain errors.
func (s *Service) Merge(ctx context.Context, id uuid.UUID, message string) (*model.Operation, error) {
	op, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if op.Stage != model.StagePending && op.Stage != model.StageWaiting {
		return nil, NewErrStageConflict(id, op.Stage, "merge")
	}
	if op.ApprovalID == nil {
		return nil, NewErrStageConflict(id, op.Stage, "merge without approval request")
	}

	if err := s.files.MergeApprovalRequest(ctx, *op.ApprovalID, message); err != nil {
		if errors.Is(err, filestore.ErrMergeRejected) {
			return nil, NewErrMergeRejected(id, err)
		}
		return nil, fmt.Errorf("merging approval %d: %w", *op.ApprovalID, err)
	}

	return s.Apply(ctx, id)
}

// HandleApprovalMerged applies the operation tied to an externally merged
// approval request. This is the webhook entry point.
func (s *Service) HandleApprovalMerged(ctx context.Context, approvalID int) (*model.Operation, error) {
	op, err := s.store.Operation().GetByApprovalID(ctx, approvalID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("no operation for approval %d", approvalID)
		}
		return nil, err
	}
	return s.Apply(ctx, op.ID)
}

// Apply runs an approved operation: verification, then row fan-out. Only
// pending and waiting operations may apply, so a re-delivered merge event or
// a double submit cannot restart a running operation.
func (s *Service) Apply(ctx context.Context, id uuid.UUID) (*model.Operation, error) {
	op, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if op.Stage != model.StagePending && op.Stage != model.StageWaiting {
		return nil, NewErrStageConflict(id, op.Stage, "apply")
	}

	if _, err := s.setStage(ctx, id, model.StageVerifying, "verifying spreadsheet"); err != nil {
		return nil, err
	}

	problems, err := s.Verify(ctx, op)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		opts, _ := s.files.LoadOptions(ctx, op.Branch)
		if _, err := s.reporter.Write(ctx, op.Branch, op.Name, opts.Notifications, problems); err != nil {
			s.log.Errorw("verification report failed", "operation", id, "error", err)
		}
		if _, err := s.setStage(ctx, id, model.StageWaiting, "verification failed"); err != nil {
			return nil, err
		}
		return nil, NewErrVerificationFailed(id, len(problems))
	}

	op, err = s.setStage(ctx, id, model.StageRunning, "processing rows")
	if err != nil {
		return nil, err
	}

	switch op.Type {
	case model.OperationTypeUpdate:
		err = s.applyUpdate(ctx, op)
	default:
		err = s.applyIngest(ctx, op)
	}
	if err != nil {
		return nil, err
	}

	// a spreadsheet of nothing but blank rows finishes immediately
	if err := s.CheckIfFinished(ctx, op.ID); err != nil {
		return nil, err
	}
	return s.Get(ctx, op.ID)
}

// applyIngest creates one queued proxy per substantive data row and hands
// each to the scheduler. File-set continuation rows fold into the preceding
// work and never get their own proxy.
func (s *Service) applyIngest(ctx context.Context, op *model.Operation) error {
	sheet, err := s.files.LoadSpreadsheet(ctx, op.Branch)
	if err != nil {
		return err
	}

	// stale proxies from an earlier attempt would double-create objects
	if err := s.store.RowProxy().DeleteByOperation(ctx, op.ID); err != nil {
		return err
	}

	var created []uint
	for i := range sheet.Rows {
		if sheet.Rows[i].Blank() {
			continue
		}
		if parser.IsFileSetRow(sheet, i, s.schema) {
			continue
		}
		rowNumber := i
		proxy, err := s.store.RowProxy().Create(ctx, model.RowProxy{
			OperationID: op.ID,
			RowNumber:   &rowNumber,
			Status:      model.ProxyStatusQueued,
			Held:        true,
		})
		if err != nil {
			return err
		}
		created = append(created, proxy.ID)
	}

	// all proxies exist before any row runs, so row references and sibling
	// chains can always find their proxy
	for _, proxyID := range created {
		if err := s.scheduler.SubmitRow(ctx, op.ID, proxyID); err != nil {
			return err
		}
	}
	return nil
}

// applyUpdate reconciles the draft's proxies against the spreadsheet's id
// column: rows keep or gain a proxy, objects dropped from the sheet lose
// theirs and their hold.
func (s *Service) applyUpdate(ctx context.Context, op *model.Operation) error {
	sheet, err := s.files.LoadSpreadsheet(ctx, op.Branch)
	if err != nil {
		return err
	}

	existing, err := s.store.RowProxy().ListByOperation(ctx, op.ID)
	if err != nil {
		return err
	}
	byObject := map[string]*model.RowProxy{}
	for i := range existing {
		if existing[i].ObjectID != nil {
			byObject[*existing[i].ObjectID] = &existing[i]
		}
	}

	var submit []uint
	seen := map[string]bool{}
	for i := range sheet.Rows {
		if sheet.Rows[i].Blank() || parser.IsFileSetRow(sheet, i, s.schema) {
			continue
		}
		rowNumber := i
		objectID := strings.TrimSpace(firstCell(sheet.Rows[i], "id"))

		if objectID != "" {
			seen[objectID] = true
			if proxy, ok := byObject[objectID]; ok {
				proxy.RowNumber = &rowNumber
				proxy.Status = model.ProxyStatusQueued
				proxy.Held = true
				if err := s.store.RowProxy().Save(ctx, proxy); err != nil {
					return err
				}
				submit = append(submit, proxy.ID)
				continue
			}
		}

		proxy := model.RowProxy{
			OperationID: op.ID,
			RowNumber:   &rowNumber,
			Status:      model.ProxyStatusQueued,
			Held:        true,
		}
		if objectID != "" {
			proxy.ObjectID = &objectID
		}
		createdProxy, err := s.store.RowProxy().Create(ctx, proxy)
		if err != nil {
			return err
		}
		submit = append(submit, createdProxy.ID)
	}

	// abandoned proxies: object rows removed from the draft spreadsheet
	for objectID, proxy := range byObject {
		if seen[objectID] {
			continue
		}
		proxy.Held = false
		proxy.Status = model.ProxyStatusDestroyed
		if err := s.store.RowProxy().Save(ctx, proxy); err != nil {
			return err
		}
		if err := s.store.RowProxy().Delete(ctx, proxy.ID); err != nil {
			return err
		}
	}

	for _, proxyID := range submit {
		if err := s.scheduler.SubmitRow(ctx, op.ID, proxyID); err != nil {
			return err
		}
	}
	return nil
}

func firstCell(row filestore.Row, header string) string {
	v, _ := row.Get(header)
	return v
}
