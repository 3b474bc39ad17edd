package operation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/digitalcollections/bulkops/internal/filestore"
	"github.com/digitalcollections/bulkops/internal/store"
	"github.com/digitalcollections/bulkops/internal/store/model"
)

// UpdateDraftSpreadsheet replaces the draft's spreadsheet. Only drafts and
// operations bounced back to waiting may edit.
func (s *Service) UpdateDraftSpreadsheet(ctx context.Context, id uuid.UUID, content []byte, message string) error {
	op, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !editable(op.Stage) {
		return NewErrStageConflict(id, op.Stage, "update spreadsheet")
	}
	if _, err := filestore.ParseCSV(content); err != nil {
		return fmt.Errorf("invalid spreadsheet: %w", err)
	}
	return s.files.UpdateSpreadsheet(ctx, op.Branch, content, message)
}

// UpdateDraftOptions replaces the draft's configuration.
func (s *Service) UpdateDraftOptions(ctx context.Context, id uuid.UUID, opts filestore.Options, message string) error {
	op, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !editable(op.Stage) {
		return NewErrStageConflict(id, op.Stage, "update options")
	}
	return s.files.UpdateOptions(ctx, op.Branch, opts, message)
}

func editable(stage string) bool {
	switch stage {
	case model.StageNew, model.StageDraft, model.StagePending, model.StageWaiting:
		return true
	}
	return false
}

// Duplicate clones an operation's spreadsheet and configuration into a new
// draft under a fresh unique name.
func (s *Service) Duplicate(ctx context.Context, id uuid.UUID, requestedName, username string) (*model.Operation, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if requestedName == "" {
		requestedName = src.Name
	}

	opts, err := s.files.LoadOptions(ctx, src.Branch)
	if err != nil {
		return nil, err
	}
	sheet, err := s.files.LoadSpreadsheet(ctx, src.Branch)
	if err != nil {
		return nil, err
	}

	dup, err := s.Create(ctx, CreateParams{
		Name:     requestedName,
		Type:     src.Type,
		WorkType: opts.WorkType,
		Username: username,
	})
	if err != nil {
		return nil, err
	}

	opts.Name = dup.Name
	if err := s.files.UpdateOptions(ctx, dup.Branch, opts, fmt.Sprintf("duplicated from %s", src.Name)); err != nil {
		return nil, err
	}
	content, err := filestore.MarshalCSV(sheet)
	if err != nil {
		return nil, err
	}
	if err := s.files.UpdateSpreadsheet(ctx, dup.Branch, content, fmt.Sprintf("duplicated from %s", src.Name)); err != nil {
		return nil, err
	}
	return dup, nil
}

// Destroy discards an operation: its branch, proxies, and record. A busy
// operation cannot be destroyed while rows are still in flight.
func (s *Service) Destroy(ctx context.Context, id uuid.UUID) error {
	op, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	unfinished, err := s.store.RowProxy().CountUnfinished(ctx, id)
	if err != nil {
		return err
	}
	if unfinished > 0 {
		return NewErrOperationBusy(id, unfinished)
	}

	if err := s.LiftHolds(ctx, id); err != nil {
		return err
	}

	if err := s.files.DeleteBranch(ctx, op.Branch); err != nil {
		s.log.Warnw("branch deletion failed", "operation", id, "branch", op.Branch, "error", err)
	}

	if err := s.store.Operation().Delete(ctx, id); err != nil {
		return err
	}
	s.log.Infow("operation destroyed", "id", id, "name", op.Name)
	return nil
}

// Revert destroys the objects an operation created and their proxies, then
// parks the operation back in waiting so the draft can be corrected and
// re-applied. Like Destroy it refuses while rows are in flight.
func (s *Service) Revert(ctx context.Context, id uuid.UUID) error {
	op, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	unfinished, err := s.store.RowProxy().CountUnfinished(ctx, id)
	if err != nil {
		return err
	}
	if unfinished > 0 {
		return NewErrOperationBusy(id, unfinished)
	}

	proxies, err := s.store.RowProxy().ListByOperation(ctx, id)
	if err != nil {
		return err
	}
	for i := range proxies {
		if proxies[i].ObjectID == nil {
			continue
		}
		if err := s.repo.Delete(ctx, *proxies[i].ObjectID); err != nil {
			s.log.Warnw("object deletion failed during revert",
				"operation", id, "object", *proxies[i].ObjectID, "error", err)
		}
	}

	if err := s.store.RowProxy().DeleteByOperation(ctx, id); err != nil {
		return err
	}

	if _, err := s.setStage(ctx, id, model.StageWaiting, "reverted"); err != nil {
		return err
	}
	s.log.Infow("operation reverted", "id", id, "name", op.Name, "proxies", len(proxies))
	return nil
}

// LiftHolds releases the advisory holds on every object the operation still
// holds.
func (s *Service) LiftHolds(ctx context.Context, id uuid.UUID) error {
	proxies, err := s.store.RowProxy().ListByOperation(ctx, id)
	if err != nil {
		return err
	}
	for i := range proxies {
		if !proxies[i].Held {
			continue
		}
		proxies[i].Held = false
		if err := s.store.RowProxy().Save(ctx, &proxies[i]); err != nil {
			return err
		}
	}
	return nil
}

// Sweep retries pending relationships and finish checks across every active
// operation. Driven by a jittered ticker so restarts and stuck jobs cannot
// leave an operation running forever.
func (s *Service) Sweep(ctx context.Context) error {
	active, err := s.store.Operation().ListActive(ctx)
	if err != nil {
		return err
	}
	for _, op := range active {
		if op.Stage != model.StageRunning && op.Stage != model.StageFinishing {
			continue
		}
		if _, err := s.resolver.ResolvePending(ctx, op.ID); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				continue
			}
			s.log.Warnw("sweep resolution failed", "operation", op.ID, "error", err)
		}
		if err := s.CheckIfFinished(ctx, op.ID); err != nil {
			s.log.Warnw("sweep finish check failed", "operation", op.ID, "error", err)
		}
	}
	return nil
}
