package operation

import (
	"fmt"

	"github.com/google/uuid"
)

type ErrOperationNotFound struct {
	error
}

func NewErrOperationNotFound(id uuid.UUID) *ErrOperationNotFound {
	return &ErrOperationNotFound{fmt.Errorf("operation %s not found", id)}
}

func NewErrOperationNameNotFound(name string) *ErrOperationNotFound {
	return &ErrOperationNotFound{fmt.Errorf("operation %q not found", name)}
}

type ErrStageConflict struct {
	error
}

func NewErrStageConflict(id uuid.UUID, stage, action string) *ErrStageConflict {
	return &ErrStageConflict{fmt.Errorf("operation %s cannot %s from stage %q", id, action, stage)}
}

type ErrOperationBusy struct {
	error
}

func NewErrOperationBusy(id uuid.UUID, unfinished int64) *ErrOperationBusy {
	return &ErrOperationBusy{fmt.Errorf("operation %s still has %d unfinished rows", id, unfinished)}
}

type ErrMergeRejected struct {
	error
}

func NewErrMergeRejected(id uuid.UUID, cause error) *ErrMergeRejected {
	return &ErrMergeRejected{fmt.Errorf("operation %s approval merge rejected: %v", id, cause)}
}

type ErrVerificationFailed struct {
	error
}

func NewErrVerificationFailed(id uuid.UUID, problems int) *ErrVerificationFailed {
	return &ErrVerificationFailed{fmt.Errorf("operation %s failed verification with %d problems", id, problems)}
}
