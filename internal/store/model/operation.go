package model

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Operation kinds
const (
	OperationTypeIngest = "ingest"
	OperationTypeUpdate = "update"
)

// Operation lifecycle stages
const (
	StageNew       = "new"
	StageDraft     = "draft"
	StagePending   = "pending"
	StageVerifying = "verifying"
	StageWaiting   = "waiting"
	StageRunning   = "running"
	StageFinishing = "finishing"
	StageComplete  = "complete"
	StageErrors    = "errors"
	StageDiscarded = "discarded"
)

type Operation struct {
	gorm.Model
	ID       uuid.UUID `gorm:"primaryKey;"`
	Name     string    `gorm:"uniqueIndex;not null"`
	Type     string    `gorm:"not null"`
	Stage    string    `gorm:"not null"`
	Status   string
	Message  string
	Username string
	// Branch points at the external branch holding the operation's
	// spreadsheet and configuration. It matches Name in practice.
	Branch     string
	ApprovalID *int
	RowProxies []RowProxy `gorm:"constraint:OnDelete:CASCADE;"`
}

type OperationList []Operation

func (o Operation) String() string {
	val, _ := json.Marshal(o)
	return string(val)
}

// ActiveStages are the stages an operation occupies while its name must stay
// unique and its branch must be kept alive.
func ActiveStages() []string {
	return []string{StageNew, StageDraft, StagePending, StageVerifying, StageWaiting, StageRunning, StageFinishing}
}
