package model

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RowProxy processing statuses
const (
	ProxyStatusNew              = "new"
	ProxyStatusQueued           = "queued"
	ProxyStatusStarting         = "starting"
	ProxyStatusRunning          = "running"
	ProxyStatusUpdating         = "updating"
	ProxyStatusComplete         = "complete"
	ProxyStatusError            = "error"
	ProxyStatusJobError         = "job_error"
	ProxyStatusDestroyed        = "destroyed"
	ProxyStatusAwaitingChildren = "awaiting_children"
)

// RowProxy is the persistent tracking record binding one spreadsheet row to
// its (eventual) object and processing status.
type RowProxy struct {
	gorm.Model
	OperationID uuid.UUID `gorm:"index;not null"`
	// RowNumber is the zero-based data row index; nil once the proxy has been
	// decoupled from the spreadsheet (update drafts).
	RowNumber *int
	// ObjectID is the created or linked object identifier; nil until known.
	ObjectID   *string `gorm:"index"`
	Status     string  `gorm:"not null"`
	WorkType   string
	Visibility string
	// ReferenceIdentifier is the row's default addressing scheme for
	// relationship targets.
	ReferenceIdentifier string
	Order               float64
	PreviousSiblingID   *uint
	ParentID            *string
	Message             string
	// Held marks the advisory hold protecting the object from hand edits
	// while the operation is in flight.
	Held bool

	Relationships []Relationship `gorm:"constraint:OnDelete:CASCADE;"`
}

type RowProxyList []RowProxy

// Unfinished reports whether the proxy still blocks operation completion.
func (p RowProxy) Unfinished() bool {
	switch p.Status {
	case ProxyStatusQueued, ProxyStatusRunning, ProxyStatusStarting:
		return true
	}
	return false
}

// UnfinishedStatuses is the set of statuses the busy check looks for.
func UnfinishedStatuses() []string {
	return []string{ProxyStatusQueued, ProxyStatusRunning, ProxyStatusStarting}
}
