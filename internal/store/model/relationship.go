package model

import "gorm.io/gorm"

// Relationship kinds. Order is declared but was never fully implemented by
// any known producer; records of that kind park as failed after retries
// rather than being silently dropped.
const (
	RelationshipParent     = "parent"
	RelationshipChild      = "child"
	RelationshipCollection = "collection"
	RelationshipOrder      = "order"
)

// Addressing schemes for locating a relationship's target.
const (
	IdentifierTypeID         = "id"
	IdentifierTypeTitle      = "title"
	IdentifierTypeIdentifier = "identifier"
	IdentifierTypeRow        = "row"
	IdentifierTypeProxyID    = "proxy_id"
)

// Relationship resolution statuses
const (
	RelationshipStatusNew      = "new"
	RelationshipStatusPending  = "pending"
	RelationshipStatusComplete = "complete"
	RelationshipStatusFailed   = "failed"
)

// Relationship records one declared parent/child/collection/order reference.
// It owns its own resolution attempts independent of the owning row.
type Relationship struct {
	gorm.Model
	RowProxyID       uint   `gorm:"index;not null"`
	IdentifierType   string `gorm:"not null"`
	RelationshipType string `gorm:"not null"`
	ObjectIdentifier string `gorm:"not null"`
	Status           string `gorm:"not null"`
	// PreviousSiblingID links to the RowProxy of the previous row sharing the
	// same parent, used to reconstruct declared sibling order.
	PreviousSiblingID *uint
	Retries           int
}

type RelationshipList []Relationship
