// Package repository is the boundary to the external system of record for
// digital objects. "Not found" and "gone" are distinct failure modes: a
// missing object may be created, a gone object was deliberately removed and
// must never be recreated.
package repository

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("object not found")
	ErrGone     = errors.New("object gone")
)

const CollectionType = "Collection"

// Object is a digital object or collection as the repository sees it.
type Object struct {
	ID         string
	Type       string
	Title      string
	Visibility string
	Metadata   map[string][]string

	// OrderedMemberIDs is the ordered list of child works; MemberIDs is the
	// unordered membership used by collections.
	OrderedMemberIDs []string
	MemberIDs        []string
}

type Repository interface {
	FindByID(ctx context.Context, id string) (*Object, error)
	// SearchByField looks up objects whose named field matches the value
	// exactly. The limit caps the result size.
	SearchByField(ctx context.Context, field, value string, limit int) ([]*Object, error)
	// Create persists a new object, minting an id when the object has none.
	Create(ctx context.Context, obj *Object) (*Object, error)
	Save(ctx context.Context, obj *Object) error
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)

	// InsertOrderedMember places member into owner's ordered list at the
	// given position. It is a no-op when member is already in the list.
	InsertOrderedMember(ctx context.Context, ownerID, memberID string, position int) error
	// AddMember adds member to owner's unordered membership, idempotently.
	AddMember(ctx context.Context, ownerID, memberID string) error
}
