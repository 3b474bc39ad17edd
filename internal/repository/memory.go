package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by tests and by local
// runs without a backing repository service.
type MemoryRepository struct {
	mu      sync.Mutex
	objects map[string]*Object
	gone    map[string]bool
}

// Make sure we conform to Repository interface
var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		objects: map[string]*Object{},
		gone:    map[string]bool{},
	}
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone[id] {
		return nil, ErrGone
	}
	obj, ok := r.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneObject(obj), nil
}

func (r *MemoryRepository) SearchByField(_ context.Context, field, value string, limit int) ([]*Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var hits []*Object
	for _, obj := range r.objects {
		if limit > 0 && len(hits) >= limit {
			break
		}
		if field == "title" && obj.Title == value {
			hits = append(hits, cloneObject(obj))
			continue
		}
		for _, v := range obj.Metadata[field] {
			if v == value {
				hits = append(hits, cloneObject(obj))
				break
			}
		}
	}
	return hits, nil
}

func (r *MemoryRepository) Create(_ context.Context, obj *Object) (*Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	created := cloneObject(obj)
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	r.objects[created.ID] = created
	return cloneObject(created), nil
}

func (r *MemoryRepository) Save(_ context.Context, obj *Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone[obj.ID] {
		return ErrGone
	}
	if _, ok := r.objects[obj.ID]; !ok {
		return ErrNotFound
	}
	r.objects[obj.ID] = cloneObject(obj)
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[id]; !ok {
		return ErrNotFound
	}
	delete(r.objects, id)
	r.gone[id] = true
	return nil
}

func (r *MemoryRepository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.objects[id]
	return ok, nil
}

func (r *MemoryRepository) InsertOrderedMember(_ context.Context, ownerID, memberID string, position int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.objects[ownerID]
	if !ok {
		return ErrNotFound
	}
	// membership is re-checked under the lock so concurrent resolution of the
	// same relationship cannot insert a member twice
	for _, id := range owner.OrderedMemberIDs {
		if id == memberID {
			return nil
		}
	}
	if position < 0 || position > len(owner.OrderedMemberIDs) {
		position = len(owner.OrderedMemberIDs)
	}
	members := append([]string{}, owner.OrderedMemberIDs[:position]...)
	members = append(members, memberID)
	members = append(members, owner.OrderedMemberIDs[position:]...)
	owner.OrderedMemberIDs = members
	return nil
}

func (r *MemoryRepository) AddMember(_ context.Context, ownerID, memberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.objects[ownerID]
	if !ok {
		return ErrNotFound
	}
	for _, id := range owner.MemberIDs {
		if id == memberID {
			return nil
		}
	}
	owner.MemberIDs = append(owner.MemberIDs, memberID)
	return nil
}

func cloneObject(obj *Object) *Object {
	clone := *obj
	clone.OrderedMemberIDs = append([]string{}, obj.OrderedMemberIDs...)
	clone.MemberIDs = append([]string{}, obj.MemberIDs...)
	clone.Metadata = map[string][]string{}
	for k, v := range obj.Metadata {
		clone.Metadata[k] = append([]string{}, v...)
	}
	return &clone
}
