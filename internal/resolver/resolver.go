// Package resolver settles declared relationships against the object
// repository. A relationship resolves only when both its subject and its
// target exist; until then it stays pending and is retried by later rows,
// the sweep, and operation finishing. Retries are bounded so a reference
// that can never resolve eventually parks as failed instead of spinning.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/digitalcollections/bulkops/internal/repository"
	"github.com/digitalcollections/bulkops/internal/store"
	"github.com/digitalcollections/bulkops/internal/store/model"
	"github.com/digitalcollections/bulkops/pkg/metrics"
)

const DefaultMaxRetries = 20

type Resolver struct {
	store      store.Store
	repo       repository.Repository
	maxRetries int
	log        *zap.SugaredLogger
}

func New(s store.Store, repo repository.Repository, maxRetries int) *Resolver {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Resolver{
		store:      s,
		repo:       repo,
		maxRetries: maxRetries,
		log:        zap.S().Named("resolver"),
	}
}

// errUnresolvable marks a soft miss: the target may still appear, retry later.
type errUnresolvable struct{ reason string }

func (e errUnresolvable) Error() string { return e.reason }

// ResolveProxy attempts every relationship owned by the proxy. It returns the
// number of relationships newly completed.
func (r *Resolver) ResolveProxy(ctx context.Context, proxyID uint) (int, error) {
	proxy, err := r.store.RowProxy().Get(ctx, proxyID)
	if err != nil {
		return 0, err
	}
	relationships, err := r.store.Relationship().ListByProxy(ctx, proxyID)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for i := range relationships {
		ok, err := r.Resolve(ctx, &relationships[i], proxy)
		if err != nil {
			return resolved, err
		}
		if ok {
			resolved++
		}
	}
	return resolved, nil
}

// ResolvePending retries every unresolved relationship of the operation.
func (r *Resolver) ResolvePending(ctx context.Context, operationID uuid.UUID) (int, error) {
	relationships, err := r.store.Relationship().ListPendingByOperation(ctx, operationID)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for i := range relationships {
		proxy, err := r.store.RowProxy().Get(ctx, relationships[i].RowProxyID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				continue
			}
			return resolved, err
		}
		ok, err := r.Resolve(ctx, &relationships[i], proxy)
		if err != nil {
			return resolved, err
		}
		if ok {
			resolved++
		}
	}
	return resolved, nil
}

// Resolve attempts one relationship. Completed relationships are terminal and
// skipped, so re-resolving is always safe. It returns true when the
// relationship reached complete during this call.
func (r *Resolver) Resolve(ctx context.Context, rel *model.Relationship, proxy *model.RowProxy) (bool, error) {
	switch rel.Status {
	case model.RelationshipStatusComplete, model.RelationshipStatusFailed:
		return false, nil
	}

	err := r.apply(ctx, rel, proxy)
	if err == nil {
		rel.Status = model.RelationshipStatusComplete
		metrics.IncreaseRelationshipsSettledMetric(model.RelationshipStatusComplete)
		return true, r.store.Relationship().Save(ctx, rel)
	}

	var soft errUnresolvable
	if errors.As(err, &soft) {
		rel.Retries++
		if rel.Retries >= r.maxRetries {
			rel.Status = model.RelationshipStatusFailed
			metrics.IncreaseRelationshipsSettledMetric(model.RelationshipStatusFailed)
			r.log.Warnw("relationship failed after retries",
				"relationship", rel.ID, "proxy", proxy.ID, "reason", soft.reason)
		} else {
			rel.Status = model.RelationshipStatusPending
		}
		return false, r.store.Relationship().Save(ctx, rel)
	}

	// hard failure, no point retrying
	rel.Status = model.RelationshipStatusFailed
	metrics.IncreaseRelationshipsSettledMetric(model.RelationshipStatusFailed)
	if saveErr := r.store.Relationship().Save(ctx, rel); saveErr != nil {
		return false, saveErr
	}
	return false, err
}

func (r *Resolver) apply(ctx context.Context, rel *model.Relationship, proxy *model.RowProxy) error {
	if proxy.ObjectID == nil || *proxy.ObjectID == "" {
		return errUnresolvable{reason: "subject object not yet created"}
	}
	subject, err := r.repo.FindByID(ctx, *proxy.ObjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errUnresolvable{reason: "subject object not retrievable"}
		}
		return err
	}

	target, err := r.findTarget(ctx, rel, proxy)
	if err != nil {
		return err
	}

	switch rel.RelationshipType {
	case model.RelationshipParent:
		position, err := r.siblingPosition(ctx, rel, target)
		if err != nil {
			return err
		}
		return r.repo.InsertOrderedMember(ctx, target.ID, subject.ID, position)
	case model.RelationshipChild:
		return r.repo.InsertOrderedMember(ctx, subject.ID, target.ID, len(subject.OrderedMemberIDs))
	case model.RelationshipCollection:
		return r.repo.AddMember(ctx, target.ID, subject.ID)
	case model.RelationshipOrder:
		// never had a working producer; parks until retries run out
		return errUnresolvable{reason: "order relationships are not applied"}
	default:
		return fmt.Errorf("unknown relationship type %q", rel.RelationshipType)
	}
}

func (r *Resolver) findTarget(ctx context.Context, rel *model.Relationship, proxy *model.RowProxy) (*repository.Object, error) {
	switch rel.IdentifierType {
	case model.IdentifierTypeID:
		obj, err := r.repo.FindByID(ctx, rel.ObjectIdentifier)
		if err != nil {
			if errors.Is(err, repository.ErrGone) {
				return nil, fmt.Errorf("target object %s was removed", rel.ObjectIdentifier)
			}
			if errors.Is(err, repository.ErrNotFound) {
				return nil, errUnresolvable{reason: fmt.Sprintf("target object %s not found", rel.ObjectIdentifier)}
			}
			return nil, err
		}
		return obj, nil

	case model.IdentifierTypeTitle, model.IdentifierTypeIdentifier:
		hits, err := r.repo.SearchByField(ctx, rel.IdentifierType, rel.ObjectIdentifier, 2)
		if err != nil {
			return nil, err
		}
		switch len(hits) {
		case 1:
			return hits[0], nil
		case 0:
			if rel.RelationshipType == model.RelationshipCollection {
				return r.repo.Create(ctx, &repository.Object{
					Type:  repository.CollectionType,
					Title: rel.ObjectIdentifier,
				})
			}
			return nil, errUnresolvable{reason: fmt.Sprintf("no object with %s %q", rel.IdentifierType, rel.ObjectIdentifier)}
		default:
			return nil, fmt.Errorf("%s %q matches more than one object", rel.IdentifierType, rel.ObjectIdentifier)
		}

	case model.IdentifierTypeRow:
		rowNumber, err := strconv.Atoi(rel.ObjectIdentifier)
		if err != nil {
			return nil, fmt.Errorf("invalid row reference %q", rel.ObjectIdentifier)
		}
		targetProxy, err := r.store.RowProxy().GetByRowNumber(ctx, proxy.OperationID, rowNumber)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil, errUnresolvable{reason: fmt.Sprintf("no row proxy for row %d", rowNumber)}
			}
			return nil, err
		}
		return r.proxyObject(ctx, targetProxy)

	case model.IdentifierTypeProxyID:
		proxyID, err := strconv.Atoi(rel.ObjectIdentifier)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy reference %q", rel.ObjectIdentifier)
		}
		targetProxy, err := r.store.RowProxy().Get(ctx, uint(proxyID))
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return nil, errUnresolvable{reason: fmt.Sprintf("no row proxy %d", proxyID)}
			}
			return nil, err
		}
		return r.proxyObject(ctx, targetProxy)

	default:
		return nil, fmt.Errorf("unknown identifier type %q", rel.IdentifierType)
	}
}

func (r *Resolver) proxyObject(ctx context.Context, proxy *model.RowProxy) (*repository.Object, error) {
	if proxy.ObjectID == nil || *proxy.ObjectID == "" {
		return nil, errUnresolvable{reason: fmt.Sprintf("row proxy %d has no object yet", proxy.ID)}
	}
	obj, err := r.repo.FindByID(ctx, *proxy.ObjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errUnresolvable{reason: fmt.Sprintf("object %s not yet retrievable", *proxy.ObjectID)}
		}
		return nil, err
	}
	return obj, nil
}

// siblingPosition walks the declared previous-sibling chain back to the
// nearest sibling already attached to the parent and places the subject right
// after it. Rows can finish in any order, so the nearest declared sibling may
// not be attached yet; the chain skips it and keeps walking.
func (r *Resolver) siblingPosition(ctx context.Context, rel *model.Relationship, parent *repository.Object) (int, error) {
	attachedAt := map[string]int{}
	for i, id := range parent.OrderedMemberIDs {
		attachedAt[id] = i
	}

	siblingID := rel.PreviousSiblingID
	for siblingID != nil {
		sibling, err := r.store.RowProxy().Get(ctx, *siblingID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				break
			}
			return 0, err
		}
		if sibling.ObjectID != nil {
			if pos, ok := attachedAt[*sibling.ObjectID]; ok {
				return pos + 1, nil
			}
		}
		siblingID = sibling.PreviousSiblingID
	}
	return 0, nil
}

