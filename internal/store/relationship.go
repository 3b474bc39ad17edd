package store

import (
	"context"
	"errors"

	"github.com/digitalcollections/bulkops/internal/store/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Relationship interface {
	InitialMigration() error
	Create(ctx context.Context, relationship model.Relationship) (*model.Relationship, error)
	Get(ctx context.Context, id uint) (*model.Relationship, error)
	ListByProxy(ctx context.Context, rowProxyID uint) (model.RelationshipList, error)
	// ListPendingByOperation returns every relationship of the operation's
	// rows still awaiting resolution (status new or pending).
	ListPendingByOperation(ctx context.Context, operationID uuid.UUID) (model.RelationshipList, error)
	CountAllByStatus(ctx context.Context) (map[string]int64, error)
	Save(ctx context.Context, relationship *model.Relationship) error
	Delete(ctx context.Context, id uint) error
}

type RelationshipStore struct {
	db *gorm.DB
}

// Make sure we conform to Relationship interface
var _ Relationship = (*RelationshipStore)(nil)

func NewRelationship(db *gorm.DB) Relationship {
	return &RelationshipStore{db: db}
}

func (s *RelationshipStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Relationship{})
}

func (s *RelationshipStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

func (s *RelationshipStore) Create(ctx context.Context, relationship model.Relationship) (*model.Relationship, error) {
	result := s.getDB(ctx).Create(&relationship)
	if result.Error != nil {
		return nil, result.Error
	}
	return &relationship, nil
}

func (s *RelationshipStore) Get(ctx context.Context, id uint) (*model.Relationship, error) {
	var relationship model.Relationship
	result := s.getDB(ctx).First(&relationship, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &relationship, nil
}

func (s *RelationshipStore) ListByProxy(ctx context.Context, rowProxyID uint) (model.RelationshipList, error) {
	var relationships model.RelationshipList
	result := s.getDB(ctx).Where("row_proxy_id = ?", rowProxyID).Order("id").Find(&relationships)
	if result.Error != nil {
		return nil, result.Error
	}
	return relationships, nil
}

func (s *RelationshipStore) ListPendingByOperation(ctx context.Context, operationID uuid.UUID) (model.RelationshipList, error) {
	var relationships model.RelationshipList
	result := s.getDB(ctx).
		Joins("JOIN row_proxies ON row_proxies.id = relationships.row_proxy_id").
		Where("row_proxies.operation_id = ? AND relationships.status IN ?",
			operationID, []string{model.RelationshipStatusNew, model.RelationshipStatusPending}).
		Order("relationships.id").
		Find(&relationships)
	if result.Error != nil {
		return nil, result.Error
	}
	return relationships, nil
}

func (s *RelationshipStore) CountAllByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	result := s.getDB(ctx).Model(&model.Relationship{}).Select("status, count(*) as count").Group("status").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (s *RelationshipStore) Save(ctx context.Context, relationship *model.Relationship) error {
	result := s.getDB(ctx).Save(relationship)
	return result.Error
}

func (s *RelationshipStore) Delete(ctx context.Context, id uint) error {
	result := s.getDB(ctx).Unscoped().Delete(&model.Relationship{Model: gorm.Model{ID: id}})
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}
	return nil
}
