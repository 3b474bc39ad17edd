package store

import (
	"context"
	"errors"

	"github.com/digitalcollections/bulkops/internal/store/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RowProxy interface {
	InitialMigration() error
	Create(ctx context.Context, proxy model.RowProxy) (*model.RowProxy, error)
	Get(ctx context.Context, id uint) (*model.RowProxy, error)
	GetByRowNumber(ctx context.Context, operationID uuid.UUID, rowNumber int) (*model.RowProxy, error)
	GetByObjectID(ctx context.Context, operationID uuid.UUID, objectID string) (*model.RowProxy, error)
	ListByOperation(ctx context.Context, operationID uuid.UUID) (model.RowProxyList, error)
	ListByStatus(ctx context.Context, operationID uuid.UUID, statuses ...string) (model.RowProxyList, error)
	CountUnfinished(ctx context.Context, operationID uuid.UUID) (int64, error)
	CountAllByStatus(ctx context.Context) (map[string]int64, error)
	Save(ctx context.Context, proxy *model.RowProxy) error
	Delete(ctx context.Context, id uint) error
	DeleteByOperation(ctx context.Context, operationID uuid.UUID) error
}

type RowProxyStore struct {
	db *gorm.DB
}

// Make sure we conform to RowProxy interface
var _ RowProxy = (*RowProxyStore)(nil)

func NewRowProxy(db *gorm.DB) RowProxy {
	return &RowProxyStore{db: db}
}

func (s *RowProxyStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.RowProxy{})
}

func (s *RowProxyStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

func (s *RowProxyStore) Create(ctx context.Context, proxy model.RowProxy) (*model.RowProxy, error) {
	result := s.getDB(ctx).Create(&proxy)
	if result.Error != nil {
		return nil, result.Error
	}
	return &proxy, nil
}

func (s *RowProxyStore) Get(ctx context.Context, id uint) (*model.RowProxy, error) {
	var proxy model.RowProxy
	result := s.getDB(ctx).Preload("Relationships").First(&proxy, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &proxy, nil
}

func (s *RowProxyStore) GetByRowNumber(ctx context.Context, operationID uuid.UUID, rowNumber int) (*model.RowProxy, error) {
	var proxy model.RowProxy
	result := s.getDB(ctx).Where("operation_id = ? AND row_number = ?", operationID, rowNumber).First(&proxy)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &proxy, nil
}

func (s *RowProxyStore) GetByObjectID(ctx context.Context, operationID uuid.UUID, objectID string) (*model.RowProxy, error) {
	var proxy model.RowProxy
	result := s.getDB(ctx).Where("operation_id = ? AND object_id = ?", operationID, objectID).First(&proxy)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &proxy, nil
}

func (s *RowProxyStore) ListByOperation(ctx context.Context, operationID uuid.UUID) (model.RowProxyList, error) {
	var proxies model.RowProxyList
	result := s.getDB(ctx).Where("operation_id = ?", operationID).Order("row_number").Find(&proxies)
	if result.Error != nil {
		return nil, result.Error
	}
	return proxies, nil
}

func (s *RowProxyStore) ListByStatus(ctx context.Context, operationID uuid.UUID, statuses ...string) (model.RowProxyList, error) {
	var proxies model.RowProxyList
	result := s.getDB(ctx).Where("operation_id = ? AND status IN ?", operationID, statuses).Order("row_number").Find(&proxies)
	if result.Error != nil {
		return nil, result.Error
	}
	return proxies, nil
}

// CountUnfinished is the busy check: cheap, idempotent, polled repeatedly.
func (s *RowProxyStore) CountUnfinished(ctx context.Context, operationID uuid.UUID) (int64, error) {
	var count int64
	result := s.getDB(ctx).Model(&model.RowProxy{}).
		Where("operation_id = ? AND status IN ?", operationID, model.UnfinishedStatuses()).
		Count(&count)
	if result.Error != nil {
		return 0, result.Error
	}
	return count, nil
}

func (s *RowProxyStore) CountAllByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	result := s.getDB(ctx).Model(&model.RowProxy{}).Select("status, count(*) as count").Group("status").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (s *RowProxyStore) Save(ctx context.Context, proxy *model.RowProxy) error {
	result := s.getDB(ctx).Save(proxy)
	return result.Error
}

func (s *RowProxyStore) Delete(ctx context.Context, id uint) error {
	result := s.getDB(ctx).Unscoped().Delete(&model.RowProxy{Model: gorm.Model{ID: id}})
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}
	return nil
}

func (s *RowProxyStore) DeleteByOperation(ctx context.Context, operationID uuid.UUID) error {
	result := s.getDB(ctx).Unscoped().Where("operation_id = ?", operationID).Delete(&model.RowProxy{})
	return result.Error
}
