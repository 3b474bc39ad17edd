package store

import (
	"context"
	"errors"

	"github.com/digitalcollections/bulkops/internal/store/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Operation interface {
	InitialMigration() error
	List(ctx context.Context) (model.OperationList, error)
	ListActive(ctx context.Context) (model.OperationList, error)
	Create(ctx context.Context, operation model.Operation) (*model.Operation, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Operation, error)
	GetByName(ctx context.Context, name string) (*model.Operation, error)
	GetByApprovalID(ctx context.Context, approvalID int) (*model.Operation, error)
	Update(ctx context.Context, id uuid.UUID, stage, status, message *string, approvalID *int) (*model.Operation, error)
	CountByStage(ctx context.Context) (map[string]int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type OperationStore struct {
	db *gorm.DB
}

// Make sure we conform to Operation interface
var _ Operation = (*OperationStore)(nil)

func NewOperation(db *gorm.DB) Operation {
	return &OperationStore{db: db}
}

func (s *OperationStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Operation{})
}

func (s *OperationStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

func (s *OperationStore) List(ctx context.Context) (model.OperationList, error) {
	var operations model.OperationList
	result := s.getDB(ctx).Model(&operations).Order("created_at").Find(&operations)
	if result.Error != nil {
		return nil, result.Error
	}
	return operations, nil
}

func (s *OperationStore) ListActive(ctx context.Context) (model.OperationList, error) {
	var operations model.OperationList
	result := s.getDB(ctx).Where("stage IN ?", model.ActiveStages()).Order("created_at").Find(&operations)
	if result.Error != nil {
		return nil, result.Error
	}
	return operations, nil
}

func (s *OperationStore) Create(ctx context.Context, operation model.Operation) (*model.Operation, error) {
	if operation.ID == uuid.Nil {
		operation.ID = uuid.New()
	}
	result := s.getDB(ctx).Create(&operation)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, result.Error
	}
	return &operation, nil
}

func (s *OperationStore) Get(ctx context.Context, id uuid.UUID) (*model.Operation, error) {
	operation := model.Operation{ID: id}
	result := s.getDB(ctx).First(&operation)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &operation, nil
}

func (s *OperationStore) GetByName(ctx context.Context, name string) (*model.Operation, error) {
	var operation model.Operation
	result := s.getDB(ctx).Where("name = ?", name).First(&operation)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &operation, nil
}

func (s *OperationStore) GetByApprovalID(ctx context.Context, approvalID int) (*model.Operation, error) {
	var operation model.Operation
	result := s.getDB(ctx).Where("approval_id = ?", approvalID).First(&operation)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &operation, nil
}

func (s *OperationStore) Update(ctx context.Context, id uuid.UUID, stage, status, message *string, approvalID *int) (*model.Operation, error) {
	operation := model.Operation{ID: id}
	selectFields := []string{}
	if stage != nil {
		operation.Stage = *stage
		selectFields = append(selectFields, "stage")
	}
	if status != nil {
		operation.Status = *status
		selectFields = append(selectFields, "status")
	}
	if message != nil {
		operation.Message = *message
		selectFields = append(selectFields, "message")
	}
	if approvalID != nil {
		operation.ApprovalID = approvalID
		selectFields = append(selectFields, "approval_id")
	}

	result := s.getDB(ctx).Model(&operation).Clauses(clause.Returning{}).Select(selectFields).Updates(&operation)
	if result.Error != nil {
		return nil, result.Error
	}
	return &operation, nil
}

func (s *OperationStore) CountByStage(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Stage string
		Count int64
	}
	result := s.getDB(ctx).Model(&model.Operation{}).Select("stage, count(*) as count").Group("stage").Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Stage] = row.Count
	}
	return counts, nil
}

func (s *OperationStore) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.getDB(ctx).Unscoped().Select(clause.Associations).Delete(&model.Operation{ID: id})
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}
	return nil
}
