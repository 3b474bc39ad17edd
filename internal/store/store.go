package store

import (
	"context"

	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Operation() Operation
	RowProxy() RowProxy
	Relationship() Relationship
	InitialMigration() error
	Close() error
}

type DataStore struct {
	db           *gorm.DB
	operation    Operation
	rowProxy     RowProxy
	relationship Relationship
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:           db,
		operation:    NewOperation(db),
		rowProxy:     NewRowProxy(db),
		relationship: NewRelationship(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Operation() Operation {
	return s.operation
}

func (s *DataStore) RowProxy() RowProxy {
	return s.rowProxy
}

func (s *DataStore) Relationship() Relationship {
	return s.relationship
}

func (s *DataStore) InitialMigration() error {
	if err := s.operation.InitialMigration(); err != nil {
		return err
	}
	if err := s.rowProxy.InitialMigration(); err != nil {
		return err
	}
	return s.relationship.InitialMigration()
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
