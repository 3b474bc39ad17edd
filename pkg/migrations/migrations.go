// Package migrations applies the versioned postgres schema with goose and
// keeps the river job tables current on the same database.
package migrations

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MigrateStore runs the sql migrations found in folder, then the river
// migrations, against the connected database.
func MigrateStore(db *gorm.DB, folder string, pool *pgxpool.Pool) error {
	if err := migrateSchema(db, folder); err != nil {
		return fmt.Errorf("schema migrations: %w", err)
	}
	if err := migrateJobQueue(pool); err != nil {
		return fmt.Errorf("river migrations: %w", err)
	}
	return nil
}

func migrateSchema(db *gorm.DB, folder string) error {
	fi, err := os.Stat(folder)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a migration folder", folder)
	}

	goose.SetLogger(gooseLogger{})
	goose.SetBaseFS(os.DirFS(folder))
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return goose.Up(sqlDB, ".")
}

func migrateJobQueue(pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return err
	}
	_, err = migrator.Migrate(context.Background(), rivermigrate.DirectionUp, nil)
	return err
}

// gooseLogger routes goose output through zap.
type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...interface{}) { zap.S().Named("goose").Infof(format, v...) }
func (gooseLogger) Fatalf(format string, v ...interface{}) { zap.S().Named("goose").Fatalf(format, v...) }
