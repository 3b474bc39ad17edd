package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digitalcollections/bulkops/internal/config"
	"github.com/digitalcollections/bulkops/internal/store"
	"github.com/digitalcollections/bulkops/pkg/log"
	"github.com/digitalcollections/bulkops/pkg/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}

		logger := log.InitLog(cfg.Service.LogLevel)
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Named("migrate").Fatalf("initializing data store: %v", err)
		}
		dataStore := store.NewStore(db)
		defer dataStore.Close()

		// versioned migrations need postgres; everywhere else the schema is
		// created directly from the models
		if cfg.Database.Type != "pgsql" || cfg.Service.MigrationFolder == "" {
			if err := dataStore.InitialMigration(); err != nil {
				zap.S().Named("migrate").Fatalf("running initial migration: %v", err)
			}
			return nil
		}

		pool, err := pgxpool.New(context.Background(), pgxDSN(cfg))
		if err != nil {
			zap.S().Named("migrate").Fatalf("connecting job pool: %v", err)
		}
		defer pool.Close()

		if err := migrations.MigrateStore(db, cfg.Service.MigrationFolder, pool); err != nil {
			zap.S().Named("migrate").Fatalf("migrating store: %v", err)
		}

		zap.S().Named("migrate").Info("db migrated")
		return nil
	},
}
