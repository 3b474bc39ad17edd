package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lthibault/jitterbug"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digitalcollections/bulkops/internal/config"
	"github.com/digitalcollections/bulkops/internal/filestore"
	"github.com/digitalcollections/bulkops/internal/jobs"
	"github.com/digitalcollections/bulkops/internal/notify"
	"github.com/digitalcollections/bulkops/internal/operation"
	"github.com/digitalcollections/bulkops/internal/report"
	"github.com/digitalcollections/bulkops/internal/repository"
	"github.com/digitalcollections/bulkops/internal/resolver"
	"github.com/digitalcollections/bulkops/internal/schema"
	"github.com/digitalcollections/bulkops/internal/store"
	"github.com/digitalcollections/bulkops/internal/vocab"
	"github.com/digitalcollections/bulkops/pkg/log"
	"github.com/digitalcollections/bulkops/pkg/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bulk operations service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}

		logger := log.InitLog(cfg.Service.LogLevel)
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Named("run").Info("starting bulk operations service")
		defer zap.S().Named("run").Info("bulk operations service stopped")

		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Named("run").Fatalf("initializing data store: %v", err)
		}
		dataStore := store.NewStore(db)
		defer dataStore.Close()

		if err := dataStore.InitialMigration(); err != nil {
			zap.S().Named("run").Fatalf("running initial migration: %v", err)
		}

		reg := schema.DefaultRegistry()
		if cfg.Service.SchemaFile != "" {
			loaded, err := schema.LoadFile(cfg.Service.SchemaFile)
			if err != nil {
				zap.S().Named("run").Fatalf("loading schema: %v", err)
			}
			reg = loaded
		}

		files, err := filestore.NewLocalStore(cfg.Service.WorkRoot)
		if err != nil {
			zap.S().Named("run").Fatalf("opening work root: %v", err)
		}

		var writer notify.Writer = &notify.StdoutWriter{}
		if len(cfg.Service.Kafka.Brokers) > 0 {
			kw, err := notify.NewKafkaWriter(cfg.Service.Kafka.Brokers, cfg.Service.Kafka.ClientID)
			if err != nil {
				zap.S().Named("run").Fatalf("connecting kafka: %v", err)
			}
			writer = kw
		}
		producerOpts := []notify.ProducerOption{}
		if cfg.Service.Kafka.Topic != "" {
			producerOpts = append(producerOpts, notify.WithOutputTopic(cfg.Service.Kafka.Topic))
		}
		producer := notify.NewProducer(writer, producerOpts...)
		defer func() { _ = producer.Close() }()
		notifier := notify.NewNotifier(producer)

		repo := repository.NewMemoryRepository()
		svc := operation.NewService(operation.Collaborators{
			Store:     dataStore,
			Files:     files,
			Repo:      repo,
			Vocab:     vocab.NewLocalAuthority(cfg.Service.BaseURL),
			Schema:    reg,
			Uploader:  repository.LocalUploader{},
			Resolver:  resolver.New(dataStore, repo, cfg.Service.SweepMaxRetries),
			Notifier:  notifier,
			Reporter:  report.NewWriter(files, notifier),
			WorkTypes: cfg.Service.WorkTypes,
			MediaRoot: cfg.Service.MediaRoot,
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		// with postgres the row jobs and the pending sweep run on a river
		// queue; with sqlite rows run inline and a local ticker sweeps
		usingQueue := cfg.Database.Type == "pgsql"
		if usingQueue {
			pool, err := pgxpool.New(ctx, pgxDSN(cfg))
			if err != nil {
				zap.S().Named("run").Fatalf("connecting job pool: %v", err)
			}
			defer pool.Close()

			client, err := jobs.NewClient(ctx, pool, svc, svc, cfg.Service.SweepInterval)
			if err != nil {
				zap.S().Named("run").Fatalf("creating job client: %v", err)
			}
			if err := client.Start(ctx); err != nil {
				zap.S().Named("run").Fatalf("starting job client: %v", err)
			}
			defer func() { _ = client.Stop(context.Background()) }()
			svc.SetScheduler(jobs.NewRiverScheduler(client))
		}

		prometheus.MustRegister(metrics.NewOperationStatsCollector(dataStore))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Service.MetricsAddress, mux); err != nil {
				zap.S().Named("run").Errorf("metrics endpoint: %v", err)
			}
		}()

		if !usingQueue {
			go func() {
				sweepTicker := jitterbug.New(cfg.Service.SweepInterval, &jitterbug.Norm{Stdev: 30 * time.Second, Mean: 0})
				defer sweepTicker.Stop()
				for {
					select {
					case <-sweepTicker.C:
						if err := svc.Sweep(ctx); err != nil {
							zap.S().Named("sweep").Errorf("sweep failed: %v", err)
						}
					case <-ctx.Done():
						return
					}
				}
			}()
		}

		<-ctx.Done()
		return nil
	},
}

func pgxDSN(cfg *config.Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Hostname,
		cfg.Database.Port,
		cfg.Database.Name,
	)
}
