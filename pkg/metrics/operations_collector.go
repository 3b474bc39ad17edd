package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/digitalcollections/bulkops/internal/store"
)

// operationStatsCollector scrapes live pipeline state from the store: how
// many operations sit in each stage, rows in each status, and relationships
// still unresolved.
type operationStatsCollector struct {
	store                 store.Store
	operationsByStage     *prometheus.Desc
	rowsByStatus          *prometheus.Desc
	relationshipsByStatus *prometheus.Desc
}

func NewOperationStatsCollector(s store.Store) prometheus.Collector {
	fqName := func(name string) string {
		return fmt.Sprintf("%s_%s", bulkops, name)
	}

	return &operationStatsCollector{
		store: s,
		operationsByStage: prometheus.NewDesc(
			fqName("operations_by_stage"),
			"Number of operations in each lifecycle stage.",
			[]string{"stage"},
			prometheus.Labels{},
		),
		rowsByStatus: prometheus.NewDesc(
			fqName("rows_by_status"),
			"Number of row proxies in each processing status.",
			[]string{"status"},
			prometheus.Labels{},
		),
		relationshipsByStatus: prometheus.NewDesc(
			fqName("relationships_by_status"),
			"Number of relationships in each resolution status.",
			[]string{"status"},
			prometheus.Labels{},
		),
	}
}

func (c *operationStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.operationsByStage
	ch <- c.rowsByStatus
	ch <- c.relationshipsByStatus
}

// Collect implements Collector.
func (c *operationStatsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()

	stages, err := c.store.Operation().CountByStage(ctx)
	if err != nil {
		zap.S().Named("operation_collector").Errorf("failed to collect operation statistics: %s", err)
		return
	}
	for stage, total := range stages {
		ch <- prometheus.MustNewConstMetric(c.operationsByStage, prometheus.GaugeValue, float64(total), stage)
	}

	rows, err := c.store.RowProxy().CountAllByStatus(ctx)
	if err != nil {
		zap.S().Named("operation_collector").Errorf("failed to collect row statistics: %s", err)
		return
	}
	for status, total := range rows {
		ch <- prometheus.MustNewConstMetric(c.rowsByStatus, prometheus.GaugeValue, float64(total), status)
	}

	relationships, err := c.store.Relationship().CountAllByStatus(ctx)
	if err != nil {
		zap.S().Named("operation_collector").Errorf("failed to collect relationship statistics: %s", err)
		return
	}
	for status, total := range relationships {
		ch <- prometheus.MustNewConstMetric(c.relationshipsByStatus, prometheus.GaugeValue, float64(total), status)
	}
}
