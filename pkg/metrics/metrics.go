package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	bulkops = "bulkops"

	rowsProcessedTotal        = "rows_processed_total"
	relationshipsSettledTotal = "relationships_settled_total"
	errorReportsWrittenTotal  = "error_reports_written_total"

	rowStatusLabel           = "status"
	relationshipOutcomeLabel = "outcome"
)

/**
* Metrics definition
**/
var rowsProcessedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: bulkops,
		Name:      rowsProcessedTotal,
		Help:      "number of spreadsheet rows processed, by terminal status",
	},
	[]string{rowStatusLabel},
)

var relationshipsSettledTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: bulkops,
		Name:      relationshipsSettledTotal,
		Help:      "number of relationships settled, by outcome",
	},
	[]string{relationshipOutcomeLabel},
)

var errorReportsWrittenTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: bulkops,
		Name:      errorReportsWrittenTotal,
		Help:      "number of error reports filed",
	},
)

func IncreaseRowsProcessedMetric(status string) {
	rowsProcessedTotalMetric.With(prometheus.Labels{rowStatusLabel: status}).Inc()
}

func IncreaseRelationshipsSettledMetric(outcome string) {
	relationshipsSettledTotalMetric.With(prometheus.Labels{relationshipOutcomeLabel: outcome}).Inc()
}

func IncreaseErrorReportsWrittenMetric() {
	errorReportsWrittenTotalMetric.Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(rowsProcessedTotalMetric)
	prometheus.MustRegister(relationshipsSettledTotalMetric)
	prometheus.MustRegister(errorReportsWrittenTotalMetric)
}
