package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store holds the Prometheus collectors for one process.
type Store struct {
	Registry          *prometheus.Registry
	RunActive         prometheus.Gauge
	RunDuration       prometheus.Histogram
	TableOutcomes     *prometheus.CounterVec
	DDLActions        *prometheus.CounterVec
	Conflicts         *prometheus.CounterVec
	RowOutcomes       *prometheus.CounterVec
	RowWriteDuration  *prometheus.HistogramVec
	SyncErrorsTotal   *prometheus.CounterVec
	DBOpenConnections prometheus.Gauge
}

// NewMetricsStore creates the collectors on a private registry.
func NewMetricsStore() *Store {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Store{
		Registry: registry,
		RunActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "surveysync_run_active",
			Help: "1 while a reconciliation run is in progress.",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "surveysync_run_duration_seconds",
			Help:    "Duration of a whole reconciliation run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		}),
		TableOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "surveysync_tables_total",
			Help: "Tables reconciled, by outcome (created, recreated, altered, unchanged, conflicted).",
		}, []string{"outcome"}),
		DDLActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "surveysync_ddl_actions_total",
			Help: "Schema actions by kind and status (applied, planned, failed, not_attempted).",
		}, []string{"kind", "status"}),
		Conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "surveysync_conflicts_total",
			Help: "Schema conflicts by kind.",
		}, []string{"kind"}),
		RowOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "surveysync_rows_total",
			Help: "Incoming rows by table and outcome (inserted, updated, unchanged, deleted).",
		}, []string{"table", "outcome"}),
		RowWriteDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surveysync_row_write_duration_seconds",
			Help:    "Duration of single row writes.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"table", "op"}),
		SyncErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "surveysync_errors_total",
			Help: "Errors by type (connection, introspection, schema_execution, records, invariant).",
		}, []string{"type", "table"}),
		DBOpenConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "surveysync_db_open_connections",
			Help: "Open connections in the destination pool.",
		}),
	}
}

// The helpers below are no-ops on a nil Store.

func (s *Store) TableOutcome(outcome string) {
	if s != nil {
		s.TableOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (s *Store) DDLAction(kind, status string) {
	if s != nil {
		s.DDLActions.WithLabelValues(kind, status).Inc()
	}
}

func (s *Store) Conflict(kind string) {
	if s != nil {
		s.Conflicts.WithLabelValues(kind).Inc()
	}
}

func (s *Store) Rows(table, outcome string, n int) {
	if s != nil && n > 0 {
		s.RowOutcomes.WithLabelValues(table, outcome).Add(float64(n))
	}
}

func (s *Store) RowWrite(table, op string, seconds float64) {
	if s != nil {
		s.RowWriteDuration.WithLabelValues(table, op).Observe(seconds)
	}
}

func (s *Store) Error(kind, table string) {
	if s != nil {
		s.SyncErrorsTotal.WithLabelValues(kind, table).Inc()
	}
}
