// Package telemetry provides application-level observability for the CCT registry.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<CCT_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Registry admissions (organizations, projects)
//   - Sale outcomes, units sold and currency settled
//   - Sale event relay and archive progress
//   - Database connection pool gauges (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as
// /api/v1/organizations/:org/projects/:index/sell) rather than the raw request URL so
// organization ids never become label values.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Registry metrics. Plain counters incremented on each successful admission.
var (
	OrganizationsRegisteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cct_organizations_registered_total",
			Help: "Total number of organizations admitted to the registry.",
		},
	)

	ProjectsRegisteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cct_projects_registered_total",
			Help: "Total number of projects registered by organizations.",
		},
	)
)

// Exchange metrics.
//
// SalesTotal is a CounterVec with label {outcome}: settled, invalid_quantity, not_found,
// not_eligible, validator_unavailable, payment_rejected, insufficient_supply,
// insufficient_funds, error.
//
// Example PromQL queries:
//   - Settled sales per minute:      rate(cct_sales_total{outcome="settled"}[1m]) * 60
//   - Supply exhaustion pressure:    rate(cct_sales_total{outcome="insufficient_supply"}[15m])
//   - Units sold in the last day:    increase(cct_units_sold_total[24h])
var (
	SalesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cct_sales_total",
			Help: "Total number of sell attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	SaleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cct_sale_duration_seconds",
			Help:    "Duration of a sell call from validation to commit.",
			Buckets: prometheus.DefBuckets,
		},
	)

	UnitsSoldTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cct_units_sold_total",
			Help: "Total CCT units sold across all projects.",
		},
	)

	CurrencySettledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cct_currency_settled_total",
			Help: "Total native currency paid to organizations for sold CCT.",
		},
	)
)

// Event delivery metrics, recorded by the relay and archiver jobs.
//
// An alert on increase(cct_event_relay_failures_total[15m]) > 0 together with a flat
// cct_events_published_total catches a stuck downstream sink.
var (
	EventsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cct_events_published_total",
			Help: "Total number of sale events delivered to downstream sinks.",
		},
	)

	EventRelayFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cct_event_relay_failures_total",
			Help: "Total number of relay batches that failed to deliver.",
		},
	)

	ArchiveSegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cct_archive_segments_total",
			Help: "Total number of sale event archive segments written, by storage backend.",
		},
		[]string{"backend"},
	)
)

// Database pool gauges, sampled every 30 seconds by StartDBStatsCollector rather than
// per request.
var (
	DBOpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cct_db_open_connections",
			Help: "Current number of open database connections in the pool.",
		},
	)

	DBInUseConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cct_db_in_use_connections",
			Help: "Current number of database connections in use.",
		},
	)
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB pool
// statistics every 30 seconds. It exits when the database becomes unreachable, which
// happens on shutdown once db.Close() has run.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			RecordDBStats(db.Stats())
		}
	}()
}

// RecordDBStats copies pool statistics into the gauges
func RecordDBStats(stats sql.DBStats) {
	DBOpenConnections.Set(float64(stats.OpenConnections))
	DBInUseConnections.Set(float64(stats.InUse))
}
