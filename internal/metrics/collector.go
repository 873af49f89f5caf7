// Package metrics exposes migration run outcomes as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/example/migration-orchestrator/internal/migration"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "migrator"

// Collector implements migration.Observer on its own Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	MigrationsTotal   *prometheus.CounterVec
	MigrationDuration *prometheus.HistogramVec
	RunsTotal         *prometheus.CounterVec
	LastRunSuccess    *prometheus.GaugeVec
}

var _ migration.Observer = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		MigrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "migrations_total",
			Help:      "Total number of migration units applied or reverted",
		}, []string{"direction", "status"}),
		MigrationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "migration_duration_seconds",
			Help:      "Duration of migration units in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"direction"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Total number of migration runs by final state",
		}, []string{"direction", "state"}),
		LastRunSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run in a direction completed, 0 if it failed",
		}, []string{"direction"}),
	}

	reg.MustRegister(c.MigrationsTotal, c.MigrationDuration, c.RunsTotal, c.LastRunSuccess)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler that serves the metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// UnitFinished counts a unit and records its duration.
func (c *Collector) UnitFinished(event migration.UnitEvent) {
	status := "success"
	if event.Err != nil {
		status = "failure"
	}
	direction := string(event.Direction)
	c.MigrationsTotal.WithLabelValues(direction, status).Inc()
	c.MigrationDuration.WithLabelValues(direction).Observe(event.Duration.Seconds())
}

// RunFinished counts a run by its final state.
func (c *Collector) RunFinished(result migration.Result) {
	direction := string(result.Direction)
	c.RunsTotal.WithLabelValues(direction, result.State.String()).Inc()

	success := 0.0
	if result.State == migration.StateCompleted {
		success = 1
	}
	c.LastRunSuccess.WithLabelValues(direction).Set(success)
}
