// Package metrics exposes sync progress as Prometheus metrics.
//
// A Collector owns its registry so several runs in one process (or tests) never collide on
// the default registerer. All methods are safe on a nil *Collector, which disables metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chferry"

// Failure stages reported by BatchFailed.
const (
	StageRead = "read"
	StageLoad = "load"
)

// Collector records per-table batch activity.
type Collector struct {
	registry *prometheus.Registry

	rowsSynced    *prometheus.CounterVec
	batches       *prometheus.CounterVec
	batchErrors   *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	tableSuccess  *prometheus.GaugeVec
	lastRun       prometheus.Gauge
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		rowsSynced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_synced_total",
			Help:      "Rows loaded into ClickHouse.",
		}, []string{"table"}),
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches loaded into ClickHouse.",
		}, []string{"table"}),
		batchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_errors_total",
			Help:      "Failed batch reads or loads.",
		}, []string{"table", "stage"}),
		batchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time to read, encode and load one batch.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"table"}),
		tableSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_sync_success",
			Help:      "1 if the last sync of the table finished with matching counts, 0 otherwise.",
		}, []string{"table"}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
}

func (c *Collector) BatchLoaded(table string, rows int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.rowsSynced.WithLabelValues(table).Add(float64(rows))
	c.batches.WithLabelValues(table).Inc()
	c.batchDuration.WithLabelValues(table).Observe(elapsed.Seconds())
}

func (c *Collector) BatchFailed(table, stage string) {
	if c == nil {
		return
	}
	c.batchErrors.WithLabelValues(table, stage).Inc()
}

func (c *Collector) TableFinished(table string, success bool) {
	if c == nil {
		return
	}
	value := 0.0
	if success {
		value = 1
	}
	c.tableSuccess.WithLabelValues(table).Set(value)
}

func (c *Collector) RunFinished(at time.Time) {
	if c == nil {
		return
	}
	c.lastRun.Set(float64(at.Unix()))
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
