package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harun/memcore/pkg/governance"
	"github.com/harun/memcore/pkg/memory"
	"github.com/harun/memcore/pkg/syncmgr"
)

// Metrics holds the state gauges of a running memory core. Event counters
// and latencies live in the default registry; the handler serves both.
type Metrics struct {
	registry *prometheus.Registry

	// Unit metrics
	UnitsByStatus *prometheus.GaugeVec
	UnitsTotal    prometheus.Gauge

	// Cache metrics
	CacheEntries  *prometheus.GaugeVec
	CacheCapacity *prometheus.GaugeVec
	CacheHitRatio prometheus.Gauge

	// Sync metrics
	PendingReconciliation prometheus.Gauge
	BackendUp             *prometheus.GaugeVec
	SyncOutcomes          *prometheus.GaugeVec

	// Governance metrics
	LastSweepUnits *prometheus.GaugeVec
	LastSweepTime  prometheus.Gauge
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		// Unit metrics
		UnitsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "memcore_units",
				Help: "Number of stored units by lifecycle status",
			},
			[]string{"status"},
		),
		UnitsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memcore_units_total",
				Help: "Number of stored units across all statuses",
			},
		),

		// Cache metrics
		CacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "memcore_cache_entries",
				Help: "Units resident in each cache layer",
			},
			[]string{"layer"},
		),
		CacheCapacity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "memcore_cache_capacity",
				Help: "Configured capacity of each cache layer",
			},
			[]string{"layer"},
		),
		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memcore_cache_hit_ratio",
				Help: "Lifetime cache hit ratio",
			},
		),

		// Sync metrics
		PendingReconciliation: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memcore_sync_pending_reconciliation",
				Help: "Backend/unit pairs waiting for reconciliation",
			},
		),
		BackendUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "memcore_backend_up",
				Help: "1 when a backend is available, 0 when degraded",
			},
			[]string{"backend"},
		),
		SyncOutcomes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "memcore_sync_outcomes",
				Help: "Write and maintenance outcomes since start",
			},
			[]string{"outcome"},
		),

		// Governance metrics
		LastSweepUnits: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "memcore_governance_last_sweep_units",
				Help: "Units affected by the most recent governance sweep",
			},
			[]string{"action"},
		),
		LastSweepTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memcore_governance_last_sweep_timestamp_seconds",
				Help: "Completion time of the most recent governance sweep",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.UnitsByStatus)
	m.registry.MustRegister(m.UnitsTotal)

	m.registry.MustRegister(m.CacheEntries)
	m.registry.MustRegister(m.CacheCapacity)
	m.registry.MustRegister(m.CacheHitRatio)

	m.registry.MustRegister(m.PendingReconciliation)
	m.registry.MustRegister(m.BackendUp)
	m.registry.MustRegister(m.SyncOutcomes)

	m.registry.MustRegister(m.LastSweepUnits)
	m.registry.MustRegister(m.LastSweepTime)
}

// Observe copies a stats snapshot into the gauges.
func (m *Metrics) Observe(s memory.Stats) {
	for status, n := range s.Units {
		m.UnitsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
	m.UnitsTotal.Set(float64(s.Total))

	for _, layer := range s.Cache.Layers {
		label := strconv.Itoa(layer.Layer)
		m.CacheEntries.WithLabelValues(label).Set(float64(layer.Size))
		m.CacheCapacity.WithLabelValues(label).Set(float64(layer.Capacity))
	}
	m.CacheHitRatio.Set(s.Cache.HitRatio)

	m.PendingReconciliation.Set(float64(s.Sync.Pending))
	for name, status := range s.Sync.Backends {
		up := 0.0
		if status == syncmgr.BackendAvailable {
			up = 1
		}
		m.BackendUp.WithLabelValues(name).Set(up)
	}

	outcomes := map[string]uint64{
		"committed":    s.Sync.Committed,
		"aborted":      s.Sync.Aborted,
		"partial":      s.Sync.Partial,
		"merged":       s.Sync.Merged,
		"race":         s.Sync.Races,
		"deleted":      s.Sync.Deleted,
		"reconciled":   s.Sync.Reconciled,
		"synchronized": s.Sync.Synchronized,
		"conflict":     s.Sync.Conflicts,
	}
	for outcome, n := range outcomes {
		m.SyncOutcomes.WithLabelValues(outcome).Set(float64(n))
	}
}

// ObserveSweep records the outcome of a governance sweep.
func (m *Metrics) ObserveSweep(r governance.SweepReport, at time.Time) {
	m.LastSweepUnits.WithLabelValues("scanned").Set(float64(r.Scanned))
	m.LastSweepUnits.WithLabelValues("decayed").Set(float64(r.Decayed))
	m.LastSweepUnits.WithLabelValues("archived").Set(float64(r.Archived))
	m.LastSweepUnits.WithLabelValues("expired").Set(float64(r.Expired))
	m.LastSweepUnits.WithLabelValues("deleted").Set(float64(r.Deleted))
	m.LastSweepUnits.WithLabelValues("merged").Set(float64(r.Merged))
	m.LastSweepTime.Set(float64(at.Unix()))
}

// Handler returns an HTTP handler for the metrics endpoint, serving the
// state gauges alongside everything in the default registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.Gatherers{m.registry, prometheus.DefaultGatherer}, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
