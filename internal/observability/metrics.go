package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	cacheLookupsTotal   *prometheus.CounterVec
	cacheEvictionsTotal *prometheus.CounterVec

	syncTransactionsTotal   *prometheus.CounterVec
	syncTransactionDuration prometheus.Histogram
	compensationsTotal      *prometheus.CounterVec
	reconciliationsTotal    *prometheus.CounterVec
	adapterCallDuration     *prometheus.HistogramVec
	adapterErrorsTotal      *prometheus.CounterVec
	backendDegraded         *prometheus.GaugeVec

	ingestTotal          *prometheus.CounterVec
	memorySearchDuration prometheus.Histogram
	memoryWriteDuration  prometheus.Histogram

	sweepDuration             prometheus.Histogram
	sweepErrorsTotal          prometheus.Counter
	lifecycleTransitionsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			cacheLookupsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_lookups_total",
					Help: "Cache layer probes by layer and result.",
				},
				[]string{"layer", "result"},
			),
			cacheEvictionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_evictions_total",
					Help: "Cache evictions by layer and fate (demoted or dropped).",
				},
				[]string{"layer", "fate"},
			),
			syncTransactionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sync_transactions_total",
					Help: "Saga write transactions by outcome.",
				},
				[]string{"outcome"},
			),
			syncTransactionDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "sync_transaction_duration_seconds",
					Help:    "Saga write transaction duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			compensationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sync_compensations_total",
					Help: "Compensating actions by backend and status.",
				},
				[]string{"backend", "status"},
			),
			reconciliationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sync_reconciliations_total",
					Help: "Reconciliation repairs by backend and status.",
				},
				[]string{"backend", "status"},
			),
			adapterCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "adapter_call_duration_seconds",
					Help:    "Backend adapter call duration in seconds by backend and operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"backend", "op"},
			),
			adapterErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "adapter_errors_total",
					Help: "Backend adapter errors by backend and operation.",
				},
				[]string{"backend", "op"},
			),
			backendDegraded: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "backend_degraded",
					Help: "Backend degraded state (1 degraded, 0 available).",
				},
				[]string{"backend"},
			),
			ingestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_ingest_total",
					Help: "Ingest requests by outcome (created, merged, rejected, failed).",
				},
				[]string{"outcome"},
			),
			memorySearchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_search_duration_seconds",
					Help:    "Memory search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_write_duration_seconds",
					Help:    "Memory ingest duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sweepDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "governance_sweep_duration_seconds",
					Help:    "Governance sweep duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sweepErrorsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "governance_sweep_errors_total",
					Help: "Per-unit errors encountered during governance sweeps.",
				},
			),
			lifecycleTransitionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "lifecycle_transitions_total",
					Help: "Unit lifecycle transitions by target status.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.cacheLookupsTotal,
			m.cacheEvictionsTotal,
			m.syncTransactionsTotal,
			m.syncTransactionDuration,
			m.compensationsTotal,
			m.reconciliationsTotal,
			m.adapterCallDuration,
			m.adapterErrorsTotal,
			m.backendDegraded,
			m.ingestTotal,
			m.memorySearchDuration,
			m.memoryWriteDuration,
			m.sweepDuration,
			m.sweepErrorsTotal,
			m.lifecycleTransitionsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordCacheLookup(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	getMetrics().cacheLookupsTotal.WithLabelValues(layer, result).Inc()
}

func RecordCacheEviction(layer string, demoted bool) {
	fate := "dropped"
	if demoted {
		fate = "demoted"
	}
	getMetrics().cacheEvictionsTotal.WithLabelValues(layer, fate).Inc()
}

// RecordSyncTransaction records a saga outcome: committed, aborted or partial.
func RecordSyncTransaction(outcome string, duration time.Duration) {
	m := getMetrics()
	m.syncTransactionsTotal.WithLabelValues(outcome).Inc()
	m.syncTransactionDuration.Observe(duration.Seconds())
}

func RecordCompensation(backend string, success bool) {
	getMetrics().compensationsTotal.WithLabelValues(backend, status(success)).Inc()
}

func RecordReconciliation(backend string, success bool) {
	getMetrics().reconciliationsTotal.WithLabelValues(backend, status(success)).Inc()
}

func RecordAdapterCall(backend, op string, duration time.Duration, success bool) {
	m := getMetrics()
	m.adapterCallDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
	if !success {
		m.adapterErrorsTotal.WithLabelValues(backend, op).Inc()
	}
}

func SetBackendDegraded(backend string, degraded bool) {
	value := 0.0
	if degraded {
		value = 1.0
	}
	getMetrics().backendDegraded.WithLabelValues(backend).Set(value)
}

func RecordIngest(outcome string) {
	getMetrics().ingestTotal.WithLabelValues(outcome).Inc()
}

func RecordMemorySearch(duration time.Duration) {
	getMetrics().memorySearchDuration.Observe(duration.Seconds())
}

func RecordMemoryWrite(duration time.Duration) {
	getMetrics().memoryWriteDuration.Observe(duration.Seconds())
}

func RecordSweep(duration time.Duration, errors int) {
	m := getMetrics()
	m.sweepDuration.Observe(duration.Seconds())
	m.sweepErrorsTotal.Add(float64(errors))
}

func RecordTransition(status string) {
	getMetrics().lifecycleTransitionsTotal.WithLabelValues(status).Inc()
}
