package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample returns the value of the series with the given labels, or 0.
func sample(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func TestCacheMetrics(t *testing.T) {
	EnsureRegistered()
	labels := map[string]string{"layer": "L1", "result": "hit"}
	before := sample(t, "cache_lookups_total", labels)

	RecordCacheLookup("L1", true)
	RecordCacheLookup("L1", false)

	assert.Equal(t, before+1, sample(t, "cache_lookups_total", labels))
}

func TestBackendDegradedGauge(t *testing.T) {
	SetBackendDegraded("vectors", true)
	assert.Equal(t, 1.0, sample(t, "backend_degraded", map[string]string{"backend": "vectors"}))

	SetBackendDegraded("vectors", false)
	assert.Equal(t, 0.0, sample(t, "backend_degraded", map[string]string{"backend": "vectors"}))
}

func TestSyncTransactionCounter(t *testing.T) {
	EnsureRegistered()
	labels := map[string]string{"outcome": "partial"}
	before := sample(t, "sync_transactions_total", labels)

	RecordSyncTransaction("partial", 10*time.Millisecond)

	assert.Equal(t, before+1, sample(t, "sync_transactions_total", labels))
}
