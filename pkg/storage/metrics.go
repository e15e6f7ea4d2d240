package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeMetrics reports store activity. A nil *storeMetrics records nothing.
type storeMetrics struct {
	mutations    *prometheus.CounterVec
	transactions *prometheus.CounterVec
	edges        prometheus.Gauge
}

func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	if reg == nil {
		return nil
	}
	return &storeMetrics{
		mutations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "refstore",
			Name:      "mutations_total",
			Help:      "Number of edges inserted or removed, by operation",
		}, []string{"op"}),
		transactions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "refstore",
			Name:      "transactions_total",
			Help:      "Number of finished transactions, by outcome",
		}, []string{"outcome"}),
		edges: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "refstore",
			Name:      "edges",
			Help:      "Number of edges in the live state of the store",
		}),
	}
}

func (m *storeMetrics) mutated(op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.mutations.WithLabelValues(op).Add(float64(n))
}

func (m *storeMetrics) finished(outcome string, edges int) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
	m.edges.Set(float64(edges))
}

func (m *storeMetrics) setEdges(edges int) {
	if m == nil {
		return
	}
	m.edges.Set(float64(edges))
}
