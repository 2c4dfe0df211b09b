package store

import "github.com/prometheus/client_golang/prometheus"

var (
	entriesAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "peerdex",
		Subsystem: "store",
		Name:      "entries_added_total",
		Help:      "Number of entries accepted into the replicated store.",
	})
	entriesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peerdex",
		Subsystem: "store",
		Name:      "entries_rejected_total",
		Help:      "Number of store operations rejected, by reason.",
	}, []string{"reason"})
	entriesExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "peerdex",
		Subsystem: "store",
		Name:      "entries_expired_total",
		Help:      "Number of entries evicted by the TTL sweep.",
	})
	storeSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "peerdex",
		Subsystem: "store",
		Name:      "entries",
		Help:      "Current number of entries in the replicated store.",
	})
)

func init() {
	prometheus.MustRegister(entriesAdded, entriesRejected, entriesExpired, storeSize)
}
