package dagcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fsfs",
		Subsystem: "dag_cache",
		Name:      "lookups_total",
		Help:      "Number of node cache lookups by tier and result",
	}, []string{"tier", "result"})
	clearMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fsfs",
		Subsystem: "dag_cache",
		Name:      "bulk_clears_total",
		Help:      "Number of times the bucket cache was cleared",
	})
	invalidateMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fsfs",
		Subsystem: "dag_cache",
		Name:      "txn_invalidations_total",
		Help:      "Number of transaction cache entries dropped because their path changed",
	})
)
