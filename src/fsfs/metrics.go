package fsfs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commitMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fsfs",
		Subsystem: "commit",
		Name:      "total",
		Help:      "Number of commit attempts by outcome",
	}, []string{"outcome"})
	commitRetryMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fsfs",
		Subsystem: "commit",
		Name:      "out_of_date_retries_total",
		Help:      "Number of times a commit was merged again because another commit landed first",
	})
	commitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fsfs",
		Subsystem: "commit",
		Name:      "seconds",
		Help:      "Time spent in the commit loop, including retries",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	})
	mergeinfoCacheMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fsfs",
		Subsystem: "mergeinfo_cache",
		Name:      "lookups_total",
		Help:      "Number of mergeinfo cache lookups by cache and result",
	}, []string{"cache", "result"})
)
