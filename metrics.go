package windshed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	viewshedsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "windshed_viewsheds_total",
		Help: "The total number of viewsheds computed, by backend and result",
	}, []string{"backend", "result"})
	viewshedDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "windshed_viewshed_duration_seconds",
		Help:    "The time taken to compute a viewshed",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"backend"})
)
