package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	completionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hailuoapi_completions_total",
			Help: "Total number of completion turns by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hailuoapi_retries_total",
			Help: "Total number of retried upstream stream attempts",
		},
	)

	activeStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hailuoapi_active_streams",
			Help: "Current number of in-flight streaming completions",
		},
	)
)
