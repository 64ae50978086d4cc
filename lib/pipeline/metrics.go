package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ipsleuth_pipeline_run_duration_seconds",
		Help:    "Wall time of one full acquisition and query run.",
		Buckets: prometheus.ExponentialBucketsRange(0.1, 60, 12),
	})

	runOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipsleuth_pipeline_runs_total",
		Help: "Pipeline runs by outcome, \"ok\" or the fault code.",
	}, []string{"outcome"})
)
