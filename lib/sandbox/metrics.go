package sandbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var solveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "ipsleuth_solve_duration_seconds",
	Help:    "The time taken for one challenge acquisition to resolve.",
	Buckets: prometheus.ExponentialBucketsRange(0.01, 30, 15),
})

var solveOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ipsleuth_solve_outcomes_total",
	Help: "Challenge acquisition outcomes by kind.",
}, []string{"outcome"})
