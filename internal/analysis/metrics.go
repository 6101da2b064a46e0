package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analyzer_tasks_submitted_total",
		Help: "Total analysis tasks submitted",
	})

	tasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analyzer_tasks_completed_total",
		Help: "Total analysis tasks finished by outcome",
	}, []string{"outcome"})

	resultsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analyzer_results_published_total",
		Help: "Total analysis results handed to the publisher",
	})

	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analyzer_publish_errors_total",
		Help: "Total publisher errors and panics",
	})

	engineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analyzer_engine_errors_total",
		Help: "Total engine errors by kind",
	}, []string{"kind"})

	// stepDuration tracks wall time spent draining one budget
	stepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "analyzer_step_duration_seconds",
		Help:    "Wall time per analysis step in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	})

	schedulerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "analyzer_scheduler_state",
		Help: "Current scheduler state as its numeric code",
	})
)
