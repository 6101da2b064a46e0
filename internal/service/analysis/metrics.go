package analysis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analyzer_requests_total",
		Help: "Total analysis requests by source that answered them",
	}, []string{"source"})

	cacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analyzer_cache_errors_total",
		Help: "Total result cache read errors treated as misses",
	})

	persistDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analyzer_persist_dropped_total",
		Help: "Total archive writes dropped because the queue was full",
	})

	eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analyzer_events_emitted_total",
		Help: "Total events fanned out to subscribers by type",
	}, []string{"type"})
)
