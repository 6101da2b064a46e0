package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "analyzer_feed_subscribers",
		Help: "Current number of live feed subscribers",
	})

	feedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analyzer_feed_dropped_total",
		Help: "Total feed events dropped from full subscriber mailboxes",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analyzer_http_requests_total",
		Help: "Total HTTP requests by route and status",
	}, []string{"route", "status"})
)
