// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bizcal_cache_requests_total",
		Help: "Cache lookups by scope and result (hit, miss, error).",
	}, []string{"scope", "result"})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bizcal_provider_errors_total",
		Help: "Failed provider calls, isolated per calendar.",
	}, []string{"provider", "op"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bizcal_events_dropped_total",
		Help: "Events removed during normalization or merge.",
	}, []string{"reason"})

	Invalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bizcal_cache_invalidations_total",
		Help: "Explicit invalidation passes triggered by mutations.",
	})
)
