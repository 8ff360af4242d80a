// Package metrics provides Prometheus metrics for the Thistle service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SuggestionsComputed tracks suggestions produced by compute, by confidence level
	SuggestionsComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "suggestions",
			Name:      "computed_total",
			Help:      "Total number of suggestions produced by compute, by confidence level",
		},
		[]string{"level"},
	)

	// ComputeDuration tracks how long a compute scan takes in seconds
	ComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "thistle",
			Subsystem: "suggestions",
			Name:      "compute_duration_seconds",
			Help:      "Duration of suggestion computations in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	// ComputeJoins tracks compute calls that joined an in-flight computation
	ComputeJoins = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "suggestions",
			Name:      "compute_joins_total",
			Help:      "Total number of compute calls that shared an in-flight computation",
		},
	)

	// LifecycleTransitions tracks suggestion status changes
	LifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "suggestions",
			Name:      "transitions_total",
			Help:      "Total number of suggestion status transitions",
		},
		[]string{"from", "to"},
	)

	// Invalidations tracks suggestion sets cleared by merges and entity changes
	Invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "suggestions",
			Name:      "invalidations_total",
			Help:      "Total number of suggestion sets invalidated",
		},
		[]string{"cause"},
	)

	// WebSocketConnections tracks open realtime connections
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "thistle",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Number of open WebSocket connections",
		},
	)

	// EventsPublished tracks event fan-out by sink and outcome
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of suggestion events published, by sink",
		},
		[]string{"type", "sink", "status"},
	)

	// EventsDropped tracks events dropped because a client's send buffer was full
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "realtime",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped for slow WebSocket clients",
		},
		[]string{"type"},
	)

	// DLQMessagesTotal tracks entity change messages moved to the dead letter queue
	DLQMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "dlq",
			Name:      "messages_total",
			Help:      "Total number of messages moved to the dead letter queue",
		},
		[]string{"reason"},
	)

	// RateLimitHits tracks compute requests rejected by the rate limiter
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "ratelimit",
			Name:      "hits_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	// GraphFailures tracks relationship graph writes that failed and were skipped
	GraphFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "graph",
			Name:      "failures_total",
			Help:      "Total number of failed relationship graph operations",
		},
		[]string{"operation"},
	)
)
