// Package metrics holds the prometheus collectors shared by the api and the worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fulfillbox"

var (
	HTTPInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "in_flight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latencies in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

var (
	// source: webhook|poller, status: tracking status after the update.
	TrackingUpdatesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracking",
		Name:      "updates_applied_total",
		Help:      "Tracking updates persisted by the reconciler.",
	}, []string{"source", "status"})

	// reason: not_found|stale
	TrackingUpdatesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracking",
		Name:      "updates_skipped_total",
		Help:      "Tracking updates the reconciler ignored.",
	}, []string{"source", "reason"})

	PayoutReleases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracking",
		Name:      "payout_releases_total",
		Help:      "Payout release calls made on delivery.",
	}, []string{"result"})

	Webhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Inbound carrier webhooks by outcome.",
	}, []string{"result"})
)

var (
	// result: applied|no_update|skipped|error|retry|exhausted
	PollJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "jobs_total",
		Help:      "Poll jobs handled by the worker.",
	}, []string{"result"})

	PollJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "job_duration_seconds",
		Help:      "Poll job handling time in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	SweepRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "sweep_requeued_total",
		Help:      "Overdue shipments re-enqueued by the recovery sweep.",
	})
)

var (
	LabelsPurchased = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "labels",
		Name:      "purchased_total",
		Help:      "Shipping labels purchased.",
	}, []string{"carrier"})

	SubscriptionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "labels",
		Name:      "subscription_failures_total",
		Help:      "Best-effort tracking subscriptions that failed.",
	})
)

var (
	// 0 closed, 1 half-open, 2 open
	CarrierBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "carrier",
		Name:      "circuit_breaker_state",
		Help:      "Carrier circuit breaker state.",
	}, []string{"name"})

	CarrierRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "carrier",
		Name:      "requests_total",
		Help:      "Carrier API calls by operation and result.",
	}, []string{"name", "op", "result"})
)
