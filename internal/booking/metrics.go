package booking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_commits_total",
		Help: "Booking commit attempts by outcome",
	}, []string{"outcome"})

	metricTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_estado_transitions_total",
		Help: "Booking estado transitions after creation",
	}, []string{"to"})

	metricSyncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_secondary_sync_failures_total",
		Help: "Secondary calendar sync failures (logged only)",
	})
)
