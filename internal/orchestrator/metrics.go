package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_state_transitions_total",
		Help: "Session controller state transitions",
	}, []string{"from", "to"})

	metricStaleEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_stale_events_dropped_total",
		Help: "Provider events dropped because their session instance is gone",
	})

	metricInboxOverflow = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_inbox_overflow_total",
		Help: "Provider events dropped because the controller inbox was full",
	})

	metricTurns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_user_turns_total",
		Help: "Finalized user turns",
	})

	metricGenerationsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orch_generations_in_flight",
		Help: "Chat generations currently running",
	})

	metricTurnsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_turns_superseded_total",
		Help: "Queued turns replaced by a newer turn while a generation was running",
	})

	metricGenerationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_generation_errors_total",
		Help: "Generations that failed and produced the canned apology",
	})

	metricGenerationFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_generation_fallbacks_total",
		Help: "Generations served one-shot because streaming could not start",
	})

	metricStaleResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orch_stale_results_dropped_total",
		Help: "Generation results discarded because their session closed",
	})

	metricFirstChunk = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orch_first_chunk_ms",
		Help:    "Latency from turn submission to first streamed chunk",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	})

	metricIntents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orch_intent_outcomes_total",
		Help: "Assistant replies by scheduling outcome",
	}, []string{"outcome"})
)
