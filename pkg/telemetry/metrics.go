package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	Elections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "glowmesh",
			Name:      "elections_total",
			Help:      "Total number of leader elections run.",
		},
	)

	KeyframesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "glowmesh",
			Name:      "keyframes_sent_total",
			Help:      "Keyframe broadcasts originated by this node.",
		},
	)

	KeyframesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glowmesh",
			Name:      "keyframes_received_total",
			Help:      "Keyframes received, by outcome.",
		},
		[]string{"outcome"},
	)

	ModeUpdatesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "glowmesh",
			Name:      "mode_updates_dropped_total",
			Help:      "Mode updates ignored because the sender is not the recognized leader.",
		},
	)

	ClockAnomalies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "glowmesh",
			Name:      "clock_anomalies_total",
			Help:      "Keyframes observed with a negative message age.",
		},
	)

	ClockResyncSignals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "glowmesh",
			Name:      "clock_resync_signals_total",
			Help:      "Diagnostic signals raised after consecutive clock anomalies.",
		},
	)

	TransportReinits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "glowmesh",
			Name:      "transport_reinits_total",
			Help:      "Forced transport reinitializations.",
		},
	)

	CurrentMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "glowmesh",
			Name:      "animation_mode",
			Help:      "Current animation mode (1 = solo, 2 = synced).",
		},
	)

	IsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "glowmesh",
			Name:      "is_leader",
			Help:      "Whether this node is the current leader (0 or 1).",
		},
	)

	PeerCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "glowmesh",
			Name:      "peer_count",
			Help:      "Number of reachable peers in the latest membership snapshot.",
		},
	)
)

// Keyframe receive outcomes.
const (
	OutcomeApplied     = "applied"
	OutcomeSkipped     = "skipped"
	OutcomeStale       = "stale"
	OutcomeSkewed      = "skewed"
	OutcomeWrongLeader = "wrong_leader"
)

func init() {
	Registry.MustRegister(
		Elections,
		KeyframesSent,
		KeyframesReceived,
		ModeUpdatesDropped,
		ClockAnomalies,
		ClockResyncSignals,
		TransportReinits,
		CurrentMode,
		IsLeader,
		PeerCount,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
