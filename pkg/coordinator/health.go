package coordinator

import (
	"log/slog"

	"github.com/glowmesh/glowmesh/pkg/config"
	"github.com/glowmesh/glowmesh/pkg/model"
	"github.com/glowmesh/glowmesh/pkg/telemetry"
)

// healthMonitor tracks consecutive anomaly counters and triggers the
// recovery actions. Counters reset on any healthy observation and reset
// together with the recovery side effect when they cross their threshold,
// so each crossing fires exactly once.
type healthMonitor struct {
	cfg       *config.Config
	logger    *slog.Logger
	transport model.Transport

	clockSkewErrors int
	transportErrors int
}

func newHealthMonitor(cfg *config.Config, transport model.Transport, logger *slog.Logger) *healthMonitor {
	return &healthMonitor{
		cfg:       cfg,
		logger:    logger.With("component", "health"),
		transport: transport,
	}
}

// onClockAnomaly records one negative-age keyframe observation. Exceeding
// the threshold raises a diagnostic signal and, when the transport supports
// it, requests an explicit clock resync.
func (h *healthMonitor) onClockAnomaly() {
	h.clockSkewErrors++
	telemetry.ClockAnomalies.Inc()
	h.logger.Warn("keyframe with negative message age",
		"consecutive", h.clockSkewErrors, "threshold", h.cfg.MaxClockErrors)

	if h.clockSkewErrors <= h.cfg.MaxClockErrors {
		return
	}

	h.logger.Error("repeated clock disagreement, requesting resync",
		"consecutive", h.clockSkewErrors)
	telemetry.ClockResyncSignals.Inc()
	if resyncer, ok := h.transport.(model.ClockResyncer); ok {
		resyncer.ResyncClock()
	}
	h.clockSkewErrors = 0
}

// onClockOK records a non-anomalous keyframe observation.
func (h *healthMonitor) onClockOK() {
	h.clockSkewErrors = 0
}

// onLinkCheck records one election-cycle attachment probe. A healthy probe
// resets the counter immediately; exceeding the threshold forces a transport
// stop and reinitialization.
func (h *healthMonitor) onLinkCheck(attached bool) {
	if attached {
		h.transportErrors = 0
		return
	}

	h.transportErrors++
	h.logger.Warn("transport has no network attachment",
		"consecutive", h.transportErrors, "threshold", h.cfg.MaxLinkErrors)

	if h.transportErrors <= h.cfg.MaxLinkErrors {
		return
	}

	h.logger.Error("repeated transport failures, reinitializing")
	telemetry.TransportReinits.Inc()
	if err := h.transport.Reinitialize(); err != nil {
		h.logger.Error("transport reinitialization failed", "error", err.Error())
	}
	h.transportErrors = 0
}
