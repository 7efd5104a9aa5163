// Package glowmesh coordinates a set of independent nodes on a broadcast-only
// mesh so that all of them display a shared, phase-synchronized animation.
// Each node runs a local-only animation while unreachable and converges to a
// single leader-driven animation once peers appear.
package glowmesh

import (
	"context"
	"log/slog"
	"time"

	"github.com/glowmesh/glowmesh/pkg/config"
	"github.com/glowmesh/glowmesh/pkg/coordinator"
	"github.com/glowmesh/glowmesh/pkg/model"
)

const (
	// phase tick interval, in milliseconds
	defaultTickInterval = 10

	// forced election interval, in milliseconds
	defaultElectionInterval = 10000

	// mode broadcast interval, in milliseconds
	defaultModeBroadcastInterval = 1000

	// keyframe staleness bound, in milliseconds
	defaultMaxMessageAge = 500
)

// NewMesh creates a new Mesh instance
func NewMesh(transport model.Transport, renderer model.Renderer, cfg *MeshConfig, logger *slog.Logger) (*Mesh, error) {
	tickInterval := cfg.TickInterval
	if tickInterval == 0 {
		tickInterval = defaultTickInterval
	}
	electionInterval := cfg.ElectionInterval
	if electionInterval == 0 {
		electionInterval = defaultElectionInterval
	}
	modeInterval := cfg.ModeBroadcastInterval
	if modeInterval == 0 {
		modeInterval = defaultModeBroadcastInterval
	}
	maxMessageAge := cfg.MaxMessageAge
	if maxMessageAge == 0 {
		maxMessageAge = defaultMaxMessageAge
	}

	coordCfg := &config.Config{
		TickInterval:          time.Duration(tickInterval) * time.Millisecond,
		ElectionInterval:      time.Duration(electionInterval) * time.Millisecond,
		ModeBroadcastInterval: time.Duration(modeInterval) * time.Millisecond,
		MaxMessageAge:         time.Duration(maxMessageAge) * time.Millisecond,
		MaxClockErrors:        cfg.MaxClockErrors,
		MaxLinkErrors:         cfg.MaxLinkErrors,
		WrapToleranceLow:      cfg.WrapToleranceLow,
		WrapToleranceHigh:     cfg.WrapToleranceHigh,
	}
	// remaining zero fields fall back to the library defaults
	mergeDefaults(coordCfg)

	// new coordinator instance
	c, err := coordinator.NewCoordinator(transport, renderer, coordCfg, logger)
	if err != nil {
		return nil, err
	}
	return &Mesh{
		cfg:             cfg,
		logger:          logger,
		callBackTimeout: cfg.CallBackTimeout,
		coordinator:     c,
		callBacks:       cfg.CallBacks,
		errChan:         make(chan error, 10),
	}, nil
}

func mergeDefaults(cfg *config.Config) {
	def := config.Default()
	if cfg.MaxClockErrors == 0 {
		cfg.MaxClockErrors = def.MaxClockErrors
	}
	if cfg.MaxLinkErrors == 0 {
		cfg.MaxLinkErrors = def.MaxLinkErrors
	}
	if cfg.WrapToleranceLow == 0 {
		cfg.WrapToleranceLow = def.WrapToleranceLow
	}
	if cfg.WrapToleranceHigh == 0 {
		cfg.WrapToleranceHigh = def.WrapToleranceHigh
	}
	if cfg.ClockModulus == 0 {
		cfg.ClockModulus = def.ClockModulus
	}
}

// Mesh is one participating node's view of the shared animation.
type Mesh struct {
	// callBacks stores the callbacks to be triggered when the mode changes
	callBacks *ModeCallBacks
	// callBackTimeout is the timeout for the callbacks, in seconds
	callBackTimeout int
	// coordinator owns the coordination state of this node
	coordinator *coordinator.Coordinator
	// errChan is a channel for callback errors
	errChan chan error

	// cfg is the configuration for the mesh node
	cfg *MeshConfig
	// logger is used for logging
	logger *slog.Logger
}

// Run starts the coordination loop and the mode transition dispatcher.
func (m *Mesh) Run() error {
	stateChan, err := m.coordinator.Run()
	if err != nil {
		m.logger.Error("mesh, failed to run coordinator", "error", err.Error())
		return err
	}
	// handle mode transitions in a separate goroutine
	go m.handleModeTransition(stateChan)

	m.logger.Info("mesh, coordination started")
	return nil
}

// Stop terminates the coordination loop.
func (m *Mesh) Stop() {
	m.coordinator.Stop()
}

// Errors returns a receive-only channel of callback errors.
func (m *Mesh) Errors() <-chan error {
	return m.errChan
}

// CurrentMode returns the current animation mode.
func (m *Mesh) CurrentMode() model.AnimationMode {
	return m.coordinator.CurrentMode()
}

// CurrentPhase returns the current phase counter value.
func (m *Mesh) CurrentPhase() uint8 {
	return m.coordinator.CurrentPhase()
}

// IsLeader reports whether this node is the recognized leader.
func (m *Mesh) IsLeader() bool {
	return m.coordinator.IsLeader()
}

// Leader returns the leader recognized by the most recent election.
func (m *Mesh) Leader() model.NodeID {
	return m.coordinator.Leader()
}

func (m *Mesh) sendError(err error) {
	select {
	case m.errChan <- err:
	default:
	}
}

func (m *Mesh) handleModeTransition(stateChan <-chan model.StateTransition) {
	for st := range stateChan {
		m.logger.Debug("mesh, mode transition", "type", st.Type.String(), "mode", st.Mode, "src", st.SrcMode)
		if m.callBacks == nil {
			continue
		}

		var err error
		switch st.Type {
		case model.TransitionTypeLeave:
			switch st.Mode {
			case model.ModeSolo:
				err = m.execModeHandler(m.callBacks.LeaveSolo, st)
			case model.ModeSynced:
				err = m.execModeHandler(m.callBacks.LeaveSynced, st)
			}
		case model.TransitionTypeEnter:
			switch st.Mode {
			case model.ModeSolo:
				err = m.execModeHandler(m.callBacks.EnterSolo, st)
			case model.ModeSynced:
				err = m.execModeHandler(m.callBacks.EnterSynced, st)
			}
		}
		if err != nil {
			m.sendError(err)
		}
	}
	m.logger.Info("mesh, mode transition chan is closed")
}

func (m *Mesh) execModeHandler(mh ModeHandler, st model.StateTransition) error {
	if mh == nil {
		return nil
	}

	timeout := time.Duration(m.callBackTimeout) * time.Second
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return mh(ctx, st)
}

// MeshConfig is the configuration for one mesh node.
type MeshConfig struct {
	// Interval between phase advances, in milliseconds
	TickInterval uint
	// Interval of the forced re-election backstop, in milliseconds
	ElectionInterval uint
	// Cadence of the leader's mode broadcast, in milliseconds
	ModeBroadcastInterval uint
	// Staleness bound for keyframes, in milliseconds
	MaxMessageAge uint
	// Consecutive clock anomalies before a diagnostic signal
	MaxClockErrors int
	// Consecutive unattached election cycles before a transport reinit
	MaxLinkErrors int
	// Dead-zone band around the phase wrap point
	WrapToleranceLow  int
	WrapToleranceHigh int
	// Mode callbacks
	CallBacks *ModeCallBacks
	// Timeout for callbacks, in seconds
	CallBackTimeout int
}

type ModeHandler func(ctx context.Context, st model.StateTransition) error

// ModeCallBacks is a struct to hold mode callbacks
type ModeCallBacks struct {
	// EnterSolo is called when entering the solo mode
	EnterSolo ModeHandler
	// LeaveSolo is called when leaving the solo mode
	LeaveSolo ModeHandler
	// EnterSynced is called when entering the synced mode
	EnterSynced ModeHandler
	// LeaveSynced is called when leaving the synced mode
	LeaveSynced ModeHandler
}
