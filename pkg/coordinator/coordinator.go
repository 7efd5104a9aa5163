package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/glowmesh/glowmesh/pkg/config"
	"github.com/glowmesh/glowmesh/pkg/election"
	"github.com/glowmesh/glowmesh/pkg/membership"
	"github.com/glowmesh/glowmesh/pkg/model"
	"github.com/glowmesh/glowmesh/pkg/telemetry"
)

// eventKind discriminates the asynchronous transport events fed into the
// coordination loop.
type eventKind int

const (
	eventMembershipChanged eventKind = iota + 1
	eventMessage
)

type event struct {
	kind    eventKind
	from    model.NodeID
	payload []byte
}

func NewCoordinator(
	transport model.Transport,
	renderer model.Renderer,
	cfg *config.Config,
	logger *slog.Logger) (*Coordinator, error) {
	if transport == nil {
		return nil, fmt.Errorf("new coordinator, transport is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("new coordinator, logger is nil")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !transport.SelfID().Valid() {
		return nil, fmt.Errorf("new coordinator, transport reports the sentinel node id")
	}

	c := &Coordinator{
		cfg:          cfg,
		logger:       logger.With("component", "coordinator"),
		transport:    transport,
		renderer:     renderer,
		membership:   membership.NewTracker(transport),
		self:         transport.SelfID(),
		leaderID:     transport.SelfID(),
		isLeader:     true,
		eventChan:    make(chan event, 64),
		stateChan:    make(chan model.StateTransition, 8),
		shutdownChan: make(chan struct{}),
	}
	c.phase = newPhaseEngine(cfg, logger)
	c.health = newHealthMonitor(cfg, transport, logger)
	// initialize the mode FSM
	c.initializeFsm()
	return c, nil
}

// Coordinator owns the whole coordination state of one node: membership
// view, recognized leader, animation mode, phase counter and anomaly
// counters. All of it is mutated by a single loop goroutine; transport
// callbacks only enqueue events.
type Coordinator struct {
	// cfg is the coordination configuration
	cfg *config.Config
	// logger
	logger *slog.Logger

	// transport is the external mesh collaborator
	transport model.Transport
	// renderer consumes (mode, phase, isLeader) once per tick
	renderer model.Renderer
	// membership reads sentinel-filtered snapshots from the transport
	membership *membership.Tracker

	// fsm is the finite state machine of the animation mode
	fsm *fsm.FSM
	// phase is the shared cyclic phase counter engine
	phase *phaseEngine
	// health tracks the consecutive anomaly counters
	health *healthMonitor

	// self is the local node id
	self model.NodeID

	// mu guards the fields read by external consumers
	mu sync.RWMutex
	// leaderID is the leader recognized by the most recent election
	leaderID model.NodeID
	// isLeader reports whether the local node won that election
	isLeader bool
	// peerCount is the size of the latest membership snapshot
	peerCount int

	// eventChan carries transport events into the loop
	eventChan chan event
	// stateChan carries mode transitions out to the facade
	stateChan chan model.StateTransition
	// shutdownChan stops the loop
	shutdownChan chan struct{}

	runOnce  sync.Once
	stopOnce sync.Once
}

// Run starts the coordination loop.
// Returns a channel of mode transitions and an error.
func (c *Coordinator) Run() (<-chan model.StateTransition, error) {
	c.runOnce.Do(func() {
		c.transport.OnMembershipChanged(func() {
			c.enqueue(event{kind: eventMembershipChanged})
		})
		c.transport.OnReceive(func(from model.NodeID, payload []byte) {
			c.enqueue(event{kind: eventMessage, from: from, payload: payload})
		})

		go c.run()
	})

	c.logger.Info("coordinator started", "self", c.self)
	return c.stateChan, nil
}

// Stop terminates the coordination loop.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.shutdownChan)
	})
}

// enqueue hands a transport event to the loop without ever blocking the
// transport's callback goroutine. A full queue drops the event; the
// periodic election and mode broadcast recover anything missed.
func (c *Coordinator) enqueue(ev event) {
	select {
	case c.eventChan <- ev:
	default:
		c.logger.Warn("coordination event queue full, event dropped", "kind", ev.kind)
	}
}

// run is the single goroutine owning all coordination state. Two periodic
// triggers (phase tick, forced election) and the leader's mode broadcast
// cadence interleave with the asynchronous transport events.
func (c *Coordinator) run() {
	tick := time.NewTicker(c.cfg.TickInterval)
	defer tick.Stop()
	elect := time.NewTicker(c.cfg.ElectionInterval)
	defer elect.Stop()
	modeTk := time.NewTicker(c.cfg.ModeBroadcastInterval)
	defer modeTk.Stop()

	// settle leadership before the first tick
	c.runElection()

	for {
		select {
		case <-c.shutdownChan:
			c.logger.Info("coordinator stopped")
			return
		case ev := <-c.eventChan:
			c.handleEvent(ev)
		case <-tick.C:
			c.tick()
		case <-elect.C:
			c.runElection()
			c.health.onLinkCheck(c.transport.Attached())
		case <-modeTk.C:
			c.broadcastMode()
		}
	}
}

func (c *Coordinator) handleEvent(ev event) {
	switch ev.kind {
	case eventMembershipChanged:
		c.logger.Info("membership changed")
		// election completes before this cycle's mode decision
		c.runElection()
	case eventMessage:
		c.handleMessage(ev.from, ev.payload)
	}
}

// runElection recomputes the leader from a fresh membership snapshot and
// then evaluates the local mode decision. knownLeaderID is never cached
// across cycles; every cycle re-reads it from the election result.
func (c *Coordinator) runElection() {
	view := c.membership.Current()
	res := election.Elect(c.self, view)
	telemetry.Elections.Inc()

	c.mu.Lock()
	changed := res.LeaderID != c.leaderID
	c.leaderID = res.LeaderID
	c.isLeader = res.IsLeader
	c.peerCount = len(view)
	c.mu.Unlock()

	if changed {
		if res.IsLeader {
			c.logger.Info("election result: this node is the leader", "self", c.self)
		} else {
			c.logger.Info("election result: remote leader", "leader", res.LeaderID)
		}
	}
	if res.IsLeader {
		telemetry.IsLeader.Set(1)
	} else {
		telemetry.IsLeader.Set(0)
	}
	telemetry.PeerCount.Set(float64(len(view)))

	c.evaluateMode(len(view), res.IsLeader)
}

// evaluateMode applies the local mode rules: an empty membership forces
// Solo on any node; a leader with peers moves to Synced. Followers with
// peers wait for the leader's mode updates instead of deciding locally.
func (c *Coordinator) evaluateMode(peers int, isLeader bool) {
	switch {
	case peers == 0:
		c.sendModeEvent(model.EventIsolated)
	case isLeader:
		c.sendModeEvent(model.EventPeersJoined)
	}
}

// tick advances the phase counter, originates the leader's keyframe on
// wrap and hands the frame to the renderer.
func (c *Coordinator) tick() {
	wrapped := c.phase.advance()

	mode := c.CurrentMode()
	c.mu.RLock()
	isLeader, peers := c.isLeader, c.peerCount
	c.mu.RUnlock()

	if wrapped && isLeader && mode == model.ModeSynced && peers > 0 {
		payload, err := model.EncodeKeyframe(c.transport.NodeTime())
		if err != nil {
			c.logger.Error("failed to encode keyframe", "error", err.Error())
		} else if err := c.transport.Broadcast(payload); err != nil {
			c.logger.Warn("keyframe broadcast failed", "error", err.Error())
		} else {
			telemetry.KeyframesSent.Inc()
			c.logger.Debug("keyframe broadcast sent")
		}
	}

	if c.renderer != nil {
		c.renderer.Render(mode, c.phase.current(), isLeader)
	}
}

// broadcastMode is the leader's periodic mode announcement. The cadence is
// fixed, not per transition, so followers converge even across lost
// messages; convergence is eventual, bounded by this interval.
func (c *Coordinator) broadcastMode() {
	c.mu.RLock()
	isLeader := c.isLeader
	c.mu.RUnlock()
	if !isLeader {
		return
	}

	payload, err := model.EncodeModeUpdate(c.CurrentMode(), c.transport.NodeTime())
	if err != nil {
		c.logger.Error("failed to encode mode update", "error", err.Error())
		return
	}
	if err := c.transport.Broadcast(payload); err != nil {
		c.logger.Warn("mode broadcast failed", "error", err.Error())
	}
}

// handleMessage decodes and dispatches one received payload. Malformed
// payloads are transport noise: dropped without touching any counter.
func (c *Coordinator) handleMessage(from model.NodeID, payload []byte) {
	msg, err := model.DecodeSyncMessage(payload)
	if err != nil {
		c.logger.Debug("unparseable message dropped", "from", from, "error", err.Error())
		return
	}

	switch msg.Kind {
	case model.KindModeUpdate:
		c.onModeUpdate(from, msg.Mode)
	case model.KindKeyframe:
		c.onKeyframe(from, msg.Timestamp)
	}
}

// onModeUpdate applies a mode update, but only from the recognized leader.
// Updates from any other sender are silently ignored so stale or rogue
// nodes cannot steer shared state.
func (c *Coordinator) onModeUpdate(from model.NodeID, mode model.AnimationMode) {
	c.mu.RLock()
	leaderID := c.leaderID
	c.mu.RUnlock()

	if from != leaderID {
		telemetry.ModeUpdatesDropped.Inc()
		c.logger.Debug("mode update from non-leader ignored", "from", from, "leader", leaderID)
		return
	}

	c.logger.Debug("mode update from leader", "mode", mode)
	switch mode {
	case model.ModeSynced:
		c.sendModeEvent(model.EventLeaderSynced)
	case model.ModeSolo:
		c.sendModeEvent(model.EventLeaderSolo)
	}
}

// onKeyframe handles a phase resynchronization message. Provenance is
// checked first, then the message age decides between correction, silent
// staleness discard and a clock-disagreement anomaly.
func (c *Coordinator) onKeyframe(from model.NodeID, sent uint32) {
	c.mu.RLock()
	leaderID := c.leaderID
	c.mu.RUnlock()

	if from != leaderID {
		telemetry.KeyframesReceived.WithLabelValues(telemetry.OutcomeWrongLeader).Inc()
		c.logger.Debug("keyframe from non-leader ignored", "from", from, "leader", leaderID)
		return
	}

	now := c.transport.NodeTime()
	age, class := c.phase.classifyAge(now, sent)
	switch class {
	case ageNegative:
		telemetry.KeyframesReceived.WithLabelValues(telemetry.OutcomeSkewed).Inc()
		c.health.onClockAnomaly()
	case ageStale:
		// expected under normal network jitter, no error counted
		telemetry.KeyframesReceived.WithLabelValues(telemetry.OutcomeStale).Inc()
		c.health.onClockOK()
		c.logger.Debug("stale keyframe discarded", "age", age)
	case ageValid:
		c.health.onClockOK()
		if c.phase.applyKeyframe(age) {
			telemetry.KeyframesReceived.WithLabelValues(telemetry.OutcomeApplied).Inc()
		} else {
			telemetry.KeyframesReceived.WithLabelValues(telemetry.OutcomeSkipped).Inc()
		}
	}
}

// sendModeEvent fires a mode FSM event if it is legal from the current
// state. Events that would not change the mode are ignored, never treated
// as failures.
func (c *Coordinator) sendModeEvent(ev model.ModeEvent) {
	if !c.fsm.Can(ev.String()) {
		return
	}
	if err := c.fsm.Event(context.Background(), ev.String()); err != nil {
		c.logger.Error("mode transition failed", "event", ev.String(), "error", err.Error())
	}
}

// CurrentMode returns the current animation mode.
func (c *Coordinator) CurrentMode() model.AnimationMode {
	return model.ModeFromString(c.fsm.Current())
}

// CurrentPhase returns the current phase counter value.
func (c *Coordinator) CurrentPhase() uint8 {
	return c.phase.current()
}

// IsLeader reports whether the local node is the recognized leader.
func (c *Coordinator) IsLeader() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isLeader
}

// Leader returns the leader recognized by the most recent election.
func (c *Coordinator) Leader() model.NodeID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.leaderID
}

// Visualize returns a visualization of the mode state machine in Graphviz format.
func (c *Coordinator) Visualize() string {
	return fsm.Visualize(c.fsm)
}

func (c *Coordinator) sendStateTransition(mode, srcMode model.AnimationMode, transType model.TransitionType) {
	st := model.StateTransition{
		Mode:    mode,
		SrcMode: srcMode,
		Type:    transType,
	}
	select {
	case c.stateChan <- st:
	default:
		c.logger.Warn("state transition channel full, transition dropped")
	}
}

func (c *Coordinator) enterSolo(_ context.Context, ev *fsm.Event) {
	c.logger.Info("enter solo mode")
	telemetry.CurrentMode.Set(float64(model.ModeSolo))
	c.sendStateTransition(model.ModeFromString(ev.Dst), model.ModeFromString(ev.Src), model.TransitionTypeEnter)
}

func (c *Coordinator) leaveSolo(_ context.Context, ev *fsm.Event) {
	c.sendStateTransition(model.ModeFromString(ev.Src), model.ModeFromString(ev.Dst), model.TransitionTypeLeave)
}

func (c *Coordinator) enterSynced(_ context.Context, ev *fsm.Event) {
	c.logger.Info("enter synced mode")
	telemetry.CurrentMode.Set(float64(model.ModeSynced))
	c.sendStateTransition(model.ModeFromString(ev.Dst), model.ModeFromString(ev.Src), model.TransitionTypeEnter)
}

func (c *Coordinator) leaveSynced(_ context.Context, ev *fsm.Event) {
	c.sendStateTransition(model.ModeFromString(ev.Src), model.ModeFromString(ev.Dst), model.TransitionTypeLeave)
}

// initializeFsm initializes the animation mode state machine
func (c *Coordinator) initializeFsm() {
	c.fsm = fsm.NewFSM(
		model.ModeSolo.String(),
		fsm.Events{
			{
				Name: model.EventPeersJoined.String(),
				Src:  []string{model.ModeSolo.String()},
				Dst:  model.ModeSynced.String(),
			},
			{
				Name: model.EventLeaderSynced.String(),
				Src:  []string{model.ModeSolo.String()},
				Dst:  model.ModeSynced.String(),
			},
			{
				Name: model.EventIsolated.String(),
				Src:  []string{model.ModeSynced.String()},
				Dst:  model.ModeSolo.String(),
			},
			{
				Name: model.EventLeaderSolo.String(),
				Src:  []string{model.ModeSynced.String()},
				Dst:  model.ModeSolo.String(),
			},
		},
		fsm.Callbacks{
			"enter_" + model.ModeSolo.String():   c.enterSolo,
			"leave_" + model.ModeSolo.String():   c.leaveSolo,
			"enter_" + model.ModeSynced.String(): c.enterSynced,
			"leave_" + model.ModeSynced.String(): c.leaveSynced,
		},
	)
	telemetry.CurrentMode.Set(float64(model.ModeSolo))
}
