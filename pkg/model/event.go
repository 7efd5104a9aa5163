package model

// ModeEvent represents the events in the lifecycle of the animation mode,
// used to drive the mode Finite State Machine (FSM)
type ModeEvent string

const (
	// EventPeersJoined represents the leader seeing a non-empty membership
	EventPeersJoined ModeEvent = "peers_joined"
	// EventIsolated represents the node losing all of its peers
	EventIsolated ModeEvent = "isolated"
	// EventLeaderSynced represents a follower applying a synced mode update
	// from the recognized leader
	EventLeaderSynced ModeEvent = "leader_synced"
	// EventLeaderSolo represents a follower applying a solo mode update from
	// the recognized leader
	EventLeaderSolo ModeEvent = "leader_solo"
)

func (e ModeEvent) String() string {
	return string(e)
}

// TransitionType represents the type of a mode transition
type TransitionType string

const (
	// TransitionTypeEnter represents entering a mode
	TransitionTypeEnter TransitionType = "enter"
	// TransitionTypeLeave represents leaving a mode
	TransitionTypeLeave TransitionType = "leave"
)

func (t TransitionType) String() string {
	return string(t)
}

// StateTransition represents a transition between animation modes
type StateTransition struct {
	Mode    AnimationMode
	SrcMode AnimationMode
	Type    TransitionType
}
