package model

// NodeID identifies a participant on the mesh. IDs are assumed globally
// unique; uniqueness is not enforced by this layer.
type NodeID uint32

// NodeNone is the reserved sentinel for an invalid or orphaned membership
// entry. It is filtered out before any election or mode decision.
const NodeNone NodeID = 0

// Valid reports whether the ID is usable in coordination decisions.
func (n NodeID) Valid() bool {
	return n != NodeNone
}

// AnimationMode is the animation state shared across the mesh.
type AnimationMode int

const (
	// ModeSolo is the local-only animation, the initial state and the state
	// any node falls back to when its membership view is empty.
	ModeSolo AnimationMode = 1
	// ModeSynced is the group-coordinated animation driven by the leader.
	ModeSynced AnimationMode = 2
)

func (m AnimationMode) String() string {
	switch m {
	case ModeSolo:
		return "solo"
	case ModeSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// ValidMode reports whether the integer carried by a mode update maps to a
// known animation mode.
func ValidMode(m AnimationMode) bool {
	return m == ModeSolo || m == ModeSynced
}

// ModeFromString maps an FSM state name back to the animation mode.
func ModeFromString(s string) AnimationMode {
	if s == ModeSynced.String() {
		return ModeSynced
	}
	return ModeSolo
}
