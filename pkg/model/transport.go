package model

// Transport is the mesh network collaborator consumed by the coordination
// layer. Implementations own radio/socket management, routing and time
// synchronization; the coordination layer only issues non-blocking queries
// and fire-and-forget sends against this interface.
type Transport interface {
	// SelfID returns the identifier of the local node.
	SelfID() NodeID

	// Membership returns a point-in-time snapshot of the reachable peers.
	// The snapshot replaces any previous view, it is never merged.
	Membership() []NodeID

	// Broadcast sends the payload to every reachable peer.
	// Delivery is best effort, there is no acknowledgment.
	Broadcast(payload []byte) error

	// NodeTime returns the shared logical clock reading in microseconds.
	// It is monotonic per node, loosely synchronized across nodes and wraps
	// at a known modulus.
	NodeTime() uint32

	// OnMembershipChanged registers a callback fired whenever the set of
	// reachable peers changes.
	OnMembershipChanged(fn func())

	// OnReceive registers a callback fired for every received payload.
	OnReceive(fn func(from NodeID, payload []byte))

	// Attached reports whether the transport currently has a usable
	// network attachment.
	Attached() bool

	// Reinitialize tears the transport down and brings it back up.
	// Used as a recovery action by the health monitor.
	Reinitialize() error
}

// ClockResyncer is an optional Transport capability. When implemented, the
// coordination layer requests an explicit clock resync after repeated
// clock-disagreement anomalies.
type ClockResyncer interface {
	ResyncClock()
}

// Renderer consumes the coordination output once per tick. It is a pure
// sink; the color math behind it is out of scope for this layer.
type Renderer interface {
	Render(mode AnimationMode, phase uint8, isLeader bool)
}

// TransportConfig is an interface representing the contract for a transport
// provider configuration object that can be validated.
type TransportConfig interface {
	Validate() error
}
