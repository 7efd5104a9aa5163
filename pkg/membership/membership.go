package membership

import (
	"github.com/glowmesh/glowmesh/pkg/model"
)

// Tracker reads the current membership view from the transport. It holds no
// state of its own; every call returns a fresh, sentinel-filtered snapshot.
type Tracker struct {
	transport model.Transport
}

func NewTracker(transport model.Transport) *Tracker {
	return &Tracker{transport: transport}
}

// Current returns the latest membership snapshot with invalid entries
// removed. A snapshot containing only the sentinel comes back empty, which
// consumers treat as an isolated node, not an error.
func (t *Tracker) Current() []model.NodeID {
	return Filter(t.transport.Membership())
}

// Filter strips sentinel entries from a membership snapshot.
func Filter(view []model.NodeID) []model.NodeID {
	out := make([]model.NodeID, 0, len(view))
	for _, id := range view {
		if !id.Valid() {
			continue
		}
		out = append(out, id)
	}
	return out
}
