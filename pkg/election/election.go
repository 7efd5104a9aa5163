package election

import (
	"github.com/glowmesh/glowmesh/pkg/model"
)

// Result is the outcome of one election cycle.
type Result struct {
	// LeaderID is the elected leader
	LeaderID model.NodeID
	// IsLeader reports whether the local node won
	IsLeader bool
}

// Elect computes the current leader from a membership snapshot. The
// candidate set is the membership plus the local node, sentinel entries
// excluded; the leader is the numerically smallest candidate. The function
// is deterministic and side-effect free, re-running it on an unchanged
// membership yields the same leader.
func Elect(self model.NodeID, membership []model.NodeID) Result {
	leader := self
	for _, id := range membership {
		if !id.Valid() {
			continue
		}
		if id < leader {
			leader = id
		}
	}
	return Result{
		LeaderID: leader,
		IsLeader: leader == self,
	}
}
