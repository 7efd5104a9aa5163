package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/glowmesh/glowmesh/pkg/model"
)

type staticTransport struct {
	model.Transport

	view []model.NodeID
}

func (s *staticTransport) Membership() []model.NodeID {
	return s.view
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name string
		view []model.NodeID
		want []model.NodeID
	}{
		{
			name: "passes_valid_ids",
			view: []model.NodeID{3, 1, 2},
			want: []model.NodeID{3, 1, 2},
		},
		{
			name: "strips_sentinel",
			view: []model.NodeID{3, model.NodeNone, 2},
			want: []model.NodeID{3, 2},
		},
		{
			name: "sentinel_only_becomes_empty",
			view: []model.NodeID{model.NodeNone, model.NodeNone},
			want: []model.NodeID{},
		},
		{
			name: "empty_stays_empty",
			view: nil,
			want: []model.NodeID{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Filter(tt.view))
		})
	}
}

func TestTrackerSnapshotsReplace(t *testing.T) {
	transport := &staticTransport{view: []model.NodeID{model.NodeNone, 7}}
	tracker := NewTracker(transport)

	assert.Equal(t, []model.NodeID{7}, tracker.Current())

	// a new report replaces the previous snapshot, it is not merged
	transport.view = []model.NodeID{9}
	assert.Equal(t, []model.NodeID{9}, tracker.Current())
}
