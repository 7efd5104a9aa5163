package coordinator

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/glowmesh/glowmesh/pkg/config"
	"github.com/glowmesh/glowmesh/pkg/model"
)

func testPhaseConfig() *config.Config {
	cfg := config.Default()
	cfg.TickInterval = 12 * time.Millisecond
	return cfg
}

func TestPhaseAdvanceWraps(t *testing.T) {
	p := newPhaseEngine(testPhaseConfig(), slog.Default())

	p.set(254)
	assert.False(t, p.advance())
	assert.Equal(t, uint8(255), p.current())
	assert.True(t, p.advance())
	assert.Equal(t, uint8(0), p.current())
}

func TestClassifyAge(t *testing.T) {
	tests := []struct {
		name      string
		now, sent uint32
		wantClass ageClass
		wantAge   time.Duration
	}{
		{
			name:      "fresh",
			now:       96000,
			sent:      0,
			wantClass: ageValid,
			wantAge:   96 * time.Millisecond,
		},
		{
			name:      "zero_age_is_valid",
			now:       500,
			sent:      500,
			wantClass: ageValid,
			wantAge:   0,
		},
		{
			name:      "at_staleness_bound",
			now:       500000,
			sent:      0,
			wantClass: ageStale,
			wantAge:   500 * time.Millisecond,
		},
		{
			name:      "sender_ahead",
			now:       0,
			sent:      96000,
			wantClass: ageNegative,
			wantAge:   -96 * time.Millisecond,
		},
		{
			name:      "valid_across_clock_rollover",
			now:       96000 - 10,
			sent:      ^uint32(0) - 9, // ten microseconds before the wrap
			wantClass: ageValid,
			wantAge:   96 * time.Millisecond,
		},
		{
			name:      "negative_across_clock_rollover",
			now:       ^uint32(0) - 9,
			sent:      96000 - 10,
			wantClass: ageNegative,
			wantAge:   -96 * time.Millisecond,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPhaseEngine(testPhaseConfig(), slog.Default())
			age, class := p.classifyAge(tt.now, tt.sent)
			assert.Equal(t, tt.wantClass, class)
			assert.Equal(t, tt.wantAge, age)
		})
	}
}

func TestApplyKeyframe(t *testing.T) {
	tests := []struct {
		name        string
		phase       uint8
		age         time.Duration
		wantApplied bool
		wantPhase   uint8
	}{
		{
			// 96ms at a 12ms tick puts the leader eight ticks past the wrap
			name:        "delay_compensated_correction",
			phase:       240,
			age:         96 * time.Millisecond,
			wantApplied: true,
			wantPhase:   8,
		},
		{
			name:        "estimate_wraps_modulo_256",
			phase:       100,
			age:         (256 + 8) * 12 * time.Millisecond,
			wantApplied: true,
			wantPhase:   8,
		},
		{
			name:        "noop_when_estimate_matches",
			phase:       8,
			age:         96 * time.Millisecond,
			wantApplied: false,
			wantPhase:   8,
		},
		{
			name:        "dead_zone_near_wrap",
			phase:       252, // 255-252 = 3, at or below the low tolerance
			age:         96 * time.Millisecond,
			wantApplied: false,
			wantPhase:   252,
		},
		{
			name:        "dead_zone_just_past_wrap",
			phase:       2, // 255-2 = 253, at or above the high tolerance
			age:         96 * time.Millisecond,
			wantApplied: false,
			wantPhase:   2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPhaseEngine(testPhaseConfig(), slog.Default())
			p.set(tt.phase)

			applied := p.applyKeyframe(tt.age)
			assert.Equal(t, tt.wantApplied, applied)
			assert.Equal(t, tt.wantPhase, p.current())
		})
	}
}

// sub-millisecond ticks are valid configs; the correction math runs in
// microseconds so a fast tick never divides by zero
func TestApplyKeyframeSubMillisecondTick(t *testing.T) {
	cfg := config.Default()
	cfg.TickInterval = 500 * time.Microsecond
	assert.NoError(t, cfg.Validate())

	p := newPhaseEngine(cfg, slog.Default())
	p.set(100)

	// 96ms at a 500µs tick is 192 ticks past the wrap
	assert.True(t, p.applyKeyframe(96*time.Millisecond))
	assert.Equal(t, uint8(192), p.current())
}

func TestApplyKeyframeIdempotent(t *testing.T) {
	p := newPhaseEngine(testPhaseConfig(), slog.Default())
	p.set(240)

	assert.True(t, p.applyKeyframe(96*time.Millisecond))
	assert.Equal(t, uint8(8), p.current())

	// the same keyframe reapplied is a no-op
	assert.False(t, p.applyKeyframe(96*time.Millisecond))
	assert.Equal(t, uint8(8), p.current())
}

// end-to-end keyframe handling through the coordinator, exercising
// provenance, staleness, skew counting and correction together
func TestOnKeyframe(t *testing.T) {
	newNode := func(phase uint8) (*Coordinator, *fakeTransport) {
		transport := &fakeTransport{self: 50, view: []model.NodeID{10}, attached: true}
		cfg := testPhaseConfig()
		c, err := NewCoordinator(transport, nil, cfg, slog.Default())
		assert.NoError(t, err)
		go func() {
			for range c.stateChan {
			}
		}()
		c.runElection()
		c.phase.set(phase)
		return c, transport
	}

	t.Run("valid_keyframe_corrects_phase", func(t *testing.T) {
		c, transport := newNode(240)
		transport.now = 96000 // sender stamped 0, 96ms ago
		c.onKeyframe(10, 0)
		assert.Equal(t, uint8(8), c.CurrentPhase())
		assert.Equal(t, 0, c.health.clockSkewErrors)
	})

	t.Run("stale_keyframe_never_changes_phase", func(t *testing.T) {
		c, transport := newNode(240)
		transport.now = 500000
		c.onKeyframe(10, 0)
		assert.Equal(t, uint8(240), c.CurrentPhase())
		assert.Equal(t, 0, c.health.clockSkewErrors)
	})

	t.Run("negative_age_counts_skew", func(t *testing.T) {
		c, transport := newNode(240)
		transport.now = 0
		c.onKeyframe(10, 96000)
		assert.Equal(t, uint8(240), c.CurrentPhase())
		assert.Equal(t, 1, c.health.clockSkewErrors)
	})

	t.Run("non_leader_keyframe_ignored", func(t *testing.T) {
		c, transport := newNode(240)
		transport.now = 96000
		c.onKeyframe(99, 0)
		assert.Equal(t, uint8(240), c.CurrentPhase())
	})

	t.Run("sub_millisecond_tick_config", func(t *testing.T) {
		transport := &fakeTransport{self: 50, view: []model.NodeID{10}, attached: true}
		cfg := config.Default()
		cfg.TickInterval = 500 * time.Microsecond
		c, err := NewCoordinator(transport, nil, cfg, slog.Default())
		assert.NoError(t, err)
		go func() {
			for range c.stateChan {
			}
		}()
		c.runElection()
		c.phase.set(100)

		transport.now = 96000
		c.onKeyframe(10, 0)
		assert.Equal(t, uint8(192), c.CurrentPhase())
	})

	t.Run("valid_observation_resets_skew_counter", func(t *testing.T) {
		c, transport := newNode(240)
		transport.now = 0
		c.onKeyframe(10, 96000)
		c.onKeyframe(10, 96000)
		assert.Equal(t, 2, c.health.clockSkewErrors)

		transport.now = 200000
		c.onKeyframe(10, 150000)
		assert.Equal(t, 0, c.health.clockSkewErrors)
	})
}
