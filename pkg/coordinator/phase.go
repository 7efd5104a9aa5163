package coordinator

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/glowmesh/glowmesh/pkg/config"
)

// ageClass classifies the age of a received keyframe relative to the local
// logical clock.
type ageClass int

const (
	// ageValid is a non-negative age below the staleness bound
	ageValid ageClass = iota + 1
	// ageStale is a non-negative age at or beyond the staleness bound
	ageStale
	// ageNegative means the sender's clock is ahead of ours
	ageNegative
)

// phaseEngine advances the shared cyclic phase counter and corrects it from
// leader keyframes. The counter is the only coordination state that survives
// mode transitions unless a keyframe overrides it.
type phaseEngine struct {
	cfg    *config.Config
	logger *slog.Logger

	// phase holds the counter in the low byte. Only the loop goroutine
	// writes it; the atomic makes the external phase accessor safe to call
	// from any goroutine.
	phase atomic.Uint32
}

func newPhaseEngine(cfg *config.Config, logger *slog.Logger) *phaseEngine {
	return &phaseEngine{
		cfg:    cfg,
		logger: logger.With("component", "phase"),
	}
}

func (p *phaseEngine) current() uint8 {
	return uint8(p.phase.Load())
}

func (p *phaseEngine) set(phase uint8) {
	p.phase.Store(uint32(phase))
}

// advance moves the counter one tick forward and reports whether it wrapped
// back to zero. The leader uses the wrap as its keyframe trigger.
func (p *phaseEngine) advance() (wrapped bool) {
	next := p.current() + 1
	p.set(next)
	return next == 0
}

// classifyAge computes the signed, rollover-aware difference now-sent on the
// shared logical clock and buckets it against the staleness bound.
func (p *phaseEngine) classifyAge(now, sent uint32) (time.Duration, ageClass) {
	modulus := p.cfg.ClockModulus
	diff := (uint64(now) - uint64(sent) + modulus) % modulus

	// readings more than half the modulus apart are interpreted as the
	// sender being ahead, not as an enormous positive age
	if diff >= modulus/2 {
		age := -time.Duration(modulus-diff) * time.Microsecond
		return age, ageNegative
	}

	age := time.Duration(diff) * time.Microsecond
	if age >= p.cfg.MaxMessageAge {
		return age, ageStale
	}
	return age, ageValid
}

// applyKeyframe corrects the phase from a valid keyframe age. The correction
// estimates how far the leader has advanced since sending, in tick units, and
// jumps the counter there, compensating for propagation delay instead of
// naively resetting to zero.
//
// No correction happens inside the dead zone around the wrap point: the
// counter only moves while 255-phase lies strictly between the configured
// tolerance band, so transient corrections near the boundary cannot
// oscillate. Returns whether the counter actually changed.
func (p *phaseEngine) applyKeyframe(age time.Duration) bool {
	phase := p.current()
	distance := 255 - int(phase)
	if distance <= p.cfg.WrapToleranceLow || distance >= p.cfg.WrapToleranceHigh {
		p.logger.Debug("keyframe inside wrap dead zone, skipped", "phase", phase)
		return false
	}

	// microsecond math: the tick interval is validated to be at least one
	// microsecond, so the division is always defined
	ticks := age.Microseconds() / p.cfg.TickInterval.Microseconds()
	estimated := uint8(ticks % 256)
	if estimated == phase {
		return false
	}

	p.logger.Debug("phase corrected from keyframe",
		"from", phase, "to", estimated, "age", age)
	p.set(estimated)
	return true
}
