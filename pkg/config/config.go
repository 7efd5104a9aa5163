package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// phase tick interval
	defaultTickInterval = 10 * time.Millisecond
	// forced election backstop interval
	defaultElectionInterval = 10 * time.Second
	// leader mode broadcast cadence
	defaultModeBroadcastInterval = time.Second
	// staleness bound for keyframes
	defaultMaxMessageAge = 500 * time.Millisecond
	// consecutive clock anomalies before a diagnostic signal
	defaultMaxClockErrors = 3
	// consecutive unattached election cycles before a transport reinit
	defaultMaxLinkErrors = 5
	// wrap dead-zone band, applied to 255-phase
	defaultWrapToleranceLow  = 5
	defaultWrapToleranceHigh = 250
)

// Config holds the externally supplied coordination parameters.
type Config struct {
	// TickInterval is the fixed interval between phase advances.
	TickInterval time.Duration
	// ElectionInterval is the period of the unconditional re-election,
	// the convergence backstop for missed membership notifications.
	ElectionInterval time.Duration
	// ModeBroadcastInterval is the cadence at which the leader broadcasts
	// its mode so followers converge.
	ModeBroadcastInterval time.Duration
	// MaxMessageAge is the staleness bound; keyframes at least this old
	// are discarded silently.
	MaxMessageAge time.Duration
	// MaxClockErrors is the consecutive clock-disagreement threshold that
	// raises a diagnostic signal.
	MaxClockErrors int
	// MaxLinkErrors is the consecutive unattached-transport threshold that
	// forces a transport reinitialization.
	MaxLinkErrors int
	// WrapToleranceLow and WrapToleranceHigh bound the dead zone around the
	// phase wrap point. A keyframe corrects the phase only while
	// 255-phase lies strictly between the two. The band is empirically
	// tuned, not derived.
	WrapToleranceLow  int
	WrapToleranceHigh int
	// ClockModulus is the rollover modulus of the shared logical clock in
	// microseconds. Zero means the full uint32 range.
	ClockModulus uint64
}

// Default returns a config populated with the default parameters.
func Default() *Config {
	cfg := &Config{}
	cfg.fillDefaults()
	return cfg
}

// fileConfig is the YAML schema. Intervals are plain milliseconds.
type fileConfig struct {
	TickIntervalMs          uint   `yaml:"tick_interval_ms"`
	ElectionIntervalMs      uint   `yaml:"election_interval_ms"`
	ModeBroadcastIntervalMs uint   `yaml:"mode_broadcast_interval_ms"`
	MaxMessageAgeMs         uint   `yaml:"max_message_age_ms"`
	MaxClockErrors          int    `yaml:"max_clock_errors"`
	MaxLinkErrors           int    `yaml:"max_link_errors"`
	WrapToleranceLow        int    `yaml:"wrap_tolerance_low"`
	WrapToleranceHigh       int    `yaml:"wrap_tolerance_high"`
	ClockModulus            uint64 `yaml:"clock_modulus"`
}

// FromFile loads a config from a YAML file, filling defaults for any
// unset field.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	fc := &fileConfig{}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{
		TickInterval:          time.Duration(fc.TickIntervalMs) * time.Millisecond,
		ElectionInterval:      time.Duration(fc.ElectionIntervalMs) * time.Millisecond,
		ModeBroadcastInterval: time.Duration(fc.ModeBroadcastIntervalMs) * time.Millisecond,
		MaxMessageAge:         time.Duration(fc.MaxMessageAgeMs) * time.Millisecond,
		MaxClockErrors:        fc.MaxClockErrors,
		MaxLinkErrors:         fc.MaxLinkErrors,
		WrapToleranceLow:      fc.WrapToleranceLow,
		WrapToleranceHigh:     fc.WrapToleranceHigh,
		ClockModulus:          fc.ClockModulus,
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fillDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.ElectionInterval == 0 {
		c.ElectionInterval = defaultElectionInterval
	}
	if c.ModeBroadcastInterval == 0 {
		c.ModeBroadcastInterval = defaultModeBroadcastInterval
	}
	if c.MaxMessageAge == 0 {
		c.MaxMessageAge = defaultMaxMessageAge
	}
	if c.MaxClockErrors == 0 {
		c.MaxClockErrors = defaultMaxClockErrors
	}
	if c.MaxLinkErrors == 0 {
		c.MaxLinkErrors = defaultMaxLinkErrors
	}
	if c.WrapToleranceLow == 0 {
		c.WrapToleranceLow = defaultWrapToleranceLow
	}
	if c.WrapToleranceHigh == 0 {
		c.WrapToleranceHigh = defaultWrapToleranceHigh
	}
	if c.ClockModulus == 0 {
		c.ClockModulus = 1 << 32
	}
}

// Validate checks the parameter ranges.
func (c *Config) Validate() error {
	if c.TickInterval < time.Microsecond {
		return fmt.Errorf("tick interval must be at least one microsecond")
	}
	if c.ElectionInterval < c.TickInterval {
		return fmt.Errorf("election interval must not be shorter than the tick interval")
	}
	if c.MaxMessageAge <= 0 {
		return fmt.Errorf("max message age must be positive")
	}
	if c.MaxClockErrors <= 0 || c.MaxLinkErrors <= 0 {
		return fmt.Errorf("error thresholds must be positive")
	}
	if c.WrapToleranceLow < 0 || c.WrapToleranceHigh > 255 ||
		c.WrapToleranceLow >= c.WrapToleranceHigh {
		return fmt.Errorf("wrap tolerance band must satisfy 0 <= low < high <= 255")
	}
	if c.ClockModulus > 1<<32 {
		return fmt.Errorf("clock modulus must fit in 32 bits")
	}
	return nil
}
