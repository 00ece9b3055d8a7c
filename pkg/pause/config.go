// Package pause detects process-wide stalls (scheduler hiccups, GC pauses,
// descheduled containers) and notifies listeners so timers can compensate
// for the samples they never got to take.
package pause

import (
	"fmt"
	"time"
)

// Kind selects the detector variant.
type Kind uint8

const (
	// KindDisabled never probes and never reports pauses.
	KindDisabled Kind = iota

	// KindClockDrift sleeps for a fixed interval and reports a pause whenever
	// it wakes up late by more than a threshold.
	KindClockDrift
)

func (k Kind) String() string {
	switch k {
	case KindDisabled:
		return "disabled"
	case KindClockDrift:
		return "clock-drift"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

const (
	// DefaultSleepInterval is how long the clock-drift probe sleeps between checks.
	DefaultSleepInterval = 100 * time.Millisecond

	// DefaultPauseThreshold is how late the probe must wake to report a pause.
	DefaultPauseThreshold = 100 * time.Millisecond
)

// Config describes a pause detector. It is a comparable value: configs that
// are equal share one detector in a Registry.
type Config struct {
	Kind           Kind
	SleepInterval  time.Duration
	PauseThreshold time.Duration
}

// Disabled returns the config of a detector that never fires.
func Disabled() Config {
	return Config{Kind: KindDisabled}
}

// ClockDrift returns the config of a clock-drift detector.
func ClockDrift(sleepInterval, pauseThreshold time.Duration) Config {
	return Config{
		Kind:           KindClockDrift,
		SleepInterval:  sleepInterval,
		PauseThreshold: pauseThreshold,
	}
}

// DefaultConfig returns a clock-drift detector sleeping 100ms with a 100ms threshold.
func DefaultConfig() Config {
	return ClockDrift(DefaultSleepInterval, DefaultPauseThreshold)
}

// Normalize maps configs that cannot describe a working detector (unknown
// kinds, non-positive clock-drift parameters) to Disabled, and clears the
// unused fields of disabled configs so every disabled config is equal.
func (c Config) Normalize() Config {
	if c.Kind != KindClockDrift || c.SleepInterval <= 0 || c.PauseThreshold <= 0 {
		return Disabled()
	}
	return c
}

// Enabled reports whether c describes a probing detector.
func (c Config) Enabled() bool {
	return c.Normalize().Kind == KindClockDrift
}

func (c Config) String() string {
	n := c.Normalize()
	if n.Kind == KindDisabled {
		return n.Kind.String()
	}
	return fmt.Sprintf("%s(sleep=%s,threshold=%s)", n.Kind, n.SleepInterval, n.PauseThreshold)
}
