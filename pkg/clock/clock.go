package clock

import "time"

// MonoTime represents a monotonic timestamp in nanoseconds since an arbitrary epoch.
// Using int64 provides ~292 years of range with nanosecond precision.
type MonoTime int64

// Clock provides monotonic time for timers and pause detectors.
// All interval and latency calculations must use MonoTime, never wall time.
type Clock interface {
	// Now returns the current monotonic time
	Now() MonoTime

	// Since returns the duration elapsed since the given monotonic time
	Since(t MonoTime) time.Duration
}

// Sleeper blocks the calling goroutine for roughly d.
// Pause detectors sleep through it so tests can substitute a clock-driven sleep.
type Sleeper interface {
	Sleep(d time.Duration)
}

// SleeperFunc adapts a plain function to the Sleeper interface.
type SleeperFunc func(d time.Duration)

// Sleep calls f(d).
func (f SleeperFunc) Sleep(d time.Duration) {
	f(d)
}

// RealSleeper sleeps using time.Sleep.
var RealSleeper Sleeper = SleeperFunc(time.Sleep)

// ToDuration converts a MonoTime (nanoseconds) to a time.Duration.
func ToDuration(ns MonoTime) time.Duration {
	return time.Duration(ns)
}

// FromDuration converts a time.Duration to MonoTime (nanoseconds).
func FromDuration(d time.Duration) MonoTime {
	return MonoTime(d.Nanoseconds())
}

// SystemClock uses the system's monotonic clock.
type SystemClock struct {
	epoch time.Time // Cached at creation to provide stable monotonic base
}

// NewSystemClock creates a new SystemClock anchored at the current time.
func NewSystemClock() *SystemClock {
	return &SystemClock{
		epoch: time.Now(),
	}
}

// Now returns the current monotonic time in nanoseconds since epoch.
func (s *SystemClock) Now() MonoTime {
	// time.Since reads the monotonic component of epoch, wall clock jumps do not leak in
	return FromDuration(time.Since(s.epoch))
}

// Since returns the duration elapsed since the given monotonic time.
func (s *SystemClock) Since(t MonoTime) time.Duration {
	return ToDuration(s.Now() - t)
}

var system = NewSystemClock()

// System returns the process-wide SystemClock.
func System() *SystemClock {
	return system
}
