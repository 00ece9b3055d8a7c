package clock

import (
	"sync"
	"time"
)

// ManualClock is a Clock that only moves when told to.
// It can also replay a scripted sequence of stalls through Sleep, which lets
// tests drive a pause detector deterministically.
type ManualClock struct {
	mu sync.RWMutex

	current MonoTime
	stalls  []time.Duration // Extra time added by successive Sleep calls
	index   int             // Next stall to apply
	yield   time.Duration   // Real time Sleep blocks for, keeps background loops from spinning
}

// NewManualClock creates a ManualClock reading start.
func NewManualClock(start MonoTime) *ManualClock {
	return &ManualClock{current: start}
}

// Now returns the current time.
func (c *ManualClock) Now() MonoTime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Since returns the duration elapsed since t.
func (c *ManualClock) Since(t MonoTime) time.Duration {
	return ToDuration(c.Now() - t)
}

// Add moves the clock forward by d. Negative values are ignored so the clock
// never runs backwards.
func (c *ManualClock) Add(d time.Duration) MonoTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.current += FromDuration(d)
	}
	return c.current
}

// Set moves the clock to t if t is not in the past.
func (c *ManualClock) Set(t MonoTime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.current {
		c.current = t
	}
}

// LoadStalls queues extra durations that successive Sleep calls add on top of
// the requested sleep, simulating a process that was descheduled.
func (c *ManualClock) LoadStalls(stalls ...time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stalls = make([]time.Duration, len(stalls))
	copy(c.stalls, stalls)
	c.index = 0
}

// SetYield makes Sleep block for d of real time after advancing the clock.
func (c *ManualClock) SetYield(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.yield = d
}

// Sleep advances the clock by d plus the next queued stall, if any.
func (c *ManualClock) Sleep(d time.Duration) {
	c.mu.Lock()
	if d > 0 {
		c.current += FromDuration(d)
	}
	if c.index < len(c.stalls) {
		c.current += FromDuration(c.stalls[c.index])
		c.index++
	}
	yield := c.yield
	c.mu.Unlock()

	// Sleep outside the lock
	if yield > 0 {
		time.Sleep(yield)
	}
}

// PendingStalls returns the number of queued stalls not yet consumed.
func (c *ManualClock) PendingStalls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stalls) - c.index
}
