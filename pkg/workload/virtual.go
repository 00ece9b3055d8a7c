package workload

import (
	"sync"
	"time"

	"github.com/BYTE-6D65/pausetimer/pkg/clock"
)

// virtualTime drives a ManualClock from the request loop and doubles as the
// pause detector's Sleeper. A probe sleeping past the new time is woken and
// fully processed (listeners included) before advance returns, so a stall in
// the request loop is observed by the detector exactly as a real process
// stall would be. It supports a single sleeping probe.
type virtualTime struct {
	clk *clock.ManualClock

	mu       sync.Mutex
	cond     *sync.Cond
	sleeping bool
	deadline clock.MonoTime
	stopped  bool
}

func newVirtualTime(clk *clock.ManualClock) *virtualTime {
	v := &virtualTime{clk: clk}
	v.cond = sync.NewCond(&v.mu)
	return v
}

// Sleep blocks until virtual time reaches now+d.
func (v *virtualTime) Sleep(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.sleeping = true
	v.deadline = v.clk.Now() + clock.FromDuration(d)
	v.cond.Broadcast()

	for !v.stopped && v.clk.Now() < v.deadline {
		v.cond.Wait()
	}
	v.sleeping = false
}

// advance moves virtual time forward by d.
func (v *virtualTime) advance(d time.Duration) {
	if d <= 0 {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clk.Add(d)
	if !v.sleeping || now < v.deadline {
		return
	}

	// Wait for the probe to wake, notify and go back to sleep
	v.cond.Broadcast()
	for !v.stopped && !(v.sleeping && v.clk.Now() < v.deadline) {
		v.cond.Wait()
	}
}

// awaitSleeper blocks until the probe has entered its first sleep.
func (v *virtualTime) awaitSleeper() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for !v.stopped && !v.sleeping {
		v.cond.Wait()
	}
}

// stop releases every waiter for good.
func (v *virtualTime) stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
	v.cond.Broadcast()
}
