package timer

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BYTE-6D65/pausetimer/pkg/clock"
)

// Aggregator keeps the count, total and max a timer reports. Snapshots take
// these from the aggregator, never from the histogram.
type Aggregator interface {
	// RecordNonNegative adds amount (>= 0) expressed in unit
	RecordNonNegative(amount int64, unit time.Duration)

	Count() int64
	TotalTime(unit time.Duration) float64
	Max(unit time.Duration) float64
}

// Cumulative aggregates every value ever recorded. It is lock-free.
type Cumulative struct {
	count atomic.Int64
	total atomic.Int64 // nanoseconds, saturating
	max   atomic.Int64 // nanoseconds
}

// NewCumulative returns an empty cumulative aggregator.
func NewCumulative() *Cumulative {
	return &Cumulative{}
}

func (c *Cumulative) RecordNonNegative(amount int64, unit time.Duration) {
	nanos := clock.ToNanos(amount, unit)
	c.count.Add(1)
	addSaturating(&c.total, nanos)
	updateMax(&c.max, nanos)
}

func (c *Cumulative) Count() int64 {
	return c.count.Load()
}

func (c *Cumulative) TotalTime(unit time.Duration) float64 {
	return clock.ToUnit(float64(c.total.Load()), unit)
}

func (c *Cumulative) Max(unit time.Duration) float64 {
	return clock.ToUnit(float64(c.max.Load()), unit)
}

func addSaturating(v *atomic.Int64, delta int64) {
	for {
		old := v.Load()
		next := old + delta
		if next < old {
			next = math.MaxInt64
		}
		if v.CompareAndSwap(old, next) {
			return
		}
	}
}

func updateMax(v *atomic.Int64, candidate int64) {
	for {
		old := v.Load()
		if candidate <= old || v.CompareAndSwap(old, candidate) {
			return
		}
	}
}

// Step reports count and total for the last completed step, the way a
// push-based registry publishes per-interval deltas. Max covers the current
// and the previous step, so a spike stays visible for at least one full step
// and then decays.
type Step struct {
	mu    sync.Mutex
	clk   clock.Clock
	step  int64
	start clock.MonoTime

	current  stepValues
	previous stepValues
}

type stepValues struct {
	count int64
	total int64
	max   int64
}

// NewStep returns a step aggregator. Non-positive steps default to one minute.
func NewStep(clk clock.Clock, step time.Duration) *Step {
	if step <= 0 {
		step = time.Minute
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Step{
		clk:   clk,
		step:  int64(step),
		start: clk.Now(),
	}
}

func (s *Step) RecordNonNegative(amount int64, unit time.Duration) {
	nanos := clock.ToNanos(amount, unit)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked()

	s.current.count++
	if s.current.total > math.MaxInt64-nanos {
		s.current.total = math.MaxInt64
	} else {
		s.current.total += nanos
	}
	s.current.max = max(s.current.max, nanos)
}

func (s *Step) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked()
	return s.previous.count
}

func (s *Step) TotalTime(unit time.Duration) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked()
	return clock.ToUnit(float64(s.previous.total), unit)
}

func (s *Step) Max(unit time.Duration) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked()
	return clock.ToUnit(float64(max(s.previous.max, s.current.max)), unit)
}

// rollLocked advances to the step containing now. Caller holds s.mu.
func (s *Step) rollLocked() {
	elapsed := int64(s.clk.Now() - s.start)
	if elapsed < s.step {
		return
	}
	steps := elapsed / s.step
	if steps == 1 {
		s.previous = s.current
	} else {
		s.previous = stepValues{}
	}
	s.current = stepValues{}
	s.start += clock.MonoTime(steps * s.step)
}
