// Package timer records latencies while correcting for coordinated omission.
//
// A process stall (GC, scheduler, descheduled container) stops requests from
// being measured at all, so the latency distribution silently loses its tail.
// Each Timer listens to a shared pause detector and, when a stall is long
// relative to its own recording cadence, backfills the samples that requests
// arriving during the stall would have produced.
package timer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/BYTE-6D65/pausetimer/pkg/clock"
	"github.com/BYTE-6D65/pausetimer/pkg/event"
	"github.com/BYTE-6D65/pausetimer/pkg/histogram"
	"github.com/BYTE-6D65/pausetimer/pkg/interval"
	"github.com/BYTE-6D65/pausetimer/pkg/pause"
	"github.com/BYTE-6D65/pausetimer/pkg/telemetry"
)

// unnamedLabel is the metrics label shared by every timer created without WithName.
const unnamedLabel = "unnamed"

// ErrInvalidBaseUnit is returned by New for a non-positive base unit.
var ErrInvalidBaseUnit = errors.New("timer: base unit must be positive")

// Timer records durations into a histogram and aggregate statistics.
// All methods are safe for concurrent use, including from the pause
// detector's goroutine.
type Timer struct {
	id        string
	name      string
	label     string
	component string
	clk       clock.Clock
	baseUnit  time.Duration

	histogram  histogram.Histogram
	aggregator Aggregator
	estimator  *interval.TimeCapped

	lease         *pause.Lease
	listenerID    pause.ListenerID
	detectorSleep time.Duration

	bus     *event.ErrorBus
	metrics *telemetry.Metrics

	backfilled    atomic.Int64
	pausesHandled atomic.Int64
	pausesSkipped atomic.Int64
	closed        atomic.Bool
	closeOnce     sync.Once
	closeErr      error
}

// New creates a timer and subscribes it to the pause detector shared by every
// timer with an equal pause.Config.
func New(opts ...Option) (*Timer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if !clock.ValidUnit(o.baseUnit) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBaseUnit, o.baseUnit)
	}
	if o.registry == nil {
		o.registry = pause.DefaultRegistry()
	}
	if o.histogram == nil {
		o.histogram = histogram.New(o.distribution, o.clock)
	}

	t := &Timer{
		id:         uuid.NewString(),
		name:       o.name,
		clk:        o.clock,
		baseUnit:   o.baseUnit,
		histogram:  o.histogram,
		aggregator: o.aggregator(o.clock),
		estimator:  interval.NewDefault(),
		bus:        o.bus,
		metrics:    o.metrics,
	}
	t.label = t.name
	if t.name == "" {
		t.name = t.id
		t.label = unnamedLabel
	}
	t.component = "timer:" + t.name

	t.lease = o.registry.Acquire(o.pause)
	t.detectorSleep = t.lease.Detector().Config().SleepInterval
	t.listenerID = t.lease.Detector().AddListener(t.onPause)

	return t, nil
}

// ID returns the unique timer instance ID.
func (t *Timer) ID() string {
	return t.id
}

// Name returns the timer name, or its ID when unnamed.
func (t *Timer) Name() string {
	return t.name
}

// BaseTimeUnit returns the unit TotalTime, Max and Snapshot report in.
func (t *Timer) BaseTimeUnit() time.Duration {
	return t.baseUnit
}

// PauseConfig returns the normalized config of the detector this timer listens to.
func (t *Timer) PauseConfig() pause.Config {
	return t.lease.Detector().Config()
}

// Record records amount expressed in unit. Negative amounts are ignored.
// After Close only the aggregates and the interval estimate are updated.
func (t *Timer) Record(amount int64, unit time.Duration) {
	if amount < 0 || !clock.ValidUnit(unit) {
		return
	}

	if !t.closed.Load() {
		t.histogram.RecordLong(clock.ToNanos(amount, unit))
	}
	t.aggregator.RecordNonNegative(amount, unit)
	t.estimator.RecordInterval(t.clk.Now())
	t.metrics.Recorded(t.label)
}

// RecordDuration records d.
func (t *Timer) RecordDuration(d time.Duration) {
	t.Record(int64(d), time.Nanosecond)
}

// RecordWithBackfill records value nanoseconds, then the descending series
// value-i, value-2i, ... down to the last value >= i. Each sample goes
// through Record. It returns the number of samples added after value.
func (t *Timer) RecordWithBackfill(value, expectedInterval int64) int {
	t.Record(value, time.Nanosecond)
	if expectedInterval <= 0 {
		return 0
	}

	n := 0
	for v := value - expectedInterval; v >= expectedInterval; v -= expectedInterval {
		t.Record(v, time.Nanosecond)
		n++
	}
	return n
}

// Time runs f and records how long it took, even if f panics.
func (t *Timer) Time(f func()) {
	start := t.clk.Now()
	defer t.stop(start)
	f()
}

// TimeErr runs f, records how long it took and returns f's error unchanged.
func (t *Timer) TimeErr(f func() error) error {
	start := t.clk.Now()
	defer t.stop(start)
	return f()
}

// Call runs f on t's clock and returns its results unchanged.
func Call[T any](t *Timer, f func() (T, error)) (T, error) {
	start := t.clk.Now()
	defer t.stop(start)
	return f()
}

// Supply runs f on t's clock and returns its result.
func Supply[T any](t *Timer, f func() T) T {
	start := t.clk.Now()
	defer t.stop(start)
	return f()
}

func (t *Timer) stop(start clock.MonoTime) time.Duration {
	elapsed := t.clk.Since(start)
	t.RecordDuration(elapsed)
	return elapsed
}

// Sample is an in-flight measurement started with Timer.Start.
type Sample struct {
	clk   clock.Clock
	start clock.MonoTime
}

// Start begins a measurement that can be stopped into any timer.
func (t *Timer) Start() Sample {
	return Sample{clk: t.clk, start: t.clk.Now()}
}

// Stop records the elapsed time into the given timer and returns it.
func (s Sample) Stop(into *Timer) time.Duration {
	elapsed := s.clk.Since(s.start)
	into.RecordDuration(elapsed)
	return elapsed
}

// Count returns the number of recorded samples, synthetic ones included.
func (t *Timer) Count() int64 {
	return t.aggregator.Count()
}

// TotalTime returns the sum of recorded samples in unit.
func (t *Timer) TotalTime(unit time.Duration) float64 {
	return t.aggregator.TotalTime(unit)
}

// Max returns the largest recorded sample in unit.
func (t *Timer) Max(unit time.Duration) float64 {
	return t.aggregator.Max(unit)
}

// Mean returns TotalTime/Count in unit.
func (t *Timer) Mean(unit time.Duration) float64 {
	count := t.Count()
	if count == 0 {
		return 0
	}
	return t.TotalTime(unit) / float64(count)
}

// Snapshot combines the histogram's distribution with the timer's own
// count, total and max in the base unit.
func (t *Timer) Snapshot() histogram.Snapshot {
	s := t.histogram.Snapshot(t.Count(), t.TotalTime(t.baseUnit), t.Max(t.baseUnit))
	s.Unit = clock.UnitName(t.baseUnit)
	return s
}

// EstimatedInterval returns the current estimate of the gap between
// recordings, or false while there are too few recent recordings.
func (t *Timer) EstimatedInterval() (time.Duration, bool) {
	est := t.estimator.EstimatedInterval(t.clk.Now())
	if est == interval.Unknown {
		return 0, false
	}
	return time.Duration(est), true
}

// Backfilled returns the number of synthetic samples recorded so far.
func (t *Timer) Backfilled() int64 {
	return t.backfilled.Load()
}

// PausesHandled returns the number of pauses that led to backfill.
func (t *Timer) PausesHandled() int64 {
	return t.pausesHandled.Load()
}

// PausesSkipped returns the number of pauses too short to backfill.
func (t *Timer) PausesSkipped() int64 {
	return t.pausesSkipped.Load()
}

// Close stops histogram recording, unsubscribes from the pause detector and
// releases the timer's lease on it. The detector keeps running while other
// timers hold leases. Aggregates remain readable and keep counting.
func (t *Timer) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.closeErr = t.histogram.Close()
		t.lease.Detector().RemoveListener(t.listenerID)
		t.lease.Release()

		t.bus.Publish(event.NewErrorEvent(
			event.InfoSeverity,
			event.CodeTimerClosed,
			t.component,
			"timer closed",
		).WithContext("timer_id", t.id).
			WithContext("count", t.Count()).
			WithContext("backfilled", t.backfilled.Load()))
	})
	return t.closeErr
}

// onPause runs on the detector goroutine.
func (t *Timer) onPause(length time.Duration, end clock.MonoTime) {
	if t.closed.Load() {
		return
	}

	// Register the pause first so it does not skew the estimate it is judged against.
	// The detector's own sleep is part of length but other goroutines kept
	// recording through it, so only the overdue part counts as paused.
	t.estimator.OnPause(length-t.detectorSleep, end)

	est := t.estimator.EstimatedInterval(end)
	floor := int64(length) - est

	if floor < est {
		t.pausesSkipped.Add(1)
		t.metrics.PauseIgnored(t.label)
		evt := event.NewErrorEvent(
			event.DebugSeverity,
			event.CodePauseIgnored,
			t.component,
			fmt.Sprintf("pause of %s below twice the recording interval", length),
		).WithContext("pause_ns", int64(length))
		if est != interval.Unknown {
			evt = evt.WithContext("interval_ns", est)
		}
		t.bus.Publish(evt)
		return
	}

	n := t.RecordWithBackfill(floor, est)
	t.pausesHandled.Add(1)
	t.backfilled.Add(int64(n))
	t.metrics.Backfilled(t.label, n)

	t.bus.Publish(event.NewErrorEvent(
		event.InfoSeverity,
		event.CodeBackfill,
		t.component,
		fmt.Sprintf("backfilled %d samples for a %s pause", n, length),
	).WithContext("pause_ns", int64(length)).
		WithContext("floor_ns", floor).
		WithContext("interval_ns", est).
		WithContext("samples", n))
}
