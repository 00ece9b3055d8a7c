package pause

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/BYTE-6D65/pausetimer/pkg/clock"
	"github.com/BYTE-6D65/pausetimer/pkg/event"
	"github.com/BYTE-6D65/pausetimer/pkg/telemetry"
)

// Option configures detectors built by NewClockDrift or a Registry.
type Option func(*options)

type options struct {
	clock   clock.Clock
	sleeper clock.Sleeper
	bus     *event.ErrorBus
	metrics *telemetry.Metrics
}

// WithClock sets the clock the probe measures with.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clock = clk
	}
}

// WithSleeper replaces the real sleep between probes. Combined with a
// clock.ManualClock this makes detection deterministic in tests.
func WithSleeper(s clock.Sleeper) Option {
	return func(o *options) {
		o.sleeper = s
	}
}

// WithErrorBus publishes detector diagnostics on bus.
func WithErrorBus(bus *event.ErrorBus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithMetrics records pause metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.System()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ClockDriftDetector runs a single goroutine that sleeps for SleepInterval and
// measures how late it woke up. Waking later than SleepInterval+PauseThreshold
// means the whole process was stalled, and the stall is reported to every
// listener as (elapsed, now).
//
// Lifecycle: idle -> probing on Start, idle|probing -> shutdown on Shutdown.
type ClockDriftDetector struct {
	id        string
	cfg       Config
	component string
	opts      options
	listeners listenerSet

	state  atomic.Int32
	stop   chan struct{}
	done   chan struct{}
	pauses atomic.Uint64
}

// NewClockDrift creates an idle detector. A config that does not normalize
// to KindClockDrift yields a detector that is already shut down.
func NewClockDrift(cfg Config, opts ...Option) *ClockDriftDetector {
	cfg = cfg.Normalize()
	d := &ClockDriftDetector{
		id:        uuid.NewString(),
		cfg:       cfg,
		component: "detector:" + cfg.String(),
		opts:      buildOptions(opts),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	if cfg.Kind != KindClockDrift {
		d.state.Store(int32(StateShutdown))
		close(d.stop)
		close(d.done)
	}
	return d
}

// ID returns the detector instance ID.
func (d *ClockDriftDetector) ID() string {
	return d.id
}

// Config returns the normalized config.
func (d *ClockDriftDetector) Config() Config {
	return d.cfg
}

// State returns the current lifecycle state.
func (d *ClockDriftDetector) State() State {
	return State(d.state.Load())
}

// AddListener registers l.
func (d *ClockDriftDetector) AddListener(l Listener) ListenerID {
	return d.listeners.add(l)
}

// RemoveListener unregisters a listener.
func (d *ClockDriftDetector) RemoveListener(id ListenerID) {
	d.listeners.remove(id)
}

// ListenerCount returns the number of registered listeners.
func (d *ClockDriftDetector) ListenerCount() int {
	return d.listeners.len()
}

// PauseCount returns the number of pauses reported so far.
func (d *ClockDriftDetector) PauseCount() uint64 {
	return d.pauses.Load()
}

// Start begins probing in a background goroutine. It returns false if the
// detector is not idle.
func (d *ClockDriftDetector) Start() bool {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateProbing)) {
		return false
	}

	d.opts.metrics.DetectorStarted()
	d.opts.bus.Publish(event.NewErrorEvent(
		event.InfoSeverity,
		event.CodeDetectorStart,
		d.component,
		"pause detection started",
	).WithContext("detector_id", d.id).
		WithContext("sleep_interval", d.cfg.SleepInterval.String()).
		WithContext("pause_threshold", d.cfg.PauseThreshold.String()))

	go d.run()
	return true
}

// Shutdown stops probing. It does not wait for the goroutine; use Done for that.
func (d *ClockDriftDetector) Shutdown() {
	for {
		s := State(d.state.Load())
		if s == StateShutdown {
			return
		}
		if d.state.CompareAndSwap(int32(s), int32(StateShutdown)) {
			close(d.stop)
			if s == StateIdle {
				close(d.done)
			}
			return
		}
	}
}

// Done is closed once the probing goroutine has exited.
func (d *ClockDriftDetector) Done() <-chan struct{} {
	return d.done
}

func (d *ClockDriftDetector) run() {
	defer func() {
		d.opts.bus.Publish(event.NewErrorEvent(
			event.InfoSeverity,
			event.CodeDetectorStop,
			d.component,
			"pause detection stopped",
		).WithContext("detector_id", d.id).
			WithContext("pauses", d.pauses.Load()))
		d.opts.metrics.DetectorStopped()
		close(d.done)
	}()

	interval := d.cfg.SleepInterval
	threshold := d.cfg.PauseThreshold
	last := d.opts.clock.Now()

	for {
		if !d.sleep(interval) {
			return
		}

		now := d.opts.clock.Now()
		elapsed := clock.ToDuration(now - last)
		last = now

		if elapsed-interval > threshold {
			d.notify(elapsed, now)
		}
	}
}

// sleep waits for interval and reports whether probing should continue.
func (d *ClockDriftDetector) sleep(interval time.Duration) bool {
	if d.opts.sleeper != nil {
		d.opts.sleeper.Sleep(interval)
		select {
		case <-d.stop:
			return false
		default:
			return true
		}
	}

	t := time.NewTimer(interval)
	defer t.Stop()
	select {
	case <-d.stop:
		return false
	case <-t.C:
		return true
	}
}

func (d *ClockDriftDetector) notify(length time.Duration, end clock.MonoTime) {
	d.opts.metrics.ObservePause(d.cfg.String(), length.Seconds())
	d.opts.bus.Publish(event.NewErrorEvent(
		event.WarningSeverity,
		event.CodePauseDetected,
		d.component,
		fmt.Sprintf("process paused for %s", length),
	).WithContext("detector_id", d.id).
		WithContext("pause_ns", int64(length)).
		WithContext("pause_end", int64(end)))
	d.pauses.Add(1)

	for _, l := range d.listeners.snapshot() {
		d.deliver(l, length, end)
	}
}

// deliver isolates the probe from a panicking listener.
func (d *ClockDriftDetector) deliver(l listenerEntry, length time.Duration, end clock.MonoTime) {
	defer func() {
		if r := recover(); r != nil {
			d.opts.bus.Publish(event.NewErrorEvent(
				event.Error,
				event.CodeListenerPanic,
				d.component,
				fmt.Sprintf("pause listener panicked: %v", r),
			).WithContext("detector_id", d.id).
				WithContext("listener_id", uint64(l.id)))
		}
	}()
	l.fn(length, end)
}
