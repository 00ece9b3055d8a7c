package timer

import (
	"time"

	"github.com/BYTE-6D65/pausetimer/pkg/clock"
	"github.com/BYTE-6D65/pausetimer/pkg/event"
	"github.com/BYTE-6D65/pausetimer/pkg/histogram"
	"github.com/BYTE-6D65/pausetimer/pkg/pause"
	"github.com/BYTE-6D65/pausetimer/pkg/telemetry"
)

// Option configures a Timer.
type Option func(*options)

type options struct {
	name         string
	clock        clock.Clock
	baseUnit     time.Duration
	distribution histogram.DistributionConfig
	histogram    histogram.Histogram
	pause        pause.Config
	registry     *pause.Registry
	aggregator   func(clock.Clock) Aggregator
	bus          *event.ErrorBus
	metrics      *telemetry.Metrics
}

func defaultOptions() options {
	return options{
		clock:    clock.System(),
		baseUnit: time.Second,
		pause:    pause.DefaultConfig(),
		aggregator: func(clock.Clock) Aggregator {
			return NewCumulative()
		},
	}
}

// WithName names the timer in diagnostics and metrics labels.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithClock sets the clock used for timing and interval estimation.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clock = clk
	}
}

// WithBaseUnit sets the unit TotalTime, Max and snapshots report in.
func WithBaseUnit(unit time.Duration) Option {
	return func(o *options) {
		o.baseUnit = unit
	}
}

// WithDistribution selects the histogram variant from cfg.
func WithDistribution(cfg histogram.DistributionConfig) Option {
	return func(o *options) {
		o.distribution = cfg
	}
}

// WithHistogram supplies the histogram directly, overriding WithDistribution.
func WithHistogram(h histogram.Histogram) Option {
	return func(o *options) {
		o.histogram = h
	}
}

// WithPauseDetector selects the pause detector. pause.Disabled() turns
// correction off.
func WithPauseDetector(cfg pause.Config) Option {
	return func(o *options) {
		o.pause = cfg
	}
}

// WithRegistry sets the registry detectors are leased from.
func WithRegistry(r *pause.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithAggregator supplies the aggregate statistics implementation.
func WithAggregator(a Aggregator) Option {
	return func(o *options) {
		o.aggregator = func(clock.Clock) Aggregator { return a }
	}
}

// WithStep aggregates per step of length step instead of cumulatively.
func WithStep(step time.Duration) Option {
	return func(o *options) {
		o.aggregator = func(clk clock.Clock) Aggregator { return NewStep(clk, step) }
	}
}

// WithErrorBus publishes backfill diagnostics on bus.
func WithErrorBus(bus *event.ErrorBus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithMetrics records self-metrics into m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
