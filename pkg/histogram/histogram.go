// Package histogram provides the distribution collaborators a timer records
// into. A histogram only supplies distribution shape (percentiles and bucket
// counts); count, total and max always come from the caller.
package histogram

import (
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BYTE-6D65/pausetimer/pkg/clock"
)

// Histogram accumulates nanosecond values. Implementations are safe for
// concurrent use.
type Histogram interface {
	// RecordLong records a non-negative nanosecond value
	RecordLong(nanos int64)

	// Snapshot combines the distribution with externally tracked aggregates
	Snapshot(count int64, total, max float64) Snapshot

	// Close releases resources; later RecordLong calls are ignored
	Close() error
}

// Defaults applied by DistributionConfig.Merge.
const (
	DefaultExpiry               = 2 * time.Minute
	DefaultBufferLength         = 3
	DefaultPercentilePrecision  = 1
	DefaultMinimumExpectedValue = time.Millisecond
	DefaultMaximumExpectedValue = 30 * time.Second

	// percentileHistogramBuckets is the number of generated boundaries when
	// PercentileHistogram is set.
	percentileHistogramBuckets = 32
)

// DistributionConfig selects and tunes the histogram backing a timer.
type DistributionConfig struct {
	// Percentiles to publish, each in [0, 1]
	Percentiles []float64

	// PercentileHistogram publishes generated bucket boundaries spanning the
	// expected value range
	PercentileHistogram bool

	// ServiceLevelObjectives are explicit bucket boundaries
	ServiceLevelObjectives []time.Duration

	MinimumExpectedValue time.Duration
	MaximumExpectedValue time.Duration

	// Expiry is how long a sample contributes to percentiles; the window
	// rotates every Expiry/BufferLength.
	Expiry       time.Duration
	BufferLength int

	// PercentilePrecision is the number of significant decimal digits kept
	PercentilePrecision int
}

// PublishingPercentiles reports whether percentiles are configured.
func (c DistributionConfig) PublishingPercentiles() bool {
	return len(c.Percentiles) > 0
}

// PublishingHistogram reports whether bucket counts are configured.
func (c DistributionConfig) PublishingHistogram() bool {
	return c.PercentileHistogram || len(c.ServiceLevelObjectives) > 0
}

// Merge fills unset fields with the package defaults.
func (c DistributionConfig) Merge() DistributionConfig {
	if c.MinimumExpectedValue <= 0 {
		c.MinimumExpectedValue = DefaultMinimumExpectedValue
	}
	if c.MaximumExpectedValue <= c.MinimumExpectedValue {
		c.MaximumExpectedValue = max(DefaultMaximumExpectedValue, 2*c.MinimumExpectedValue)
	}
	if c.Expiry <= 0 {
		c.Expiry = DefaultExpiry
	}
	if c.BufferLength <= 0 {
		c.BufferLength = DefaultBufferLength
	}
	if c.PercentilePrecision <= 0 {
		c.PercentilePrecision = DefaultPercentilePrecision
	}
	return c
}

// BucketBoundaries returns the sorted, de-duplicated bucket boundaries: the
// SLOs plus, with PercentileHistogram, exponentially spaced boundaries between
// the minimum and maximum expected values.
func (c DistributionConfig) BucketBoundaries() []time.Duration {
	c = c.Merge()

	var bounds []time.Duration
	for _, slo := range c.ServiceLevelObjectives {
		if slo > 0 {
			bounds = append(bounds, slo)
		}
	}
	if c.PercentileHistogram {
		generated := prometheus.ExponentialBucketsRange(
			float64(c.MinimumExpectedValue),
			float64(c.MaximumExpectedValue),
			percentileHistogramBuckets,
		)
		for _, ns := range generated {
			bounds = append(bounds, time.Duration(ns))
		}
	}

	slices.Sort(bounds)
	return slices.Compact(bounds)
}

// New selects the histogram variant for cfg: percentiles win over buckets,
// and with neither configured the no-op variant is used.
func New(cfg DistributionConfig, clk clock.Clock) Histogram {
	cfg = cfg.Merge()
	switch {
	case cfg.PublishingPercentiles():
		return NewPercentile(cfg, clk)
	case cfg.PublishingHistogram():
		return NewFixedBoundary(cfg)
	default:
		return Noop{}
	}
}
