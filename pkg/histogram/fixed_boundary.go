package histogram

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// FixedBoundary counts values into fixed buckets using a Prometheus
// histogram. Counts are cumulative for the life of the histogram.
type FixedBoundary struct {
	hist   prometheus.Histogram
	bounds []time.Duration
	closed atomic.Bool
}

// NewFixedBoundary builds a bucketed histogram from cfg's boundaries.
func NewFixedBoundary(cfg DistributionConfig) *FixedBoundary {
	bounds := cfg.BucketBoundaries()

	seconds := make([]float64, len(bounds))
	for i, b := range bounds {
		seconds[i] = b.Seconds()
	}

	return &FixedBoundary{
		hist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pausetimer_distribution_seconds",
			Help:    "Recorded durations",
			Buckets: seconds,
		}),
		bounds: bounds,
	}
}

// RecordLong observes nanos.
func (f *FixedBoundary) RecordLong(nanos int64) {
	if f.closed.Load() || nanos < 0 {
		return
	}
	f.hist.Observe(time.Duration(nanos).Seconds())
}

// Snapshot reads cumulative bucket counts back from the histogram.
func (f *FixedBoundary) Snapshot(count int64, total, max float64) Snapshot {
	s := Snapshot{Count: count, Total: total, Max: max}

	var m dto.Metric
	if err := f.hist.Write(&m); err != nil {
		return s
	}

	buckets := m.GetHistogram().GetBucket()
	s.Buckets = make([]CountAtBucket, 0, len(f.bounds))
	for i, b := range f.bounds {
		var c float64
		if i < len(buckets) {
			c = float64(buckets[i].GetCumulativeCount())
		}
		s.Buckets = append(s.Buckets, CountAtBucket{Bucket: int64(b), Count: c})
	}
	return s
}

// Close stops recording.
func (f *FixedBoundary) Close() error {
	f.closed.Store(true)
	return nil
}
