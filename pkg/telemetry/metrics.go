package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus self-metrics for pause detectors and timers.
// These describe the correction machinery itself; timer snapshots are not
// exported here.
//
// All methods accept a nil *Metrics and do nothing.
type Metrics struct {
	// Pause detector metrics
	PausesDetected  *prometheus.CounterVec
	PauseDuration   *prometheus.HistogramVec
	DetectorsActive prometheus.Gauge

	// Timer metrics
	RecordsTotal    *prometheus.CounterVec
	BackfillSamples *prometheus.CounterVec
	PausesIgnored   *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// InitMetrics registers the metrics with registry (the default registerer if nil).
func InitMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	// Pauses worth reporting start around a millisecond; GC and scheduler
	// stalls rarely exceed tens of seconds.
	pauseBuckets := []float64{
		0.001, // 1ms
		0.002, // 2ms
		0.005, // 5ms
		0.01,  // 10ms
		0.02,  // 20ms
		0.05,  // 50ms
		0.1,   // 100ms
		0.2,   // 200ms
		0.5,   // 500ms
		1,     // 1s
		2,     // 2s
		5,     // 5s
		10,    // 10s
		30,    // 30s
	}

	return &Metrics{
		PausesDetected: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pausetimer_pauses_total",
				Help: "Total number of pauses detected above threshold",
			},
			[]string{"detector"},
		),

		PauseDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pausetimer_pause_duration_seconds",
				Help:    "Length of detected pauses",
				Buckets: pauseBuckets,
			},
			[]string{"detector"},
		),

		DetectorsActive: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "pausetimer_detectors_active",
				Help: "Current number of probing pause detectors",
			},
		),

		RecordsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pausetimer_records_total",
				Help: "Total number of samples recorded, real and synthetic",
			},
			[]string{"timer"},
		),

		BackfillSamples: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pausetimer_backfill_samples_total",
				Help: "Synthetic samples recorded to compensate for pauses",
			},
			[]string{"timer"},
		),

		PausesIgnored: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pausetimer_pauses_ignored_total",
				Help: "Pauses too short relative to the recording cadence to backfill",
			},
			[]string{"timer"},
		),
	}
}

// Default returns the process-wide metrics, registering them with the default
// registerer on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = InitMetrics(nil)
	})
	return defaultMetrics
}

// ObservePause records a detected pause for detector.
func (m *Metrics) ObservePause(detector string, seconds float64) {
	if m == nil {
		return
	}
	m.PausesDetected.WithLabelValues(detector).Inc()
	m.PauseDuration.WithLabelValues(detector).Observe(seconds)
}

// DetectorStarted increments the active detector gauge.
func (m *Metrics) DetectorStarted() {
	if m == nil {
		return
	}
	m.DetectorsActive.Inc()
}

// DetectorStopped decrements the active detector gauge.
func (m *Metrics) DetectorStopped() {
	if m == nil {
		return
	}
	m.DetectorsActive.Dec()
}

// Recorded counts one sample recorded by timer.
func (m *Metrics) Recorded(timer string) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(timer).Inc()
}

// Backfilled counts n synthetic samples recorded by timer.
func (m *Metrics) Backfilled(timer string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BackfillSamples.WithLabelValues(timer).Add(float64(n))
}

// PauseIgnored counts a pause timer chose not to backfill.
func (m *Metrics) PauseIgnored(timer string) {
	if m == nil {
		return
	}
	m.PausesIgnored.WithLabelValues(timer).Inc()
}
