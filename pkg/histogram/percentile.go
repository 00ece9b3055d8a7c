package histogram

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/BYTE-6D65/pausetimer/pkg/clock"
)

// Percentile keeps a ring of BufferLength HDR histograms, rotated every
// Expiry/BufferLength, so percentiles decay out after roughly Expiry.
// Values above twice MaximumExpectedValue are clamped.
type Percentile struct {
	mu       sync.Mutex
	window   *hdrhistogram.WindowedHistogram
	clk      clock.Clock
	rotateNs int64
	next     clock.MonoTime
	buffers  int

	lowest  int64
	highest int64

	percentiles []float64
	bounds      []time.Duration

	closed atomic.Bool
}

// NewPercentile builds a percentile histogram from cfg.
func NewPercentile(cfg DistributionConfig, clk clock.Clock) *Percentile {
	cfg = cfg.Merge()
	if clk == nil {
		clk = clock.System()
	}

	// Track from 1ns so sub-minimum values keep their resolution; the
	// expected range only bounds the top.
	lowest := int64(1)
	highest := max(int64(cfg.MaximumExpectedValue)*2, 2)
	sigfigs := min(max(cfg.PercentilePrecision, 1), 5)

	rotate := max(int64(cfg.Expiry)/int64(cfg.BufferLength), 1)

	return &Percentile{
		window:      hdrhistogram.NewWindowed(cfg.BufferLength, lowest, highest, sigfigs),
		clk:         clk,
		rotateNs:    rotate,
		next:        clk.Now() + clock.MonoTime(rotate),
		buffers:     cfg.BufferLength,
		lowest:      lowest,
		highest:     highest,
		percentiles: append([]float64(nil), cfg.Percentiles...),
		bounds:      cfg.BucketBoundaries(),
	}
}

// RecordLong records nanos into the current window.
func (p *Percentile) RecordLong(nanos int64) {
	if p.closed.Load() || nanos < 0 {
		return
	}
	nanos = min(max(nanos, p.lowest), p.highest)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateLocked()
	// Cannot fail after clamping
	_ = p.window.Current.RecordValue(nanos)
}

// Snapshot merges the live windows and reads percentiles and buckets from them.
func (p *Percentile) Snapshot(count int64, total, max float64) Snapshot {
	p.mu.Lock()
	p.rotateLocked()
	merged := p.window.Merge()
	p.mu.Unlock()

	s := Snapshot{Count: count, Total: total, Max: max}

	if len(p.percentiles) > 0 {
		s.Percentiles = make([]ValueAtPercentile, 0, len(p.percentiles))
		for _, q := range p.percentiles {
			v := int64(0)
			if merged.TotalCount() > 0 {
				v = merged.ValueAtQuantile(q * 100)
			}
			s.Percentiles = append(s.Percentiles, ValueAtPercentile{Percentile: q, Value: v})
		}
	}

	if len(p.bounds) > 0 {
		s.Buckets = cumulativeCounts(merged.Distribution(), p.bounds)
	}
	return s
}

// Close stops recording.
func (p *Percentile) Close() error {
	p.closed.Store(true)
	return nil
}

// rotateLocked drops windows that have aged out. Caller holds p.mu.
func (p *Percentile) rotateLocked() {
	now := p.clk.Now()
	for i := 0; now >= p.next && i < p.buffers; i++ {
		p.window.Rotate()
		p.next += clock.MonoTime(p.rotateNs)
	}
	// Idle longer than the whole ring: every window is already empty
	if now >= p.next {
		elapsed := int64(now-p.next)/p.rotateNs + 1
		p.next += clock.MonoTime(elapsed * p.rotateNs)
	}
}

// cumulativeCounts sums HDR bars into cumulative counts per boundary. A bar
// counts toward a boundary when its highest equivalent value is at or below it.
func cumulativeCounts(bars []hdrhistogram.Bar, bounds []time.Duration) []CountAtBucket {
	out := make([]CountAtBucket, len(bounds))
	var running int64
	i := 0
	for bi, b := range bounds {
		for i < len(bars) && bars[i].To <= int64(b) {
			running += bars[i].Count
			i++
		}
		out[bi] = CountAtBucket{Bucket: int64(b), Count: float64(running)}
	}
	return out
}
