// Package interval estimates the expected time between recorded samples.
//
// Timers feed it the monotonic timestamp of every recording. When a pause is
// detected, the estimate answers "how many requests would have been observed
// during the stall", which is what drives coordinated-omission backfill.
package interval

import (
	"math"
	"math/bits"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BYTE-6D65/pausetimer/pkg/clock"
)

const (
	// DefaultWindowLength is the number of recent recordings averaged over.
	DefaultWindowLength = 128

	// DefaultTimeCap bounds how far back a recording can be and still count.
	DefaultTimeCap = 10 * time.Second

	// Unknown is returned when there are too few recent recordings for an estimate.
	Unknown int64 = math.MaxInt64

	maxTrackedPauses = 32

	// empty marks a ring slot claimed by a writer but not stored yet
	empty int64 = math.MinInt64
)

// Estimator tracks the cadence of recordings.
type Estimator interface {
	// RecordInterval registers that a sample was recorded at when
	RecordInterval(when clock.MonoTime)

	// EstimatedInterval returns the expected nanoseconds between samples as of at
	EstimatedInterval(at clock.MonoTime) int64
}

// PauseAware is implemented by estimators that discount detected pauses.
type PauseAware interface {
	OnPause(length time.Duration, end clock.MonoTime)
}

// TimeCapped is a moving-average Estimator over the most recent recordings,
// ignoring recordings older than a time cap.
//
// RecordInterval is lock-free and may be called from any goroutine. The
// window is a power-of-two ring indexed by an atomic counter. Slots start
// out empty and readers skip them, so a reader racing the first writes never
// mistakes an unstored slot for a timestamp. Once the ring wraps, a racing
// reader may see the previous occupant of a slot, which only shifts the
// estimate by one sample.
type TimeCapped struct {
	slots   []atomic.Int64
	mask    uint64
	count   atomic.Uint64
	timeCap int64

	mu         sync.Mutex // Protects pause tracking only
	pauses     [maxTrackedPauses]pauseRecord
	pauseIndex int
	pauseCount int
}

type pauseRecord struct {
	start clock.MonoTime
	end   clock.MonoTime
}

// NewTimeCapped creates an estimator averaging over windowLength recordings
// (rounded up to a power of two) no older than timeCap.
func NewTimeCapped(windowLength int, timeCap time.Duration) *TimeCapped {
	if windowLength < 2 {
		windowLength = DefaultWindowLength
	}
	if timeCap <= 0 {
		timeCap = DefaultTimeCap
	}

	size := 1 << bits.Len(uint(windowLength-1))
	e := &TimeCapped{
		slots:   make([]atomic.Int64, size),
		mask:    uint64(size - 1),
		timeCap: int64(timeCap),
	}
	for i := range e.slots {
		e.slots[i].Store(empty)
	}
	return e
}

// NewDefault creates the 128-sample, 10-second estimator timers use.
func NewDefault() *TimeCapped {
	return NewTimeCapped(DefaultWindowLength, DefaultTimeCap)
}

// WindowLength returns the ring size.
func (e *TimeCapped) WindowLength() int {
	return len(e.slots)
}

// RecordInterval stores when as the newest recording.
func (e *TimeCapped) RecordInterval(when clock.MonoTime) {
	idx := e.count.Add(1) - 1
	e.slots[idx&e.mask].Store(int64(when))
}

// OnPause remembers a pause ending at end so it neither inflates the
// estimated interval nor pushes pre-pause recordings out of the time cap.
func (e *TimeCapped) OnPause(length time.Duration, end clock.MonoTime) {
	if length <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pauses[e.pauseIndex] = pauseRecord{start: end - clock.FromDuration(length), end: end}
	e.pauseIndex = (e.pauseIndex + 1) % maxTrackedPauses
	if e.pauseCount < maxTrackedPauses {
		e.pauseCount++
	}
}

// EstimatedInterval returns the average gap between the recordings that fall
// inside the time cap ending at at, with pause time removed. It returns
// Unknown when fewer than two recordings qualify.
//
// Pause time is only removed from a gap whose two recordings do not both lie
// inside the pause: a recording made during a pause window proves the process
// was running then. The result never drops below the smallest gap actually
// observed between two recordings.
func (e *TimeCapped) EstimatedInterval(at clock.MonoTime) int64 {
	n := e.count.Load()
	if n > uint64(len(e.slots)) {
		n = uint64(len(e.slots))
	}
	if n < 2 {
		return Unknown
	}

	capStart := int64(at) - e.timeCap - e.pausesEndingWithin(at-clock.MonoTime(e.timeCap), at)

	stamps := make([]int64, 0, n)
	for i := range e.slots {
		ts := e.slots[i].Load()
		if ts == empty || ts < capStart || ts > int64(at) {
			continue
		}
		stamps = append(stamps, ts)
	}

	if len(stamps) < 2 {
		return Unknown
	}
	slices.Sort(stamps)

	pauses := e.pauseSnapshot()
	minGap := int64(math.MaxInt64)
	var span int64
	for i := 1; i < len(stamps); i++ {
		from, to := stamps[i-1], stamps[i]
		gap := to - from
		if gap > 0 && gap < minGap {
			minGap = gap
		}
		span += gap - pausedBetween(pauses, from, to)
	}

	avg := span / int64(len(stamps)-1)
	if minGap != math.MaxInt64 && avg < minGap {
		avg = minGap
	}
	if avg < 1 {
		avg = 1
	}
	return avg
}

// pausesEndingWithin sums the full length of each tracked pause that ended in [from, to].
func (e *TimeCapped) pausesEndingWithin(from, to clock.MonoTime) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var total int64
	for i := 0; i < e.pauseCount; i++ {
		p := e.pauses[i]
		if p.end >= from && p.end <= to {
			total += int64(p.end - p.start)
		}
	}
	return total
}

func (e *TimeCapped) pauseSnapshot() []pauseRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.pauses[:e.pauseCount])
}

// pausedBetween sums the part of each pause that overlaps the gap between two
// consecutive recordings, capped at the gap. Pauses holding both recordings
// contribute nothing; a recording at the pause end is the first one after it.
func pausedBetween(pauses []pauseRecord, from, to int64) int64 {
	var total int64
	for _, p := range pauses {
		if int64(p.start) <= from && to < int64(p.end) {
			continue
		}
		start := max(int64(p.start), from)
		end := min(int64(p.end), to)
		if end > start {
			total += end - start
		}
	}
	return min(total, to-from)
}
