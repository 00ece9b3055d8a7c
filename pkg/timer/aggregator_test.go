package timer

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BYTE-6D65/pausetimer/pkg/clock"
)

func TestCumulative(t *testing.T) {
	c := NewCumulative()
	c.RecordNonNegative(250, time.Millisecond)
	c.RecordNonNegative(1, time.Second)
	c.RecordNonNegative(0, time.Nanosecond)

	assert.Equal(t, int64(3), c.Count())
	assert.InDelta(t, 1.25, c.TotalTime(time.Second), 1e-9)
	assert.InDelta(t, 1000.0, c.Max(time.Millisecond), 1e-9)
}

func TestCumulative_TotalSaturates(t *testing.T) {
	c := NewCumulative()
	c.RecordNonNegative(math.MaxInt64-10, time.Nanosecond)
	c.RecordNonNegative(100, time.Nanosecond)

	assert.Equal(t, float64(math.MaxInt64), c.TotalTime(time.Nanosecond))
}

func TestCumulative_Concurrent(t *testing.T) {
	c := NewCumulative()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				c.RecordNonNegative(int64(g*1000+i), time.Nanosecond)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, int64(10000), c.Count())
	assert.Equal(t, float64(9999*10000/2), c.TotalTime(time.Nanosecond))
	assert.Equal(t, 9999.0, c.Max(time.Nanosecond))
}

func TestStep_ReportsLastCompletedStep(t *testing.T) {
	clk := clock.NewManualClock(0)
	s := NewStep(clk, 10*time.Second)

	s.RecordNonNegative(100, time.Millisecond)
	s.RecordNonNegative(300, time.Millisecond)
	assert.Zero(t, s.Count())
	assert.InDelta(t, 0.3, s.Max(time.Second), 1e-9, "max covers the current step")

	clk.Add(10 * time.Second)
	assert.Equal(t, int64(2), s.Count())
	assert.InDelta(t, 0.4, s.TotalTime(time.Second), 1e-9)
	assert.InDelta(t, 0.3, s.Max(time.Second), 1e-9)

	s.RecordNonNegative(50, time.Millisecond)
	clk.Add(10 * time.Second)
	assert.Equal(t, int64(1), s.Count())
	assert.InDelta(t, 0.05, s.Max(time.Second), 1e-9, "old spike decayed")
}

func TestStep_IdleStepsClear(t *testing.T) {
	clk := clock.NewManualClock(0)
	s := NewStep(clk, time.Second)

	s.RecordNonNegative(1, time.Second)
	clk.Add(5 * time.Second)

	assert.Zero(t, s.Count())
	assert.Zero(t, s.TotalTime(time.Second))
	assert.Zero(t, s.Max(time.Second))
}

func TestStep_DefaultStep(t *testing.T) {
	s := NewStep(nil, 0)
	assert.Equal(t, int64(time.Minute), s.step)
}
