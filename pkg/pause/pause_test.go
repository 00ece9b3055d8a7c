package pause

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BYTE-6D65/pausetimer/pkg/clock"
	"github.com/BYTE-6D65/pausetimer/pkg/event"
	"github.com/BYTE-6D65/pausetimer/pkg/telemetry"
)

type pauseRecord struct {
	length time.Duration
	end    clock.MonoTime
}

type recorder struct {
	mu     sync.Mutex
	pauses []pauseRecord
}

func (r *recorder) listen(length time.Duration, end clock.MonoTime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauses = append(r.pauses, pauseRecord{length, end})
}

func (r *recorder) get() []pauseRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pauseRecord, len(r.pauses))
	copy(out, r.pauses)
	return out
}

func manualClock(stalls ...time.Duration) *clock.ManualClock {
	clk := clock.NewManualClock(0)
	clk.SetYield(time.Millisecond)
	clk.LoadStalls(stalls...)
	return clk
}

func TestConfig_Normalize(t *testing.T) {
	assert.Equal(t, Disabled(), Config{Kind: KindDisabled, SleepInterval: time.Second}.Normalize())
	assert.Equal(t, Disabled(), ClockDrift(0, time.Second).Normalize())
	assert.Equal(t, Disabled(), ClockDrift(time.Second, -1).Normalize())
	assert.Equal(t, Disabled(), Config{Kind: Kind(9), SleepInterval: 1, PauseThreshold: 1}.Normalize())

	cfg := ClockDrift(50*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, cfg, cfg.Normalize())
	assert.True(t, cfg.Enabled())
	assert.False(t, Disabled().Enabled())

	assert.Equal(t, ClockDrift(100*time.Millisecond, 100*time.Millisecond), DefaultConfig())
	assert.Equal(t, "disabled", Disabled().String())
	assert.Equal(t, "clock-drift(sleep=50ms,threshold=20ms)", cfg.String())
}

func TestClockDrift_ReportsStall(t *testing.T) {
	clk := manualClock(0, 0, 500*time.Millisecond)
	d := NewClockDrift(DefaultConfig(), WithClock(clk), WithSleeper(clk))

	rec := &recorder{}
	d.AddListener(rec.listen)
	require.True(t, d.Start())
	defer d.Shutdown()

	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, 2*time.Second, time.Millisecond)

	got := rec.get()[0]
	assert.Equal(t, 600*time.Millisecond, got.length)
	assert.Equal(t, clock.FromDuration(800*time.Millisecond), got.end)
	assert.Equal(t, uint64(1), d.PauseCount())
	assert.Equal(t, StateProbing, d.State())
}

func TestClockDrift_IgnoresDriftWithinThreshold(t *testing.T) {
	// 100ms late is not more than the 100ms threshold
	clk := manualClock(100*time.Millisecond, 50*time.Millisecond)
	d := NewClockDrift(DefaultConfig(), WithClock(clk), WithSleeper(clk))

	rec := &recorder{}
	d.AddListener(rec.listen)
	d.Start()

	require.Eventually(t, func() bool { return clk.PendingStalls() == 0 }, 2*time.Second, time.Millisecond)
	d.Shutdown()
	<-d.Done()

	assert.Empty(t, rec.get())
}

func TestClockDrift_StartOnce(t *testing.T) {
	clk := manualClock()
	d := NewClockDrift(DefaultConfig(), WithClock(clk), WithSleeper(clk))

	assert.Equal(t, StateIdle, d.State())
	assert.True(t, d.Start())
	assert.False(t, d.Start())

	d.Shutdown()
	d.Shutdown()
	<-d.Done()
	assert.Equal(t, StateShutdown, d.State())
	assert.False(t, d.Start())
}

func TestClockDrift_ShutdownBeforeStart(t *testing.T) {
	d := NewClockDrift(DefaultConfig())
	d.Shutdown()

	select {
	case <-d.Done():
	default:
		t.Fatal("Done should be closed when shut down while idle")
	}
	assert.False(t, d.Start())
}

func TestClockDrift_DisabledConfig(t *testing.T) {
	d := NewClockDrift(ClockDrift(0, 0))
	assert.Equal(t, StateShutdown, d.State())
	assert.Equal(t, Disabled(), d.Config())
	assert.False(t, d.Start())
}

func TestClockDrift_RealSleep(t *testing.T) {
	d := NewClockDrift(ClockDrift(time.Millisecond, time.Hour))
	d.Start()
	time.Sleep(10 * time.Millisecond)
	d.Shutdown()

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("probe goroutine did not exit")
	}
	assert.Zero(t, d.PauseCount())
}

func TestClockDrift_RemovedListenerNotCalled(t *testing.T) {
	clk := manualClock(0, 0, 0, 0, 0, 0, 0, 0, 0, 0, time.Second)
	d := NewClockDrift(DefaultConfig(), WithClock(clk), WithSleeper(clk))

	removed := &recorder{}
	kept := &recorder{}
	id := d.AddListener(removed.listen)
	d.AddListener(kept.listen)
	assert.Equal(t, 2, d.ListenerCount())

	d.RemoveListener(id)
	d.RemoveListener(id)
	assert.Equal(t, 1, d.ListenerCount())

	d.Start()
	defer d.Shutdown()

	require.Eventually(t, func() bool { return len(kept.get()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Empty(t, removed.get())
}

func TestClockDrift_ListenerPanicIsolated(t *testing.T) {
	bus := event.NewErrorBus(16)
	defer bus.Close()
	sub, err := bus.Subscribe(event.Error)
	require.NoError(t, err)

	clk := manualClock(0, time.Second)
	d := NewClockDrift(DefaultConfig(), WithClock(clk), WithSleeper(clk), WithErrorBus(bus))

	d.AddListener(func(time.Duration, clock.MonoTime) { panic("boom") })
	rec := &recorder{}
	d.AddListener(rec.listen)

	d.Start()
	defer d.Shutdown()

	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, 2*time.Second, time.Millisecond)

	select {
	case evt := <-sub.Events():
		assert.Equal(t, event.CodeListenerPanic, evt.Code)
		assert.Contains(t, evt.Message, "boom")
	case <-time.After(time.Second):
		t.Fatal("expected LISTENER_PANIC event")
	}
	assert.Equal(t, StateProbing, d.State())
}

func TestClockDrift_PublishesLifecycle(t *testing.T) {
	bus := event.NewErrorBus(16)
	defer bus.Close()
	sub, err := bus.Subscribe(event.DebugSeverity)
	require.NoError(t, err)

	clk := manualClock(time.Second)
	d := NewClockDrift(DefaultConfig(), WithClock(clk), WithSleeper(clk), WithErrorBus(bus))
	d.Start()

	var codes []string
	timeout := time.After(2 * time.Second)
	for len(codes) < 2 {
		select {
		case evt := <-sub.Events():
			codes = append(codes, evt.Code)
		case <-timeout:
			t.Fatalf("got %v", codes)
		}
	}
	assert.Equal(t, []string{event.CodeDetectorStart, event.CodePauseDetected}, codes)

	d.Shutdown()
	<-d.Done()

	select {
	case evt := <-sub.Events():
		assert.Equal(t, event.CodeDetectorStop, evt.Code)
	case <-time.After(time.Second):
		t.Fatal("expected DETECTOR_STOP event")
	}
}

func TestClockDrift_Metrics(t *testing.T) {
	m := telemetry.InitMetrics(prometheus.NewRegistry())

	clk := manualClock(time.Second)
	cfg := DefaultConfig()
	d := NewClockDrift(cfg, WithClock(clk), WithSleeper(clk), WithMetrics(m))
	d.Start()

	require.Eventually(t, func() bool { return d.PauseCount() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PausesDetected.WithLabelValues(cfg.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DetectorsActive))

	d.Shutdown()
	<-d.Done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DetectorsActive))
}

func TestDisabledDetector(t *testing.T) {
	d := NewDisabled()
	id := d.AddListener(func(time.Duration, clock.MonoTime) {})
	d.RemoveListener(id)
	d.Shutdown()

	assert.Equal(t, StateShutdown, d.State())
	assert.Equal(t, Disabled(), d.Config())
}

func TestRegistry_SharesDetectorPerConfig(t *testing.T) {
	clk := manualClock()
	reg := NewRegistry(WithClock(clk), WithSleeper(clk))
	defer reg.Shutdown()

	a := reg.Acquire(DefaultConfig())
	b := reg.Acquire(ClockDrift(100*time.Millisecond, 100*time.Millisecond))
	c := reg.Acquire(ClockDrift(50*time.Millisecond, 100*time.Millisecond))
	defer a.Release()
	defer b.Release()
	defer c.Release()

	assert.Same(t, a.Detector(), b.Detector())
	assert.NotSame(t, a.Detector(), c.Detector())
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, 2, reg.Refs(DefaultConfig()))
	assert.Equal(t, StateProbing, a.Detector().State())
	assert.ElementsMatch(t, []Config{DefaultConfig(), ClockDrift(50*time.Millisecond, 100*time.Millisecond)}, reg.Configs())
}

func TestRegistry_DisabledConfigsShareOneDetector(t *testing.T) {
	reg := NewRegistry()
	defer reg.Shutdown()

	a := reg.Acquire(Disabled())
	b := reg.Acquire(ClockDrift(0, time.Second))
	defer a.Release()
	defer b.Release()

	assert.Same(t, a.Detector(), b.Detector())
	assert.Equal(t, StateShutdown, a.Detector().State())
}

func TestRegistry_LastReleaseShutsDown(t *testing.T) {
	clk := manualClock()
	reg := NewRegistry(WithClock(clk), WithSleeper(clk))
	defer reg.Shutdown()

	a := reg.Acquire(DefaultConfig())
	b := reg.Acquire(DefaultConfig())
	d := a.Detector().(*ClockDriftDetector)

	a.Release()
	a.Release()
	assert.Equal(t, StateProbing, d.State())
	assert.Equal(t, 1, reg.Refs(DefaultConfig()))

	b.Release()
	<-d.Done()
	assert.Equal(t, StateShutdown, d.State())
	assert.Equal(t, 0, reg.Len())

	_, ok := reg.Lookup(DefaultConfig())
	assert.False(t, ok)

	c := reg.Acquire(DefaultConfig())
	defer c.Release()
	assert.NotSame(t, d, c.Detector())
	assert.Equal(t, StateProbing, c.Detector().State())
}

func TestRegistry_ResolvePins(t *testing.T) {
	clk := manualClock()
	reg := NewRegistry(WithClock(clk), WithSleeper(clk))

	pinned := reg.Resolve(DefaultConfig())
	lease := reg.Acquire(DefaultConfig())
	assert.Same(t, pinned, lease.Detector())

	lease.Release()
	assert.Equal(t, StateProbing, pinned.State())

	reg.Shutdown()
	<-pinned.(*ClockDriftDetector).Done()
	assert.Equal(t, StateShutdown, pinned.State())
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_ConcurrentFirstUse(t *testing.T) {
	clk := manualClock()
	reg := NewRegistry(WithClock(clk), WithSleeper(clk))
	defer reg.Shutdown()

	const n = 32
	leases := make([]*Lease, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			leases[i] = reg.Acquire(DefaultConfig())
		}(i)
	}
	wg.Wait()

	for _, l := range leases[1:] {
		assert.Same(t, leases[0].Detector(), l.Detector())
	}
	assert.Equal(t, n, reg.Refs(DefaultConfig()))
	for _, l := range leases {
		l.Release()
	}
}

func TestDefaultRegistry(t *testing.T) {
	assert.Same(t, DefaultRegistry(), DefaultRegistry())
	d := Resolve(Disabled())
	assert.Same(t, d, Resolve(Disabled()))
}
