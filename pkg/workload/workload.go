// Package workload replays request scenarios in virtual time against a
// pause-corrected and an uncorrected timer, to show what coordinated
// omission hides and what backfill recovers.
package workload

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-json-experiment/json"

	"github.com/BYTE-6D65/pausetimer/pkg/clock"
	"github.com/BYTE-6D65/pausetimer/pkg/event"
	"github.com/BYTE-6D65/pausetimer/pkg/histogram"
	"github.com/BYTE-6D65/pausetimer/pkg/pause"
	"github.com/BYTE-6D65/pausetimer/pkg/telemetry"
	"github.com/BYTE-6D65/pausetimer/pkg/timer"
)

// Scenario describes a synthetic request stream. Requests are issued one at a
// time every Rate; every StallEvery the process freezes for StallFor while a
// request is in flight, and no other request is issued meanwhile.
type Scenario struct {
	Name        string
	Description string

	Rate        time.Duration // Gap between request starts
	Duration    time.Duration // Virtual length of the run
	ServiceTime time.Duration // Latency of an undisturbed request
	StallEvery  time.Duration // 0 = never stall
	StallFor    time.Duration

	// Pace is real time slept per request so progress is watchable; 0 runs flat out
	Pace time.Duration
}

// Predefined scenarios.
var (
	ScenarioSteady = Scenario{
		Name:        "steady",
		Description: "100 req/s, 2ms service time, no stalls",
		Rate:        10 * time.Millisecond,
		Duration:    30 * time.Second,
		ServiceTime: 2 * time.Millisecond,
	}

	ScenarioGCStalls = Scenario{
		Name:        "gc-stalls",
		Description: "100 req/s with a 300ms stall every 5s",
		Rate:        10 * time.Millisecond,
		Duration:    30 * time.Second,
		ServiceTime: 2 * time.Millisecond,
		StallEvery:  5 * time.Second,
		StallFor:    300 * time.Millisecond,
	}

	ScenarioFreeze = Scenario{
		Name:        "freeze",
		Description: "100 req/s with one 2s freeze every 15s",
		Rate:        10 * time.Millisecond,
		Duration:    30 * time.Second,
		ServiceTime: 2 * time.Millisecond,
		StallEvery:  15 * time.Second,
		StallFor:    2 * time.Second,
	}
)

// Scenarios returns the predefined scenarios.
func Scenarios() []Scenario {
	return []Scenario{ScenarioSteady, ScenarioGCStalls, ScenarioFreeze}
}

// Lookup returns the predefined scenario called name.
func Lookup(name string) (Scenario, error) {
	for _, s := range Scenarios() {
		if s.Name == name {
			return s, nil
		}
	}
	return Scenario{}, fmt.Errorf("unknown scenario %q", name)
}

// Validate checks that the scenario can run.
func (s Scenario) Validate() error {
	if s.Rate <= 0 {
		return fmt.Errorf("scenario %s: rate must be > 0", s.Name)
	}
	if s.Duration <= 0 {
		return fmt.Errorf("scenario %s: duration must be > 0", s.Name)
	}
	if s.ServiceTime < 0 || s.StallFor < 0 || s.StallEvery < 0 {
		return fmt.Errorf("scenario %s: durations must not be negative", s.Name)
	}
	return nil
}

// Progress is reported periodically while a scenario runs.
type Progress struct {
	Requests    int
	Total       int
	Stalls      int
	Virtual     time.Duration
	Corrected   histogram.Snapshot
	Uncorrected histogram.Snapshot
	Backfilled  int64
}

// ProgressCallback receives Progress updates on the calling goroutine.
type ProgressCallback func(Progress)

// Options configure Run.
type Options struct {
	// Timer options applied to both timers. The uncorrected timer always has
	// pause detection disabled.
	Timer []timer.Option

	Bus      *event.ErrorBus
	Metrics  *telemetry.Metrics
	Progress ProgressCallback

	// ProgressEvery is the number of requests between updates (default 100)
	ProgressEvery int
}

// Result is the outcome of a run.
type Result struct {
	Scenario    Scenario
	Requests    int
	Stalls      int
	Virtual     time.Duration
	Wall        time.Duration
	Corrected   histogram.Snapshot
	Uncorrected histogram.Snapshot
	Backfilled  int64
	Pauses      int64
}

// Run replays s in virtual time. Both timers time every request; the
// corrected one also listens to a clock-drift detector probing the same
// virtual clock, so stalls reach it as pauses and trigger backfill.
func Run(ctx context.Context, s Scenario, opts Options) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	every := opts.ProgressEvery
	if every <= 0 {
		every = 100
	}

	clk := clock.NewManualClock(0)
	vt := newVirtualTime(clk)
	defer vt.stop()

	reg := pause.NewRegistry(
		pause.WithClock(clk),
		pause.WithSleeper(vt),
		pause.WithErrorBus(opts.Bus),
		pause.WithMetrics(opts.Metrics),
	)
	// Runs before vt.stop so the probe sees its stop signal when released
	defer reg.Shutdown()

	shared := []timer.Option{
		timer.WithClock(clk),
		timer.WithRegistry(reg),
		timer.WithErrorBus(opts.Bus),
		timer.WithMetrics(opts.Metrics),
	}

	corrected, err := timer.New(append(append(append([]timer.Option{}, opts.Timer...), shared...),
		timer.WithName("corrected"))...)
	if err != nil {
		return nil, fmt.Errorf("corrected timer: %w", err)
	}
	defer corrected.Close()

	uncorrected, err := timer.New(append(append(append([]timer.Option{}, opts.Timer...), shared...),
		timer.WithName("uncorrected"),
		timer.WithPauseDetector(pause.Disabled()))...)
	if err != nil {
		return nil, fmt.Errorf("uncorrected timer: %w", err)
	}
	defer uncorrected.Close()

	if corrected.PauseConfig().Enabled() {
		vt.awaitSleeper()
	}

	total := int(s.Duration / s.Rate)
	res := &Result{Scenario: s}
	wallStart := time.Now()
	nextStall := s.StallEvery

	report := func() {
		if opts.Progress == nil {
			return
		}
		opts.Progress(Progress{
			Requests:    res.Requests,
			Total:       total,
			Stalls:      res.Stalls,
			Virtual:     clock.ToDuration(clk.Now()),
			Corrected:   corrected.Snapshot(),
			Uncorrected: uncorrected.Snapshot(),
			Backfilled:  corrected.Backfilled(),
		})
	}

	for res.Requests < total {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		start := clk.Now()
		latency := s.ServiceTime
		if s.StallEvery > 0 && clock.ToDuration(start) >= nextStall {
			latency += s.StallFor
			nextStall += s.StallEvery
			res.Stalls++
		}

		sample := uncorrected.Start()
		corrected.Time(func() { vt.advance(latency) })
		sample.Stop(uncorrected)
		res.Requests++

		// The next request starts on schedule unless this one overran it
		vt.advance(s.Rate - clk.Since(start))

		if s.Pace > 0 {
			time.Sleep(s.Pace)
		}
		if res.Requests%every == 0 {
			report()
		}
	}
	report()

	res.Virtual = clock.ToDuration(clk.Now())
	res.Wall = time.Since(wallStart)
	res.Corrected = corrected.Snapshot()
	res.Uncorrected = uncorrected.Snapshot()
	res.Backfilled = corrected.Backfilled()
	res.Pauses = corrected.PausesHandled()
	return res, nil
}

// report is the JSON form of a Result. Durations are nanoseconds.
type report struct {
	Scenario    string             `json:"scenario"`
	Requests    int                `json:"requests"`
	Stalls      int                `json:"stalls"`
	VirtualNs   int64              `json:"virtual_ns"`
	WallNs      int64              `json:"wall_ns"`
	Pauses      int64              `json:"pauses"`
	Backfilled  int64              `json:"backfilled"`
	Corrected   histogram.Snapshot `json:"corrected"`
	Uncorrected histogram.Snapshot `json:"uncorrected"`
}

// JSON encodes the result.
func (r *Result) JSON() ([]byte, error) {
	return json.Marshal(report{
		Scenario:    r.Scenario.Name,
		Requests:    r.Requests,
		Stalls:      r.Stalls,
		VirtualNs:   int64(r.Virtual),
		WallNs:      int64(r.Wall),
		Pauses:      r.Pauses,
		Backfilled:  r.Backfilled,
		Corrected:   r.Corrected,
		Uncorrected: r.Uncorrected,
	}, json.Deterministic(true))
}

// FormatResult returns a human-readable comparison of both timers.
func FormatResult(r *Result) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Scenario:   %s\n", r.Scenario.Name)
	fmt.Fprintf(&sb, "Requests:   %d (%d stalls)\n", r.Requests, r.Stalls)
	fmt.Fprintf(&sb, "Virtual:    %v\n", r.Virtual.Round(time.Millisecond))
	fmt.Fprintf(&sb, "Wall:       %v\n", r.Wall.Round(time.Millisecond))
	fmt.Fprintf(&sb, "Pauses:     %d (%d samples backfilled)\n\n", r.Pauses, r.Backfilled)

	fmt.Fprintf(&sb, "%-12s %12s %12s\n", "", "uncorrected", "corrected")
	row := func(label string, u, c string) {
		fmt.Fprintf(&sb, "%-12s %12s %12s\n", label, u, c)
	}
	row("count", fmt.Sprint(r.Uncorrected.Count), fmt.Sprint(r.Corrected.Count))
	row("mean", formatValue(r.Uncorrected.Mean(), r.Uncorrected.Unit), formatValue(r.Corrected.Mean(), r.Corrected.Unit))
	row("max", formatValue(r.Uncorrected.Max, r.Uncorrected.Unit), formatValue(r.Corrected.Max, r.Corrected.Unit))
	for _, p := range r.Corrected.Percentiles {
		u, _ := r.Uncorrected.Percentile(p.Percentile)
		row(fmt.Sprintf("p%g", p.Percentile*100), time.Duration(u.Value).String(), time.Duration(p.Value).String())
	}

	return sb.String()
}

func formatValue(v float64, unit string) string {
	return fmt.Sprintf("%.3f%s", v, unit)
}
