package workload

import (
	"context"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BYTE-6D65/pausetimer/pkg/histogram"
	"github.com/BYTE-6D65/pausetimer/pkg/pause"
	"github.com/BYTE-6D65/pausetimer/pkg/timer"
)

func percentileOptions() []timer.Option {
	return []timer.Option{
		timer.WithBaseUnit(time.Millisecond),
		timer.WithDistribution(histogram.DistributionConfig{
			Percentiles:         []float64{0.5, 0.99},
			PercentilePrecision: 3,
		}),
	}
}

func TestLookup(t *testing.T) {
	for _, s := range Scenarios() {
		got, err := Lookup(s.Name)
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.NoError(t, s.Validate())
	}

	_, err := Lookup("nope")
	assert.Error(t, err)
}

func TestScenario_Validate(t *testing.T) {
	assert.Error(t, Scenario{Name: "x", Duration: time.Second}.Validate())
	assert.Error(t, Scenario{Name: "x", Rate: time.Millisecond}.Validate())
	assert.Error(t, Scenario{Name: "x", Rate: time.Millisecond, Duration: time.Second, StallFor: -1}.Validate())
}

func TestRun_Steady(t *testing.T) {
	s := ScenarioSteady
	s.Duration = 3 * time.Second

	res, err := Run(context.Background(), s, Options{Timer: percentileOptions()})
	require.NoError(t, err)

	assert.Equal(t, 300, res.Requests)
	assert.Zero(t, res.Stalls)
	assert.Zero(t, res.Pauses)
	assert.Zero(t, res.Backfilled)
	assert.Equal(t, res.Uncorrected.Count, res.Corrected.Count)
	assert.Equal(t, int64(300), res.Corrected.Count)
	assert.InDelta(t, 2.0, res.Corrected.Max, 1e-9)
	assert.Equal(t, 3*time.Second, res.Virtual)
}

func TestRun_StallIsBackfilled(t *testing.T) {
	s := ScenarioGCStalls
	s.Duration = 6 * time.Second

	res, err := Run(context.Background(), s, Options{Timer: percentileOptions()})
	require.NoError(t, err)

	require.Equal(t, 1, res.Stalls)
	require.Equal(t, int64(1), res.Pauses)
	assert.Greater(t, res.Backfilled, int64(20))

	// Every pause adds its floor sample plus the synthetic ones
	assert.Equal(t, res.Uncorrected.Count+res.Backfilled+res.Pauses, res.Corrected.Count)

	// The uncorrected timer saw the stall exactly once
	assert.InDelta(t, 302.0, res.Uncorrected.Max, 1e-9)

	up99, ok := res.Uncorrected.Percentile(0.99)
	require.True(t, ok)
	cp99, ok := res.Corrected.Percentile(0.99)
	require.True(t, ok)
	assert.Less(t, up99.Value, int64(10*time.Millisecond))
	assert.Greater(t, cp99.Value, int64(100*time.Millisecond))
}

func TestRun_PauseDisabled(t *testing.T) {
	s := ScenarioGCStalls
	s.Duration = 6 * time.Second

	opts := append(percentileOptions(), timer.WithPauseDetector(pause.Disabled()))
	res, err := Run(context.Background(), s, Options{Timer: opts})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stalls)
	assert.Zero(t, res.Pauses)
	assert.Equal(t, res.Uncorrected.Count, res.Corrected.Count)
}

func TestRun_Progress(t *testing.T) {
	s := ScenarioSteady
	s.Duration = time.Second

	var updates []Progress
	_, err := Run(context.Background(), s, Options{
		ProgressEvery: 25,
		Progress:      func(p Progress) { updates = append(updates, p) },
	})
	require.NoError(t, err)

	require.Len(t, updates, 5)
	assert.Equal(t, 25, updates[0].Requests)
	assert.Equal(t, 100, updates[0].Total)
	last := updates[len(updates)-1]
	assert.Equal(t, 100, last.Requests)
	assert.Equal(t, int64(100), last.Corrected.Count)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, ScenarioSteady, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_InvalidScenario(t *testing.T) {
	_, err := Run(context.Background(), Scenario{Name: "bad"}, Options{})
	assert.Error(t, err)
}

func TestResult_Format(t *testing.T) {
	s := ScenarioFreeze
	s.Duration = 16 * time.Second

	res, err := Run(context.Background(), s, Options{Timer: percentileOptions()})
	require.NoError(t, err)

	out := FormatResult(res)
	assert.Contains(t, out, "Scenario:   freeze")
	assert.Contains(t, out, "uncorrected")
	assert.Contains(t, out, "p99")

	data, err := res.JSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "freeze", decoded["scenario"])
	assert.Contains(t, decoded, "corrected")
	assert.Contains(t, decoded, "uncorrected")
}
