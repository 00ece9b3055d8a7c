package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BYTE-6D65/pausetimer/pkg/pause"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.PauseEnabled)
	assert.Equal(t, pause.DefaultConfig(), cfg.PauseConfig())
	assert.Equal(t, time.Millisecond, cfg.BaseUnit)
	assert.Equal(t, []float64{0.5, 0.9, 0.99, 0.999}, cfg.Percentiles)
	assert.Len(t, cfg.TimerOptions(), 3)
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	want := DefaultConfig()
	assert.Equal(t, want.PauseConfig(), cfg.PauseConfig())
	assert.Equal(t, want.BaseUnit, cfg.BaseUnit)
	assert.Equal(t, want.Percentiles, cfg.Percentiles)
	assert.Equal(t, want.Expiry, cfg.Expiry)
	assert.Equal(t, want.BufferLength, cfg.BufferLength)
	assert.Equal(t, want.Precision, cfg.Precision)
	assert.Empty(t, cfg.SLOs)
	assert.Zero(t, cfg.Step)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("PAUSETIMER_PAUSE_SLEEP_INTERVAL", "50ms")
	t.Setenv("PAUSETIMER_PAUSE_THRESHOLD", "20ms")
	t.Setenv("PAUSETIMER_BASE_UNIT", "seconds")
	t.Setenv("PAUSETIMER_PERCENTILES", "0.5, 0.95")
	t.Setenv("PAUSETIMER_PERCENTILE_HISTOGRAM", "true")
	t.Setenv("PAUSETIMER_SLO", "10ms,250ms")
	t.Setenv("PAUSETIMER_EXPIRY", "1m")
	t.Setenv("PAUSETIMER_BUFFER_LENGTH", "6")
	t.Setenv("PAUSETIMER_PRECISION", "3")
	t.Setenv("PAUSETIMER_STEP", "10s")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, pause.ClockDrift(50*time.Millisecond, 20*time.Millisecond), cfg.PauseConfig())
	assert.Equal(t, time.Second, cfg.BaseUnit)
	assert.Equal(t, []float64{0.5, 0.95}, cfg.Percentiles)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 250 * time.Millisecond}, cfg.SLOs)
	assert.Equal(t, 10*time.Second, cfg.Step)

	dist := cfg.Distribution()
	assert.True(t, dist.PercentileHistogram)
	assert.Equal(t, time.Minute, dist.Expiry)
	assert.Equal(t, 6, dist.BufferLength)
	assert.Equal(t, 3, dist.PercentilePrecision)
	assert.Len(t, cfg.TimerOptions(), 4)
}

func TestLoadFromEnv_PauseDisabled(t *testing.T) {
	t.Setenv("PAUSETIMER_PAUSE_ENABLED", "false")
	t.Setenv("PAUSETIMER_PAUSE_SLEEP_INTERVAL", "0s")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, pause.Disabled(), cfg.PauseConfig())
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "PAUSETIMER_PAUSE_THRESHOLD", "soon"},
		{"zero interval", "PAUSETIMER_PAUSE_SLEEP_INTERVAL", "0s"},
		{"bad unit", "PAUSETIMER_BASE_UNIT", "fortnights"},
		{"bad percentile", "PAUSETIMER_PERCENTILES", "0.5,abc"},
		{"percentile out of range", "PAUSETIMER_PERCENTILES", "99"},
		{"bad slo", "PAUSETIMER_SLO", "10"},
		{"negative slo", "PAUSETIMER_SLO", "-5ms"},
		{"precision", "PAUSETIMER_PRECISION", "9"},
		{"buffer length", "PAUSETIMER_BUFFER_LENGTH", "0"},
		{"negative step", "PAUSETIMER_STEP", "-1s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv()
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SLOs = []time.Duration{100 * time.Millisecond}

	s := cfg.String()
	assert.Contains(t, s, "clock-drift(sleep=100ms,threshold=100ms)")
	assert.Contains(t, s, "Base Unit: ms")
	assert.Contains(t, s, "Aggregation: cumulative")
	assert.Contains(t, s, "0.5, 0.9, 0.99, 0.999")
	assert.Contains(t, s, "SLOs: 100ms")
}
