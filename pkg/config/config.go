// Package config loads timer and pause-detector settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/BYTE-6D65/pausetimer/pkg/clock"
	"github.com/BYTE-6D65/pausetimer/pkg/histogram"
	"github.com/BYTE-6D65/pausetimer/pkg/pause"
	"github.com/BYTE-6D65/pausetimer/pkg/timer"
)

// ErrInvalid wraps every validation and parse failure.
var ErrInvalid = errors.New("invalid configuration")

const (
	EnvPrefix = "PAUSETIMER"

	OptionPauseEnabled        = "pause_enabled"
	OptionPauseSleepInterval  = "pause_sleep_interval"
	OptionPauseThreshold      = "pause_threshold"
	OptionBaseUnit            = "base_unit"
	OptionPercentiles         = "percentiles"
	OptionPercentileHistogram = "percentile_histogram"
	OptionSLO                 = "slo"
	OptionExpiry              = "expiry"
	OptionBufferLength        = "buffer_length"
	OptionPrecision           = "precision"
	OptionStep                = "step"
	OptionErrorBusBuffer      = "error_bus_buffer"

	DefaultOptionPauseEnabled        = true
	DefaultOptionPauseSleepInterval  = "100ms"
	DefaultOptionPauseThreshold      = "100ms"
	DefaultOptionBaseUnit            = "ms"
	DefaultOptionPercentiles         = "0.5,0.9,0.99,0.999"
	DefaultOptionPercentileHistogram = false
	DefaultOptionSLO                 = ""
	DefaultOptionExpiry              = "2m"
	DefaultOptionBufferLength        = 3
	DefaultOptionPrecision           = 2
	DefaultOptionStep                = "0s"
	DefaultOptionErrorBusBuffer      = 32
)

// Config holds the tunable parameters of timers built by the CLI and by
// applications that prefer environment-driven setup.
//
// Precedence: Code > Env Vars > Defaults
type Config struct {
	// Pause detection
	PauseEnabled       bool          `env:"PAUSETIMER_PAUSE_ENABLED" default:"true"`
	PauseSleepInterval time.Duration `env:"PAUSETIMER_PAUSE_SLEEP_INTERVAL" default:"100ms"` // Probe sleep
	PauseThreshold     time.Duration `env:"PAUSETIMER_PAUSE_THRESHOLD" default:"100ms"`      // Lateness reported as a pause

	// Reporting
	BaseUnit time.Duration `env:"PAUSETIMER_BASE_UNIT" default:"ms"`
	Step     time.Duration `env:"PAUSETIMER_STEP" default:"0s"` // 0 = cumulative aggregates

	// Distribution
	Percentiles         []float64       `env:"PAUSETIMER_PERCENTILES" default:"0.5,0.9,0.99,0.999"`
	PercentileHistogram bool            `env:"PAUSETIMER_PERCENTILE_HISTOGRAM" default:"false"`
	SLOs                []time.Duration `env:"PAUSETIMER_SLO" default:""` // Comma separated durations
	Expiry              time.Duration   `env:"PAUSETIMER_EXPIRY" default:"2m"`
	BufferLength        int             `env:"PAUSETIMER_BUFFER_LENGTH" default:"3"`
	Precision           int             `env:"PAUSETIMER_PRECISION" default:"2"` // Significant digits, 1-5

	// Error Bus
	ErrorBusBufferSize int `env:"PAUSETIMER_ERROR_BUS_BUFFER" default:"32"`
}

// DefaultConfig returns the configuration used when no variables are set.
func DefaultConfig() Config {
	return Config{
		PauseEnabled:       DefaultOptionPauseEnabled,
		PauseSleepInterval: pause.DefaultSleepInterval,
		PauseThreshold:     pause.DefaultPauseThreshold,

		BaseUnit: time.Millisecond,
		Step:     0,

		Percentiles:         []float64{0.5, 0.9, 0.99, 0.999},
		PercentileHistogram: DefaultOptionPercentileHistogram,
		Expiry:              histogram.DefaultExpiry,
		BufferLength:        DefaultOptionBufferLength,
		Precision:           DefaultOptionPrecision,

		ErrorBusBufferSize: DefaultOptionErrorBusBuffer,
	}
}

// LoadFromEnv reads PAUSETIMER_* variables on top of the defaults.
func LoadFromEnv() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault(OptionPauseEnabled, DefaultOptionPauseEnabled)
	v.SetDefault(OptionPauseSleepInterval, DefaultOptionPauseSleepInterval)
	v.SetDefault(OptionPauseThreshold, DefaultOptionPauseThreshold)
	v.SetDefault(OptionBaseUnit, DefaultOptionBaseUnit)
	v.SetDefault(OptionPercentiles, DefaultOptionPercentiles)
	v.SetDefault(OptionPercentileHistogram, DefaultOptionPercentileHistogram)
	v.SetDefault(OptionSLO, DefaultOptionSLO)
	v.SetDefault(OptionExpiry, DefaultOptionExpiry)
	v.SetDefault(OptionBufferLength, DefaultOptionBufferLength)
	v.SetDefault(OptionPrecision, DefaultOptionPrecision)
	v.SetDefault(OptionStep, DefaultOptionStep)
	v.SetDefault(OptionErrorBusBuffer, DefaultOptionErrorBusBuffer)

	return Load(v)
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		PauseEnabled:        v.GetBool(OptionPauseEnabled),
		PercentileHistogram: v.GetBool(OptionPercentileHistogram),
		BufferLength:        v.GetInt(OptionBufferLength),
		Precision:           v.GetInt(OptionPrecision),
		ErrorBusBufferSize:  v.GetInt(OptionErrorBusBuffer),
	}

	var err error
	if cfg.PauseSleepInterval, err = parseDuration(v, OptionPauseSleepInterval); err != nil {
		return cfg, err
	}
	if cfg.PauseThreshold, err = parseDuration(v, OptionPauseThreshold); err != nil {
		return cfg, err
	}
	if cfg.Expiry, err = parseDuration(v, OptionExpiry); err != nil {
		return cfg, err
	}
	if cfg.Step, err = parseDuration(v, OptionStep); err != nil {
		return cfg, err
	}

	if cfg.BaseUnit, err = clock.ParseUnit(strings.TrimSpace(v.GetString(OptionBaseUnit))); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalid, OptionBaseUnit, err)
	}

	for _, field := range splitList(v.GetString(OptionPercentiles)) {
		p, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalid, OptionPercentiles, err)
		}
		cfg.Percentiles = append(cfg.Percentiles, p)
	}

	for _, field := range splitList(v.GetString(OptionSLO)) {
		d, err := time.ParseDuration(field)
		if err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalid, OptionSLO, err)
		}
		cfg.SLOs = append(cfg.SLOs, d)
	}

	return cfg, cfg.Validate()
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, field := range strings.Split(s, ",") {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}

// Validate checks that configuration values are sensible.
func (c *Config) Validate() error {
	if c.PauseEnabled {
		if c.PauseSleepInterval <= 0 {
			return fmt.Errorf("%w: pause sleep interval must be > 0, got %s", ErrInvalid, c.PauseSleepInterval)
		}
		if c.PauseThreshold <= 0 {
			return fmt.Errorf("%w: pause threshold must be > 0, got %s", ErrInvalid, c.PauseThreshold)
		}
	}

	if !clock.ValidUnit(c.BaseUnit) {
		return fmt.Errorf("%w: base unit must be > 0, got %s", ErrInvalid, c.BaseUnit)
	}

	if c.Step < 0 {
		return fmt.Errorf("%w: step must be >= 0, got %s", ErrInvalid, c.Step)
	}

	for _, p := range c.Percentiles {
		if p < 0 || p > 1 {
			return fmt.Errorf("%w: percentile must be 0 <= p <= 1, got %g", ErrInvalid, p)
		}
	}

	for _, slo := range c.SLOs {
		if slo <= 0 {
			return fmt.Errorf("%w: SLO boundary must be > 0, got %s", ErrInvalid, slo)
		}
	}

	if c.Expiry <= 0 {
		return fmt.Errorf("%w: expiry must be > 0, got %s", ErrInvalid, c.Expiry)
	}

	if c.BufferLength <= 0 {
		return fmt.Errorf("%w: buffer length must be > 0, got %d", ErrInvalid, c.BufferLength)
	}

	if c.Precision < 1 || c.Precision > 5 {
		return fmt.Errorf("%w: precision must be 1-5 significant digits, got %d", ErrInvalid, c.Precision)
	}

	if c.ErrorBusBufferSize <= 0 {
		return fmt.Errorf("%w: error bus buffer must be > 0, got %d", ErrInvalid, c.ErrorBusBufferSize)
	}

	return nil
}

// PauseConfig returns the pause detector configuration.
func (c *Config) PauseConfig() pause.Config {
	if !c.PauseEnabled {
		return pause.Disabled()
	}
	return pause.ClockDrift(c.PauseSleepInterval, c.PauseThreshold)
}

// Distribution returns the histogram configuration.
func (c *Config) Distribution() histogram.DistributionConfig {
	return histogram.DistributionConfig{
		Percentiles:            append([]float64(nil), c.Percentiles...),
		PercentileHistogram:    c.PercentileHistogram,
		ServiceLevelObjectives: append([]time.Duration(nil), c.SLOs...),
		Expiry:                 c.Expiry,
		BufferLength:           c.BufferLength,
		PercentilePrecision:    c.Precision,
	}
}

// TimerOptions returns the timer options this configuration describes.
func (c *Config) TimerOptions() []timer.Option {
	opts := []timer.Option{
		timer.WithBaseUnit(c.BaseUnit),
		timer.WithDistribution(c.Distribution()),
		timer.WithPauseDetector(c.PauseConfig()),
	}
	if c.Step > 0 {
		opts = append(opts, timer.WithStep(c.Step))
	}
	return opts
}

// String returns a human-readable summary of the configuration.
func (c *Config) String() string {
	percentiles := make([]string, len(c.Percentiles))
	for i, p := range c.Percentiles {
		percentiles[i] = strconv.FormatFloat(p, 'g', -1, 64)
	}
	slos := make([]string, len(c.SLOs))
	for i, d := range c.SLOs {
		slos[i] = d.String()
	}

	return fmt.Sprintf(`Pausetimer Configuration:
  Pause Detection:
    Detector: %s

  Reporting:
    Base Unit: %s
    Aggregation: %s

  Distribution:
    Percentiles: %s
    Percentile Histogram: %t
    SLOs: %s
    Expiry: %s (%d buffers)
    Precision: %d digits
`,
		c.PauseConfig(),
		clock.UnitName(c.BaseUnit),
		formatStep(c.Step),
		orNone(percentiles),
		c.PercentileHistogram,
		orNone(slos),
		c.Expiry,
		c.BufferLength,
		c.Precision,
	)
}

func formatStep(step time.Duration) string {
	if step <= 0 {
		return "cumulative"
	}
	return "step " + step.String()
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
