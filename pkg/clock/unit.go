package clock

import (
	"fmt"
	"math"
	"time"
)

// Units are expressed as time.Duration values: time.Nanosecond, time.Millisecond,
// time.Second and so on. A unit must be positive.

// ValidUnit reports whether unit can be used for conversions.
func ValidUnit(unit time.Duration) bool {
	return unit > 0
}

// Convert converts amount expressed in from into the unit to, truncating toward zero.
// Results that do not fit into an int64 saturate at math.MaxInt64 or math.MinInt64.
func Convert(amount int64, from, to time.Duration) int64 {
	if from == to {
		return amount
	}
	if from > to && from%to == 0 {
		factor := int64(from / to)
		if amount > math.MaxInt64/factor {
			return math.MaxInt64
		}
		if amount < math.MinInt64/factor {
			return math.MinInt64
		}
		return amount * factor
	}
	if to > from && to%from == 0 {
		return amount / int64(to/from)
	}

	// Units that are not multiples of each other go through float math
	v := float64(amount) * float64(from) / float64(to)
	switch {
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}

// ToNanos converts amount in unit to nanoseconds.
func ToNanos(amount int64, unit time.Duration) int64 {
	return Convert(amount, unit, time.Nanosecond)
}

// ToUnit expresses a nanosecond quantity as a fractional amount of unit.
func ToUnit(nanos float64, unit time.Duration) float64 {
	return nanos / float64(unit)
}

// UnitName returns a short name for common units, e.g. "ms" for time.Millisecond.
func UnitName(unit time.Duration) string {
	switch unit {
	case time.Nanosecond:
		return "ns"
	case time.Microsecond:
		return "us"
	case time.Millisecond:
		return "ms"
	case time.Second:
		return "s"
	case time.Minute:
		return "m"
	case time.Hour:
		return "h"
	default:
		return unit.String()
	}
}

// ParseUnit parses the names produced by UnitName as well as the long forms
// ("nanoseconds", "milliseconds", ...).
func ParseUnit(name string) (time.Duration, error) {
	switch name {
	case "ns", "nanoseconds", "nanosecond":
		return time.Nanosecond, nil
	case "us", "µs", "microseconds", "microsecond":
		return time.Microsecond, nil
	case "ms", "milliseconds", "millisecond":
		return time.Millisecond, nil
	case "s", "seconds", "second":
		return time.Second, nil
	case "m", "minutes", "minute":
		return time.Minute, nil
	case "h", "hours", "hour":
		return time.Hour, nil
	}
	return 0, fmt.Errorf("unknown time unit %q", name)
}
