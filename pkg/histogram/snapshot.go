package histogram

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-json-experiment/json"

	"github.com/BYTE-6D65/pausetimer/pkg/clock"
)

// ValueAtPercentile is a percentile and its value in nanoseconds.
type ValueAtPercentile struct {
	Percentile float64 `json:"percentile"`
	Value      int64   `json:"value_ns"`
}

// ValueIn returns the value converted to unit.
func (v ValueAtPercentile) ValueIn(unit time.Duration) float64 {
	return clock.ToUnit(float64(v.Value), unit)
}

// CountAtBucket is the cumulative number of values at or below Bucket.
type CountAtBucket struct {
	Bucket int64   `json:"bucket_ns"`
	Count  float64 `json:"count"`
}

// Snapshot is a point-in-time view of a timer. Total and Max are expressed in
// Unit; percentile values and bucket boundaries stay in nanoseconds.
type Snapshot struct {
	Count       int64               `json:"count"`
	Total       float64             `json:"total"`
	Max         float64             `json:"max"`
	Unit        string              `json:"unit,omitempty"`
	Percentiles []ValueAtPercentile `json:"percentiles,omitempty"`
	Buckets     []CountAtBucket     `json:"buckets,omitempty"`
}

// Mean returns Total/Count, or 0 for an empty snapshot.
func (s Snapshot) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Total / float64(s.Count)
}

// Percentile returns the value recorded for p, if p was published.
func (s Snapshot) Percentile(p float64) (ValueAtPercentile, bool) {
	for _, v := range s.Percentiles {
		if v.Percentile == p {
			return v, true
		}
	}
	return ValueAtPercentile{}, false
}

func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "count=%d total=%g%s max=%g%s mean=%g%s",
		s.Count, s.Total, s.Unit, s.Max, s.Unit, s.Mean(), s.Unit)
	for _, v := range s.Percentiles {
		fmt.Fprintf(&b, " p%g=%s", v.Percentile*100, time.Duration(v.Value))
	}
	for _, c := range s.Buckets {
		fmt.Fprintf(&b, " le%s=%g", time.Duration(c.Bucket), c.Count)
	}
	return b.String()
}

// JSON encodes the snapshot.
func (s Snapshot) JSON() ([]byte, error) {
	return json.Marshal(s, json.Deterministic(true))
}
