package models

import (
	"math"
	"time"
)

// SignalKind enumerates the origin of an observed value.
type SignalKind string

const (
	SignalKindMetric SignalKind = "metric"
	SignalKindLog    SignalKind = "log"
)

// Metric names for the signals derived from one log-window fetch.
const (
	// MetricErrorRate is errors per second over the observation window.
	MetricErrorRate = "error_rate"
	// MetricLogVolume is the total event count over the observation window.
	// It has no hard threshold; spikes and drops surface through the
	// learned baseline.
	MetricLogVolume = "log_volume"
)

// Signal is one observed metric or log-derived value at a point in time.
// Signals are immutable once collected.
type Signal struct {
	SourceID   string     `json:"source_id"`
	Metric     string     `json:"metric"`
	Kind       SignalKind `json:"kind"`
	Value      float64    `json:"value"`
	ErrorCount int        `json:"error_count,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Key identifies the (source, metric) series this signal belongs to.
func (s Signal) Key() string {
	return s.SourceID + "/" + s.Metric
}

// Baseline is the learned statistical profile for one (source, metric) series.
// Mean and M2 follow Welford's online algorithm; variance is M2/n.
type Baseline struct {
	SourceID    string    `json:"source_id"`
	Metric      string    `json:"metric"`
	Mean        float64   `json:"mean"`
	M2          float64   `json:"m2"`
	SampleCount int       `json:"sample_count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Variance returns the population variance of the observed samples.
func (b Baseline) Variance() float64 {
	if b.SampleCount < 2 {
		return 0
	}
	return b.M2 / float64(b.SampleCount)
}

// StdDev returns the standard deviation of the observed samples.
func (b Baseline) StdDev() float64 {
	v := b.Variance()
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
