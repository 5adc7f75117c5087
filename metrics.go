// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package throttle

import "sync/atomic"

// Metric names emitted by a Store.
const (
	MetricAdmitted = "throttle.admitted"
	MetricDenied   = "throttle.denied"
	MetricEvicted  = "throttle.evicted"
)

type (
	// Recorder receives counter updates from a Store. Implementations must be
	// safe for concurrent use.
	Recorder interface {
		Add(name string, value float64, tags map[string]string)
	}

	// NoOpRecorder discards everything, so the admission path never has to
	// check for a nil recorder.
	NoOpRecorder struct{}

	// Counters is an in-process Recorder keeping running totals of the
	// Store metrics.
	Counters struct {
		admitted atomic.Uint64
		denied   atomic.Uint64
		evicted  atomic.Uint64
	}
)

// Add does nothing.
func (NoOpRecorder) Add(string, float64, map[string]string) {}

// NewCounters returns zeroed Counters.
func NewCounters() *Counters {
	return &Counters{}
}

// Add accumulates a known metric; unknown names and non-positive values are
// ignored.
func (c *Counters) Add(name string, value float64, _ map[string]string) {
	if value <= 0 {
		return
	}
	switch name {
	case MetricAdmitted:
		c.admitted.Add(uint64(value))
	case MetricDenied:
		c.denied.Add(uint64(value))
	case MetricEvicted:
		c.evicted.Add(uint64(value))
	}
}

// Snapshot returns the current totals keyed by metric name.
func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		MetricAdmitted: c.admitted.Load(),
		MetricDenied:   c.denied.Load(),
		MetricEvicted:  c.evicted.Load(),
	}
}
