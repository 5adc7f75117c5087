// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package throttle

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// Defaults used when no corresponding Config is supplied.
const (
	DefaultPartitions = 16
	DefaultGCInterval = 1000
)

type (
	// Config provides configuration values for creating a new store.
	Config func(*config)

	config struct {
		partitions int
		gcInterval uint64
		logger     *zap.Logger
		recorder   Recorder
	}

	// Call is the per-request context supplied by the host. The store takes
	// the current time from it instead of reading a clock, so its decisions
	// are fully determined by the sequence of timestamps it is given.
	Call interface {
		Now() time.Time
	}

	// CallFunc adapts a plain function to the Call interface.
	CallFunc func() time.Time

	// At is a Call fixed at a single instant.
	At time.Time
)

// Now returns the result of calling f.
func (f CallFunc) Now() time.Time { return f() }

// Now returns the instant itself.
func (a At) Now() time.Time { return time.Time(a) }

// WithPartitions sets the number of independently locked partitions. It must
// be a power of two no larger than MaxPartitions.
func WithPartitions(n int) Config {
	return func(c *config) { c.partitions = n }
}

// WithGCInterval sets how many consumption attempts on a partition trigger a
// sweep of its idle buckets.
func WithGCInterval(n uint64) Config {
	return func(c *config) { c.gcInterval = n }
}

// WithLogger sets the logger used for sweeps and lifecycle events. The
// admission path itself never logs.
func WithLogger(logger *zap.Logger) Config {
	return func(c *config) { c.logger = logger }
}

// WithRecorder sets the metrics backend.
func WithRecorder(recorder Recorder) Config {
	return func(c *config) { c.recorder = recorder }
}

func newConfig(configs []Config) (*config, error) {
	c := &config{
		partitions: DefaultPartitions,
		gcInterval: DefaultGCInterval,
	}
	for _, cfg := range configs {
		cfg(c)
	}

	if c.partitions <= 0 || c.partitions > MaxPartitions {
		return nil, errors.New("throttle: partition count must be between 1 and 256")
	}
	if c.partitions&(c.partitions-1) != 0 {
		return nil, errors.New("throttle: partition count must be a power of two")
	}
	if c.gcInterval == 0 {
		return nil, errors.New("throttle: gc interval must be positive")
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.recorder == nil {
		c.recorder = NoOpRecorder{}
	}
	return c, nil
}
