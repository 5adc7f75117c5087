// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package throttle

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrInvariant is wrapped by the error values a Store or Lifecycle panics
// with when an invariant is broken: a clock moving backwards, use after
// Close, or an unbalanced Unload. Accounting cannot continue safely after one,
// so hosts that recover panics should let these abort the process.
var ErrInvariant = errors.New("throttle: invariant violated")

// Store holds the token buckets of every key, split across a fixed number of
// independently locked partitions. It is safe for concurrent use; calls whose
// digests select different partitions never contend.
type Store struct {
	parts      []partition
	gcInterval uint64
	logger     *zap.Logger
	recorder   Recorder
}

// New creates an empty store.
func New(configs ...Config) (*Store, error) {
	c, err := newConfig(configs)
	if err != nil {
		return nil, err
	}

	s := &Store{
		parts:      make([]partition, c.partitions),
		gcInterval: c.gcInterval,
		logger:     c.logger,
		recorder:   c.recorder,
	}
	for i := range s.parts {
		s.parts[i].buckets = make(map[Digest]*bucket)
	}
	return s, nil
}

// IsDenied reports whether a request for key should be refused under a quota
// of limit requests per period. An admitted request consumes one token.
//
// A nil key is always denied without touching any state; an empty, non-nil key
// is an ordinary key. Non-positive limits and periods are denied the same way.
//
// The current time is read from call while the key's partition is locked, so
// a monotonic source yields non-decreasing timestamps per bucket. A timestamp
// earlier than the bucket's last use is treated as a broken clock and panics.
func (s *Store) IsDenied(call Call, key []byte, limit int64, period time.Duration) bool {
	if key == nil || limit <= 0 || period <= 0 {
		s.recorder.Add(MetricDenied, 1, nil)
		return true
	}

	d := Sum(key, limit, period)
	admitted, evicted := s.admit(partitionOf(d, len(s.parts)), d, call, limit, period)

	if evicted > 0 {
		s.recorder.Add(MetricEvicted, float64(evicted), nil)
	}
	if admitted {
		s.recorder.Add(MetricAdmitted, 1, nil)
		return false
	}
	s.recorder.Add(MetricDenied, 1, nil)
	return true
}

func (s *Store) admit(i int, d Digest, call Call, limit int64, period time.Duration) (admitted bool, evicted int) {
	p := &s.parts[i]
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buckets == nil {
		panic(invariant(s.logger, "store used after close"))
	}

	now := call.Now()
	b := p.bucket(d, limit, period, now)
	if now.Before(b.lastUsed) {
		panic(invariant(s.logger, "clock moved backwards",
			zap.Time("now", now),
			zap.Time("last_used", b.lastUsed),
		))
	}

	b.refill(now)
	admitted = b.consume(now)

	if p.tick(s.gcInterval) {
		evicted = p.sweep(now)
		s.logger.Debug("swept partition",
			zap.Int("partition", i),
			zap.Int("evicted", evicted),
			zap.Int("remaining", len(p.buckets)),
		)
	}
	return admitted, evicted
}

// Close drops every bucket in every partition. The store must not be used
// afterwards; doing so panics.
func (s *Store) Close() {
	total := 0
	for i := range s.parts {
		p := &s.parts[i]
		p.mu.Lock()
		if p.buckets != nil {
			total += p.sweepAll()
		}
		p.mu.Unlock()
	}
	if total > 0 {
		s.recorder.Add(MetricEvicted, float64(total), nil)
	}
	s.logger.Info("store released", zap.Int("evicted", total))
}

// invariant logs a broken invariant and returns the error to panic with.
func invariant(logger *zap.Logger, msg string, fields ...zap.Field) error {
	logger.Error(msg, fields...)
	return fmt.Errorf("%w: %s", ErrInvariant, msg)
}
