// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package throttle

import (
	"math/bits"
	"time"
)

// bucket is the token-bucket state for one digest. It is owned by exactly one
// partition and only touched while that partition's lock is held.
type bucket struct {
	digest   Digest
	lastUsed time.Time
	period   time.Duration
	capacity int64
	tokens   int64
}

func newBucket(d Digest, limit int64, period time.Duration, now time.Time) *bucket {
	return &bucket{
		digest:   d,
		lastUsed: now,
		period:   period,
		capacity: limit,
		tokens:   limit,
	}
}

// refill credits the tokens earned since the last consumption, assuming a
// continuous flow of capacity tokens per period. The caller guarantees that
// now is not before lastUsed.
func (b *bucket) refill(now time.Time) {
	missing := uint64(b.capacity - b.tokens)
	if missing == 0 {
		return
	}

	// floor(delta * capacity / period) in 128-bit integer arithmetic. A high
	// word at or above the period means a quotient beyond 64 bits.
	hi, lo := bits.Mul64(uint64(now.Sub(b.lastUsed)), uint64(b.capacity))
	if hi >= uint64(b.period) {
		b.tokens = b.capacity
		return
	}
	earned, _ := bits.Div64(hi, lo, uint64(b.period))
	if earned >= missing {
		b.tokens = b.capacity
	} else {
		b.tokens += int64(earned)
	}
}

// consume takes a single token if one is available. A denial leaves the bucket
// untouched, so the refill baseline does not move.
func (b *bucket) consume(now time.Time) bool {
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	b.lastUsed = now
	return true
}

// idle reports whether the bucket has gone unused for longer than its period.
// Such a bucket has refilled completely and is indistinguishable from one that
// was never created.
func (b *bucket) idle(now time.Time) bool {
	return now.Sub(b.lastUsed) > b.period
}
