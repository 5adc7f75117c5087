// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package throttle

import (
	"sync"
	"time"
)

// MaxPartitions is the largest supported partition count; selection uses a
// single byte of the digest.
const MaxPartitions = 256

type partition struct {
	mu      sync.Mutex
	buckets map[Digest]*bucket
	calls   uint64
}

// partitionOf selects a partition index from the first digest byte. The count
// must be a power of two.
func partitionOf(d Digest, count int) int {
	return int(d[0]) & (count - 1)
}

// bucket returns the bucket for a digest, creating a full one on a miss. The
// partition lock must be held.
func (p *partition) bucket(d Digest, limit int64, period time.Duration, now time.Time) *bucket {
	if b, ok := p.buckets[d]; ok {
		return b
	}
	b := newBucket(d, limit, period, now)
	p.buckets[d] = b
	return b
}
