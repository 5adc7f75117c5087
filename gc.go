// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package throttle

import "time"

// tick counts a consumption attempt and reports whether it is due a sweep.
// The partition lock must be held.
func (p *partition) tick(interval uint64) bool {
	p.calls++
	return p.calls%interval == 0
}

// sweep removes every idle bucket and returns how many were evicted. The
// partition lock must be held.
func (p *partition) sweep(now time.Time) int {
	evicted := 0
	for d, b := range p.buckets {
		if b.idle(now) {
			delete(p.buckets, d)
			evicted++
		}
	}
	return evicted
}

// sweepAll drops every bucket regardless of idleness and releases the
// collection. The partition lock must be held.
func (p *partition) sweepAll() int {
	n := len(p.buckets)
	p.buckets = nil
	p.calls = 0
	return n
}
