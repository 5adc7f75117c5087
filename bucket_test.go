// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package throttle

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate(t *testing.T) {
	p := &partition{buckets: map[Digest]*bucket{}}
	now := time.Unix(1000, 0)
	d := Sum([]byte("key"), 10, time.Second)

	b := p.bucket(d, 10, time.Second, now)
	assert.Equal(t, int64(10), b.tokens)
	assert.Equal(t, int64(10), b.capacity)
	assert.Equal(t, time.Second, b.period)
	assert.Equal(t, now, b.lastUsed)
	assert.Equal(t, d, b.digest)

	// A second lookup finds the same bucket, whatever parameters it is given.
	assert.Same(t, b, p.bucket(d, 99, time.Hour, now.Add(time.Minute)))
	assert.Len(t, p.buckets, 1)
}

func TestRefill(t *testing.T) {
	start := time.Unix(1000, 0)
	for _, test := range []struct {
		tokens  int64
		elapsed time.Duration
		result  int64
	}{
		{0, 0, 0},
		{0, 99 * time.Millisecond, 0},
		{0, 100 * time.Millisecond, 1},
		{0, 150 * time.Millisecond, 1},
		{0, 500 * time.Millisecond, 5},
		{3, 500 * time.Millisecond, 8},
		{8, 500 * time.Millisecond, 10},
		{0, time.Second, 10},
		{0, 1000 * time.Hour, 10},
		{10, time.Second, 10},
	} {
		b := newBucket(Digest{}, 10, time.Second, start)
		b.tokens = test.tokens
		b.refill(start.Add(test.elapsed))
		assert.Equal(t, test.result, b.tokens, "tokens=%d elapsed=%s", test.tokens, test.elapsed)
	}
}

func TestRefillExactBoundaries(t *testing.T) {
	start := time.Unix(1000, 0)

	// One second out of a capacity-second period is always exactly one token.
	for capacity := int64(1); capacity <= 100; capacity++ {
		b := newBucket(Digest{}, capacity, time.Duration(capacity)*time.Second, start)
		b.tokens = 0
		b.refill(start.Add(time.Second))
		assert.Equal(t, int64(1), b.tokens, "capacity=%d", capacity)
	}

	b := newBucket(Digest{}, 49, 49*time.Second, start)
	b.tokens = 0
	b.refill(start.Add(time.Second))
	assert.Equal(t, int64(1), b.tokens)

	// Products beyond 64 bits still clamp to capacity.
	b = newBucket(Digest{}, 1<<40, time.Nanosecond, start)
	b.tokens = 0
	b.refill(start.Add(1000 * time.Hour))
	assert.Equal(t, int64(1<<40), b.tokens)

	// And large products below the limit divide exactly.
	b = newBucket(Digest{}, 1<<40, 1000*time.Hour, start)
	b.tokens = 0
	b.refill(start.Add(500 * time.Hour))
	assert.Equal(t, int64(1<<39), b.tokens)
}

func TestConsume(t *testing.T) {
	start := time.Unix(1000, 0)
	b := newBucket(Digest{}, 1, time.Second, start)

	later := start.Add(10 * time.Millisecond)
	assert.True(t, b.consume(later))
	assert.Equal(t, int64(0), b.tokens)
	assert.Equal(t, later, b.lastUsed)

	// Denial touches neither the count nor the refill baseline.
	assert.False(t, b.consume(later.Add(time.Millisecond)))
	assert.Equal(t, int64(0), b.tokens)
	assert.Equal(t, later, b.lastUsed)
}

func TestTokensStayInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	now := time.Unix(1000, 0)
	for i := 0; i < 50; i++ {
		capacity := int64(rng.Intn(20) + 1)
		period := time.Duration(rng.Intn(2000)+1) * time.Millisecond
		b := newBucket(Digest{}, capacity, period, now)
		for j := 0; j < 500; j++ {
			now = now.Add(time.Duration(rng.Intn(int(period))))
			b.refill(now)
			assert.True(t, b.tokens >= 0 && b.tokens <= capacity, "refill: %d of %d", b.tokens, capacity)
			b.consume(now)
			assert.True(t, b.tokens >= 0 && b.tokens <= capacity, "consume: %d of %d", b.tokens, capacity)
		}
	}
}

func TestIdle(t *testing.T) {
	start := time.Unix(1000, 0)
	b := newBucket(Digest{}, 1, time.Second, start)

	assert.False(t, b.idle(start))
	assert.False(t, b.idle(start.Add(time.Second)))
	assert.True(t, b.idle(start.Add(time.Second+time.Nanosecond)))
	assert.False(t, b.idle(start.Add(-time.Second)))
}

func TestSweep(t *testing.T) {
	p := &partition{buckets: map[Digest]*bucket{}}
	start := time.Unix(1000, 0)

	idle := p.bucket(Sum([]byte("idle"), 1, time.Second), 1, time.Second, start)
	busy := p.bucket(Sum([]byte("busy"), 1, time.Minute), 1, time.Minute, start)

	assert.Equal(t, 1, p.sweep(start.Add(2*time.Second)))
	assert.NotContains(t, p.buckets, idle.digest)
	assert.Contains(t, p.buckets, busy.digest)

	assert.Equal(t, 1, p.sweepAll())
	assert.Nil(t, p.buckets)
}

func TestTick(t *testing.T) {
	p := &partition{}
	var due []int
	for i := 1; i <= 10; i++ {
		if p.tick(3) {
			due = append(due, i)
		}
	}
	assert.Equal(t, []int{3, 6, 9}, due)
}

func TestPartitionOf(t *testing.T) {
	for _, n := range []int{1, 2, 16, 256} {
		for i := 0; i < 256; i++ {
			var d Digest
			d[0] = byte(i)
			idx := partitionOf(d, n)
			assert.True(t, idx >= 0 && idx < n)
			assert.Equal(t, i%n, idx)
		}
	}
}

func TestPartitionSpread(t *testing.T) {
	const n = 16
	var counts [n]int
	for i := 0; i < 16000; i++ {
		counts[partitionOf(Sum([]byte(fmt.Sprintf("key-%d", i)), 10, time.Second), n)]++
	}
	for i, c := range counts {
		assert.InDelta(t, 1000, c, 200, "partition %d", i)
	}
}

func TestPartitionsDoNotContend(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	defer s.Close()

	// Find two keys in different partitions.
	first := []byte("key-0")
	firstPart := partitionOf(Sum(first, 1, time.Second), len(s.parts))
	var second []byte
	for i := 1; second == nil; i++ {
		k := []byte(fmt.Sprintf("key-%d", i))
		if partitionOf(Sum(k, 1, time.Second), len(s.parts)) != firstPart {
			second = k
		}
	}

	// Hold the first key's partition; the second key must still get through.
	s.parts[firstPart].mu.Lock()
	defer s.parts[firstPart].mu.Unlock()

	done := make(chan bool)
	go func() {
		done <- s.IsDenied(At(time.Unix(1000, 0)), second, 1, time.Second)
	}()
	select {
	case denied := <-done:
		assert.False(t, denied)
	case <-time.After(5 * time.Second):
		t.Fatal("call on an unlocked partition blocked")
	}
}
