// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package throttle

import (
	"encoding/binary"
	"time"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the length in bytes of a bucket Digest.
const DigestSize = blake2b.Size256

// Digest identifies a single bucket. It covers the key together with the limit
// and period, so the same key queried with different parameters maps to an
// independent bucket.
type Digest [DigestSize]byte

// Sum computes the Digest of a key under the given limit and period.
func Sum(key []byte, limit int64, period time.Duration) Digest {
	// New256 only fails for oversized keys, and no MAC key is used.
	h, _ := blake2b.New256(nil)
	h.Write(key)

	var params [16]byte
	binary.BigEndian.PutUint64(params[:8], uint64(limit))
	binary.BigEndian.PutUint64(params[8:], uint64(period))
	h.Write(params[:])

	var d Digest
	h.Sum(d[:0])
	return d
}
