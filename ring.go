// Copyright 2026 Esteban Alvarez. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package accelmgr provides the shared-ring primitive underneath the
// accelerometer fan-out pipeline: one producer (the hardware driver) feeds a
// circular sample buffer, and N independent consumer cursors drain it — each
// with its own read position and its own exact rational subsampling ratio
// relative to the single hardware sampling rate.
//
// The exactness matters: because every consumer reads the same produced
// stream, a subscriber's effective rate must be a rational fraction
// (numerator/denominator) of the hardware rate. Over any number of drain
// cycles the delivered rate then converges exactly, not approximately.
package accelmgr

import (
	"fmt"
	"sync"
)

// Sample is a single raw accelerometer reading. Units are milli-G per axis,
// matching the hardware FIFO format. Timestamps are not stored per sample;
// the pipeline tracks a running timestamp per consumer instead.
type Sample struct {
	X, Y, Z int16
}

// DefaultRingCapacity comfortably holds several hardware FIFO drains at the
// deepest supported FIFO configuration.
const DefaultRingCapacity = 64

// Ring is a single-producer, multi-cursor circular sample buffer.
//
// Each cursor drains independently; a slow cursor does not block the
// producer and does not disturb other cursors' read positions. When the
// producer laps a cursor, the overwritten samples are counted as lost and
// the cursor is advanced past them (subsampling phase preserved).
//
// All methods are safe for concurrent use.
type Ring struct {
	mu      sync.Mutex
	buf     []Sample
	mask    uint64
	head    uint64 // total samples ever produced
	cursors map[*Cursor]struct{}
}

// Cursor is one consumer's private read position into a Ring. A cursor is
// owned by exactly one subscriber while registered; the phase field carries
// the subsampling group position across Consume calls so groups are never
// restarted mid-stream.
type Cursor struct {
	next  uint64 // absolute index of the next unread sample
	phase int    // position within the current denominator group
	lost  uint64 // samples skipped because the producer lapped us
}

// Lost returns how many produced samples this cursor never saw because the
// producer overwrote them before they were consumed.
func (c *Cursor) Lost() uint64 { return c.lost }

// NewRing creates a ring with at least the requested capacity, rounded up
// to a power of two for cheap index masking.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Ring{
		buf:     make([]Sample, n),
		mask:    uint64(n - 1),
		cursors: make(map[*Cursor]struct{}),
	}
}

// Capacity returns the ring's sample capacity.
func (r *Ring) Capacity() int { return len(r.buf) }

// Produce appends samples, overwriting the oldest entries when full. It
// never blocks on consumers.
func (r *Ring) Produce(samples ...Sample) {
	r.mu.Lock()
	for _, s := range samples {
		r.buf[r.head&r.mask] = s
		r.head++
	}
	r.mu.Unlock()
}

// Produced returns the total number of samples ever written.
func (r *Ring) Produced() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head
}

// NewCursor registers a consumer cursor positioned at the current head, so
// a new subscriber only sees samples produced after it subscribed.
func (r *Ring) NewCursor() *Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Cursor{next: r.head}
	r.cursors[c] = struct{}{}
	return c
}

// ReleaseCursor unregisters a cursor. Releasing an unknown cursor is a
// no-op (idempotent, mirrors unsubscribe semantics upstream).
func (r *Ring) ReleaseCursor(c *Cursor) {
	r.mu.Lock()
	delete(r.cursors, c)
	r.mu.Unlock()
}

// Consume drains up to maxCount post-subsampling samples into dst,
// applying the num/den ratio: of every den consecutive produced samples,
// num evenly spaced ones are kept. It returns the number of samples
// written, which is less than maxCount when the producer has not produced
// enough yet.
//
// The ratio must satisfy 1 <= num <= den; (1,1) keeps everything. dst must
// have room for maxCount samples. The subsampling phase persists on the
// cursor across calls, so callers that request numerator-aligned counts
// never observe a split group.
func (r *Ring) Consume(dst []Sample, c *Cursor, maxCount, num, den int) int {
	if num < 1 || den < num {
		panic(fmt.Sprintf("accelmgr: bad subsample ratio %d/%d", num, den))
	}
	if maxCount > len(dst) {
		maxCount = len(dst)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cursors[c]; !ok {
		return 0
	}

	// If the producer lapped this cursor, skip the overwritten span but
	// keep the subsampling phase aligned with the produced stream.
	if behind := r.head - c.next; behind > uint64(len(r.buf)) {
		lost := behind - uint64(len(r.buf))
		c.next += lost
		c.phase = (c.phase + int(lost%uint64(den))) % den
		c.lost += lost
	}

	kept := 0
	for kept < maxCount && c.next < r.head {
		// Bresenham-style selection: keep phases where the scaled index
		// crosses an output slot. Yields evenly spaced keeps, e.g. (2,5)
		// keeps phases 0 and 3.
		if (c.phase*num)%den < num {
			dst[kept] = r.buf[c.next&r.mask]
			kept++
		}
		c.next++
		c.phase++
		if c.phase == den {
			c.phase = 0
		}
	}
	return kept
}

// Pending reports how many produced samples the cursor has not yet walked
// (pre-subsampling).
func (r *Ring) Pending(c *Cursor) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cursors[c]; !ok {
		return 0
	}
	return r.head - c.next
}
