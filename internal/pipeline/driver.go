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

// Package pipeline implements the accelerometer data-acquisition and fan-out
// pipeline: a subscriber registry, a driver-configuration reconciler that
// folds all subscriber requirements into one hardware configuration, a
// dispatch engine that drains the shared sample ring per subscriber, and a
// synchronous peek path.
package pipeline

import (
	"errors"

	"accelmgr"
)

// MaxSamplesPerUpdate is the hardware FIFO ceiling: the deepest chunk a
// subscriber may request per callback.
const MaxSamplesPerUpdate = 25

// Sentinel errors for runtime conditions. Programming errors (nil driver,
// malformed ratios) panic instead.
var (
	ErrNotSubscribed  = errors.New("pipeline: session not subscribed")
	ErrInvalidRate    = errors.New("pipeline: sampling rate outside supported set")
	ErrTooManySamples = errors.New("pipeline: samples per update exceeds hardware maximum")
	ErrBufferTooSmall = errors.New("pipeline: sample buffer smaller than samples_per_update+1")
	ErrStaleCount     = errors.New("pipeline: consume count does not match staged samples")
	ErrPeekTimeout    = errors.New("pipeline: no fresh reading within peek poll window")
	ErrSinkFull       = errors.New("pipeline: callback sink queue full")
)

// Reading is a single accelerometer sample with the wall-clock time it was
// captured, in milliseconds.
type Reading struct {
	Sample      accelmgr.Sample
	TimestampMS uint64
}

// TapAxis identifies which axis a tap/shake event was detected on.
type TapAxis int

const (
	TapAxisX TapAxis = iota
	TapAxisY
	TapAxisZ
)

// TapEvent is a shake or tap detection from the hardware's side channel.
// Direction is +1 or -1 along the axis.
type TapEvent struct {
	Axis        TapAxis
	Direction   int
	TimestampMS uint64
}

// Driver is the hardware adapter surface the pipeline drives. The real
// implementation wraps the sensor; SimDriver provides a deterministic
// software stand-in for tests and the demo binary.
//
// Configuration calls (SetSamplingRate, SetNumSamples) take effect for
// subsequent reads. Consume drains post-subsampling samples through a
// per-subscriber cursor. LatestReading/LatestTimestampMS expose the cached
// last FIFO read; Peek is the instantaneous single-sample path used when
// the FIFO is disabled.
type Driver interface {
	Start() error
	Stop() error
	Running() bool

	SetSamplingRate(rate accelmgr.SamplingRate) error
	SetNumSamples(depth int) error
	SetShakeSensitivity(high bool)

	NewCursor() *accelmgr.Cursor
	ReleaseCursor(c *accelmgr.Cursor)
	Consume(dst []accelmgr.Sample, c *accelmgr.Cursor, maxCount, num, den int) int

	Peek() (Reading, error)
	LatestReading() (Reading, bool)
	LatestTimestampMS() uint64

	// SetDataHandler registers the "more data available" notification the
	// dispatch engine hangs off. SetTapHandler registers the tap side
	// channel. Both must be set before Start.
	SetDataHandler(fn func())
	SetTapHandler(fn func(TapEvent))
}
