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

package pipeline

import (
	"math"
	"sync"

	"accelmgr"
)

// SimDriver is a deterministic software accelerometer: it generates a
// waveform at the configured sampling rate, accumulates a FIFO of the
// configured depth, and on each FIFO fill drains it into the shared ring
// and raises the data-available notification — the same contract a real
// sensor driver honors. Time is a millisecond counter advanced explicitly
// by Advance/AdvanceSamples, so tests are fully reproducible; the demo
// binary advances it from a wall-clock ticker.
//
// Not for production use (there is no hardware here).
type SimDriver struct {
	mu      sync.Mutex
	ring    *accelmgr.Ring
	rate    accelmgr.SamplingRate
	depth   int
	running bool
	shake   bool

	clockMS    uint64
	sampleIdx  uint64
	pending    []accelmgr.Sample
	latest     Reading
	haveLatest bool

	onData func()
	onTap  func(TapEvent)

	wave func(i uint64) accelmgr.Sample

	stats DriverStats
}

// DriverStats counts configuration calls, exposed so tests can assert the
// reconciler's idempotence (no subscriber change, no driver calls).
type DriverStats struct {
	Starts, Stops, RateSets, DepthSets int
	FIFOFlushes                        int
}

// NewSimDriver creates a stopped simulator with FIFO disabled at the
// lowest rate, backed by a ring of DefaultRingCapacity.
func NewSimDriver() *SimDriver {
	return &SimDriver{
		ring: accelmgr.NewRing(accelmgr.DefaultRingCapacity),
		rate: accelmgr.RateLowest,
		wave: func(i uint64) accelmgr.Sample {
			// A gentle circular motion on X/Y over gravity on Z.
			return accelmgr.Sample{
				X: int16(250 * math.Sin(float64(i)/8)),
				Y: int16(250 * math.Cos(float64(i)/8)),
				Z: -1000,
			}
		},
	}
}

// SetWave replaces the sample generator. Test hook.
func (s *SimDriver) SetWave(fn func(i uint64) accelmgr.Sample) {
	s.mu.Lock()
	s.wave = fn
	s.mu.Unlock()
}

func (s *SimDriver) Start() error {
	s.mu.Lock()
	if !s.running {
		s.running = true
		s.stats.Starts++
	}
	s.mu.Unlock()
	return nil
}

func (s *SimDriver) Stop() error {
	s.mu.Lock()
	if s.running {
		s.running = false
		s.pending = s.pending[:0]
		s.stats.Stops++
	}
	s.mu.Unlock()
	return nil
}

func (s *SimDriver) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *SimDriver) SetSamplingRate(rate accelmgr.SamplingRate) error {
	s.mu.Lock()
	s.rate = rate
	s.pending = s.pending[:0] // hardware FIFO resets on rate change
	s.stats.RateSets++
	s.mu.Unlock()
	return nil
}

func (s *SimDriver) SetNumSamples(depth int) error {
	s.mu.Lock()
	s.depth = depth
	s.pending = s.pending[:0] // hardware FIFO resets on depth change
	s.stats.DepthSets++
	s.mu.Unlock()
	return nil
}

func (s *SimDriver) SetShakeSensitivity(high bool) {
	s.mu.Lock()
	s.shake = high
	s.mu.Unlock()
}

func (s *SimDriver) NewCursor() *accelmgr.Cursor      { return s.ring.NewCursor() }
func (s *SimDriver) ReleaseCursor(c *accelmgr.Cursor) { s.ring.ReleaseCursor(c) }

func (s *SimDriver) Consume(dst []accelmgr.Sample, c *accelmgr.Cursor, maxCount, num, den int) int {
	return s.ring.Consume(dst, c, maxCount, num, den)
}

func (s *SimDriver) Peek() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Reading{Sample: s.wave(s.sampleIdx), TimestampMS: s.clockMS}, nil
}

func (s *SimDriver) LatestReading() (Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.haveLatest
}

func (s *SimDriver) LatestTimestampMS() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest.TimestampMS
}

func (s *SimDriver) SetDataHandler(fn func()) { s.mu.Lock(); s.onData = fn; s.mu.Unlock() }

func (s *SimDriver) SetTapHandler(fn func(TapEvent)) { s.mu.Lock(); s.onTap = fn; s.mu.Unlock() }

// AdvanceSamples generates n samples at the current rate, draining the
// FIFO into the ring (and raising data-available) every time it reaches
// the configured depth. With the FIFO disabled (depth 0) time still
// advances but nothing is produced — only Peek sees the motion.
func (s *SimDriver) AdvanceSamples(n int) {
	var notifications int

	s.mu.Lock()
	interval := s.rate.IntervalMS()
	for i := 0; i < n; i++ {
		if !s.running {
			break
		}
		s.clockMS += interval
		sample := s.wave(s.sampleIdx)
		s.sampleIdx++
		if s.depth <= 0 {
			continue
		}
		s.pending = append(s.pending, sample)
		if len(s.pending) >= s.depth {
			s.ring.Produce(s.pending...)
			s.latest = Reading{Sample: s.pending[len(s.pending)-1], TimestampMS: s.clockMS}
			s.haveLatest = true
			s.pending = s.pending[:0]
			s.stats.FIFOFlushes++
			notifications++
		}
	}
	onData := s.onData
	s.mu.Unlock()

	// Notify outside the driver lock: the handler re-enters the driver
	// (Consume, LatestTimestampMS) from the manager's dispatch path.
	if onData != nil {
		for i := 0; i < notifications; i++ {
			onData()
		}
	}
}

// Advance moves the simulated clock forward by ms milliseconds' worth of
// samples at the current rate.
func (s *SimDriver) Advance(ms uint64) {
	s.mu.Lock()
	interval := s.rate.IntervalMS()
	s.mu.Unlock()
	if interval == 0 {
		return
	}
	s.AdvanceSamples(int(ms / interval))
}

// InjectTap raises a tap event at the current simulated time.
func (s *SimDriver) InjectTap(axis TapAxis, direction int) {
	s.mu.Lock()
	ev := TapEvent{Axis: axis, Direction: direction, TimestampMS: s.clockMS}
	onTap := s.onTap
	s.mu.Unlock()
	if onTap != nil {
		onTap(ev)
	}
}

// NowMS returns the simulated clock. Tests wire this into Config.NowMS.
func (s *SimDriver) NowMS() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clockMS
}

// Stats returns a snapshot of configuration-call counters.
func (s *SimDriver) Stats() DriverStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ShakeSensitivityHigh reports the current shake-sensitivity setting.
func (s *SimDriver) ShakeSensitivityHigh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shake
}
