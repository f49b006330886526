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

import "accelmgr"

// reconcileLocked computes the single hardware configuration that is a
// superset of every active subscriber's need, and per-subscriber exact
// rational subsampling ratios relative to it. Idempotent: with no
// subscriber changes the driver sees no calls. A configuration change
// always supersedes a pending peek-mode restoration, so the grace timer is
// cancelled first.
//
// Runs after every subscribe, unsubscribe, per-subscriber rate or buffer
// change, tap-count change, and when leaving temporary peek mode.
func (m *Manager) reconcileLocked() {
	// A reconciliation supersedes any pending peek restore.
	if m.peekTimer != nil {
		m.peekTimer.Stop()
		m.peekTimer = nil
	}
	m.peekMode = false

	if m.lowPower {
		return
	}

	subscribersGauge.Set(float64(len(m.subs)))

	active := len(m.subs) > 0 || len(m.taps) > 0
	if !active {
		if m.drv.Running() {
			_ = m.drv.SetNumSamples(0)
			_ = m.drv.Stop()
		}
		m.hwDepth = 0
		fifoDepthGauge.Set(0)
		return
	}
	if !m.drv.Running() {
		_ = m.drv.Start()
	}

	// The hardware rate is the maximum over all requested rates; tap-only
	// operation floors at the lowest supported rate.
	highest := accelmgr.RateLowest
	for _, sub := range m.subs {
		if sub.rate > highest {
			highest = sub.rate
		}
	}

	// FIFO depth: the most latency-sensitive buffered subscriber wins.
	// Its time-to-fill, converted back into samples at the hardware rate,
	// is the depth that wakes us no later than that subscriber needs.
	depth := 0
	haveBuffered := false
	var minFillMS uint64
	for _, sub := range m.subs {
		if sub.samplesPerUpdate == 0 {
			continue
		}
		fill := sub.rate.FillTimeMS(sub.samplesPerUpdate)
		if !haveBuffered || fill < minFillMS {
			minFillMS = fill
			haveBuffered = true
		}
	}
	if haveBuffered {
		depth = int(minFillMS * uint64(highest) / 1000)
		if depth < 1 {
			depth = 1
		}
		if depth > m.cfg.MaxSamplesPerUpdate {
			depth = m.cfg.MaxSamplesPerUpdate
		}
	}

	for _, sub := range m.subs {
		sub.num, sub.den = accelmgr.ReduceRatio(sub.rate, highest)
	}

	if highest != m.hwRate {
		_ = m.drv.SetSamplingRate(highest)
		m.hwRate = highest
		reconfigs.Inc()
	}
	if depth != m.hwDepth {
		_ = m.drv.SetNumSamples(depth)
		m.hwDepth = depth
		reconfigs.Inc()
	}
	hwRateGauge.Set(float64(highest))
	fifoDepthGauge.Set(float64(depth))
}
