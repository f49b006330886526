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

import "time"

// Peek returns one current reading synchronously without permanently
// disturbing any FIFO subscriber's configuration.
//
// With the FIFO disabled (no buffered subscriber) it reads the sensor
// directly and stamps the wall clock. With depth already 1 it returns the
// driver's cached last read. With a deeper FIFO it temporarily demotes the
// depth to 1 and polls (bounded retries, mutex released between polls) for
// a reading fresher than the one that existed beforehand. In both of the
// latter cases a grace timer is armed — renewed, not stacked, on each peek
// — after which the reconciler restores the subscriber configuration, so a
// burst of peeks reconfigures the hardware once, not per call.
//
// Peek never touches subscriber state; subscribers keep receiving their
// full streams throughout (the shared ring holds the backlog).
func (m *Manager) Peek() (Reading, error) {
	peeksTotal.Inc()

	m.mu.Lock()
	switch {
	case m.hwDepth == 0:
		m.mu.Unlock()
		r, err := m.drv.Peek()
		if err != nil {
			return Reading{}, err
		}
		r.TimestampMS = m.cfg.NowMS()
		return r, nil

	case m.hwDepth == 1:
		r, ok := m.drv.LatestReading()
		m.armPeekTimerLocked()
		m.mu.Unlock()
		if ok {
			return r, nil
		}
		// Depth-1 but nothing read yet (freshly demoted, first FIFO drain
		// pending). Fall through to the instantaneous path.
		r2, err := m.drv.Peek()
		if err != nil {
			return Reading{}, err
		}
		r2.TimestampMS = m.cfg.NowMS()
		return r2, nil

	default:
		prev := m.drv.LatestTimestampMS()
		_ = m.drv.SetNumSamples(1)
		m.hwDepth = 1
		m.peekMode = true
		m.armPeekTimerLocked()
		fifoDepthGauge.Set(1)
		m.mu.Unlock()

		// Bounded poll, no locks held: other pipeline operations proceed
		// freely while we wait for the demoted FIFO to produce.
		for i := 0; i < m.cfg.PeekPollRetries; i++ {
			time.Sleep(m.cfg.PeekPollDelay)
			if m.drv.LatestTimestampMS() > prev {
				if r, ok := m.drv.LatestReading(); ok {
					return r, nil
				}
			}
		}
		peekTimeouts.Inc()
		return Reading{}, ErrPeekTimeout
	}
}

// armPeekTimerLocked (re)schedules the grace-period restore. Renewing an
// existing timer rather than stacking a second one makes peek bursts cheap.
func (m *Manager) armPeekTimerLocked() {
	if m.peekTimer != nil {
		m.peekTimer.Stop()
	}
	m.peekTimer = time.AfterFunc(m.cfg.PeekGracePeriod, m.restoreAfterPeek)
}

// restoreAfterPeek runs when the grace period elapses with no further
// peek. If we are still in temporary peek mode, the reconciler recomputes
// the configuration for the current subscriber set.
func (m *Manager) restoreAfterPeek() {
	m.mu.Lock()
	if !m.peekMode {
		m.mu.Unlock()
		return
	}
	m.reconcileLocked()
	posts := m.dispatchLocked()
	m.mu.Unlock()
	m.deliver(posts)
}
