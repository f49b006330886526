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

import "sync"

// vibeSpan is one closed interval during which the vibration motor ran.
type vibeSpan struct {
	startMS, endMS uint64
}

// VibeHistory records vibration-motor activity so sample consumers can flag
// readings that were taken while the device was vibrating (and therefore
// likely motor noise rather than motion).
//
// Collection is gated by the pipeline: it starts when the first data
// subscriber appears and stops (discarding history) when the last one
// leaves. All methods are safe for concurrent use.
type VibeHistory struct {
	mu          sync.Mutex
	collecting  bool
	active      bool
	activeStart uint64
	spans       []vibeSpan
	max         int
}

// NewVibeHistory creates an empty history holding up to 32 recent spans.
func NewVibeHistory() *VibeHistory {
	return &VibeHistory{max: 32}
}

// StartCollecting begins recording motor activity.
func (v *VibeHistory) StartCollecting() {
	v.mu.Lock()
	v.collecting = true
	v.mu.Unlock()
}

// StopCollecting stops recording and discards history.
func (v *VibeHistory) StopCollecting() {
	v.mu.Lock()
	v.collecting = false
	v.active = false
	v.spans = nil
	v.mu.Unlock()
}

// VibeStart marks the motor turning on at the given time.
func (v *VibeHistory) VibeStart(tsMS uint64) {
	v.mu.Lock()
	if v.collecting && !v.active {
		v.active = true
		v.activeStart = tsMS
	}
	v.mu.Unlock()
}

// VibeEnd marks the motor turning off at the given time.
func (v *VibeHistory) VibeEnd(tsMS uint64) {
	v.mu.Lock()
	if v.collecting && v.active {
		v.active = false
		v.spans = append(v.spans, vibeSpan{startMS: v.activeStart, endMS: tsMS})
		if len(v.spans) > v.max {
			v.spans = v.spans[len(v.spans)-v.max:]
		}
	}
	v.mu.Unlock()
}

// WasVibrating reports whether the motor was running at the given time.
func (v *VibeHistory) WasVibrating(tsMS uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active && tsMS >= v.activeStart {
		return true
	}
	for i := len(v.spans) - 1; i >= 0; i-- {
		s := v.spans[i]
		if tsMS >= s.startMS && tsMS <= s.endMS {
			return true
		}
		if tsMS > s.endMS {
			break // spans are ordered; everything earlier ends sooner
		}
	}
	return false
}
