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
	"errors"
	"testing"
	"time"

	"accelmgr"
)

// newPeekPipeline uses short peek tuning so the grace-period restoration is
// observable within a test run.
func newPeekPipeline() (*Manager, *SimDriver) {
	drv := NewSimDriver()
	m := New(Config{
		Driver:          drv,
		PeekGracePeriod: 150 * time.Millisecond,
		PeekPollRetries: 20,
		PeekPollDelay:   2 * time.Millisecond,
		NowMS:           drv.NowMS,
	})
	return m, drv
}

func waitForDepth(t *testing.T, m *Manager, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, depth := m.HardwareConfig(); depth == want {
			return
		}
		if time.Now().After(deadline) {
			_, depth := m.HardwareConfig()
			t.Fatalf("depth = %d, want %d before deadline", depth, want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// With the FIFO disabled there is nothing to demote: peek reads the sensor
// directly and stamps the wall clock.
func TestPeek_InstantaneousWhenFIFODisabled(t *testing.T) {
	m, drv := newPeekPipeline()
	drv.SetWave(identityWave)

	r, err := m.Peek()
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if r.Sample.Z != -1000 {
		t.Fatalf("sample = %+v, want the sensor's current reading", r.Sample)
	}
	if r.TimestampMS != drv.NowMS() {
		t.Fatalf("timestamp = %d, want wall clock %d", r.TimestampMS, drv.NowMS())
	}
	if _, depth := m.HardwareConfig(); depth != 0 {
		t.Fatalf("peek changed depth to %d", depth)
	}
}

// With depth already 1 every sample is read as it arrives: the cached last
// reading is as fresh as a demotion could make it.
func TestPeek_UsesCachedReadingAtDepthOne(t *testing.T) {
	m, drv := newPeekPipeline()
	drv.SetWave(identityWave)
	ref := NewSessionRef()
	if err := m.Subscribe(ref, accelmgr.Rate100Hz, 1, NewMailboxSink(64), func(SessionRef) {}); err != nil {
		t.Fatal(err)
	}
	waitForDepth(t, m, 1)

	drv.AdvanceSamples(3)
	r, err := m.Peek()
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if r.TimestampMS != 30 {
		t.Fatalf("reading timestamp = %d, want the last drain at 30", r.TimestampMS)
	}
	if r.Sample.X != 2 {
		t.Fatalf("reading X = %d, want the newest sample (2)", r.Sample.X)
	}
}

// A deep FIFO is demoted to depth 1 for the peek, and the reconciler
// restores the subscriber configuration after the grace period. The
// subscriber's stream is unaffected throughout.
func TestPeek_DemotesAndRestoresDeepFIFO(t *testing.T) {
	m, drv := newPeekPipeline()
	drv.SetWave(identityWave)
	ref := NewSessionRef()
	var stream sampleLog
	if err := m.Subscribe(ref, accelmgr.Rate25Hz, 10, InlineSink{}, autoConsume(t, m, &stream)); err != nil {
		t.Fatal(err)
	}
	if _, depth := m.HardwareConfig(); depth != 10 {
		t.Fatalf("depth = %d, want 10", depth)
	}
	drv.AdvanceSamples(10) // one chunk through before the peek

	// Feed the demoted FIFO while the peek polls.
	stop := make(chan struct{})
	feederDone := make(chan struct{})
	go func() {
		defer close(feederDone)
		for {
			select {
			case <-stop:
				return
			default:
				drv.AdvanceSamples(1)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	r, err := m.Peek()
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if r.TimestampMS <= 400 {
		t.Fatalf("peek returned a reading from before the demotion (ts=%d)", r.TimestampMS)
	}

	// No further peeks: the grace timer restores the subscriber depth.
	waitForDepth(t, m, 10)
	close(stop)
	<-feederDone

	// The subscriber kept its full stream across the demotion: every
	// hardware sample so far, in order, no gaps.
	drv.AdvanceSamples(30) // flush any partial chunk through
	got := stream.snapshot()
	for i, s := range got {
		if s.X != int16(i) {
			t.Fatalf("subscriber stream has a gap at %d (X=%d)", i, s.X)
		}
	}
	if len(got) < 40 {
		t.Fatalf("subscriber received %d samples, want at least 40", len(got))
	}
}

// Nothing produces while the demoted FIFO polls: peek gives up after the
// bounded retries instead of blocking.
func TestPeek_TimesOutWithoutFreshData(t *testing.T) {
	m, drv := newPeekPipeline()
	ref := NewSessionRef()
	if err := m.Subscribe(ref, accelmgr.Rate25Hz, 10, NewMailboxSink(4), func(SessionRef) {}); err != nil {
		t.Fatal(err)
	}
	drv.AdvanceSamples(10)

	if _, err := m.Peek(); !errors.Is(err, ErrPeekTimeout) {
		t.Fatalf("err = %v, want ErrPeekTimeout", err)
	}
	// Even a failed peek leaves the demotion behind; the grace timer still
	// restores the configuration.
	if _, depth := m.HardwareConfig(); depth != 1 {
		t.Fatalf("depth after failed peek = %d, want 1 until the grace period", depth)
	}
	waitForDepth(t, m, 10)
}

// A subscriber change during the grace period supersedes the pending
// restoration: the reconciler must not later clobber the new configuration.
func TestPeek_ReconfigurationCancelsPendingRestore(t *testing.T) {
	m, drv := newPeekPipeline()
	ref := NewSessionRef()
	if err := m.Subscribe(ref, accelmgr.Rate25Hz, 10, NewMailboxSink(4), func(SessionRef) {}); err != nil {
		t.Fatal(err)
	}
	drv.AdvanceSamples(10)
	_, _ = m.Peek() // demotes; grace timer armed

	// New subscriber arrives mid-grace: reconciliation wins immediately.
	fast := NewSessionRef()
	if err := m.Subscribe(fast, accelmgr.Rate25Hz, 5, NewMailboxSink(4), func(SessionRef) {}); err != nil {
		t.Fatal(err)
	}
	if _, depth := m.HardwareConfig(); depth != 5 {
		t.Fatalf("depth = %d, want 5 from the new subscriber set", depth)
	}

	// Well past the grace period the configuration must still stand.
	time.Sleep(400 * time.Millisecond)
	if _, depth := m.HardwareConfig(); depth != 5 {
		t.Fatalf("stale peek restore clobbered depth to %d", depth)
	}
}
