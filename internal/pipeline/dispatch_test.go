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
	"sync"
	"testing"

	"accelmgr"
)

// identityWave numbers samples by index on X so tests can assert exactly
// which hardware samples a subscriber received.
func identityWave(i uint64) accelmgr.Sample {
	return accelmgr.Sample{X: int16(i), Z: -1000}
}

// sampleLog collects delivered samples; guarded because deliveries can run
// on the producing goroutine and on the peek grace timer.
type sampleLog struct {
	mu      sync.Mutex
	samples []accelmgr.Sample
}

func (l *sampleLog) append(s []accelmgr.Sample) {
	l.mu.Lock()
	l.samples = append(l.samples, s...)
	l.mu.Unlock()
}

func (l *sampleLog) snapshot() []accelmgr.Sample {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]accelmgr.Sample(nil), l.samples...)
}

// autoConsume returns a data callback that drains the staged chunk into out
// and acknowledges it, the way a real client loop does.
func autoConsume(t *testing.T, m *Manager, out *sampleLog) DataCallback {
	return func(ref SessionRef) {
		var tmp [2 * MaxSamplesPerUpdate]accelmgr.Sample
		n, _, err := m.ReadSamples(ref, tmp[:])
		if err != nil {
			t.Errorf("ReadSamples: %v", err)
			return
		}
		out.append(tmp[:n])
		if err := m.ConsumeSamples(ref, n); err != nil {
			t.Errorf("ConsumeSamples(%d): %v", n, err)
		}
	}
}

func TestDispatch_DeliversFullChunksWithTimestamps(t *testing.T) {
	m, drv := newTestPipeline()
	drv.SetWave(identityWave)
	ref := NewSessionRef()
	box := NewMailboxSink(4)
	fired := 0
	if err := m.Subscribe(ref, accelmgr.Rate25Hz, 10, box, func(SessionRef) { fired++ }); err != nil {
		t.Fatal(err)
	}

	drv.AdvanceSamples(10) // one FIFO drain at t=400ms
	if n := box.RunPending(); n != 1 {
		t.Fatalf("chunk-ready events = %d, want 1", n)
	}
	if fired != 1 {
		t.Fatalf("callback fired %d times, want 1", fired)
	}

	count, ts, err := m.GetNumSamples(ref)
	if err != nil || count != 10 {
		t.Fatalf("GetNumSamples = %d, %v; want 10", count, err)
	}
	// FIFO drained at 400ms holding 10 samples at 25 Hz: the oldest was
	// captured 9 periods earlier.
	if ts != 40 {
		t.Fatalf("oldest-sample timestamp = %d, want 40", ts)
	}

	var dst [16]accelmgr.Sample
	n, _, err := m.ReadSamples(ref, dst[:])
	if err != nil || n != 10 {
		t.Fatalf("ReadSamples = %d, %v", n, err)
	}
	for i := 0; i < 10; i++ {
		if dst[i].X != int16(i) {
			t.Fatalf("sample %d has X=%d, want %d", i, dst[i].X, i)
		}
	}

	if err := m.ConsumeSamples(ref, 10); err != nil {
		t.Fatal(err)
	}
	count, ts, _ = m.GetNumSamples(ref)
	if count != 0 {
		t.Fatalf("staged after consume = %d, want 0", count)
	}
	if ts != 440 {
		t.Fatalf("timestamp after consume = %d, want 440", ts)
	}

	// The next chunk's oldest sample continues seamlessly from the last.
	drv.AdvanceSamples(10)
	box.RunPending()
	count, ts, _ = m.GetNumSamples(ref)
	if count != 10 || ts != 440 {
		t.Fatalf("second chunk = %d samples at %d, want 10 at 440", count, ts)
	}
}

// A full, already-announced buffer is announced exactly once; the shared
// ring holds the backlog until the client consumes, and consuming refills
// immediately from that backlog.
func TestDispatch_AnnouncesOncePerFillAndKeepsBacklog(t *testing.T) {
	m, drv := newTestPipeline()
	drv.SetWave(identityWave)
	ref := NewSessionRef()
	box := NewMailboxSink(4)
	if err := m.Subscribe(ref, accelmgr.Rate25Hz, 10, box, func(SessionRef) {}); err != nil {
		t.Fatal(err)
	}

	drv.AdvanceSamples(10)
	if n := box.RunPending(); n != 1 {
		t.Fatalf("events after first fill = %d, want 1", n)
	}

	// More hardware data while the client has not consumed: no re-announce.
	drv.AdvanceSamples(10)
	if n := box.RunPending(); n != 0 {
		t.Fatalf("events while full = %d, want 0", n)
	}

	if err := m.ConsumeSamples(ref, 10); err != nil {
		t.Fatal(err)
	}
	// The consume refilled the buffer from the ring backlog and announced.
	if n := box.RunPending(); n != 1 {
		t.Fatalf("events after consume = %d, want 1", n)
	}
	var dst [16]accelmgr.Sample
	n, ts, err := m.ReadSamples(ref, dst[:])
	if err != nil || n != 10 {
		t.Fatalf("ReadSamples = %d, %v", n, err)
	}
	if dst[0].X != 10 || dst[9].X != 19 {
		t.Fatalf("backlog chunk spans X=%d..%d, want 10..19", dst[0].X, dst[9].X)
	}
	if ts != 440 {
		t.Fatalf("backlog chunk timestamp = %d, want 440", ts)
	}
}

// Two subscribers at different rates: the slower one receives exactly its
// share via the 2-of-5 pattern while the faster one sees every sample.
func TestDispatch_SubsampleConvergence(t *testing.T) {
	m, drv := newTestPipeline()
	drv.SetWave(identityWave)
	refSlow, refFast := NewSessionRef(), NewSessionRef()
	var slowLog, fastLog sampleLog
	if err := m.Subscribe(refSlow, accelmgr.Rate10Hz, 10, InlineSink{}, autoConsume(t, m, &slowLog)); err != nil {
		t.Fatal(err)
	}
	if err := m.Subscribe(refFast, accelmgr.Rate25Hz, 25, InlineSink{}, autoConsume(t, m, &fastLog)); err != nil {
		t.Fatal(err)
	}
	if num, den, _ := m.SubscriberRatio(refSlow); num != 2 || den != 5 {
		t.Fatalf("slow ratio = %d/%d, want 2/5", num, den)
	}

	const produced = 1000 // 40 s at 25 Hz
	drv.AdvanceSamples(produced)

	gotSlow, gotFast := slowLog.snapshot(), fastLog.snapshot()
	// Exact long-run counts: 25 Hz keeps everything, 10 Hz keeps 2 of 5.
	if len(gotFast) != produced {
		t.Fatalf("fast subscriber got %d samples, want %d", len(gotFast), produced)
	}
	if want := produced * 2 / 5; len(gotSlow) != want {
		t.Fatalf("slow subscriber got %d samples, want exactly %d", len(gotSlow), want)
	}
	// The kept positions follow the accumulator pattern: phases 0 and 3 of
	// every 5-sample group.
	for i, s := range gotSlow {
		if phase := uint64(s.X) % 5; phase != 0 && phase != 3 {
			t.Fatalf("slow sample %d has hardware index %d (phase %d)", i, s.X, phase)
		}
	}
	for i, s := range gotFast {
		if s.X != int16(i) {
			t.Fatalf("fast subscriber missing samples at %d (X=%d)", i, s.X)
		}
	}
}

// samples_per_update that is not a numerator multiple: the final read takes
// one full subsample group into the spare slot, so a fill can stage one
// sample more than requested.
func TestDispatch_OddChunkSizeUsesSpareSlot(t *testing.T) {
	m, drv := newTestPipeline()
	drv.SetWave(identityWave)
	refSlow, refFast := NewSessionRef(), NewSessionRef()
	box := NewMailboxSink(4)
	if err := m.Subscribe(refSlow, accelmgr.Rate10Hz, 5, box, func(SessionRef) {}); err != nil {
		t.Fatal(err)
	}
	var fastLog sampleLog
	if err := m.Subscribe(refFast, accelmgr.Rate25Hz, 10, InlineSink{}, autoConsume(t, m, &fastLog)); err != nil {
		t.Fatal(err)
	}

	// 20 hardware samples: the slow subscriber keeps 8 of them, filling its
	// 5-sample request with a 6th staged via the spare slot.
	drv.AdvanceSamples(20)
	if n := box.RunPending(); n != 1 {
		t.Fatalf("events = %d, want 1", n)
	}
	count, _, err := m.GetNumSamples(refSlow)
	if err != nil {
		t.Fatal(err)
	}
	if count != 6 {
		t.Fatalf("staged = %d, want 6 (5 requested + spare-slot overshoot)", count)
	}
	if err := m.ConsumeSamples(refSlow, count); err != nil {
		t.Fatal(err)
	}
}

// With the FIFO depth below the chunk size every drain stages a partial
// read; the first one synchronizes the timestamp from the driver.
func TestDispatch_PartialStagingResyncsTimestamp(t *testing.T) {
	m, drv := newTestPipeline()
	drv.SetWave(identityWave)
	refChunky, refFast := NewSessionRef(), NewSessionRef()
	box := NewMailboxSink(4)
	if err := m.Subscribe(refChunky, accelmgr.Rate25Hz, 10, box, func(SessionRef) {}); err != nil {
		t.Fatal(err)
	}
	// A one-sample subscriber forces depth 1: per-sample drains.
	if err := m.Subscribe(refFast, accelmgr.Rate25Hz, 1, NewMailboxSink(64), func(SessionRef) {}); err != nil {
		t.Fatal(err)
	}
	if _, depth := m.HardwareConfig(); depth != 1 {
		t.Fatalf("depth = %d, want 1", depth)
	}

	drv.AdvanceSamples(1) // first drain at t=40ms stages one sample
	count, ts, err := m.GetNumSamples(refChunky)
	if err != nil || count != 1 {
		t.Fatalf("staged = %d, %v; want 1", count, err)
	}
	if ts != 40 {
		t.Fatalf("first partial stage timestamp = %d, want 40", ts)
	}

	drv.AdvanceSamples(9) // fills the 10-sample chunk at t=400ms
	if n := box.RunPending(); n != 1 {
		t.Fatalf("events = %d, want 1", n)
	}
	count, ts, _ = m.GetNumSamples(refChunky)
	if count != 10 || ts != 40 {
		t.Fatalf("full chunk = %d samples at %d, want 10 at 40", count, ts)
	}
}

func TestConsumeSamples_RejectsStaleCount(t *testing.T) {
	m, drv := newTestPipeline()
	ref := NewSessionRef()
	box := NewMailboxSink(4)
	if err := m.Subscribe(ref, accelmgr.Rate25Hz, 10, box, func(SessionRef) {}); err != nil {
		t.Fatal(err)
	}
	drv.AdvanceSamples(10)
	box.RunPending()

	if err := m.ConsumeSamples(ref, 5); !errors.Is(err, ErrStaleCount) {
		t.Fatalf("mismatched consume: err = %v, want ErrStaleCount", err)
	}
	// The rejected consume must not have disturbed the staged chunk.
	if count, _, _ := m.GetNumSamples(ref); count != 10 {
		t.Fatalf("staged after rejection = %d, want 10", count)
	}
	if err := m.ConsumeSamples(ref, 10); err != nil {
		t.Fatalf("matching consume: %v", err)
	}
	if err := m.ConsumeSamples(ref, 10); !errors.Is(err, ErrStaleCount) {
		t.Fatalf("double consume: err = %v, want ErrStaleCount", err)
	}
}

// A sink that rejects the chunk-ready event gets it again on the next
// dispatch cycle; the chunk itself is never lost.
func TestDispatch_RetriesRejectedPost(t *testing.T) {
	m, drv := newTestPipeline()
	ref := NewSessionRef()
	box := NewMailboxSink(1)
	fired := 0
	if err := m.Subscribe(ref, accelmgr.Rate25Hz, 10, box, func(SessionRef) { fired++ }); err != nil {
		t.Fatal(err)
	}

	// Occupy the mailbox's only slot so the first post is rejected.
	if err := box.Post(func() {}); err != nil {
		t.Fatal(err)
	}
	drv.AdvanceSamples(10)
	box.RunPending() // runs only the filler

	if fired != 0 {
		t.Fatalf("callback fired %d times before a successful post", fired)
	}
	drv.AdvanceSamples(10) // next drain retries the post
	if n := box.RunPending(); n != 1 {
		t.Fatalf("events after retry = %d, want 1", n)
	}
	if fired != 1 {
		t.Fatalf("callback fired %d times, want 1", fired)
	}
	if count, _, _ := m.GetNumSamples(ref); count != 10 {
		t.Fatalf("staged = %d, want the original chunk intact", count)
	}
}

// Events still queued when their subscription dies (unsubscribe or a
// replacing re-subscribe) are dropped at delivery.
func TestDispatch_SuppressesStaleChunkCallbacks(t *testing.T) {
	m, drv := newTestPipeline()
	ref := NewSessionRef()
	box := NewMailboxSink(4)
	staleFired := 0
	if err := m.Subscribe(ref, accelmgr.Rate25Hz, 10, box, func(SessionRef) { staleFired++ }); err != nil {
		t.Fatal(err)
	}
	drv.AdvanceSamples(10)
	m.Unsubscribe(ref)
	box.RunPending()
	if staleFired != 0 {
		t.Fatalf("callback for dead subscription fired %d times", staleFired)
	}

	// Same ref, new incarnation: the old incarnation's queued event must
	// not reach the new callback either.
	if err := m.Subscribe(ref, accelmgr.Rate25Hz, 10, box, func(SessionRef) { staleFired++ }); err != nil {
		t.Fatal(err)
	}
	drv.AdvanceSamples(10)
	newFired := 0
	if err := m.Subscribe(ref, accelmgr.Rate25Hz, 10, box, func(SessionRef) { newFired++ }); err != nil {
		t.Fatal(err)
	}
	box.RunPending()
	if staleFired != 0 || newFired != 0 {
		t.Fatalf("stale incarnation delivery: old=%d new=%d, want 0/0", staleFired, newFired)
	}
}
