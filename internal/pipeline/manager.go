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
	"log"
	"sync"
	"sync/atomic"
	"time"

	"accelmgr"
)

// SessionRef is the opaque per-subscription identity clients use to address
// their own subscription state. Allocate with NewSessionRef; refs are never
// reused while a session is active.
type SessionRef uint64

var sessionRefCounter atomic.Uint64

// NewSessionRef allocates a fresh session identity.
func NewSessionRef() SessionRef {
	return SessionRef(sessionRefCounter.Add(1))
}

// DataCallback is invoked on the subscriber's chosen sink when a full chunk
// of samples_per_update samples is staged and ready to consume.
type DataCallback func(ref SessionRef)

// TapCallback is invoked on the subscriber's chosen sink for each tap event.
type TapCallback func(ev TapEvent)

// Config configures a Manager. Driver is required; everything else has the
// reference defaults. The peek tuning knobs exist because the reference
// values were tuned for one particular sensor's timing.
type Config struct {
	Driver Driver

	// MaxSamplesPerUpdate caps samples_per_update and the FIFO depth.
	// Defaults to MaxSamplesPerUpdate.
	MaxSamplesPerUpdate int

	// PeekGracePeriod is how long after the last peek the temporary depth-1
	// configuration is kept before the reconciler restores the subscriber
	// configuration. Default 5s.
	PeekGracePeriod time.Duration

	// PeekPollRetries / PeekPollDelay bound the peek path's wait for a
	// fresh reading after demoting the FIFO. Defaults: 10 retries, 10ms.
	PeekPollRetries int
	PeekPollDelay   time.Duration

	// Vibe, when set, is started/stopped on the 0<->1 data-subscriber
	// transitions.
	Vibe *VibeHistory

	// NowMS supplies wall-clock milliseconds for depth-0 peek stamps.
	// Defaults to time.Now-based. Tests inject a fake clock.
	NowMS func() uint64
}

// subscriberState is one active session's record, owned by the registry.
type subscriberState struct {
	ref SessionRef
	gen uint64 // bumped per (re)subscribe; stale callbacks compare against it

	rate             accelmgr.SamplingRate
	samplesPerUpdate int
	num, den         int // exact ratio rate/hwRate, reduced

	cursor *accelmgr.Cursor // nil while samplesPerUpdate == 0

	sink     CallbackSink
	callback DataCallback

	// Staging buffer. Subscriber-owned (installed via SetSampleBuffer or
	// allocated at subscribe); capacity is samplesPerUpdate+1 — the spare
	// slot lets a full subsample group land when only one slot remains.
	buf        []accelmgr.Sample
	numSamples int

	// timestampMS estimates the capture time of the oldest staged sample.
	// Resynchronized from the driver on first fill and on underrun.
	timestampMS uint64
	synced      bool

	// posted is set once a chunk-ready event is successfully queued and
	// cleared on consume, so a full buffer is announced exactly once.
	posted bool
}

type tapState struct {
	ref      SessionRef
	gen      uint64
	sink     CallbackSink
	callback TapCallback
}

// Manager is the pipeline context object: subscriber registry, reconciler
// state, and the currently effective hardware configuration, all guarded by
// one mutex. The peek poll loop is the only slow path and runs with the
// mutex released (a separate peekMode flag marks the temporary hardware
// state).
type Manager struct {
	cfg Config
	drv Driver

	mu      sync.Mutex
	subs    map[SessionRef]*subscriberState
	taps    map[SessionRef]*tapState
	nextGen uint64

	hwRate   accelmgr.SamplingRate
	hwDepth  int
	lowPower bool

	peekMode  bool
	peekTimer *time.Timer
}

// New creates a Manager bound to the given driver and registers the
// dispatch and tap entry points with it. A nil driver is a programming
// error.
func New(cfg Config) *Manager {
	if cfg.Driver == nil {
		panic("pipeline: Config.Driver is required")
	}
	if cfg.MaxSamplesPerUpdate <= 0 {
		cfg.MaxSamplesPerUpdate = MaxSamplesPerUpdate
	}
	if cfg.PeekGracePeriod <= 0 {
		cfg.PeekGracePeriod = 5 * time.Second
	}
	if cfg.PeekPollRetries <= 0 {
		cfg.PeekPollRetries = 10
	}
	if cfg.PeekPollDelay <= 0 {
		cfg.PeekPollDelay = 10 * time.Millisecond
	}
	if cfg.NowMS == nil {
		cfg.NowMS = func() uint64 { return uint64(time.Now().UnixMilli()) }
	}
	m := &Manager{
		cfg:    cfg,
		drv:    cfg.Driver,
		subs:   make(map[SessionRef]*subscriberState),
		taps:   make(map[SessionRef]*tapState),
		hwRate: accelmgr.RateLowest,
	}
	m.drv.SetDataHandler(m.DataAvailable)
	m.drv.SetTapHandler(m.handleTap)
	return m
}

// Subscribe registers (or replaces) the data subscription for a session.
// Idempotent per session: an existing subscription is torn down first.
// samplesPerUpdate == 0 means tap-only (no data buffering); values above
// the hardware maximum are clamped and logged. The callback fires on the
// given sink whenever a full chunk is staged.
func (m *Manager) Subscribe(ref SessionRef, rate accelmgr.SamplingRate, samplesPerUpdate int, sink CallbackSink, cb DataCallback) error {
	if !rate.Valid() {
		return ErrInvalidRate
	}
	if sink == nil || cb == nil {
		panic("pipeline: Subscribe requires a sink and a callback")
	}
	if samplesPerUpdate < 0 {
		samplesPerUpdate = 0
	}
	if samplesPerUpdate > m.cfg.MaxSamplesPerUpdate {
		log.Printf("pipeline: clamping samples_per_update %d to hardware maximum %d",
			samplesPerUpdate, m.cfg.MaxSamplesPerUpdate)
		samplesPerUpdate = m.cfg.MaxSamplesPerUpdate
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.subs[ref]; ok {
		m.teardownLocked(old)
	}

	m.nextGen++
	sub := &subscriberState{
		ref:              ref,
		gen:              m.nextGen,
		rate:             rate,
		samplesPerUpdate: samplesPerUpdate,
		num:              1,
		den:              1,
		sink:             sink,
		callback:         cb,
		buf:              make([]accelmgr.Sample, samplesPerUpdate+1),
	}
	if samplesPerUpdate > 0 {
		sub.cursor = m.drv.NewCursor()
	}
	m.subs[ref] = sub

	if len(m.subs) == 1 {
		if m.cfg.Vibe != nil {
			m.cfg.Vibe.StartCollecting()
		}
	}
	m.reconcileLocked()
	return nil
}

// Unsubscribe removes a session's data subscription. No-op if the session
// is not subscribed. Chunk-ready events already queued for this session
// are suppressed at delivery by the generation check.
func (m *Manager) Unsubscribe(ref SessionRef) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[ref]
	if !ok {
		return
	}
	m.teardownLocked(sub)

	if len(m.subs) == 0 {
		if m.cfg.Vibe != nil {
			m.cfg.Vibe.StopCollecting()
		}
	}
	m.reconcileLocked()
}

// teardownLocked unlinks a subscriber and releases its cursor. Callers
// re-run the reconciler afterwards.
func (m *Manager) teardownLocked(sub *subscriberState) {
	if sub.cursor != nil {
		m.drv.ReleaseCursor(sub.cursor)
		sub.cursor = nil
	}
	delete(m.subs, sub.ref)
}

// SetSamplingRate changes one subscriber's requested rate and re-runs the
// reconciler. Rejected without mutation if the session is unknown or the
// rate is outside the supported set.
func (m *Manager) SetSamplingRate(ref SessionRef, rate accelmgr.SamplingRate) error {
	if !rate.Valid() {
		return ErrInvalidRate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[ref]
	if !ok {
		return ErrNotSubscribed
	}
	sub.rate = rate
	sub.numSamples = 0
	sub.posted = false
	sub.synced = false
	m.reconcileLocked()
	return nil
}

// SetSampleBuffer installs a subscriber-owned staging buffer and chunk
// size. The buffer must hold samplesPerUpdate+1 samples (the spare slot
// supports the 2/5 subsampling case). Rejected without mutation on any
// validation failure; the previous buffer stays live.
func (m *Manager) SetSampleBuffer(ref SessionRef, buf []accelmgr.Sample, samplesPerUpdate int) error {
	if samplesPerUpdate > m.cfg.MaxSamplesPerUpdate {
		return ErrTooManySamples
	}
	if samplesPerUpdate < 0 {
		samplesPerUpdate = 0
	}
	if samplesPerUpdate > 0 && len(buf) < samplesPerUpdate+1 {
		return ErrBufferTooSmall
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[ref]
	if !ok {
		return ErrNotSubscribed
	}
	sub.buf = buf
	sub.samplesPerUpdate = samplesPerUpdate
	sub.numSamples = 0
	sub.posted = false
	sub.synced = false
	if samplesPerUpdate > 0 && sub.cursor == nil {
		sub.cursor = m.drv.NewCursor()
	}
	if samplesPerUpdate == 0 && sub.cursor != nil {
		m.drv.ReleaseCursor(sub.cursor)
		sub.cursor = nil
	}
	m.reconcileLocked()
	return nil
}

// GetNumSamples returns the staged sample count and the estimated capture
// time (ms) of the oldest staged sample.
func (m *Manager) GetNumSamples(ref SessionRef) (int, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[ref]
	if !ok {
		return 0, 0, ErrNotSubscribed
	}
	return sub.numSamples, sub.timestampMS, nil
}

// ConsumeSamples acknowledges consumption of exactly count staged samples.
// The count must match what GetNumSamples reported; a mismatch means the
// client is acting on stale information and is rejected without mutation.
// On success the staging buffer resets, the running timestamp advances by
// count sample periods, and dispatch re-runs to refill opportunistically.
func (m *Manager) ConsumeSamples(ref SessionRef, count int) error {
	m.mu.Lock()
	sub, ok := m.subs[ref]
	if !ok {
		m.mu.Unlock()
		return ErrNotSubscribed
	}
	if count != sub.numSamples {
		staged := sub.numSamples
		m.mu.Unlock()
		staleCounts.Inc()
		log.Printf("pipeline: session %d consume count %d does not match staged %d",
			ref, count, staged)
		return ErrStaleCount
	}
	sub.numSamples = 0
	sub.posted = false
	sub.timestampMS += uint64(count) * 1000 / uint64(sub.rate)
	posts := m.dispatchLocked()
	m.mu.Unlock()
	m.deliver(posts)
	return nil
}

// ReadSamples copies the currently staged samples into dst and returns the
// count and the oldest-sample timestamp. Clients that install their own
// buffer via SetSampleBuffer may read it directly instead.
func (m *Manager) ReadSamples(ref SessionRef, dst []accelmgr.Sample) (int, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[ref]
	if !ok {
		return 0, 0, ErrNotSubscribed
	}
	n := copy(dst, sub.buf[:sub.numSamples])
	return n, sub.timestampMS, nil
}

// TapSubscribe registers a tap/shake subscription for a session. Replaces
// any existing tap subscription for the same session.
func (m *Manager) TapSubscribe(ref SessionRef, sink CallbackSink, cb TapCallback) {
	if sink == nil || cb == nil {
		panic("pipeline: TapSubscribe requires a sink and a callback")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextGen++
	m.taps[ref] = &tapState{ref: ref, gen: m.nextGen, sink: sink, callback: cb}
	if len(m.taps) == 1 {
		// Tap-only operation wants the hardware's high shake sensitivity;
		// it is lowered again once the last tap subscriber leaves.
		m.drv.SetShakeSensitivity(true)
	}
	m.reconcileLocked()
}

// TapUnsubscribe removes a session's tap subscription. No-op if absent.
func (m *Manager) TapUnsubscribe(ref SessionRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.taps[ref]; !ok {
		return
	}
	delete(m.taps, ref)
	if len(m.taps) == 0 {
		m.drv.SetShakeSensitivity(false)
	}
	m.reconcileLocked()
}

// handleTap fans a hardware tap event out to every tap subscriber's sink.
func (m *Manager) handleTap(ev TapEvent) {
	m.mu.Lock()
	states := make([]*tapState, 0, len(m.taps))
	for _, t := range m.taps {
		states = append(states, t)
	}
	m.mu.Unlock()

	for _, t := range states {
		ref, gen, cb := t.ref, t.gen, t.callback
		_ = t.sink.Post(func() {
			m.mu.Lock()
			cur, ok := m.taps[ref]
			stale := !ok || cur.gen != gen
			m.mu.Unlock()
			if stale {
				staleCallbacks.Inc()
				return
			}
			cb(ev)
		})
	}
}

// SetLowPower toggles the pipeline-wide disabled state. While low power is
// set the hardware is stopped and reconciliation is suspended; clearing it
// restores the configuration for the current subscriber set.
func (m *Manager) SetLowPower(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lowPower == enabled {
		return
	}
	m.lowPower = enabled
	if enabled {
		if m.drv.Running() {
			_ = m.drv.SetNumSamples(0)
			_ = m.drv.Stop()
		}
		m.hwDepth = 0
		return
	}
	m.reconcileLocked()
}

// HardwareConfig reports the currently effective sampling rate and FIFO
// depth. Exposed for tests and the demo's status output.
func (m *Manager) HardwareConfig() (accelmgr.SamplingRate, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hwRate, m.hwDepth
}

// SubscriberRatio reports a subscriber's current subsampling ratio.
func (m *Manager) SubscriberRatio(ref SessionRef) (num, den int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[ref]
	if !ok {
		return 0, 0, ErrNotSubscribed
	}
	return sub.num, sub.den, nil
}
