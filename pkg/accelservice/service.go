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

// Package accelservice is the client-facing session façade over the
// pipeline: ergonomic subscribe calls for the three data handler kinds and
// the tap side channel, buffer (re)sizing, and the client half of chunk
// delivery — converting raw samples plus the vibration-history lookup into
// public records, in bounded-size batches, looping while full chunks
// remain.
package accelservice

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"accelmgr"
	"accelmgr/internal/pipeline"
	"accelmgr/internal/recorder"
)

// AccelData is the public processed sample record: axes, capture time, and
// whether the vibration motor was running at that instant (motor noise, not
// motion).
type AccelData struct {
	X, Y, Z     int16
	DidVibrate  bool
	TimestampMS uint64
}

// The three mutually exclusive data handler kinds. Registering one clears
// the others. Slices passed to handlers are only valid for the duration of
// the call.
type (
	// RawHandler receives bare samples (legacy surface, no timestamps).
	RawHandler func(samples []accelmgr.Sample)
	// RawTimestampedHandler receives bare samples plus the capture time
	// of the oldest one.
	RawTimestampedHandler func(samples []accelmgr.Sample, timestampMS uint64)
	// DataHandler receives processed records with per-sample timestamps
	// and vibe flags. May be invoked more than once per update: delivery
	// is batched to at most deliveryBatch records per call.
	DataHandler func(data []AccelData)
)

// TapHandler receives tap/shake events.
type TapHandler func(ev pipeline.TapEvent)

// deliveryBatch bounds the per-call conversion buffer.
const deliveryBatch = 16

// Service hands out sessions over one pipeline manager.
type Service struct {
	mgr  *pipeline.Manager
	vibe *pipeline.VibeHistory // may be nil: vibe flags always false
}

// New creates the service façade. vibe may be nil.
func New(mgr *pipeline.Manager, vibe *pipeline.VibeHistory) *Service {
	if mgr == nil {
		panic("accelservice: nil manager")
	}
	return &Service{mgr: mgr, vibe: vibe}
}

// Peek returns one current reading synchronously without disturbing any
// session's subscription.
func (s *Service) Peek() (pipeline.Reading, error) {
	return s.mgr.Peek()
}

// Session is one client subscription endpoint. All callbacks for a session
// are delivered through the sink chosen at creation; methods are safe for
// concurrent use.
//
// State machine: Unsubscribed -> Subscribed on any Subscribe* call
// (replacing any previous subscription for this session) -> Unsubscribed
// on Unsubscribe.
type Session struct {
	svc  *Service
	ref  pipeline.SessionRef
	sink pipeline.CallbackSink

	mu    sync.Mutex
	rate  accelmgr.SamplingRate
	spu   int
	buf   []accelmgr.Sample
	raw   RawHandler
	rawTS RawTimestampedHandler
	data  DataHandler
	rec   recorder.ChunkRecorder

	subscribed bool
}

// NewSession creates a session whose callbacks are delivered via sink.
func (s *Service) NewSession(sink pipeline.CallbackSink) *Session {
	if sink == nil {
		sink = pipeline.InlineSink{}
	}
	return &Session{svc: s, ref: pipeline.NewSessionRef(), sink: sink}
}

// Ref exposes the session identity (for logs and recorder entries).
func (sess *Session) Ref() pipeline.SessionRef { return sess.ref }

// SetRecorder attaches an optional chunk recorder. Recording is
// best-effort: failures are logged, never propagated into delivery.
func (sess *Session) SetRecorder(rec recorder.ChunkRecorder) {
	sess.mu.Lock()
	sess.rec = rec
	sess.mu.Unlock()
}

// SubscribeRaw registers the legacy raw handler.
func (sess *Session) SubscribeRaw(rate accelmgr.SamplingRate, samplesPerUpdate int, h RawHandler) error {
	if h == nil {
		panic("accelservice: nil handler")
	}
	return sess.subscribe(rate, samplesPerUpdate, h, nil, nil)
}

// SubscribeRawTimestamped registers the raw-with-timestamp handler.
func (sess *Session) SubscribeRawTimestamped(rate accelmgr.SamplingRate, samplesPerUpdate int, h RawTimestampedHandler) error {
	if h == nil {
		panic("accelservice: nil handler")
	}
	return sess.subscribe(rate, samplesPerUpdate, nil, h, nil)
}

// SubscribeData registers the processed-with-vibe-flag handler.
func (sess *Session) SubscribeData(rate accelmgr.SamplingRate, samplesPerUpdate int, h DataHandler) error {
	if h == nil {
		panic("accelservice: nil handler")
	}
	return sess.subscribe(rate, samplesPerUpdate, nil, nil, h)
}

func (sess *Session) subscribe(rate accelmgr.SamplingRate, spu int, raw RawHandler, rawTS RawTimestampedHandler, data DataHandler) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.svc.mgr.Subscribe(sess.ref, rate, spu, sess.sink, sess.onChunkReady); err != nil {
		return err
	}
	// Install the session-owned staging buffer (the registry allocated a
	// default one; the session keeps ownership of the one it reads).
	var buf []accelmgr.Sample
	if spu > 0 {
		if spu > pipeline.MaxSamplesPerUpdate {
			spu = pipeline.MaxSamplesPerUpdate // registry clamps identically
		}
		buf = make([]accelmgr.Sample, spu+1)
		if err := sess.svc.mgr.SetSampleBuffer(sess.ref, buf, spu); err != nil {
			sess.svc.mgr.Unsubscribe(sess.ref)
			return err
		}
	}

	// Exactly one handler kind at a time.
	sess.raw, sess.rawTS, sess.data = raw, rawTS, data
	sess.rate, sess.spu, sess.buf = rate, spu, buf
	sess.subscribed = true
	return nil
}

// Unsubscribe tears the data subscription down. No-op when not subscribed.
func (sess *Session) Unsubscribe() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.subscribed {
		return
	}
	sess.svc.mgr.Unsubscribe(sess.ref)
	sess.raw, sess.rawTS, sess.data = nil, nil, nil
	sess.buf = nil
	sess.subscribed = false
}

// SetSamplingRate changes this session's requested rate.
func (sess *Session) SetSamplingRate(rate accelmgr.SamplingRate) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.svc.mgr.SetSamplingRate(sess.ref, rate); err != nil {
		return err
	}
	sess.rate = rate
	return nil
}

// SetSamplesPerUpdate resizes this session's chunk. On failure the previous
// buffer stays installed and live.
func (sess *Session) SetSamplesPerUpdate(spu int) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.subscribed {
		return pipeline.ErrNotSubscribed
	}
	buf := make([]accelmgr.Sample, spu+1)
	if err := sess.svc.mgr.SetSampleBuffer(sess.ref, buf, spu); err != nil {
		return err
	}
	sess.spu, sess.buf = spu, buf
	return nil
}

// SubscribeTap registers a tap/shake handler for this session.
func (sess *Session) SubscribeTap(h TapHandler) {
	if h == nil {
		panic("accelservice: nil handler")
	}
	sess.svc.mgr.TapSubscribe(sess.ref, sess.sink, pipeline.TapCallback(h))
}

// UnsubscribeTap removes this session's tap handler. No-op if absent.
func (sess *Session) UnsubscribeTap() {
	sess.svc.mgr.TapUnsubscribe(sess.ref)
}

// onChunkReady is the sink-side half of delivery. It loops while full
// chunks are available: consuming a chunk triggers an opportunistic refill
// inside the registry, so a backlogged ring can surface several chunks
// back to back.
func (sess *Session) onChunkReady(ref pipeline.SessionRef) {
	for {
		sess.mu.Lock()
		spu, buf, rate := sess.spu, sess.buf, sess.rate
		raw, rawTS, data, rec := sess.raw, sess.rawTS, sess.data, sess.rec
		sess.mu.Unlock()
		if spu == 0 || buf == nil {
			return
		}

		count, ts, err := sess.svc.mgr.GetNumSamples(ref)
		if err != nil || count < spu || count == 0 {
			return
		}
		samples := buf[:count]

		switch {
		case data != nil:
			sess.deliverProcessed(samples, ts, rate, data)
		case rawTS != nil:
			rawTS(samples, ts)
		case raw != nil:
			raw(samples)
		}

		if rec != nil {
			sess.record(rec, count, ts, rate)
		}

		if err := sess.svc.mgr.ConsumeSamples(ref, count); err != nil {
			// Stale count: someone consumed under us; nothing to clean up.
			return
		}
	}
}

// deliverProcessed converts raw samples into public records in batches of
// deliveryBatch, flagging samples taken while the vibe motor ran.
func (sess *Session) deliverProcessed(samples []accelmgr.Sample, ts uint64, rate accelmgr.SamplingRate, h DataHandler) {
	interval := rate.IntervalMS()
	var batch [deliveryBatch]AccelData
	for off := 0; off < len(samples); off += deliveryBatch {
		n := len(samples) - off
		if n > deliveryBatch {
			n = deliveryBatch
		}
		for i := 0; i < n; i++ {
			s := samples[off+i]
			tsI := ts + uint64(off+i)*interval
			batch[i] = AccelData{
				X: s.X, Y: s.Y, Z: s.Z,
				TimestampMS: tsI,
				DidVibrate:  sess.svc.vibe != nil && sess.svc.vibe.WasVibrating(tsI),
			}
		}
		h(batch[:n])
	}
}

func (sess *Session) record(rec recorder.ChunkRecorder, count int, ts uint64, rate accelmgr.SamplingRate) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	entry := recorder.ChunkEntry{
		Session:        uint64(sess.ref),
		CommitID:       fmt.Sprintf("%d-%d", sess.ref, ts),
		Count:          count,
		TimestampMS:    ts,
		SamplingRateHz: int(rate),
	}
	if err := rec.RecordChunks(ctx, []recorder.ChunkEntry{entry}); err != nil {
		log.Printf("accelservice: session %d chunk record failed: %v", sess.ref, err)
	}
}
