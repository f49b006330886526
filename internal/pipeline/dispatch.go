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

// pendingPost is a chunk-ready event staged during a dispatch cycle and
// handed to its sink only after the registry mutex is released, so inline
// sinks can re-enter the manager from the callback.
type pendingPost struct {
	sink CallbackSink
	fn   func()
	ref  SessionRef
	gen  uint64
}

// DataAvailable is the hardware "more data available" notification entry
// point. The driver invokes it once per FIFO drain; it runs one dispatch
// cycle over all buffered subscribers.
func (m *Manager) DataAvailable() {
	m.mu.Lock()
	posts := m.dispatchLocked()
	m.mu.Unlock()
	m.deliver(posts)
}

// dispatchLocked drains the shared ring into each buffered subscriber's
// staging buffer according to its subsampling ratio, and stages a
// chunk-ready event when a buffer fills. The returned posts must be handed
// to m.deliver once the mutex is released.
//
// A full buffer whose event was already posted is skipped entirely — the
// subscriber is announced exactly once per fill and the ring holds the
// backlog until the client consumes. A failed post (sink queue full) is
// retried on the next cycle.
func (m *Manager) dispatchLocked() []pendingPost {
	dispatchCycles.Inc()

	var posts []pendingPost
	for _, sub := range m.subs {
		if sub.samplesPerUpdate == 0 || sub.cursor == nil {
			continue
		}

		wasEmpty := sub.numSamples == 0
		totalRead := 0
		underfull := false

		for sub.numSamples < sub.samplesPerUpdate {
			want := sub.samplesPerUpdate - sub.numSamples
			// Never split a subsample group: align the request down to a
			// numerator multiple, and when that rounds to zero take one
			// full group — the spare buffer slot exists for exactly this.
			aligned := want - want%sub.num
			if aligned == 0 {
				aligned = sub.num
			}
			if room := len(sub.buf) - sub.numSamples; aligned > room {
				aligned = room
			}
			if aligned == 0 {
				break
			}

			n := m.drv.Consume(sub.buf[sub.numSamples:sub.numSamples+aligned],
				sub.cursor, aligned, sub.num, sub.den)
			sub.numSamples += n
			totalRead += n
			if n < aligned {
				underfull = true
				break
			}
		}

		if totalRead > 0 {
			samplesDelivered.Add(float64(totalRead))
			// First fill, or a gap: the buffer was empty and the shared
			// ring had less than requested. Either way the extrapolated
			// timestamp is not trustworthy; resynchronize from the
			// driver's last-FIFO-read time, stepping back over the
			// samples just staged.
			if wasEmpty && (underfull || !sub.synced) {
				latest := m.drv.LatestTimestampMS()
				elapsed := uint64(totalRead-1) * 1000 / uint64(sub.rate)
				if latest > elapsed {
					sub.timestampMS = latest - elapsed
				} else {
					sub.timestampMS = 0
				}
				sub.synced = true
			}
		}

		if sub.numSamples >= sub.samplesPerUpdate && !sub.posted {
			sub.posted = true // cleared in deliver if the sink rejects it
			posts = append(posts, m.stagePostLocked(sub))
		}
	}
	return posts
}

// stagePostLocked builds the chunk-ready event for a full subscriber. The
// event captures the session ref and generation; delivery re-validates both
// so a callback racing an unsubscribe (or a replacing re-subscribe)
// degrades to a counted no-op.
func (m *Manager) stagePostLocked(sub *subscriberState) pendingPost {
	ref, gen, cb := sub.ref, sub.gen, sub.callback
	return pendingPost{
		sink: sub.sink,
		ref:  ref,
		gen:  gen,
		fn: func() {
			m.mu.Lock()
			cur, ok := m.subs[ref]
			stale := !ok || cur.gen != gen
			m.mu.Unlock()
			if stale {
				staleCallbacks.Inc()
				return
			}
			cb(ref)
		},
	}
}

// deliver hands staged chunk-ready events to their sinks. Runs without the
// registry mutex. A rejected post clears the subscriber's posted flag (if
// the same incarnation is still registered) so the next dispatch cycle
// retries.
func (m *Manager) deliver(posts []pendingPost) {
	for _, p := range posts {
		if err := p.sink.Post(p.fn); err != nil {
			postFailures.Inc()
			m.mu.Lock()
			if sub, ok := m.subs[p.ref]; ok && sub.gen == p.gen {
				sub.posted = false
			}
			m.mu.Unlock()
			continue
		}
		chunksPosted.Inc()
	}
}
