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
	"context"
	"sync"
	"time"
)

// CallbackSink is the delivery destination for a subscriber's chunk-ready
// (and tap) notifications. One concrete sink per destination kind; the sink
// is chosen at subscribe time and stored in the subscriber record, so the
// dispatch engine never switches on a task enum.
//
// Post must not block: it either enqueues the work and returns nil, or
// returns ErrSinkFull. A failed post is non-fatal — the dispatch engine
// retries on the next hardware data-available event.
//
// Delivery is FIFO per sink; there is no ordering guarantee between
// different subscribers' sinks.
type CallbackSink interface {
	Post(fn func()) error
}

// InlineSink runs posted work synchronously on the caller. Used by tests
// and by callers that already execute on the destination context.
type InlineSink struct{}

func (InlineSink) Post(fn func()) error {
	fn()
	return nil
}

// MailboxSink is a bounded FIFO drained by its owning task's goroutine —
// the analog of posting an event to a task's queue. The owner calls Drain
// (or RunPending in tests) to execute delivered work.
type MailboxSink struct {
	ch chan func()
}

// NewMailboxSink creates a mailbox with the given queue capacity.
func NewMailboxSink(capacity int) *MailboxSink {
	if capacity <= 0 {
		capacity = 8
	}
	return &MailboxSink{ch: make(chan func(), capacity)}
}

func (m *MailboxSink) Post(fn func()) error {
	select {
	case m.ch <- fn:
		return nil
	default:
		return ErrSinkFull
	}
}

// Drain executes posted work until ctx is cancelled.
func (m *MailboxSink) Drain(ctx context.Context) error {
	for {
		select {
		case fn := <-m.ch:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunPending executes everything currently queued without blocking and
// returns how many items ran.
func (m *MailboxSink) RunPending() int {
	n := 0
	for {
		select {
		case fn := <-m.ch:
			fn()
			n++
		default:
			return n
		}
	}
}

// PoolSink executes posted work on a fixed pool of background workers —
// the analog of the kernel background work queue.
type PoolSink struct {
	ch       chan func()
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPoolSink starts workers goroutines draining a queue of the given
// capacity. Call Stop to shut the pool down; queued work is discarded.
func NewPoolSink(workers, capacity int) *PoolSink {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 16
	}
	p := &PoolSink{
		ch:     make(chan func(), capacity),
		stopCh: make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for {
				select {
				case fn := <-p.ch:
					fn()
				case <-p.stopCh:
					return
				}
			}
		}()
	}
	return p
}

func (p *PoolSink) Post(fn func()) error {
	select {
	case p.ch <- fn:
		return nil
	default:
		return ErrSinkFull
	}
}

// Stop shuts the pool down and waits for in-flight work to finish.
func (p *PoolSink) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// TickerSink batches posted work and executes it FIFO on a fixed cadence —
// the analog of the timer-service work queue.
type TickerSink struct {
	mu       sync.Mutex
	queue    []func()
	max      int
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewTickerSink starts the delivery loop with the given cadence and queue
// bound.
func NewTickerSink(interval time.Duration, capacity int) *TickerSink {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	if capacity <= 0 {
		capacity = 16
	}
	t := &TickerSink{
		max:    capacity,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go t.run(interval)
	return t
}

func (t *TickerSink) Post(fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) >= t.max {
		return ErrSinkFull
	}
	t.queue = append(t.queue, fn)
	return nil
}

func (t *TickerSink) run(interval time.Duration) {
	defer close(t.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.flush()
		case <-t.stopCh:
			t.flush()
			return
		}
	}
}

func (t *TickerSink) flush() {
	t.mu.Lock()
	batch := t.queue
	t.queue = nil
	t.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
}

// Stop flushes remaining work and stops the delivery loop.
func (t *TickerSink) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	<-t.doneCh
}
