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
	"sync/atomic"
	"testing"
	"time"
)

func TestInlineSink_RunsSynchronously(t *testing.T) {
	ran := false
	if err := (InlineSink{}).Post(func() { ran = true }); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("posted work did not run before Post returned")
	}
}

func TestMailboxSink_FIFOAndBackpressure(t *testing.T) {
	box := NewMailboxSink(2)
	var order []int
	if err := box.Post(func() { order = append(order, 1) }); err != nil {
		t.Fatal(err)
	}
	if err := box.Post(func() { order = append(order, 2) }); err != nil {
		t.Fatal(err)
	}
	if err := box.Post(func() { order = append(order, 3) }); !errors.Is(err, ErrSinkFull) {
		t.Fatalf("overfull post: err = %v, want ErrSinkFull", err)
	}

	if n := box.RunPending(); n != 2 {
		t.Fatalf("RunPending ran %d items, want 2", n)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %v, want [1 2]", order)
	}
	// The rejected item must not appear later.
	if n := box.RunPending(); n != 0 {
		t.Fatalf("second RunPending ran %d items, want 0", n)
	}
}

func TestPoolSink_ExecutesOnWorkers(t *testing.T) {
	pool := NewPoolSink(4, 32)
	defer pool.Stop()

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		if err := pool.Post(func() {
			ran.Add(1)
			wg.Done()
		}); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}
	wg.Wait()
	if ran.Load() != 20 {
		t.Fatalf("ran = %d, want 20", ran.Load())
	}
}

func TestTickerSink_FlushesOnCadenceAndStop(t *testing.T) {
	tick := NewTickerSink(5*time.Millisecond, 16)

	done := make(chan struct{})
	if err := tick.Post(func() { close(done) }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("posted work never ran on the cadence")
	}

	// Work still queued at Stop is flushed, not dropped.
	ran := false
	if err := tick.Post(func() { ran = true }); err != nil {
		t.Fatal(err)
	}
	tick.Stop()
	if !ran {
		t.Fatal("Stop dropped queued work")
	}
}

func TestTickerSink_BoundsQueue(t *testing.T) {
	tick := NewTickerSink(time.Hour, 2) // cadence too slow to drain
	defer tick.Stop()
	if err := tick.Post(func() {}); err != nil {
		t.Fatal(err)
	}
	if err := tick.Post(func() {}); err != nil {
		t.Fatal(err)
	}
	if err := tick.Post(func() {}); !errors.Is(err, ErrSinkFull) {
		t.Fatalf("overfull post: err = %v, want ErrSinkFull", err)
	}
}
