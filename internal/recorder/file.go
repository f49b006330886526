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

package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// FileRecorder is a buffered JSONL sink for chunk entries. It is safe for
// concurrent use and optimized for append-only workloads. Idempotency is
// the reader's concern here (entries carry their CommitID); the file is a
// log, not a materialized view.
type FileRecorder struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string

	lastFlush time.Time
}

// NewFileRecorder opens (or creates) the file at path in append mode with
// a buffered writer. Call Close when done.
func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileRecorder{
		f:         f,
		w:         bufio.NewWriterSize(f, 1<<16),
		path:      path,
		lastFlush: time.Now(),
	}, nil
}

// RecordChunks writes the entries as JSON lines. The buffer is flushed at
// most once per second to keep the delivery path cheap.
func (r *FileRecorder) RecordChunks(ctx context.Context, entries []ChunkEntry) error {
	if len(entries) == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	enc := json.NewEncoder(r.w)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return err
		}
	}
	if time.Since(r.lastFlush) >= time.Second {
		if err := r.w.Flush(); err != nil {
			return err
		}
		r.lastFlush = time.Now()
	}
	return nil
}

// Close flushes buffered entries and closes the file.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}
