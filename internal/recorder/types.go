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

// Package recorder provides optional, idempotent durability for delivered
// accelerometer chunks. Delivery callbacks can be retried (sink hiccups,
// client re-reads), so every adapter keys writes on a per-chunk commit id:
// applying the same chunk twice is a no-op.
package recorder

import "context"

// ChunkEntry describes one delivered chunk.
//
// CommitID is the idempotency key: callers must generate it so a retried
// record of the same chunk reuses the same id. Session plus the chunk's
// oldest-sample timestamp is the usual choice — a session never delivers
// two different chunks with the same oldest timestamp.
type ChunkEntry struct {
	Session        uint64 `json:"session"`
	CommitID       string `json:"commit_id"`
	Count          int    `json:"count"`
	TimestampMS    uint64 `json:"timestamp_ms"`
	SamplingRateHz int    `json:"sampling_rate_hz"`
}

// ChunkRecorder is the minimal API every adapter supports. Implementations
// must apply each entry atomically with respect to its CommitID and must be
// safe to retry. RecordChunks must be bounded in latency; it runs off the
// delivery path but a stalled recorder still backs up its caller.
type ChunkRecorder interface {
	RecordChunks(ctx context.Context, entries []ChunkEntry) error
}
