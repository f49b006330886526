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
	"context"
	"errors"
	"fmt"
	"time"
)

// RedisEvaler abstracts the minimal surface we need from a Redis client.
// Implementations may wrap github.com/redis/go-redis/v9 (Cmdable.Eval) or
// any equivalent.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// RedisRecorder applies chunk entries idempotently using a Lua script:
// 1) SETNX chunk:<session>:<commit_id> 1
// 2) If set -> HINCRBY accel:session:<session> totals (chunks, samples)
//    and HSET the latest chunk timestamp
// 3) EXPIRE the marker (TTL) for leak protection
// If SETNX fails (already applied), the script returns 0 and changes
// nothing.
type RedisRecorder struct {
	client    RedisEvaler
	markerTTL time.Duration
}

// NewRedisRecorder returns a recorder with the given client and marker
// TTL. markerTTL guards against unbounded growth of commit markers; choose
// a duration comfortably larger than your maximum retry window.
func NewRedisRecorder(client RedisEvaler, markerTTL time.Duration) *RedisRecorder {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisRecorder{client: client, markerTTL: markerTTL}
}

// redisLuaScript performs the idempotent update. Returns 1 if applied, 0
// if already applied.
const redisLuaScript = `
local sessionKey = KEYS[1]
local markerKey = KEYS[2]
local count = tonumber(ARGV[1])
local tsMs = tonumber(ARGV[2])
local rateHz = tonumber(ARGV[3])
local ttlSeconds = tonumber(ARGV[4])
-- try to set the idempotency marker
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  redis.call('HINCRBY', sessionKey, 'chunks', 1)
  redis.call('HINCRBY', sessionKey, 'samples', count)
  redis.call('HSET', sessionKey, 'last_timestamp_ms', tsMs)
  redis.call('HSET', sessionKey, 'rate_hz', rateHz)
  redis.call('EXPIRE', markerKey, ttlSeconds)
  return 1
end
return 0
`

// RecordChunks applies each entry in order. The first error aborts the
// batch; already-applied entries before the failure stay applied (safe,
// because retrying the whole batch is a no-op for them).
func (r *RedisRecorder) RecordChunks(ctx context.Context, entries []ChunkEntry) error {
	if r.client == nil {
		return errors.New("recorder: nil redis client")
	}
	ttl := int64(r.markerTTL / time.Second)
	for _, e := range entries {
		if e.CommitID == "" {
			return fmt.Errorf("recorder: entry for session %d has empty CommitID", e.Session)
		}
		keys := []string{
			fmt.Sprintf("accel:session:%d", e.Session),
			fmt.Sprintf("accel:chunk:%d:%s", e.Session, e.CommitID),
		}
		if _, err := r.client.Eval(ctx, redisLuaScript, keys,
			e.Count, e.TimestampMS, e.SamplingRateHz, ttl); err != nil {
			return fmt.Errorf("recorder: redis eval for %s: %w", e.CommitID, err)
		}
	}
	return nil
}
