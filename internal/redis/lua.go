package redis

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Buffered aggregation state for one (user, scene, day) lives in a
// single hash so every transition is one EVAL:
//
//	base_total, base_last_sync      last totals confirmed in the DB
//	pending_delta, pending_max_sync accepted but not yet reserved
//	inflight_delta, inflight_max_sync, inflight_since
//	                                reserved by a flusher, awaiting
//	                                commit or rollback
//
// Keys with pending or inflight state are members of the dirty zset,
// scored by their most recent write, so the flusher drains keys whose
// writes have paused for a debounce window, oldest first.
const (
	aggKeyPrefix = "rf:play:daily:"
	dirtySetKey  = "rf:play:daily:dirty"
)

// seedBaseScript installs the DB totals as the base watermark, only if
// the hash has no base yet. Losing this race to a concurrent seeder is
// fine, first writer wins.
var seedBaseScript = redis.NewScript(`
	local key = KEYS[1]
	local total = tonumber(ARGV[1])
	local last_sync = tonumber(ARGV[2])
	local ttl_ms = tonumber(ARGV[3])

	if redis.call('HEXISTS', key, 'base_total') == 0 then
		redis.call('HSET', key, 'base_total', total, 'base_last_sync', last_sync)
	end
	redis.call('PEXPIRE', key, ttl_ms)
	return 1
`)

// recordScript folds one report into the pending bucket. The report
// counts when its sync time is above the confirmed base watermark;
// events already behind the base add zero but still refresh the TTL
// and the dirty marker. The dirty score is always set to now so a hot
// key keeps batching until writes pause for a debounce window.
var recordScript = redis.NewScript(`
	local key = KEYS[1]
	local dirty = KEYS[2]
	local duration = tonumber(ARGV[1])
	local sync_time = tonumber(ARGV[2])
	local now_ms = tonumber(ARGV[3])
	local ttl_ms = tonumber(ARGV[4])

	local base_last = tonumber(redis.call('HGET', key, 'base_last_sync') or '0')

	local added = 0
	if sync_time > base_last then
		redis.call('HINCRBY', key, 'pending_delta', duration)
		local pending_max = tonumber(redis.call('HGET', key, 'pending_max_sync') or '0')
		if sync_time > pending_max then
			redis.call('HSET', key, 'pending_max_sync', sync_time)
		end
		added = duration
	end

	redis.call('ZADD', dirty, now_ms, key)
	redis.call('PEXPIRE', key, ttl_ms)

	local base_total = tonumber(redis.call('HGET', key, 'base_total') or '0')
	local pending = tonumber(redis.call('HGET', key, 'pending_delta') or '0')
	local inflight = tonumber(redis.call('HGET', key, 'inflight_delta') or '0')
	return {base_total + pending + inflight, added}
`)

// reserveScript moves the pending bucket into inflight for one
// flusher. A stale inflight (flusher died mid-flush) is folded back
// into pending first; a live inflight means someone else holds the
// reservation and the caller backs off.
var reserveScript = redis.NewScript(`
	local key = KEYS[1]
	local dirty = KEYS[2]
	local now_ms = tonumber(ARGV[1])
	local timeout_ms = tonumber(ARGV[2])

	local inflight_since = redis.call('HGET', key, 'inflight_since')
	if inflight_since then
		if now_ms - tonumber(inflight_since) > timeout_ms then
			local stale = tonumber(redis.call('HGET', key, 'inflight_delta') or '0')
			local stale_max = tonumber(redis.call('HGET', key, 'inflight_max_sync') or '0')
			redis.call('HINCRBY', key, 'pending_delta', stale)
			local pending_max = tonumber(redis.call('HGET', key, 'pending_max_sync') or '0')
			if stale_max > pending_max then
				redis.call('HSET', key, 'pending_max_sync', stale_max)
			end
			redis.call('HDEL', key, 'inflight_delta', 'inflight_max_sync', 'inflight_since')
		else
			return {0, 0}
		end
	end

	local pending = tonumber(redis.call('HGET', key, 'pending_delta') or '0')
	if pending <= 0 then
		redis.call('ZREM', dirty, key)
		return {0, 0}
	end

	local pending_max = tonumber(redis.call('HGET', key, 'pending_max_sync') or '0')
	redis.call('HSET', key, 'inflight_delta', pending, 'inflight_max_sync', pending_max, 'inflight_since', now_ms)
	redis.call('HDEL', key, 'pending_delta', 'pending_max_sync')
	return {pending, pending_max}
`)

// commitScript lands the DB outcome: base becomes the canonical totals
// the flush transaction produced, inflight is gone. The key leaves the
// dirty set only when nothing new arrived during the flush.
var commitScript = redis.NewScript(`
	local key = KEYS[1]
	local dirty = KEYS[2]
	local total = tonumber(ARGV[1])
	local last_sync = tonumber(ARGV[2])

	redis.call('HSET', key, 'base_total', total, 'base_last_sync', last_sync)
	redis.call('HDEL', key, 'inflight_delta', 'inflight_max_sync', 'inflight_since')

	local pending = tonumber(redis.call('HGET', key, 'pending_delta') or '0')
	if pending <= 0 then
		redis.call('ZREM', dirty, key)
	end
	return 1
`)

// rollbackScript returns an inflight reservation to pending after a
// failed flush so no accepted duration is ever dropped.
var rollbackScript = redis.NewScript(`
	local key = KEYS[1]
	local dirty = KEYS[2]
	local now_ms = tonumber(ARGV[1])

	local inflight = tonumber(redis.call('HGET', key, 'inflight_delta') or '0')
	local inflight_max = tonumber(redis.call('HGET', key, 'inflight_max_sync') or '0')

	if inflight > 0 then
		redis.call('HINCRBY', key, 'pending_delta', inflight)
		local pending_max = tonumber(redis.call('HGET', key, 'pending_max_sync') or '0')
		if inflight_max > pending_max then
			redis.call('HSET', key, 'pending_max_sync', inflight_max)
		end
	end
	redis.call('HDEL', key, 'inflight_delta', 'inflight_max_sync', 'inflight_since')
	redis.call('ZADD', dirty, now_ms, key)
	return 1
`)

// AggBuffer wraps the buffered aggregation scripts.
type AggBuffer struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAggBuffer creates an AggBuffer on the given client. ttl bounds how
// long an idle hash survives; it must comfortably exceed the flush
// interval.
func NewAggBuffer(client *redis.Client, ttl time.Duration) *AggBuffer {
	return &AggBuffer{client: client, ttl: ttl}
}

// KeyFor builds the buffer key for one (scene, day, user). Scene and
// user are base64url-encoded so arbitrary IDs cannot break the key
// structure.
func KeyFor(bizScene, bizDate, userID string) string {
	return aggKeyPrefix +
		base64.RawURLEncoding.EncodeToString([]byte(bizScene)) + ":" +
		bizDate + ":" +
		base64.RawURLEncoding.EncodeToString([]byte(userID))
}

// ParseKey recovers (scene, day, user) from a buffer key.
func ParseKey(key string) (bizScene, bizDate, userID string, err error) {
	if !strings.HasPrefix(key, aggKeyPrefix) {
		return "", "", "", fmt.Errorf("not an agg buffer key: %s", key)
	}
	parts := strings.Split(strings.TrimPrefix(key, aggKeyPrefix), ":")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed agg buffer key: %s", key)
	}
	sceneBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", "", "", fmt.Errorf("bad scene segment in %s: %w", key, err)
	}
	userBytes, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", "", "", fmt.Errorf("bad user segment in %s: %w", key, err)
	}
	return string(sceneBytes), parts[1], string(userBytes), nil
}

// SeedBase installs the DB totals as the base watermark if the hash is
// fresh.
func (b *AggBuffer) SeedBase(ctx context.Context, key string, total, lastSync int64) error {
	return seedBaseScript.Run(ctx, b.client, []string{key},
		total, lastSync, b.ttl.Milliseconds()).Err()
}

// Record folds one report into the buffer. Returns the best-effort
// running total and the delta that actually counted, zero when the
// report was behind the confirmed watermark.
func (b *AggBuffer) Record(ctx context.Context, key string, duration int, syncTime, nowMs int64) (total, added int64, err error) {
	res, err := recordScript.Run(ctx, b.client, []string{key, dirtySetKey},
		duration, syncTime, nowMs, b.ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("record script returned %d values", len(res))
	}
	return res[0], res[1], nil
}

// Reserve claims the pending bucket for a flush. delta == 0 means
// nothing to do (either clean or another flusher holds it).
func (b *AggBuffer) Reserve(ctx context.Context, key string, nowMs, inflightTimeoutMs int64) (delta, maxSync int64, err error) {
	res, err := reserveScript.Run(ctx, b.client, []string{key, dirtySetKey},
		nowMs, inflightTimeoutMs).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("reserve script returned %d values", len(res))
	}
	return res[0], res[1], nil
}

// Commit lands the canonical totals after a successful DB flush.
func (b *AggBuffer) Commit(ctx context.Context, key string, total, lastSync int64) error {
	return commitScript.Run(ctx, b.client, []string{key, dirtySetKey},
		total, lastSync).Err()
}

// Rollback returns the inflight reservation to pending after a failed
// DB flush.
func (b *AggBuffer) Rollback(ctx context.Context, key string, nowMs int64) error {
	return rollbackScript.Run(ctx, b.client, []string{key, dirtySetKey},
		nowMs).Err()
}

// DirtyBatch returns up to limit of the oldest dirty keys whose score
// is at most maxScore. Keys written more recently stay in the set and
// keep accumulating until they age past the debounce.
func (b *AggBuffer) DirtyBatch(ctx context.Context, maxScore int64, limit int) ([]string, error) {
	return b.client.ZRangeByScore(ctx, dirtySetKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(maxScore, 10),
		Count: int64(limit),
	}).Result()
}

// HasResidue reports whether the hash still carries unflushed pending
// or inflight duration. The router keeps a user on the buffered path
// while this is true.
func (b *AggBuffer) HasResidue(ctx context.Context, key string) (bool, error) {
	vals, err := b.client.HMGet(ctx, key, "pending_delta", "inflight_delta").Result()
	if err != nil {
		return false, err
	}
	for _, v := range vals {
		if s, ok := v.(string); ok && s != "" && s != "0" {
			return true, nil
		}
	}
	return false, nil
}

// Totals returns the best-effort running total without mutating state.
func (b *AggBuffer) Totals(ctx context.Context, key string) (int64, error) {
	vals, err := b.client.HMGet(ctx, key, "base_total", "pending_delta", "inflight_delta").Result()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			var n int64
			if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
				total += n
			}
		}
	}
	return total, nil
}

// Exists reports whether the buffer hash is present at all.
func (b *AggBuffer) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	return n > 0, err
}
