package capacity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/lead-router/internal/domain"
	"github.com/ignite/lead-router/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix = "leadrouter:cap:"
	heldKey     = "leadrouter:cap:held"
)

// reserveScript checks every window and only increments if ALL pass.
//
// KEYS[1..n]   window counters
// KEYS[n+1]    reservation hash
// KEYS[n+2]    held zset (score = deadline ms)
// ARGV[1]      n
// ARGV[2..n+1] caps
// ARGV[n+2..2n+1] counter TTL seconds (0 = no expiry)
// ARGV[2n+2..] id, deadline, route, lead, counter keys, hash TTL
var reserveScript = redis.NewScript(`
local n = tonumber(ARGV[1])
for i = 1, n do
    local cur = tonumber(redis.call("GET", KEYS[i]) or "0")
    if cur + 1 > tonumber(ARGV[1 + i]) then
        return {0, i}
    end
end

local result = {1}
for i = 1, n do
    local v = redis.call("INCR", KEYS[i])
    local ttl = tonumber(ARGV[1 + n + i])
    if ttl > 0 and redis.call("TTL", KEYS[i]) < 0 then
        redis.call("EXPIRE", KEYS[i], ARGV[1 + n + i])
    end
    result[i + 1] = v
end

local b = 2 * n + 1
redis.call("HSET", KEYS[n + 1], "state", "HELD", "route", ARGV[b + 3], "lead", ARGV[b + 4], "keys", ARGV[b + 5])
redis.call("EXPIRE", KEYS[n + 1], ARGV[b + 6])
redis.call("ZADD", KEYS[n + 2], ARGV[b + 2], ARGV[b + 1])
return result
`)

// releaseScript decrements the counters of a HELD reservation.
//
// KEYS[1] reservation hash, KEYS[2] held zset, KEYS[3..] counters
// ARGV[1] reservation id
var releaseScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "state") ~= "HELD" then
    return 0
end
for i = 3, #KEYS do
    local v = redis.call("DECR", KEYS[i])
    if v <= 0 then
        redis.call("DEL", KEYS[i])
    end
end
redis.call("HSET", KEYS[1], "state", "RELEASED")
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)

// commitScript finalizes a HELD reservation.
var commitScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "state") ~= "HELD" then
    return 0
end
redis.call("HSET", KEYS[1], "state", "COMMITTED")
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`)

// extendScript moves the deadline of a HELD reservation.
var extendScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "state") ~= "HELD" then
    return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// RedisTracker shares route capacity across processes through Redis.
// Every multi-key mutation runs as a single Lua script.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisTracker creates a Redis-backed tracker.
func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{client: client, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source. Used by tests.
func (r *RedisTracker) WithClock(now func() time.Time) *RedisTracker {
	r.now = now
	return r
}

func counterRedisKey(routeID string, w domain.Window, bucket string) string {
	return redisPrefix + routeID + ":" + string(w) + ":" + bucket
}

func reservationKey(id string) string {
	return redisPrefix + "res:" + id
}

// counterTTL keeps a bucket one extra span so late releases still find it.
func counterTTL(w domain.Window) int64 {
	return int64((2 * w.Span()).Seconds())
}

// Reserve implements Tracker.
func (r *RedisTracker) Reserve(ctx context.Context, route domain.Route, leadID string) (*domain.Reservation, error) {
	now := r.now()
	windows := snapshotWindows(route, now)
	id := uuid.New().String()
	deadline := now.Add(r.ttl)

	n := len(windows)
	keys := make([]string, 0, n+2)
	counters := make([]string, 0, n)
	args := make([]interface{}, 0, 2*n+7)
	args = append(args, n)
	for _, w := range windows {
		k := counterRedisKey(route.ID, w.Window, w.Bucket)
		keys = append(keys, k)
		counters = append(counters, k)
		args = append(args, w.Cap)
	}
	for _, w := range windows {
		args = append(args, counterTTL(w.Window))
	}
	keys = append(keys, reservationKey(id), heldKey)
	args = append(args,
		id,
		deadline.UnixMilli(),
		route.ID,
		leadID,
		strings.Join(counters, ","),
		int64((r.ttl + 24*time.Hour).Seconds()),
	)

	result, err := reserveScript.Run(ctx, r.client, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("reserve script failed: %w", err)
	}
	if len(result) < 1 || toInt64(result[0]) != 1 {
		idx := 1
		if len(result) > 1 {
			idx = int(toInt64(result[1]))
		}
		w := windows[idx-1]
		return nil, exceeded(route.ID, w.Window, w.Cap)
	}
	for i := range windows {
		if i+1 < len(result) {
			windows[i].Count = toInt64(result[i+1])
		}
	}

	return &domain.Reservation{
		ID:        id,
		RouteID:   route.ID,
		LeadID:    leadID,
		Windows:   windows,
		State:     domain.ReservationHeld,
		CreatedAt: now,
		ExpiresAt: deadline,
	}, nil
}

// Commit implements Tracker.
func (r *RedisTracker) Commit(ctx context.Context, res *domain.Reservation) error {
	ok, err := commitScript.Run(ctx, r.client, []string{reservationKey(res.ID), heldKey}, res.ID).Int()
	if err != nil {
		return fmt.Errorf("commit script failed: %w", err)
	}
	if ok != 1 {
		return fmt.Errorf("%w: %s", ErrReservationNotHeld, res.ID)
	}
	res.State = domain.ReservationCommitted
	return nil
}

// Release implements Tracker.
func (r *RedisTracker) Release(ctx context.Context, res *domain.Reservation) error {
	counters := make([]string, 0, len(res.Windows))
	for _, w := range res.Windows {
		counters = append(counters, counterRedisKey(res.RouteID, w.Window, w.Bucket))
	}
	if err := r.release(ctx, res.ID, counters); err != nil {
		return err
	}
	res.State = domain.ReservationReleased
	return nil
}

func (r *RedisTracker) release(ctx context.Context, id string, counters []string) error {
	keys := append([]string{reservationKey(id), heldKey}, counters...)
	ok, err := releaseScript.Run(ctx, r.client, keys, id).Int()
	if err != nil {
		return fmt.Errorf("release script failed: %w", err)
	}
	if ok != 1 {
		return fmt.Errorf("%w: %s", ErrReservationNotHeld, id)
	}
	return nil
}

// Extend implements Tracker.
func (r *RedisTracker) Extend(ctx context.Context, res *domain.Reservation) error {
	deadline := r.now().Add(r.ttl)
	ok, err := extendScript.Run(ctx, r.client, []string{reservationKey(res.ID), heldKey}, res.ID, deadline.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("extend script failed: %w", err)
	}
	if ok != 1 {
		return fmt.Errorf("%w: %s", ErrReservationNotHeld, res.ID)
	}
	res.ExpiresAt = deadline
	return nil
}

// Usage implements Tracker.
func (r *RedisTracker) Usage(ctx context.Context, route domain.Route) ([]domain.WindowSnapshot, error) {
	windows := snapshotWindows(route, r.now())
	if len(windows) == 0 {
		return windows, nil
	}
	keys := make([]string, len(windows))
	for i, w := range windows {
		keys[i] = counterRedisKey(route.ID, w.Window, w.Bucket)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			windows[i].Count, _ = strconv.ParseInt(s, 10, 64)
		}
	}
	return windows, nil
}

// ReapExpired implements Tracker.
func (r *RedisTracker) ReapExpired(ctx context.Context) (int, error) {
	ids, err := r.client.ZRangeByScore(ctx, heldKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(r.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list expired reservations: %w", err)
	}

	reaped := 0
	for _, id := range ids {
		raw, err := r.client.HGet(ctx, reservationKey(id), "keys").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return reaped, fmt.Errorf("failed to load reservation %s: %w", id, err)
		}
		var counters []string
		if raw != "" {
			counters = strings.Split(raw, ",")
		}
		if err := r.release(ctx, id, counters); err != nil {
			if errors.Is(err, ErrReservationNotHeld) {
				r.client.ZRem(ctx, heldKey, id)
				continue
			}
			logger.Warn("reservation reap failed", "reservation_id", id, "error", err)
			continue
		}
		reaped++
	}
	return reaped, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
