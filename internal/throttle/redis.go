package throttle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/azure/mentions-autoreply-bot/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var redisThrottlePrefix = "throttle/"

// reserveScript prunes, checks and reserves in one server-side step.
//
// KEYS[1] sorted set of send times (ms), KEYS[2] last send time (ms)
// ARGV: now, hour cutoff, day cutoff, max_per_hour, max_per_day, cooldown, member, ttl.
// A negative limit means none.
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local maxHour = tonumber(ARGV[4])
local maxDay = tonumber(ARGV[5])
local cooldown = tonumber(ARGV[6])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[3])

if maxHour >= 0 then
	local hourly = redis.call('ZCOUNT', KEYS[1], '(' .. ARGV[2], '+inf')
	if hourly >= maxHour then
		return {0, 'hourly_limit'}
	end
end

if maxDay >= 0 then
	local daily = redis.call('ZCARD', KEYS[1])
	if daily >= maxDay then
		return {0, 'daily_limit'}
	end
end

if cooldown > 0 then
	local last = redis.call('GET', KEYS[2])
	if last and now - tonumber(last) < cooldown then
		return {0, 'cooldown'}
	end
end

redis.call('ZADD', KEYS[1], ARGV[1], ARGV[7])
redis.call('PEXPIRE', KEYS[1], ARGV[8])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[8])
return {1, ''}
`)

// RedisStore keeps throttle state in Redis so limits hold across restarts
// and across multiple bot instances.
type RedisStore struct {
	Client *redis.Client
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to redisURL and checks the connection
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{Client: rdb}, nil
}

func sendsKey(ruleID string) string { return redisThrottlePrefix + ruleID + "/sends" }
func lastKey(ruleID string) string  { return redisThrottlePrefix + ruleID + "/last" }

// CheckAndReserve runs the reserve script for the rule
func (s *RedisStore) CheckAndReserve(ctx context.Context, ruleID string, limits Limits, now time.Time) (Decision, error) {
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)
	member := nowMs + "-" + uuid.NewString()
	ttl := dayWindow
	if limits.Cooldown > ttl {
		ttl = limits.Cooldown
	}

	res, err := reserveScript.Run(ctx, s.Client,
		[]string{sendsKey(ruleID), lastKey(ruleID)},
		nowMs,
		strconv.FormatInt(now.Add(-hourWindow).UnixMilli(), 10),
		strconv.FormatInt(now.Add(-dayWindow).UnixMilli(), 10),
		scriptLimit(limits.MaxPerHour),
		scriptLimit(limits.MaxPerDay),
		strconv.FormatInt(limits.Cooldown.Milliseconds(), 10),
		member,
		strconv.FormatInt(ttl.Milliseconds(), 10),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("throttle reserve for rule %s: %w", ruleID, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("throttle reserve for rule %s: unexpected reply %v", ruleID, res)
	}

	allowed, _ := res[0].(int64)
	if allowed == 1 {
		return Decision{Allowed: true}, nil
	}
	reason, _ := res[1].(string)
	return Decision{Reason: Reason(reason)}, nil
}

// scriptLimit encodes an optional limit for the redis script, -1 meaning none
func scriptLimit(limit *int) string {
	if limit == nil {
		return "-1"
	}
	return strconv.Itoa(*limit)
}

// State reads the rule's send history without modifying it
func (s *RedisStore) State(ctx context.Context, ruleID string, now time.Time) (models.ThrottleState, error) {
	from := "(" + strconv.FormatInt(now.Add(-dayWindow).UnixMilli(), 10)
	scores, err := s.Client.ZRangeByScoreWithScores(ctx, sendsKey(ruleID), &redis.ZRangeBy{Min: from, Max: "+inf"}).Result()
	if err != nil {
		return models.ThrottleState{}, fmt.Errorf("failed to read throttle state for rule %s: %w", ruleID, err)
	}

	sends := make([]time.Time, 0, len(scores))
	for _, z := range scores {
		sends = append(sends, time.UnixMilli(int64(z.Score)).UTC())
	}

	var last time.Time
	ms, err := s.Client.Get(ctx, lastKey(ruleID)).Int64()
	if err != nil && err != redis.Nil {
		return models.ThrottleState{}, fmt.Errorf("failed to read last send for rule %s: %w", ruleID, err)
	} else if err == nil {
		last = time.UnixMilli(ms).UTC()
	}

	return stateFrom(ruleID, sends, last, now), nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.Client.Close()
}
