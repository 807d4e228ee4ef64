// internal/quota/cache.go
package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"summarybot/internal/common/logger"
)

var (
	ErrVersionConflict  = errors.New("COMMIT_CONFLICT")
	ErrCacheUnavailable = errors.New("CACHE_UNAVAILABLE")
)

// Cache is the ephemeral quota cache. Entries carry their own expiry; a
// missing entry is valid zero usage, never an error. Losing the cache store
// is tolerated (users get a fresh window); admitting past the caps is not,
// which is why the commit is a conditional version check.
type Cache interface {
	Counters(ctx context.Context, userID int64) (Counters, int64, error)
	CommitIncrement(ctx context.Context, userID, groupID, expectedVersion int64) (Counters, error)
	Clear(ctx context.Context, userID int64) error
	StampNotification(ctx context.Context, userID int64, window time.Duration) (bool, error)
}

const (
	dailyKeyFmt   = "quota:daily:%d"
	monthlyKeyFmt = "quota:monthly:%d"
	groupsKeyFmt  = "quota:groups:%d"
	versionKeyFmt = "quota:ver:%d"
	notifyKeyFmt  = "quota:notify:%d"
)

// commitScript performs the whole counter commit in one Redis round trip:
// version compare, daily+monthly increments with their boundary expiries on
// first use, group registration, version bump. Redis executes scripts
// atomically, so two concurrent commits against the same version can never
// both succeed.
var commitScript = redis.NewScript(`
local ver = tonumber(redis.call('GET', KEYS[4]) or '0')
if ver ~= tonumber(ARGV[1]) then
  return {0, 0, 0, 0}
end
redis.call('INCR', KEYS[4])
redis.call('EXPIREAT', KEYS[4], tonumber(ARGV[3]))
local daily = redis.call('INCR', KEYS[1])
if daily == 1 then
  redis.call('EXPIREAT', KEYS[1], tonumber(ARGV[2]))
end
local monthly = redis.call('INCR', KEYS[2])
if monthly == 1 then
  redis.call('EXPIREAT', KEYS[2], tonumber(ARGV[3]))
end
redis.call('SADD', KEYS[3], ARGV[4])
redis.call('EXPIREAT', KEYS[3], tonumber(ARGV[3]))
return {1, daily, monthly, redis.call('SCARD', KEYS[3])}
`)

// RedisCache implements Cache on go-redis.
type RedisCache struct {
	rdb    *redis.Client
	loc    *time.Location
	logger logger.Logger
	now    func() time.Time
}

func NewRedisCache(rdb *redis.Client, loc *time.Location, log logger.Logger) *RedisCache {
	return &RedisCache{
		rdb:    rdb,
		loc:    loc,
		logger: log.WithFields(map[string]interface{}{"component": "quota-cache"}),
		now:    time.Now,
	}
}

func (c *RedisCache) Counters(ctx context.Context, userID int64) (Counters, int64, error) {
	pipe := c.rdb.Pipeline()
	dailyCmd := pipe.Get(ctx, fmt.Sprintf(dailyKeyFmt, userID))
	monthlyCmd := pipe.Get(ctx, fmt.Sprintf(monthlyKeyFmt, userID))
	groupsCmd := pipe.SMembers(ctx, fmt.Sprintf(groupsKeyFmt, userID))
	versionCmd := pipe.Get(ctx, fmt.Sprintf(versionKeyFmt, userID))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Counters{}, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	counters := NewCounters()
	var err error

	if counters.Daily, err = intResult(dailyCmd); err != nil {
		return Counters{}, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if counters.Monthly, err = intResult(monthlyCmd); err != nil {
		return Counters{}, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	members, err := groupsCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Counters{}, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	for _, m := range members {
		id, parseErr := strconv.ParseInt(m, 10, 64)
		if parseErr != nil {
			continue
		}
		counters.Groups[id] = struct{}{}
	}

	version, err := intResult(versionCmd)
	if err != nil {
		return Counters{}, 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	return counters, int64(version), nil
}

func (c *RedisCache) CommitIncrement(ctx context.Context, userID, groupID, expectedVersion int64) (Counters, error) {
	now := c.now()
	keys := []string{
		fmt.Sprintf(dailyKeyFmt, userID),
		fmt.Sprintf(monthlyKeyFmt, userID),
		fmt.Sprintf(groupsKeyFmt, userID),
		fmt.Sprintf(versionKeyFmt, userID),
	}
	args := []interface{}{
		expectedVersion,
		NextDailyReset(now, c.loc).Unix(),
		NextMonthlyReset(now, c.loc).Unix(),
		groupID,
	}

	raw, err := commitScript.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil {
		return Counters{}, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 4 {
		return Counters{}, fmt.Errorf("%w: unexpected script reply %v", ErrCacheUnavailable, raw)
	}
	if asInt64(reply[0]) != 1 {
		return Counters{}, ErrVersionConflict
	}

	counters := NewCounters()
	counters.Daily = int(asInt64(reply[1]))
	counters.Monthly = int(asInt64(reply[2]))
	// The committed group set is not re-read here; callers that need the
	// members use Counters. The cardinality is enough for logging.
	_ = asInt64(reply[3])
	counters.Groups[groupID] = struct{}{}

	return counters, nil
}

func (c *RedisCache) Clear(ctx context.Context, userID int64) error {
	err := c.rdb.Del(ctx,
		fmt.Sprintf(dailyKeyFmt, userID),
		fmt.Sprintf(monthlyKeyFmt, userID),
		fmt.Sprintf(groupsKeyFmt, userID),
		fmt.Sprintf(versionKeyFmt, userID),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	c.logger.Info("cleared quota counters", map[string]interface{}{"userId": userID})
	return nil
}

// StampNotification is a single atomic check-and-set: it returns true exactly
// once per throttle window regardless of concurrent callers.
func (c *RedisCache) StampNotification(ctx context.Context, userID int64, window time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf(notifyKeyFmt, userID), 1, window).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return ok, nil
}

// SweepDaily deletes every daily counter. Used by the reset scheduler; the
// per-key TTLs cover the same boundary, the sweep covers TTL drift.
func (c *RedisCache) SweepDaily(ctx context.Context) (int, error) {
	return c.sweep(ctx, "quota:daily:*")
}

// SweepMonthly deletes every monthly counter.
func (c *RedisCache) SweepMonthly(ctx context.Context) (int, error) {
	return c.sweep(ctx, "quota:monthly:*")
}

func (c *RedisCache) sweep(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return deleted, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func intResult(cmd *redis.StringCmd) (int, error) {
	val, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		parsed, _ := strconv.ParseInt(n, 10, 64)
		return parsed
	default:
		return 0
	}
}
