// internal/quota/cache_test.go
package quota

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"summarybot/internal/common/logger"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cache := NewRedisCache(rdb, time.UTC, logger.NewTestLogger(t))
	return cache, mr
}

func TestRedisCache_CountersEmpty(t *testing.T) {
	cache, _ := newTestCache(t)

	counters, version, err := cache.Counters(context.Background(), 42)
	require.NoError(t, err)
	assert.Zero(t, counters.Daily)
	assert.Zero(t, counters.Monthly)
	assert.Zero(t, counters.GroupCount())
	assert.Zero(t, version)
}

func TestRedisCache_CommitIncrement(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	committed, err := cache.CommitIncrement(ctx, 42, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, committed.Daily)
	assert.Equal(t, 1, committed.Monthly)
	assert.True(t, committed.InGroup(100))

	counters, version, err := cache.Counters(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Daily)
	assert.Equal(t, 1, counters.Monthly)
	assert.True(t, counters.InGroup(100))
	assert.Equal(t, int64(1), version)

	// Counter keys expire on their own at the window boundary.
	assert.Greater(t, mr.TTL(fmt.Sprintf(dailyKeyFmt, int64(42))), time.Duration(0))
	assert.Greater(t, mr.TTL(fmt.Sprintf(monthlyKeyFmt, int64(42))), time.Duration(0))
	assert.Greater(t, mr.TTL(fmt.Sprintf(groupsKeyFmt, int64(42))), time.Duration(0))
}

func TestRedisCache_CommitIncrement_StaleVersion(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, err := cache.CommitIncrement(ctx, 42, 100, 0)
	require.NoError(t, err)

	// A second commit against the already-consumed version loses.
	_, err = cache.CommitIncrement(ctx, 42, 100, 0)
	assert.ErrorIs(t, err, ErrVersionConflict)

	// With the fresh version it goes through.
	committed, err := cache.CommitIncrement(ctx, 42, 100, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, committed.Daily)
}

func TestRedisCache_CommitIncrement_GroupSetGrows(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	for i, group := range []int64{100, 200, 100} {
		_, err := cache.CommitIncrement(ctx, 42, group, int64(i))
		require.NoError(t, err)
	}

	counters, _, err := cache.Counters(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, counters.Daily)
	assert.Equal(t, 2, counters.GroupCount())
}

func TestRedisCache_Clear(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	_, err := cache.CommitIncrement(ctx, 42, 100, 0)
	require.NoError(t, err)

	require.NoError(t, cache.Clear(ctx, 42))

	assert.False(t, mr.Exists(fmt.Sprintf(dailyKeyFmt, int64(42))))
	counters, version, err := cache.Counters(ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, counters.Daily)
	assert.Zero(t, version)
}

func TestRedisCache_StampNotification(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	window := 15 * time.Minute

	first, err := cache.StampNotification(ctx, 42, window)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := cache.StampNotification(ctx, 42, window)
	require.NoError(t, err)
	assert.False(t, second)

	mr.FastForward(window + time.Second)

	third, err := cache.StampNotification(ctx, 42, window)
	require.NoError(t, err)
	assert.True(t, third)
}

func TestRedisCache_Sweeps(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	for userID := int64(1); userID <= 5; userID++ {
		_, err := cache.CommitIncrement(ctx, userID, 100, 0)
		require.NoError(t, err)
	}

	deleted, err := cache.SweepDaily(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)
	assert.False(t, mr.Exists(fmt.Sprintf(dailyKeyFmt, int64(1))))
	// Monthly counters survive the daily sweep.
	assert.True(t, mr.Exists(fmt.Sprintf(monthlyKeyFmt, int64(1))))

	deleted, err = cache.SweepMonthly(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)
	assert.False(t, mr.Exists(fmt.Sprintf(monthlyKeyFmt, int64(1))))
}

func TestRedisCache_CountersUnavailable(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()

	_, _, err := cache.Counters(context.Background(), 42)
	assert.ErrorIs(t, err, ErrCacheUnavailable)
}

func TestRedisCache_ClearUnavailable(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisCache(db, time.UTC, logger.NewTestLogger(t))

	mock.ExpectDel(
		fmt.Sprintf(dailyKeyFmt, int64(42)),
		fmt.Sprintf(monthlyKeyFmt, int64(42)),
		fmt.Sprintf(groupsKeyFmt, int64(42)),
		fmt.Sprintf(versionKeyFmt, int64(42)),
	).SetErr(errors.New("connection refused"))

	assert.ErrorIs(t, cache.Clear(context.Background(), 42), ErrCacheUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_StampNotificationUnavailable(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisCache(db, time.UTC, logger.NewTestLogger(t))

	mock.ExpectSetNX(fmt.Sprintf(notifyKeyFmt, int64(42)), 1, 15*time.Minute).
		SetErr(errors.New("connection refused"))

	_, err := cache.StampNotification(context.Background(), 42, 15*time.Minute)
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
