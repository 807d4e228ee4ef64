// internal/scheduler/reset_test.go
package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"summarybot/internal/common/logger"
	"summarybot/internal/entitlement"
	"summarybot/internal/quota"
)

type sweepCountingStore struct {
	entitlement.Store
	sweeps atomic.Int64
}

func (s *sweepCountingStore) SweepExpired(context.Context) (int64, error) {
	s.sweeps.Add(1)
	return 2, nil
}

func newSchedulerFixture(t *testing.T) (*ResetScheduler, *quota.RedisCache, *sweepCountingStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	loc, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)

	log := logger.NewTestLogger(t)
	cache := quota.NewRedisCache(rdb, loc, log)
	store := &sweepCountingStore{}

	s, err := NewResetScheduler(cache, store, loc, log)
	require.NoError(t, err)
	return s, cache, store
}

func TestResetScheduler_JobsRegistered(t *testing.T) {
	s, _, _ := newSchedulerFixture(t)
	assert.Len(t, s.cron.Entries(), 3)
}

func TestResetScheduler_DailySweep(t *testing.T) {
	s, cache, _ := newSchedulerFixture(t)
	ctx := context.Background()

	_, err := cache.CommitIncrement(ctx, 42, 100, 0)
	require.NoError(t, err)

	s.sweepDaily()

	counters, _, err := cache.Counters(ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, counters.Daily)
	// Monthly usage is untouched by the daily boundary.
	assert.Equal(t, 1, counters.Monthly)
}

func TestResetScheduler_MonthlySweep(t *testing.T) {
	s, cache, _ := newSchedulerFixture(t)
	ctx := context.Background()

	_, err := cache.CommitIncrement(ctx, 42, 100, 0)
	require.NoError(t, err)

	s.sweepMonthly()

	counters, _, err := cache.Counters(ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, counters.Monthly)
}

func TestResetScheduler_DemotionSweep(t *testing.T) {
	s, _, store := newSchedulerFixture(t)

	s.demoteExpired()
	assert.Equal(t, int64(1), store.sweeps.Load())
}
