// Package scheduler runs the periodic maintenance jobs: counter sweeps at
// window boundaries and expired-premium demotion.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"summarybot/internal/common/logger"
	"summarybot/internal/common/metrics"
	"summarybot/internal/entitlement"
	"summarybot/internal/quota"
)

// Schedules in the business timezone. Counters already carry TTLs aligned to
// these boundaries; the sweeps run shortly after to catch TTL drift, so a
// missed sweep costs nothing but a late cleanup.
const (
	dailySweepSpec   = "5 0 * * *"
	monthlySweepSpec = "10 0 1 * *"
	demotionSpec     = "0 * * * *"
)

// ResetScheduler owns the cron runner.
type ResetScheduler struct {
	cron   *cron.Cron
	cache  *quota.RedisCache
	store  entitlement.Store
	logger logger.Logger
}

func NewResetScheduler(cache *quota.RedisCache, store entitlement.Store, loc *time.Location, log logger.Logger) (*ResetScheduler, error) {
	s := &ResetScheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		cache:  cache,
		store:  store,
		logger: log.WithFields(map[string]interface{}{"component": "reset-scheduler"}),
	}

	if _, err := s.cron.AddFunc(dailySweepSpec, s.sweepDaily); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(monthlySweepSpec, s.sweepMonthly); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(demotionSpec, s.demoteExpired); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ResetScheduler) Start() {
	s.cron.Start()
	s.logger.Info("reset scheduler started", map[string]interface{}{
		"daily":   dailySweepSpec,
		"monthly": monthlySweepSpec,
	})
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *ResetScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("reset scheduler stopped", nil)
}

func (s *ResetScheduler) sweepDaily() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := s.cache.SweepDaily(ctx)
	if err != nil {
		s.logger.Error("daily counter sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	metrics.CounterResets.WithLabelValues("daily").Inc()
	s.logger.Info("daily counters swept", map[string]interface{}{"deleted": deleted})
}

func (s *ResetScheduler) sweepMonthly() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := s.cache.SweepMonthly(ctx)
	if err != nil {
		s.logger.Error("monthly counter sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	metrics.CounterResets.WithLabelValues("monthly").Inc()
	s.logger.Info("monthly counters swept", map[string]interface{}{"deleted": deleted})
}

func (s *ResetScheduler) demoteExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	demoted, err := s.store.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("expired premium sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if demoted > 0 {
		s.logger.Info("demoted expired premium users", map[string]interface{}{"count": demoted})
	}
}
