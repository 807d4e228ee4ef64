// internal/enforcement/pipeline.go
package enforcement

import (
	"context"
	"errors"
	"time"

	"summarybot/internal/analytics"
	"summarybot/internal/common/alert"
	commonerrors "summarybot/internal/common/errors"
	"summarybot/internal/common/logger"
	"summarybot/internal/common/metrics"
	"summarybot/internal/common/observability"
	"summarybot/internal/entitlement"
	"summarybot/internal/quota"
)

// ReasonUnavailable marks a denial produced by the fail-safe path rather than
// quota exhaustion. Callers treat it like any other denial; the distinction
// exists for logging and alerting only.
const ReasonUnavailable quota.DenyReason = "unavailable"

// Result is the only thing callers see: proceed, or denied with a reason.
// Infrastructure failures never surface here raw; they resolve to a denial.
type Result struct {
	Proceed bool
	Reason  quota.DenyReason
}

// Summary is the read-only usage view exposed for display.
type Summary struct {
	Tier             entitlement.Tier
	PremiumExpiresAt *time.Time
	DailyUsed        int
	DailyLimit       int
	MonthlyUsed      int
	MonthlyLimit     int
	GroupsUsed       int
	GroupsLimit      int
}

// Config holds the enforcement tunables.
type Config struct {
	Limits         quota.Limits
	StoreTimeout   time.Duration
	CommitAttempts int
}

// Pipeline orchestrates the quota evaluator against live action requests.
// Handles are injected at construction so tests can substitute doubles.
type Pipeline struct {
	store    entitlement.Store
	cache    quota.Cache
	notifier *Notifier
	alerts   alert.Alerter
	obs      *observability.Observability
	audit    analytics.Recorder
	cfg      Config
	logger   logger.Logger
	now      func() time.Time
}

func NewPipeline(
	store entitlement.Store,
	cache quota.Cache,
	notifier *Notifier,
	alerts alert.Alerter,
	obs *observability.Observability,
	audit analytics.Recorder,
	cfg Config,
	log logger.Logger,
) *Pipeline {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 50 * time.Millisecond
	}
	if cfg.CommitAttempts <= 0 {
		cfg.CommitAttempts = 3
	}
	return &Pipeline{
		store:    store,
		cache:    cache,
		notifier: notifier,
		alerts:   alerts,
		obs:      obs,
		audit:    audit,
		cfg:      cfg,
		logger:   log.WithFields(map[string]interface{}{"component": "enforcement"}),
		now:      time.Now,
	}
}

// Enforce decides whether userID may perform an action in groupID and, when
// allowed, consumes one quota slot atomically.
func (p *Pipeline) Enforce(ctx context.Context, userID, groupID int64) Result {
	start := p.now()
	res := p.enforce(ctx, userID, groupID)

	outcome := "proceed"
	if !res.Proceed {
		outcome = "denied"
	}
	metrics.EnforcementDecisions.WithLabelValues(outcome, string(res.Reason)).Inc()
	metrics.EnforcementDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if p.obs != nil {
		p.obs.RecordDecision(ctx, outcome)
		p.obs.RecordDecisionDuration(ctx, time.Since(start), outcome)
	}
	return res
}

func (p *Pipeline) enforce(ctx context.Context, userID, groupID int64) Result {
	entCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	ent, err := p.store.GetOrCreate(entCtx, userID)
	cancel()
	if err != nil {
		return p.failSafeDeny(ctx, userID, "entitlement", err)
	}

	now := p.now()
	if ent.PremiumActive(now) {
		return Result{Proceed: true}
	}
	if ent.StaleExpiry(now) {
		// Lazy demotion: this call is already treated as free, the durable
		// record is corrected off the hot path.
		stale := commonerrors.NewStaleExpiryObservedError(userID, derefTime(ent.PremiumExpiresAt))
		p.logger.Warn(stale.Message, map[string]interface{}{
			"userId":  userID,
			"details": stale.Details,
		})
		go p.correctExpired(userID)
	}

	for attempt := 0; attempt < p.cfg.CommitAttempts; attempt++ {
		readCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
		counters, version, err := p.cache.Counters(readCtx, userID)
		cancel()
		if err != nil {
			return p.failSafeDeny(ctx, userID, "quota-cache", err)
		}

		decision := quota.Evaluate(entitlement.TierFree, p.cfg.Limits, counters, groupID)
		if !decision.Allowed {
			p.notifier.NotifyIfDue(ctx, userID)
			p.recordAudit(userID, groupID, "quota_denied", string(decision.Reason))
			return Result{Reason: decision.Reason}
		}

		commitCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
		_, err = p.cache.CommitIncrement(commitCtx, userID, groupID, version)
		cancel()
		if err == nil {
			return Result{Proceed: true}
		}
		if errors.Is(err, quota.ErrVersionConflict) {
			metrics.CommitConflicts.Inc()
			p.logger.Debug("counter commit conflict, re-evaluating", map[string]interface{}{
				"userId":  userID,
				"attempt": attempt + 1,
			})
			continue
		}
		return p.failSafeDeny(ctx, userID, "quota-cache", err)
	}

	// Still conflicting after the retry budget. Resolving toward allowance
	// would risk over-admission, so contention falls through to denial.
	return p.failSafeDeny(ctx, userID, "quota-cache", commonerrors.NewCommitConflictError(userID))
}

// UsageSummary returns the display view of a user's tier and usage. A cache
// failure degrades to showing the limits as used, consistent with the
// fail-safe policy on the enforce path.
func (p *Pipeline) UsageSummary(ctx context.Context, userID int64) (*Summary, error) {
	entCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	ent, err := p.store.GetOrCreate(entCtx, userID)
	cancel()
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Tier:         entitlement.TierFree,
		DailyLimit:   p.cfg.Limits.Daily,
		MonthlyLimit: p.cfg.Limits.Monthly,
		GroupsLimit:  p.cfg.Limits.Groups,
	}

	if ent.PremiumActive(p.now()) {
		s.Tier = entitlement.TierPremium
		s.PremiumExpiresAt = ent.PremiumExpiresAt
		return s, nil
	}

	readCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	counters, _, err := p.cache.Counters(readCtx, userID)
	cancel()
	if err != nil {
		p.logger.Warn("usage summary degraded, cache unavailable", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		s.DailyUsed = s.DailyLimit
		s.MonthlyUsed = s.MonthlyLimit
		s.GroupsUsed = s.GroupsLimit
		return s, nil
	}

	s.DailyUsed = counters.Daily
	s.MonthlyUsed = counters.Monthly
	s.GroupsUsed = counters.GroupCount()
	return s, nil
}

func (p *Pipeline) failSafeDeny(ctx context.Context, userID int64, store string, err error) Result {
	metrics.StoreFailures.WithLabelValues(store).Inc()
	p.logger.Error("resolving store failure toward denial", map[string]interface{}{
		"userId": userID,
		"store":  store,
		"error":  err.Error(),
	})
	if p.alerts != nil {
		p.alerts.Raise(ctx, alert.CategoryStoreUnavailable, userID, err.Error())
	}
	p.notifier.NotifyIfDue(ctx, userID)
	return Result{Reason: ReasonUnavailable}
}

func (p *Pipeline) correctExpired(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	demoted, err := p.store.DemoteIfExpired(ctx, userID)
	if err != nil {
		p.logger.Error("expired premium correction failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		return
	}
	if demoted {
		p.logger.Info("demoted expired premium user", map[string]interface{}{"userId": userID})
		p.recordAudit(userID, 0, "premium_expired_demotion", "")
	}
}

func (p *Pipeline) recordAudit(userID, chatID int64, kind, detail string) {
	if p.audit == nil {
		return
	}
	go p.audit.Record(context.Background(), analytics.Event{
		UserID: userID,
		ChatID: chatID,
		Kind:   kind,
		Detail: detail,
	})
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
