// internal/reconciler/reconciler.go
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"summarybot/internal/analytics"
	"summarybot/internal/common/alert"
	"summarybot/internal/common/logger"
	"summarybot/internal/common/metrics"
	"summarybot/internal/entitlement"
	"summarybot/internal/quota"
)

const dedupKeyFmt = "evt:%s"

// Messenger delivers the lifecycle courtesy messages. Delivery is best-effort
// and never affects whether an event counts as applied.
type Messenger interface {
	SendDirectMessage(ctx context.Context, userID int64, text string) error
}

const (
	welcomeMessage = "Premium is active. Summaries are now unlimited, across any number of groups."

	renewalMessage = "Your premium subscription has renewed. Thanks for staying with us."

	downgradeMessage = "Your premium subscription has ended and you're back on the free plan:\n" +
		"• 5 summaries per day\n" +
		"• 100 summaries per month\n" +
		"• 3 group chats\n\n" +
		"Use /upgrade any time to come back."
)

// Config holds the reconciler tunables.
type Config struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	DedupWindow  time.Duration
	PollTimeout  time.Duration
}

// Reconciler drains the billing queue and applies each lifecycle event to the
// entitlement store. Applies are idempotent (duplicate event IDs are skipped,
// expiry only moves forward), so at-least-once queue delivery is safe.
type Reconciler struct {
	store     entitlement.Store
	cache     quota.Cache
	queue     *Queue
	rdb       *redis.Client
	messenger Messenger
	alerts    alert.Alerter
	audit     analytics.Recorder
	cfg       Config
	logger    logger.Logger
	sleep     func(time.Duration)
}

func New(
	store entitlement.Store,
	cache quota.Cache,
	queue *Queue,
	rdb *redis.Client,
	messenger Messenger,
	alerts alert.Alerter,
	audit analytics.Recorder,
	cfg Config,
	log logger.Logger,
) *Reconciler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 72 * time.Hour
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	return &Reconciler{
		store:     store,
		cache:     cache,
		queue:     queue,
		rdb:       rdb,
		messenger: messenger,
		alerts:    alerts,
		audit:     audit,
		cfg:       cfg,
		logger:    log.WithFields(map[string]interface{}{"component": "reconciler"}),
		sleep:     time.Sleep,
	}
}

// Run drains the queue until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("reconciler started", map[string]interface{}{
		"maxAttempts": r.cfg.MaxAttempts,
	})
	for {
		task, err := r.queue.Dequeue(ctx, r.cfg.PollTimeout)
		if ctx.Err() != nil {
			r.logger.Info("reconciler stopped", nil)
			return
		}
		if err != nil {
			r.logger.Error("queue read failed", map[string]interface{}{"error": err.Error()})
			r.sleep(r.cfg.RetryBackoff)
			continue
		}
		if task == nil {
			continue
		}
		r.Process(ctx, task)
	}
}

// Process applies one task end to end: dedup check, state write, counter
// clear, courtesy message, dedup stamp. Exported so tests and the replay tool
// can drive single events without the blocking loop.
func (r *Reconciler) Process(ctx context.Context, task *Task) {
	ev := &task.Event
	evType := string(ev.EventType)

	seen, err := r.alreadyApplied(ctx, ev.EventID)
	if err != nil {
		// Dedup store unreadable. Applying anyway is safe: every write below
		// is conditional, so a true duplicate becomes a no-op.
		r.logger.Warn("dedup check unavailable, applying anyway", map[string]interface{}{
			"eventId": ev.EventID,
			"error":   err.Error(),
		})
	}
	if seen {
		metrics.LifecycleEvents.WithLabelValues(evType, "duplicate").Inc()
		r.logger.Info("skipping duplicate event", map[string]interface{}{
			"eventId": ev.EventID,
			"userId":  ev.UserID,
		})
		return
	}

	if err := r.apply(ctx, ev); err != nil {
		r.retry(ctx, task, err)
		return
	}

	r.markApplied(ctx, ev.EventID)
	metrics.LifecycleEvents.WithLabelValues(evType, "applied").Inc()
	if r.audit != nil {
		r.audit.Record(ctx, analytics.Event{
			UserID: ev.UserID,
			Kind:   "lifecycle_" + evType,
			Detail: ev.EventID,
		})
	}
}

func (r *Reconciler) apply(ctx context.Context, ev *LifecycleEvent) error {
	switch {
	case ev.GrantsPremium():
		applied, err := r.store.ActivatePremium(ctx, ev.UserID, *ev.PeriodEnd, ev.ExternalSubscriberRef)
		if err != nil {
			return err
		}
		if !applied {
			// Stale period end. The stored state is already newer, so the
			// event is consumed without side effects.
			r.logger.Info("activation superseded by newer state", map[string]interface{}{
				"eventId": ev.EventID,
				"userId":  ev.UserID,
			})
			return nil
		}
		r.clearCounters(ctx, ev.UserID)
		if ev.EventType == EventSubscriptionActivated {
			r.sendCourtesy(ctx, ev.UserID, welcomeMessage)
		} else {
			r.sendCourtesy(ctx, ev.UserID, renewalMessage)
		}
		return nil

	case ev.RevokesPremium():
		if err := r.store.Downgrade(ctx, ev.UserID); err != nil {
			return err
		}
		r.clearCounters(ctx, ev.UserID)
		r.sendCourtesy(ctx, ev.UserID, downgradeMessage)
		return nil

	default:
		// Unknown types pass the schema only if the enum grows ahead of this
		// switch. Consume rather than retry; retrying cannot fix it.
		r.logger.Warn("ignoring unhandled event type", map[string]interface{}{
			"eventId":   ev.EventID,
			"eventType": string(ev.EventType),
		})
		return nil
	}
}

func (r *Reconciler) retry(ctx context.Context, task *Task, cause error) {
	task.Attempts++
	evType := string(task.Event.EventType)

	if task.Attempts >= r.cfg.MaxAttempts {
		metrics.LifecycleEvents.WithLabelValues(evType, "exhausted").Inc()
		if r.alerts != nil {
			r.alerts.Raise(ctx, alert.CategoryReconcilerExhausted, task.Event.UserID,
				fmt.Sprintf("event %s failed %d times: %s", task.Event.EventID, task.Attempts, cause))
		}
		if err := r.queue.DeadLetter(ctx, task); err != nil {
			r.logger.Error("dead-letter write failed", map[string]interface{}{
				"eventId": task.Event.EventID,
				"error":   err.Error(),
			})
		}
		return
	}

	metrics.LifecycleEvents.WithLabelValues(evType, "retried").Inc()
	r.logger.Warn("event apply failed, requeueing", map[string]interface{}{
		"eventId": task.Event.EventID,
		"attempt": task.Attempts,
		"error":   cause.Error(),
	})
	r.sleep(r.cfg.RetryBackoff * time.Duration(task.Attempts))
	if err := r.queue.Enqueue(ctx, task); err != nil {
		r.logger.Error("requeue failed", map[string]interface{}{
			"eventId": task.Event.EventID,
			"error":   err.Error(),
		})
	}
}

// clearCounters resets cached usage after a tier change. Failure is tolerated:
// counters carry their own expiry and the new tier takes effect regardless.
func (r *Reconciler) clearCounters(ctx context.Context, userID int64) {
	if err := r.cache.Clear(ctx, userID); err != nil {
		r.logger.Warn("counter clear failed after tier change", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}

func (r *Reconciler) sendCourtesy(ctx context.Context, userID int64, text string) {
	if r.messenger == nil {
		return
	}
	if err := r.messenger.SendDirectMessage(ctx, userID, text); err != nil {
		r.logger.Warn("courtesy message delivery failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}

func (r *Reconciler) alreadyApplied(ctx context.Context, eventID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, fmt.Sprintf(dedupKeyFmt, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// markApplied records the event ID only after a successful apply, so a crash
// mid-apply leads to a redelivery, not a lost event.
func (r *Reconciler) markApplied(ctx context.Context, eventID string) {
	err := r.rdb.SetNX(ctx, fmt.Sprintf(dedupKeyFmt, eventID), 1, r.cfg.DedupWindow).Err()
	if err != nil {
		r.logger.Warn("dedup stamp failed", map[string]interface{}{
			"eventId": eventID,
			"error":   err.Error(),
		})
	}
}
