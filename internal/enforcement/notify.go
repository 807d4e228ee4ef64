// internal/enforcement/notify.go
package enforcement

import (
	"context"
	"time"

	"summarybot/internal/common/logger"
	"summarybot/internal/common/metrics"
	"summarybot/internal/quota"
)

// Messenger delivers private messages on the chat platform.
type Messenger interface {
	SendDirectMessage(ctx context.Context, userID int64, text string) error
}

const upgradePrompt = "You've reached your free plan limit.\n\n" +
	"Free plan includes:\n" +
	"• 5 summaries per day\n" +
	"• 100 summaries per month\n" +
	"• 3 group chats\n\n" +
	"Use /upgrade for unlimited access."

const upgradePromptFallback = "Free plan limit reached. Use /upgrade for unlimited access."

// Notifier sends the limit-reached upgrade prompt at most once per throttle
// window. The stamp is taken before sending, so concurrent denials cannot
// produce two messages inside one window; a stamped-but-failed send simply
// costs the user that window's prompt, which the at-least-once contract allows.
type Notifier struct {
	cache     quota.Cache
	messenger Messenger
	window    time.Duration
	logger    logger.Logger
}

func NewNotifier(cache quota.Cache, messenger Messenger, window time.Duration, log logger.Logger) *Notifier {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Notifier{
		cache:     cache,
		messenger: messenger,
		window:    window,
		logger:    log.WithFields(map[string]interface{}{"component": "notifier"}),
	}
}

// NotifyIfDue reports whether an upgrade prompt was sent. Inside the throttle
// window, or when the stamp cannot be taken, it suppresses silently; the
// denial itself still stands.
func (n *Notifier) NotifyIfDue(ctx context.Context, userID int64) bool {
	stamped, err := n.cache.StampNotification(ctx, userID, n.window)
	if err != nil {
		// No stamp means no throttle guarantee, so no message.
		n.logger.Warn("notification stamp unavailable, suppressing", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		metrics.NotificationsSent.WithLabelValues("suppressed").Inc()
		return false
	}
	if !stamped {
		metrics.NotificationsSent.WithLabelValues("throttled").Inc()
		return false
	}

	if err := n.messenger.SendDirectMessage(ctx, userID, upgradePrompt); err != nil {
		// One best-effort fallback inside the same window, never a retry loop.
		n.logger.Warn("upgrade prompt delivery failed, trying fallback", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		if err := n.messenger.SendDirectMessage(ctx, userID, upgradePromptFallback); err != nil {
			metrics.NotificationsSent.WithLabelValues("failed").Inc()
			return false
		}
	}

	metrics.NotificationsSent.WithLabelValues("sent").Inc()
	n.logger.Info("sent limit-reached prompt", map[string]interface{}{"userId": userID})
	return true
}
