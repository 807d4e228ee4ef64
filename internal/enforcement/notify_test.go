// internal/enforcement/notify_test.go
package enforcement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"summarybot/internal/common/logger"
)

func newTestNotifier(t *testing.T, cache *fakeCache, messenger *fakeMessenger) *Notifier {
	t.Helper()
	return NewNotifier(cache, messenger, 15*time.Minute, logger.NewTestLogger(t))
}

func TestNotifyIfDue_SendsOncePerWindow(t *testing.T) {
	cache := newFakeCache()
	messenger := &fakeMessenger{}
	n := newTestNotifier(t, cache, messenger)

	assert.True(t, n.NotifyIfDue(context.Background(), 42))
	assert.False(t, n.NotifyIfDue(context.Background(), 42))
	assert.False(t, n.NotifyIfDue(context.Background(), 42))
	assert.Equal(t, 1, messenger.sentCount())
}

func TestNotifyIfDue_IndependentPerUser(t *testing.T) {
	cache := newFakeCache()
	messenger := &fakeMessenger{}
	n := newTestNotifier(t, cache, messenger)

	assert.True(t, n.NotifyIfDue(context.Background(), 42))
	assert.True(t, n.NotifyIfDue(context.Background(), 43))
	assert.Equal(t, 2, messenger.sentCount())
}

func TestNotifyIfDue_FallbackOnDeliveryFailure(t *testing.T) {
	cache := newFakeCache()
	messenger := &fakeMessenger{fails: 1}
	n := newTestNotifier(t, cache, messenger)

	assert.True(t, n.NotifyIfDue(context.Background(), 42))
	assert.Equal(t, 1, messenger.sentCount())
	assert.Equal(t, upgradePromptFallback, messenger.sent[0])
}

func TestNotifyIfDue_GivesUpAfterFallback(t *testing.T) {
	cache := newFakeCache()
	messenger := &fakeMessenger{fails: 2}
	n := newTestNotifier(t, cache, messenger)

	// Both delivery attempts fail; no retry loop follows.
	assert.False(t, n.NotifyIfDue(context.Background(), 42))
	assert.Zero(t, messenger.sentCount())
}

func TestNotifyIfDue_SuppressedWhenStampUnavailable(t *testing.T) {
	cache := newFakeCache()
	cache.stampErr = errors.New("connection refused")
	messenger := &fakeMessenger{}
	n := newTestNotifier(t, cache, messenger)

	// No throttle guarantee means no message.
	assert.False(t, n.NotifyIfDue(context.Background(), 42))
	assert.Zero(t, messenger.sentCount())
}
