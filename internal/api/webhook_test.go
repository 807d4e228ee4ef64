// internal/api/webhook_test.go
package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"summarybot/internal/common/alert"
	"summarybot/internal/common/logger"
	"summarybot/internal/reconciler"
)

type captureAlerter struct {
	mu     sync.Mutex
	raised []alert.Category
}

func (a *captureAlerter) Raise(_ context.Context, category alert.Category, _ int64, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.raised = append(a.raised, category)
}

type webhookFixture struct {
	handler  *WebhookHandler
	verifier *reconciler.Verifier
	queue    *reconciler.Queue
	alerts   *captureAlerter
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.NewTestLogger(t)
	verifier := reconciler.NewVerifier("whsec_test", 5*time.Minute)
	queue := reconciler.NewQueue(rdb, "billing:events", log)
	alerts := &captureAlerter{}

	return &webhookFixture{
		handler:  NewWebhookHandler(verifier, queue, alerts, log),
		verifier: verifier,
		queue:    queue,
		alerts:   alerts,
	}
}

func (f *webhookFixture) post(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set(reconciler.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	f.handler.Handle(rec, req)
	return rec
}

const validEvent = `{
	"event_id": "evt_1",
	"event_type": "subscription_activated",
	"user_id": 42,
	"external_subscriber_ref": "sub_123",
	"period_end": "2026-10-01T00:00:00Z"
}`

func TestWebhook_AcceptsSignedEvent(t *testing.T) {
	f := newWebhookFixture(t)
	payload := []byte(validEvent)

	rec := f.post(payload, f.verifier.Sign(payload, time.Now()))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "queued")

	depth, err := f.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestWebhook_RejectsMissingSignature(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post([]byte(validEvent), "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid signature")
	assert.Contains(t, f.alerts.raised, alert.CategoryEventAuthFailure)

	depth, _ := f.queue.Depth(context.Background())
	assert.Zero(t, depth)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t)
	payload := []byte(validEvent)

	other := reconciler.NewVerifier("whsec_other", 5*time.Minute)
	rec := f.post(payload, other.Sign(payload, time.Now()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid signature")
}

func TestWebhook_RejectsMalformedEvent(t *testing.T) {
	f := newWebhookFixture(t)
	// Signed correctly but missing user_id.
	payload := []byte(`{"event_id":"evt_2","event_type":"subscription_cancelled"}`)

	rec := f.post(payload, f.verifier.Sign(payload, time.Now()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed")

	depth, _ := f.queue.Depth(context.Background())
	assert.Zero(t, depth)
}
