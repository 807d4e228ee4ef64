// internal/api/webhook.go
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"summarybot/internal/common/alert"
	"summarybot/internal/common/logger"
	"summarybot/internal/reconciler"
)

// maxWebhookBody bounds the request body read. Lifecycle payloads are small;
// anything near this size is not a legitimate event.
const maxWebhookBody = 64 * 1024

// WebhookHandler authenticates and validates billing webhooks, then hands
// them to the queue. Acceptance here means "durably queued", not "applied";
// the reconciler owns the apply.
type WebhookHandler struct {
	verifier *reconciler.Verifier
	queue    *reconciler.Queue
	alerts   alert.Alerter
	logger   logger.Logger
}

func NewWebhookHandler(verifier *reconciler.Verifier, queue *reconciler.Queue, alerts alert.Alerter, log logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		queue:    queue,
		alerts:   alerts,
		logger:   log.WithFields(map[string]interface{}{"component": "billing-webhook"}),
	}
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := h.verifier.Verify(r.Header.Get(reconciler.SignatureHeader), payload); err != nil {
		h.logger.Warn("rejected unauthenticated webhook", map[string]interface{}{
			"remoteAddr": r.RemoteAddr,
			"error":      err.Error(),
		})
		if h.alerts != nil {
			h.alerts.Raise(r.Context(), alert.CategoryEventAuthFailure, 0, err.Error())
		}
		writeJSONError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	ev, err := reconciler.ParseEvent(payload)
	if err != nil {
		h.logger.Warn("rejected malformed webhook", map[string]interface{}{"error": err.Error()})
		writeJSONError(w, http.StatusBadRequest, "malformed event")
		return
	}

	task := &reconciler.Task{Event: *ev, ReceivedAt: time.Now().UTC()}
	if err := h.queue.Enqueue(r.Context(), task); err != nil {
		// Tell the processor to redeliver rather than ack an event we lost.
		h.logger.Error("webhook enqueue failed", map[string]interface{}{
			"eventId": ev.EventID,
			"error":   err.Error(),
		})
		writeJSONError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	h.logger.Info("accepted lifecycle event", map[string]interface{}{
		"eventId":   ev.EventID,
		"eventType": string(ev.EventType),
		"userId":    ev.UserID,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
