// Package analytics keeps a best-effort audit trail of entitlement activity.
// Entitlement rows themselves are never deleted; this adds the event history
// (tier transitions, denials) operators query after the fact.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"summarybot/internal/common/logger"
)

const indexName = "entitlement-events"

// Event is one audit record.
type Event struct {
	UserID    int64     `json:"user_id"`
	ChatID    int64     `json:"chat_id,omitempty"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder accepts audit events. Implementations must never block or fail the
// calling operation; recording is strictly best-effort.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// ESRecorder indexes events into Elasticsearch.
type ESRecorder struct {
	es     *elasticsearch.Client
	logger logger.Logger
}

func NewESRecorder(es *elasticsearch.Client, log logger.Logger) *ESRecorder {
	return &ESRecorder{
		es:     es,
		logger: log.WithFields(map[string]interface{}{"component": "analytics"}),
	}
}

func (r *ESRecorder) Record(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}

	res, err := r.es.Index(indexName, bytes.NewReader(body),
		r.es.Index.WithContext(ctx),
	)
	if err != nil {
		r.logger.Warn("audit event dropped", map[string]interface{}{
			"kind":  ev.Kind,
			"error": err.Error(),
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		r.logger.Warn("audit event rejected", map[string]interface{}{
			"kind":   ev.Kind,
			"status": res.Status(),
		})
	}
}

// NopRecorder discards all events. Used when analytics is disabled.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}
