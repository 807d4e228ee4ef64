// Package reconciler consumes subscription lifecycle events from the payment
// processor and converges durable entitlements to match.
package reconciler

import (
	"encoding/json"
	"fmt"
	"time"

	commonerrors "summarybot/internal/common/errors"
	"summarybot/internal/common/validation"
)

// EventType is the lifecycle transition reported by the payment processor.
type EventType string

const (
	EventSubscriptionActivated EventType = "subscription_activated"
	EventSubscriptionRenewed   EventType = "subscription_renewed"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventSubscriptionExpired   EventType = "subscription_expired"
)

// LifecycleEvent is the parsed, validated event body.
type LifecycleEvent struct {
	EventID               string     `json:"event_id"`
	EventType             EventType  `json:"event_type"`
	UserID                int64      `json:"user_id"`
	ExternalSubscriberRef string     `json:"external_subscriber_ref,omitempty"`
	PeriodEnd             *time.Time `json:"period_end,omitempty"`
}

// GrantsPremium reports whether the event extends premium access.
func (e *LifecycleEvent) GrantsPremium() bool {
	return e.EventType == EventSubscriptionActivated || e.EventType == EventSubscriptionRenewed
}

// RevokesPremium reports whether the event ends premium access.
func (e *LifecycleEvent) RevokesPremium() bool {
	return e.EventType == EventSubscriptionCancelled || e.EventType == EventSubscriptionExpired
}

// ParseEvent validates the raw payload against the lifecycle schema and
// decodes it. Grant events without a period_end are malformed; there is
// nothing monotonic to compare without one.
func ParseEvent(payload []byte) (*LifecycleEvent, error) {
	if err := validation.ValidateLifecycleEvent(payload); err != nil {
		return nil, commonerrors.NewEventMalformedError(err.Error())
	}

	var ev LifecycleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, commonerrors.NewEventMalformedError(err.Error())
	}

	if ev.GrantsPremium() && ev.PeriodEnd == nil {
		return nil, commonerrors.NewEventMalformedError(
			fmt.Sprintf("event %s of type %s carries no period_end", ev.EventID, ev.EventType))
	}

	return &ev, nil
}
