// Package alert delivers operator-facing alerts. Every alert is logged and
// counted; SNS publication is optional and best-effort.
package alert

import (
	"context"
	"encoding/json"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"

	"summarybot/internal/common/config"
	"summarybot/internal/common/logger"
	"summarybot/internal/common/metrics"
)

// Category identifies the class of operator alert.
type Category string

const (
	CategoryReconcilerExhausted Category = "reconciler_retry_exhausted"
	CategoryStoreUnavailable    Category = "store_unavailable"
	CategoryEventAuthFailure    Category = "event_auth_failure"
)

// Alert is the structured payload emitted to the sink.
type Alert struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	UserID    int64     `json:"user_id,omitempty"`
	Cause     string    `json:"cause"`
	Timestamp time.Time `json:"timestamp"`
}

// Alerter is the sink interface the engine raises alerts through.
type Alerter interface {
	Raise(ctx context.Context, category Category, userID int64, cause string)
}

type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Sink logs every alert, bumps the alert counter, and optionally publishes to SNS.
type Sink struct {
	logger   logger.Logger
	topicARN string
	sns      snsPublisher
}

// NewSink builds a log-only sink. When SNS is enabled in config the returned
// sink also publishes each alert to the configured topic.
func NewSink(ctx context.Context, cfg config.AlertingConfig, log logger.Logger) (*Sink, error) {
	s := &Sink{logger: log.WithFields(map[string]interface{}{"component": "alerting"})}

	if cfg.SNS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SNS.Region))
		if err != nil {
			return nil, err
		}
		s.sns = sns.NewFromConfig(awsCfg)
		s.topicARN = cfg.SNS.TopicARN
	}

	return s, nil
}

func (s *Sink) Raise(ctx context.Context, category Category, userID int64, cause string) {
	a := Alert{
		ID:        uuid.NewString(),
		Category:  category,
		UserID:    userID,
		Cause:     cause,
		Timestamp: time.Now().UTC(),
	}

	metrics.OperatorAlerts.WithLabelValues(string(category)).Inc()
	s.logger.Error("operator alert", map[string]interface{}{
		"alertId":  a.ID,
		"category": string(a.Category),
		"userId":   a.UserID,
		"cause":    a.Cause,
	})

	if s.sns == nil {
		return
	}

	body, err := json.Marshal(a)
	if err != nil {
		return
	}
	msg := string(body)
	if _, err := s.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: &s.topicARN,
		Message:  &msg,
	}); err != nil {
		s.logger.Warn("sns publish failed", map[string]interface{}{
			"alertId": a.ID,
			"error":   err.Error(),
		})
	}
}
