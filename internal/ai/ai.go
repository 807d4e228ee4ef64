// Package ai abstracts the summarization backend behind a provider interface.
package ai

import (
	"context"
	"fmt"
	"time"

	"summarybot/internal/ai/openai"
	"summarybot/internal/common/config"
)

// Provider turns a slice of chat messages into a summary.
type Provider interface {
	Summarize(ctx context.Context, messages []string) (string, error)
}

// NewProvider builds the provider named in config.
func NewProvider(cfg config.AIConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return openai.NewProvider(cfg.APIKey, cfg.Model, time.Duration(cfg.Timeout)*time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}
