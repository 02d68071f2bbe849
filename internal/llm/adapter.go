// Package llm holds the conversational language model backends used to answer
// callers. Every backend keeps one conversation per call id.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/routing"
)

var (
	ErrConversationNotFound = errors.New("llm conversation not found")
	ErrConversationExists   = errors.New("llm conversation already open")
)

// Adapter is a conversational completion backend keyed by call id.
type Adapter interface {
	OpenConversation(ctx context.Context, callID, systemPrompt string) error
	Reply(ctx context.Context, callID string, tier routing.Tier, userText string) (string, error)
	CloseConversation(callID string)
}

// Config controls adapter construction.
type Config struct {
	Provider       string
	HTTPURL        string
	APIKey         string
	FastModel      string
	CapableModel   string
	Timeout        time.Duration
	VertexProject  string
	VertexLocation string
}

// ModelFor maps a routing tier to a configured model name. The emergency tier
// never reaches a model; it maps to the capable model only as a safe default.
func (c Config) ModelFor(tier routing.Tier) string {
	if tier == routing.TierFast {
		return c.FastModel
	}
	return c.CapableModel
}

// NewAdapter builds the configured backend. Non-mock backends are wrapped so
// that a failed reply degrades to a scripted staff callback answer.
func NewAdapter(ctx context.Context, cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "mock"
	}

	switch mode {
	case "mock":
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("llm HTTP url is required for http mode")
		}
		return NewFallbackAdapter(NewHTTPAdapter(cfg), NewMockAdapter()), nil
	case "vertex":
		v, err := NewVertexAdapter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewFallbackAdapter(v, NewMockAdapter()), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
