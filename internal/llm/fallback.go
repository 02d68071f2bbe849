package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/routing"
)

// fallbackReplyTimeout bounds the degraded answer once the primary has
// failed. The caller's deadline may already be spent by then.
const fallbackReplyTimeout = 2 * time.Second

// FallbackAdapter asks the primary backend first and answers from the
// fallback when it errors. Both backends see every conversation.
type FallbackAdapter struct {
	primary  Adapter
	fallback Adapter
}

func NewFallbackAdapter(primary, fallback Adapter) *FallbackAdapter {
	return &FallbackAdapter{primary: primary, fallback: fallback}
}

func (a *FallbackAdapter) OpenConversation(ctx context.Context, callID, systemPrompt string) error {
	if err := a.primary.OpenConversation(ctx, callID, systemPrompt); err != nil {
		return err
	}
	if a.fallback == nil {
		return nil
	}
	if err := a.fallback.OpenConversation(ctx, callID, systemPrompt); err != nil {
		a.primary.CloseConversation(callID)
		return err
	}
	return nil
}

func (a *FallbackAdapter) CloseConversation(callID string) {
	a.primary.CloseConversation(callID)
	if a.fallback != nil {
		a.fallback.CloseConversation(callID)
	}
}

func (a *FallbackAdapter) Reply(ctx context.Context, callID string, tier routing.Tier, userText string) (string, error) {
	reply, err := a.primary.Reply(ctx, callID, tier, userText)
	if err == nil {
		return reply, nil
	}
	if a.fallback == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrConversationNotFound) {
		return "", err
	}
	fbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fallbackReplyTimeout)
	defer cancel()
	fallbackReply, fallbackErr := a.fallback.Reply(fbCtx, callID, tier, userText)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary llm error: %w; fallback llm error: %v", err, fallbackErr)
	}
	return fallbackReply, nil
}

// Close releases the primary backend's client when it holds one.
func (a *FallbackAdapter) Close() error {
	if c, ok := a.primary.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
