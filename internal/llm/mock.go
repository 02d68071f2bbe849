package llm

import (
	"context"
	"strings"
	"sync"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/routing"
)

// MockAdapter gives deterministic receptionist replies for local runs. It is
// also the degraded path when a remote backend fails.
type MockAdapter struct {
	mu    sync.Mutex
	calls map[string]bool
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{calls: make(map[string]bool)}
}

func (a *MockAdapter) OpenConversation(_ context.Context, callID, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calls[callID] {
		return ErrConversationExists
	}
	a.calls[callID] = true
	return nil
}

func (a *MockAdapter) CloseConversation(callID string) {
	a.mu.Lock()
	delete(a.calls, callID)
	a.mu.Unlock()
}

func (a *MockAdapter) Reply(ctx context.Context, _ string, tier routing.Tier, userText string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return mockReply(tier, userText), nil
}

// staffCallbackReply is the answer for anything the scripted replies cannot
// state as fact, such as the practice's hours.
const staffCallbackReply = "I want to make sure this is handled correctly, so I'll have a staff member call you back shortly."

func mockReply(tier routing.Tier, userText string) string {
	text := strings.ToLower(userText)
	switch {
	case tier == routing.TierCapable, strings.Contains(text, "hour"), strings.Contains(text, "open"):
		return staffCallbackReply
	default:
		return "Sure, I can help with that. Could you tell me a little more?"
	}
}
