package llm

import (
	"strings"
	"sync"
)

const maxHistoryMessages = 24

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type conversation struct {
	system   string
	messages []Message
}

// conversations is the per-call history table shared by the remote backends.
type conversations struct {
	mu    sync.Mutex
	calls map[string]*conversation
}

func newConversations() *conversations {
	return &conversations{calls: make(map[string]*conversation)}
}

func (c *conversations) open(callID, systemPrompt string) error {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return ErrConversationNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.calls[callID]; ok {
		return ErrConversationExists
	}
	c.calls[callID] = &conversation{system: systemPrompt}
	return nil
}

// snapshot returns the system prompt and a copy of the history.
func (c *conversations) snapshot(callID string) (string, []Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.calls[callID]
	if !ok {
		return "", nil, ErrConversationNotFound
	}
	out := make([]Message, len(conv.messages))
	copy(out, conv.messages)
	return conv.system, out, nil
}

// appendExchange records a completed user/assistant pair, keeping the most
// recent maxHistoryMessages entries.
func (c *conversations) appendExchange(callID, userText, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.calls[callID]
	if !ok {
		return
	}
	conv.messages = append(conv.messages,
		Message{Role: "user", Content: userText},
		Message{Role: "assistant", Content: reply},
	)
	if over := len(conv.messages) - maxHistoryMessages; over > 0 {
		conv.messages = append(conv.messages[:0], conv.messages[over:]...)
	}
}

func (c *conversations) close(callID string) {
	c.mu.Lock()
	delete(c.calls, callID)
	c.mu.Unlock()
}

func (c *conversations) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}
