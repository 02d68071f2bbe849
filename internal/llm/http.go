package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/reliability"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/routing"
)

const (
	httpMaxAttempts = 2
	httpBackoffBase = 150 * time.Millisecond
	httpBackoffCap  = 600 * time.Millisecond
)

// HTTPAdapter talks to an OpenAI-compatible chat completions endpoint.
type HTTPAdapter struct {
	url    string
	apiKey string
	cfg    Config
	client *http.Client
	convs  *conversations
}

func NewHTTPAdapter(cfg Config) *HTTPAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &HTTPAdapter{
		url:    strings.TrimSpace(cfg.HTTPURL),
		apiKey: strings.TrimSpace(cfg.APIKey),
		cfg:    cfg,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		convs: newConversations(),
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func (a *HTTPAdapter) OpenConversation(_ context.Context, callID, systemPrompt string) error {
	return a.convs.open(callID, systemPrompt)
}

func (a *HTTPAdapter) CloseConversation(callID string) {
	a.convs.close(callID)
}

func (a *HTTPAdapter) Reply(ctx context.Context, callID string, tier routing.Tier, userText string) (string, error) {
	system, history, err := a.convs.snapshot(callID)
	if err != nil {
		return "", err
	}

	messages := make([]Message, 0, len(history)+2)
	if system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: userText})

	payload, err := json.Marshal(chatRequest{
		Model:       a.cfg.ModelFor(tier),
		Messages:    messages,
		Temperature: 0.3,
		MaxTokens:   256,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < httpMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, httpBackoffBase, httpBackoffCap)):
			}
		}
		reply, err := a.post(ctx, payload)
		if err == nil {
			a.convs.appendExchange(callID, userText, reply)
			return reply, nil
		}
		lastErr = err
		var statusErr *reliability.StatusError
		if !errors.As(err, &statusErr) || !reliability.IsRetryableHTTPStatus(statusErr.Code) {
			break
		}
	}
	return "", lastErr
}

func (a *HTTPAdapter) post(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	res, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &reliability.StatusError{Backend: "llm_http", Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed chatResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm response has no choices")
	}
	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("llm response is empty")
	}
	return text, nil
}
