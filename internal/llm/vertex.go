package llm

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/routing"
)

// VertexAdapter answers through Gemini on Vertex AI. History lives here and is
// replayed into a fresh chat session per turn, so the tier can change the
// model between turns of one call.
type VertexAdapter struct {
	client *genai.Client
	cfg    Config
	convs  *conversations
}

func NewVertexAdapter(ctx context.Context, cfg Config) (*VertexAdapter, error) {
	location := strings.TrimSpace(cfg.VertexLocation)
	if location == "" {
		location = "us-central1"
	}
	if strings.TrimSpace(cfg.FastModel) == "" {
		cfg.FastModel = "gemini-1.5-flash"
	}
	if strings.TrimSpace(cfg.CapableModel) == "" {
		cfg.CapableModel = "gemini-1.5-pro"
	}
	client, err := genai.NewClient(ctx, cfg.VertexProject, location)
	if err != nil {
		return nil, fmt.Errorf("vertex client: %w", err)
	}
	return &VertexAdapter{client: client, cfg: cfg, convs: newConversations()}, nil
}

func (a *VertexAdapter) Close() error { return a.client.Close() }

func (a *VertexAdapter) OpenConversation(_ context.Context, callID, systemPrompt string) error {
	return a.convs.open(callID, systemPrompt)
}

func (a *VertexAdapter) CloseConversation(callID string) {
	a.convs.close(callID)
}

func (a *VertexAdapter) Reply(ctx context.Context, callID string, tier routing.Tier, userText string) (string, error) {
	system, history, err := a.convs.snapshot(callID)
	if err != nil {
		return "", err
	}

	model := a.client.GenerativeModel(a.cfg.ModelFor(tier))
	model.SetTemperature(0.3)
	model.SetMaxOutputTokens(256)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	chat := model.StartChat()
	chat.History = toVertexHistory(history)
	resp, err := chat.SendMessage(ctx, genai.Text(userText))
	if err != nil {
		return "", fmt.Errorf("vertex send: %w", err)
	}

	text := strings.TrimSpace(candidateText(resp))
	if text == "" {
		return "", fmt.Errorf("vertex response is empty")
	}
	a.convs.appendExchange(callID, userText, text)
	return text, nil
}

func toVertexHistory(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return out
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}
