package voice

import (
	"context"
	"strings"
)

// MockSTT is a local transcription backend. When the audio bytes are valid
// UTF-8 text (as the load generator sends) they are returned as the
// transcript; otherwise a fixed phrase is used.
type MockSTT struct{}

func NewMockSTT() *MockSTT { return &MockSTT{} }

func (m *MockSTT) Name() string { return "mock_stt" }

func (m *MockSTT) Transcribe(ctx context.Context, pcm []byte, _ int, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if text, ok := textPayload(pcm); ok {
		return text, nil
	}
	return "what are your hours", nil
}

func (m *MockSTT) Health(context.Context) error { return nil }

// MockTTS returns the reply text bytes as its "audio".
type MockTTS struct{}

func NewMockTTS() *MockTTS { return &MockTTS{} }

func (m *MockTTS) Name() string { return "mock_tts" }

func (m *MockTTS) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte(req.Text), nil
}

func (m *MockTTS) SynthesizeStream(ctx context.Context, req SynthesisRequest, emit func([]byte) error) error {
	for _, word := range strings.Fields(req.Text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit([]byte(word + " ")); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockTTS) Health(context.Context) error { return nil }

func textPayload(b []byte) (string, bool) {
	if len(b) == 0 || len(b) > 2048 {
		return "", false
	}
	for _, c := range b {
		if c < 0x20 && c != '\n' && c != '\t' {
			return "", false
		}
		if c >= 0x7f {
			return "", false
		}
	}
	return strings.TrimSpace(string(b)), true
}
