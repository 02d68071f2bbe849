package voice

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/routing"
)

type stubSTT struct {
	name       string
	transcribe func(ctx context.Context, pcm []byte, language string) (string, error)
	health     func(ctx context.Context) error
	calls      atomic.Int32
}

func (s *stubSTT) Name() string {
	if s.name == "" {
		return "stub_stt"
	}
	return s.name
}

func (s *stubSTT) Transcribe(ctx context.Context, pcm []byte, _ int, language string) (string, error) {
	s.calls.Add(1)
	if s.transcribe == nil {
		return string(pcm), nil
	}
	return s.transcribe(ctx, pcm, language)
}

func (s *stubSTT) Health(ctx context.Context) error {
	if s.health == nil {
		return nil
	}
	return s.health(ctx)
}

type stubTTS struct {
	synthesize func(ctx context.Context, req SynthesisRequest) ([]byte, error)
	health     func(ctx context.Context) error
	calls      atomic.Int32
	lastVoice  atomic.Value
}

func (s *stubTTS) Name() string { return "stub_tts" }

func (s *stubTTS) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	s.calls.Add(1)
	s.lastVoice.Store(req.Voice)
	if s.synthesize == nil {
		return []byte("pcm:" + req.Text), nil
	}
	return s.synthesize(ctx, req)
}

func (s *stubTTS) SynthesizeStream(ctx context.Context, req SynthesisRequest, emit func([]byte) error) error {
	audio, err := s.Synthesize(ctx, req)
	if err != nil {
		return err
	}
	for len(audio) > 0 {
		n := 4
		if n > len(audio) {
			n = len(audio)
		}
		if err := emit(audio[:n]); err != nil {
			return err
		}
		audio = audio[n:]
	}
	return nil
}

func (s *stubTTS) Health(ctx context.Context) error {
	if s.health == nil {
		return nil
	}
	return s.health(ctx)
}

type countingLLM struct {
	mu      sync.Mutex
	reply   func(tier routing.Tier, text string) (string, error)
	opened  map[string]string
	closed  []string
	tiers   []routing.Tier
	replies int
}

func newCountingLLM() *countingLLM {
	return &countingLLM{opened: make(map[string]string)}
}

func (l *countingLLM) OpenConversation(_ context.Context, callID, systemPrompt string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened[callID] = systemPrompt
	return nil
}

func (l *countingLLM) Reply(_ context.Context, _ string, tier routing.Tier, userText string) (string, error) {
	l.mu.Lock()
	l.replies++
	l.tiers = append(l.tiers, tier)
	reply := l.reply
	l.mu.Unlock()
	if reply == nil {
		return "We are open nine to five, Monday through Friday.", nil
	}
	return reply(tier, userText)
}

func (l *countingLLM) CloseConversation(callID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.opened, callID)
	l.closed = append(l.closed, callID)
}

func (l *countingLLM) replyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.replies
}
