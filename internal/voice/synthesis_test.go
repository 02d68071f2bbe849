package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestSynthesizer(t *testing.T, provider TextToSpeech) *Synthesizer {
	t.Helper()
	s := NewSynthesizer(provider, SynthesizerOptions{
		Timeout: time.Second,
		Health:  HealthPolicy{Base: time.Hour, MaxRetries: 1},
		Voices:  map[string]string{"en": "Joanna", "es": "Lupe"},
	}, zerolog.Nop(), nil)
	t.Cleanup(s.Close)
	return s
}

func TestSynthesizerPicksVoiceByLanguage(t *testing.T) {
	tts := &stubTTS{}
	s := newTestSynthesizer(t, tts)

	out := s.Synthesize(context.Background(), "Hola", "es")
	if !out.OK || string(out.Value) != "pcm:Hola" {
		t.Fatalf("outcome = %+v", out)
	}
	if v, _ := tts.lastVoice.Load().(string); v != "Lupe" {
		t.Fatalf("voice = %q, want Lupe", v)
	}
}

func TestSynthesizerAlwaysAttemptsProvider(t *testing.T) {
	tts := &stubTTS{synthesize: func(context.Context, SynthesisRequest) ([]byte, error) {
		return nil, errors.New("down")
	}}
	s := newTestSynthesizer(t, tts)

	for i := 0; i < 3; i++ {
		if out := s.Synthesize(context.Background(), "hello", "en"); out.OK {
			t.Fatalf("attempt %d succeeded", i)
		}
	}
	if got := tts.calls.Load(); got != 3 {
		t.Fatalf("provider calls = %d, want 3 even while unhealthy", got)
	}
	if st := s.Health(); st.State == HealthHealthy {
		t.Fatalf("health state = %s after failures", st.State)
	}
}

func TestSynthesizerEmptyAudioIsFailure(t *testing.T) {
	s := newTestSynthesizer(t, &stubTTS{synthesize: func(context.Context, SynthesisRequest) ([]byte, error) {
		return nil, nil
	}})
	if out := s.Synthesize(context.Background(), "hello", "en"); out.OK {
		t.Fatalf("empty audio reported as success")
	}
	if out := s.Synthesize(context.Background(), "   ", "en"); out.OK || out.Reason != "empty_text" {
		t.Fatalf("blank text outcome = %+v", out)
	}
}

func TestSynthesizeStreamCountsChunks(t *testing.T) {
	s := newTestSynthesizer(t, NewMockTTS())
	var words []string
	out := s.SynthesizeStream(context.Background(), "see you soon", "en", func(b []byte) error {
		words = append(words, string(b))
		return nil
	})
	if !out.OK || out.Value != 3 || len(words) != 3 {
		t.Fatalf("outcome = %+v words = %q", out, words)
	}
}

func TestSynthesizeStreamEmitErrorDoesNotMarkProviderDown(t *testing.T) {
	s := newTestSynthesizer(t, NewMockTTS())
	out := s.SynthesizeStream(context.Background(), "see you soon", "en", func([]byte) error {
		return errors.New("socket closed")
	})
	if out.OK || out.Reason != "emit" {
		t.Fatalf("outcome = %+v, want emit failure", out)
	}
	if st := s.Health(); st.State != HealthHealthy {
		t.Fatalf("provider marked %s after caller went away", st.State)
	}
}

func TestSynthesizerCallerCancelLeavesProviderHealthy(t *testing.T) {
	provider := &stubTTS{synthesize: func(ctx context.Context, _ SynthesisRequest) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	s := newTestSynthesizer(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if out := s.Synthesize(ctx, "one moment please", "en"); out.OK || out.Reason != "cancelled" {
		t.Fatalf("Synthesize outcome = %+v, want cancelled", out)
	}
	if out := s.SynthesizeStream(ctx, "one moment please", "en", func([]byte) error { return nil }); out.OK || out.Reason != "cancelled" {
		t.Fatalf("SynthesizeStream outcome = %+v, want cancelled", out)
	}
	if st := s.Health(); st.State != HealthHealthy {
		t.Fatalf("provider marked %s after caller hung up", st.State)
	}
}
