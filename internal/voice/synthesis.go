package voice

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/observability"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/reliability"
)

const DefaultTTSTimeout = 5 * time.Second

var errEmptyAudio = errors.New("synthesis returned no audio")

type SynthesizerOptions struct {
	Timeout time.Duration
	Health  HealthPolicy
	// Voices maps a normalized language code to a provider voice id.
	Voices map[string]string
}

// Synthesizer wraps the single configured TTS provider. There is no second
// provider to fail over to, so the provider is always attempted; failures
// feed its health supervisor for observability and are logged as errors.
type Synthesizer struct {
	provider TextToSpeech
	health   *HealthSupervisor
	timeout  time.Duration
	voices   map[string]string
	log      zerolog.Logger
	metrics  *observability.Metrics
}

func NewSynthesizer(provider TextToSpeech, opts SynthesizerOptions, log zerolog.Logger, metrics *observability.Metrics) *Synthesizer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTTSTimeout
	}
	log = log.With().Str("component", "synthesizer").Logger()
	return &Synthesizer{
		provider: provider,
		health:   NewHealthSupervisor(provider.Name(), provider.Health, opts.Health, log, metrics),
		timeout:  opts.Timeout,
		voices:   opts.Voices,
		log:      log,
		metrics:  metrics,
	}
}

// Synthesize renders text as one audio buffer.
func (s *Synthesizer) Synthesize(ctx context.Context, text, language string) Outcome[[]byte] {
	text = strings.TrimSpace(text)
	if text == "" {
		return failed[[]byte](s.provider.Name(), "empty_text")
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	audio, err := s.provider.Synthesize(callCtx, s.request(text, language))
	if err == nil && len(audio) == 0 {
		err = errEmptyAudio
	}
	if err != nil {
		return failed[[]byte](s.provider.Name(), s.fail(ctx, err, start, "batch"))
	}
	return succeeded(audio, s.provider.Name())
}

// SynthesizeStream renders text and hands chunks to emit as they arrive. The
// value is the number of chunks emitted, which can be non-zero on failure.
func (s *Synthesizer) SynthesizeStream(ctx context.Context, text, language string, emit func([]byte) error) Outcome[int] {
	text = strings.TrimSpace(text)
	if text == "" {
		return failed[int](s.provider.Name(), "empty_text")
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		start   = time.Now()
		chunks  int
		emitErr error
	)
	err := s.provider.SynthesizeStream(callCtx, s.request(text, language), func(chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		if err := emit(chunk); err != nil {
			emitErr = err
			return err
		}
		chunks++
		return nil
	})
	if emitErr != nil {
		// The caller went away; the provider is fine.
		return Outcome[int]{Value: chunks, Backend: s.provider.Name(), Reason: "emit"}
	}
	if err == nil && chunks == 0 {
		err = errEmptyAudio
	}
	if err != nil {
		return Outcome[int]{Value: chunks, Backend: s.provider.Name(), Reason: s.fail(ctx, err, start, "stream")}
	}
	return succeeded(chunks, s.provider.Name())
}

func (s *Synthesizer) request(text, language string) SynthesisRequest {
	return SynthesisRequest{Text: text, Voice: s.voices[language], Language: language}
}

// fail records a provider failure. When the caller's own context ended the
// provider is left marked healthy.
func (s *Synthesizer) fail(ctx context.Context, err error, start time.Time, mode string) string {
	if ctx.Err() != nil {
		reason := reliability.FailureReason(ctx.Err())
		s.log.Debug().
			Str("backend", s.provider.Name()).
			Str("mode", mode).
			Str("reason", reason).
			Dur("elapsed", time.Since(start)).
			Msg("synthesis abandoned")
		return reason
	}
	reason := reliability.FailureReason(err)
	s.metrics.IncBackendFailure(s.provider.Name(), reason)
	s.log.Error().
		Err(err).
		Str("backend", s.provider.Name()).
		Str("mode", mode).
		Str("reason", reason).
		Dur("elapsed", time.Since(start)).
		Msg("synthesis failed; no fallback provider")
	s.health.ReportFailure(err)
	return reason
}

func (s *Synthesizer) Health() HealthStatus { return s.health.Status() }

func (s *Synthesizer) Close() { s.health.Close() }
