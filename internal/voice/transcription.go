package voice

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/audio"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/observability"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/reliability"
)

const DefaultSTTTimeout = 4 * time.Second

type TranscriberOptions struct {
	Timeout    time.Duration
	SampleRate int
	Health     HealthPolicy
}

// Transcriber prefers the primary backend and serves from the fallback while
// the primary is unhealthy. With no fallback configured, an unhealthy primary
// is still tried so the call is not left without transcription.
type Transcriber struct {
	primary  SpeechToText
	fallback SpeechToText
	health   *HealthSupervisor

	timeout    time.Duration
	sampleRate int
	log        zerolog.Logger
	metrics    *observability.Metrics
}

func NewTranscriber(primary, fallback SpeechToText, opts TranscriberOptions, log zerolog.Logger, metrics *observability.Metrics) *Transcriber {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSTTTimeout
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = audio.DefaultSampleRate
	}
	log = log.With().Str("component", "transcriber").Logger()
	return &Transcriber{
		primary:    primary,
		fallback:   fallback,
		health:     NewHealthSupervisor(primary.Name(), primary.Health, opts.Health, log, metrics),
		timeout:    opts.Timeout,
		sampleRate: opts.SampleRate,
		log:        log,
		metrics:    metrics,
	}
}

// TranscribeChunk converts one committed utterance to text. A blank
// transcript is a successful outcome; OK is false only when every usable
// backend failed.
func (t *Transcriber) TranscribeChunk(ctx context.Context, pcm []byte, language string) Outcome[string] {
	if len(pcm) == 0 {
		return succeeded("", "")
	}

	if t.health.Healthy() {
		text, err := t.attempt(ctx, t.primary, pcm, language)
		if err == nil {
			return succeeded(text, t.primary.Name())
		}
		if ctx.Err() != nil {
			// The turn was abandoned; the backend is not at fault.
			return failed[string](t.primary.Name(), reliability.FailureReason(ctx.Err()))
		}
		t.health.ReportFailure(err)
		if t.fallback == nil {
			return failed[string](t.primary.Name(), reliability.FailureReason(err))
		}
		return t.fromFallback(ctx, pcm, language)
	}

	if t.fallback != nil {
		out := t.fromFallback(ctx, pcm, language)
		if out.OK {
			return out
		}
	}
	// Last resort while the primary is marked down; a failure here re-arms
	// an exhausted recovery loop.
	text, err := t.attempt(ctx, t.primary, pcm, language)
	if err != nil {
		if ctx.Err() == nil {
			t.health.ReportFailure(err)
		}
		return failed[string](t.primary.Name(), reliability.FailureReason(err))
	}
	return succeeded(text, t.primary.Name())
}

func (t *Transcriber) fromFallback(ctx context.Context, pcm []byte, language string) Outcome[string] {
	text, err := t.attempt(ctx, t.fallback, pcm, language)
	if err != nil {
		return failed[string](t.fallback.Name(), reliability.FailureReason(err))
	}
	return succeeded(text, t.fallback.Name())
}

func (t *Transcriber) attempt(ctx context.Context, backend SpeechToText, pcm []byte, language string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	text, err := backend.Transcribe(callCtx, pcm, t.sampleRate, language)
	if err != nil {
		reason := reliability.FailureReason(err)
		t.metrics.IncBackendFailure(backend.Name(), reason)
		t.log.Warn().
			Err(err).
			Str("backend", backend.Name()).
			Str("reason", reason).
			Dur("elapsed", time.Since(start)).
			Int("audio_bytes", len(pcm)).
			Msg("transcription attempt failed")
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Health reports the primary backend's supervisor state.
func (t *Transcriber) Health() HealthStatus { return t.health.Status() }

func (t *Transcriber) Close() { t.health.Close() }
