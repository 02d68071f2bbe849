package app

import (
	"context"
	"fmt"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/config"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/voice"
)

type speechSetup struct {
	sttPrimary  voice.SpeechToText
	sttFallback voice.SpeechToText
	tts         voice.TextToSpeech
	detail      string
	cleanup     func() error
}

// resolveSpeechBackends builds the transcription pair and the synthesis
// provider named by config. An empty STT_PRIMARY_URL selects the mock
// transcriber so the service runs without a speech server.
func resolveSpeechBackends(ctx context.Context, cfg config.Config) (speechSetup, error) {
	var setup speechSetup

	if cfg.STTPrimaryURL == "" {
		setup.sttPrimary = voice.NewMockSTT()
	} else {
		setup.sttPrimary = voice.NewWhisperHTTP(cfg.STTPrimaryURL)
	}

	switch cfg.STTFallback {
	case "google":
		g, err := voice.NewGoogleSpeech(ctx)
		if err != nil {
			return speechSetup{}, fmt.Errorf("stt fallback init failed: %w", err)
		}
		setup.sttFallback = g
		setup.cleanup = g.Close
	case "none", "":
	default:
		return speechSetup{}, fmt.Errorf("invalid STT_FALLBACK: %q (expected google|none)", cfg.STTFallback)
	}

	switch cfg.TTSProvider {
	case "mock", "":
		setup.tts = voice.NewMockTTS()
	case "http":
		setup.tts = voice.NewTTSHTTP(cfg.TTSHTTPURL)
	case "polly":
		p, err := voice.NewPolly(ctx, voice.PollyConfig{Region: cfg.PollyRegion, Engine: cfg.PollyEngine})
		if err != nil {
			if setup.cleanup != nil {
				_ = setup.cleanup()
			}
			return speechSetup{}, fmt.Errorf("polly init failed: %w", err)
		}
		setup.tts = p
	default:
		return speechSetup{}, fmt.Errorf("invalid TTS_PROVIDER: %q (expected http|polly|mock)", cfg.TTSProvider)
	}

	fallbackName := "none"
	if setup.sttFallback != nil {
		fallbackName = setup.sttFallback.Name()
	}
	setup.detail = fmt.Sprintf("stt=%s fallback=%s tts=%s", setup.sttPrimary.Name(), fallbackName, setup.tts.Name())
	return setup, nil
}
