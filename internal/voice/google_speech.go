package voice

import (
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
)

// GoogleSpeech is the managed fallback transcription backend.
type GoogleSpeech struct {
	client *speech.Client
}

func NewGoogleSpeech(ctx context.Context) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("google speech client: %w", err)
	}
	return &GoogleSpeech{client: c}, nil
}

func (g *GoogleSpeech) Name() string { return "google_speech" }

func (g *GoogleSpeech) Close() error { return g.client.Close() }

func (g *GoogleSpeech) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(sampleRate),
			LanguageCode:               googleLanguageCode(language),
			EnableAutomaticPunctuation: true,
			Model:                      "phone_call",
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm},
		},
	})
	if err != nil {
		return "", fmt.Errorf("google recognize: %w", err)
	}

	var best string
	var bestConf float32 = -1
	for _, r := range resp.GetResults() {
		for _, alt := range r.GetAlternatives() {
			if alt.GetTranscript() != "" && alt.GetConfidence() > bestConf {
				best = alt.GetTranscript()
				bestConf = alt.GetConfidence()
			}
		}
	}
	return best, nil
}

// Health only checks that the client exists; the fallback never gets a
// recovery loop of its own.
func (g *GoogleSpeech) Health(context.Context) error {
	if g.client == nil {
		return fmt.Errorf("google speech client not initialised")
	}
	return nil
}

func googleLanguageCode(language string) string {
	if language == "es" {
		return "es-US"
	}
	return "en-US"
}
