package voice

import "context"

// SpeechToText is one transcription backend. Implementations return plain
// errors; the Transcriber turns them into an Outcome.
type SpeechToText interface {
	Name() string
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error)
	Health(ctx context.Context) error
}

// SynthesisRequest is one utterance to speak.
type SynthesisRequest struct {
	Text     string
	Voice    string
	Language string
}

// TextToSpeech is one synthesis backend. SynthesizeStream calls emit for each
// audio chunk in order and stops at the first emit error.
type TextToSpeech interface {
	Name() string
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)
	SynthesizeStream(ctx context.Context, req SynthesisRequest, emit func([]byte) error) error
	Health(ctx context.Context) error
}

// Outcome is the adapter-boundary result: a value on success, or the backend
// tried last and a short failure reason.
type Outcome[T any] struct {
	Value   T
	OK      bool
	Backend string
	Reason  string
}

func succeeded[T any](v T, backend string) Outcome[T] {
	return Outcome[T]{Value: v, OK: true, Backend: backend}
}

func failed[T any](backend, reason string) Outcome[T] {
	return Outcome[T]{Backend: backend, Reason: reason}
}
