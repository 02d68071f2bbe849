package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/audio"
)

// WhisperHTTP calls a self-hosted whisper.cpp style server: POST /inference
// with a multipart WAV upload, GET /health for probing.
type WhisperHTTP struct {
	baseURL string
	client  *http.Client
}

func NewWhisperHTTP(baseURL string) *WhisperHTTP {
	return &WhisperHTTP{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  newKeepAliveClient(),
	}
}

func (w *WhisperHTTP) Name() string { return "whisper_http" }

func (w *WhisperHTTP) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	wav, err := audio.EncodeWAV(pcm, sampleRate)
	if err != nil {
		return "", fmt.Errorf("encode wav: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	for k, v := range map[string]string{
		"response_format": "json",
		"temperature":     "0.0",
		"language":        language,
	} {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", statusError(w.Name(), res)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return cleanWhisperText(parsed.Text), nil
}

func (w *WhisperHTTP) Health(ctx context.Context) error {
	return probeHealth(ctx, w.client, w.Name(), w.baseURL+"/health")
}

// cleanWhisperText drops the bracketed non-speech markers whisper emits for
// silence and noise, so those turns read as blank.
func cleanWhisperText(text string) string {
	text = strings.TrimSpace(text)
	switch strings.ToLower(text) {
	case "[blank_audio]", "[silence]", "(silence)", "[music]", "[noise]", "[inaudible]":
		return ""
	}
	return text
}
