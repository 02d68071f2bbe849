package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const ttsStreamChunkBytes = 3200 // 100ms of 16kHz PCM16

// TTSHTTP calls a self-hosted synthesis server that returns raw PCM16:
// POST /synthesize, POST /synthesize/stream (chunked), GET /health.
type TTSHTTP struct {
	baseURL string
	client  *http.Client
}

func NewTTSHTTP(baseURL string) *TTSHTTP {
	return &TTSHTTP{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  newKeepAliveClient(),
	}
}

func (t *TTSHTTP) Name() string { return "tts_http" }

type ttsHTTPRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language"`
	Format   string `json:"format"`
}

func (t *TTSHTTP) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	res, err := t.post(ctx, "/synthesize", req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return audio, nil
}

func (t *TTSHTTP) SynthesizeStream(ctx context.Context, req SynthesisRequest, emit func([]byte) error) error {
	res, err := t.post(ctx, "/synthesize/stream", req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return readChunks(res.Body, ttsStreamChunkBytes, emit)
}

func (t *TTSHTTP) Health(ctx context.Context) error {
	return probeHealth(ctx, t.client, t.Name(), t.baseURL+"/health")
}

func (t *TTSHTTP) post(ctx context.Context, path string, req SynthesisRequest) (*http.Response, error) {
	payload, err := json.Marshal(ttsHTTPRequest{
		Text:     req.Text,
		Voice:    req.Voice,
		Language: req.Language,
		Format:   "pcm_16000",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		return nil, statusError(t.Name(), res)
	}
	return res, nil
}

// readChunks reads r in fixed-size pieces and passes each to emit. Every
// emitted slice is freshly allocated.
func readChunks(r io.Reader, size int, emit func([]byte) error) error {
	buf := make([]byte, size)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if emitErr := emit(chunk); emitErr != nil {
				return emitErr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read audio stream: %w", err)
		}
	}
}
