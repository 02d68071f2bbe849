package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/admission"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/config"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/llm"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/observability"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/routing"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/session"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/store"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/voice"
)

type testEnv struct {
	ts        *httptest.Server
	srv       *Server
	admission *admission.Controller
	orch      *voice.Orchestrator
	store     *store.InMemoryStore
	monitor   *observability.Monitor
}

func newTestEnv(t *testing.T, maxCalls int) *testEnv {
	t.Helper()
	return newTestEnvWithLLM(t, maxCalls, llm.NewMockAdapter())
}

func newTestEnvWithLLM(t *testing.T, maxCalls int, model llm.Adapter) *testEnv {
	t.Helper()
	cfg := config.Config{SessionInactivityTimeout: time.Minute}
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	log := zerolog.Nop()

	monitor := observability.NewMonitor(1000, metrics)
	mem := store.NewInMemoryStore()
	transcriber := voice.NewTranscriber(voice.NewMockSTT(), nil, voice.TranscriberOptions{}, log, metrics)
	synthesizer := voice.NewSynthesizer(voice.NewMockTTS(), voice.SynthesizerOptions{}, log, metrics)
	t.Cleanup(transcriber.Close)
	t.Cleanup(synthesizer.Close)

	orch := voice.NewOrchestrator(voice.OrchestratorConfig{
		Sessions:    session.NewManager(cfg.SessionInactivityTimeout),
		Transcriber: transcriber,
		Synthesizer: synthesizer,
		LLM:         model,
		Monitor:     monitor,
		Store:       mem,
		Metrics:     metrics,
		Log:         log,
	})
	ctrl := admission.NewController(maxCalls, metrics, log)
	srv := New(Options{
		Config:    cfg,
		Admission: ctrl,
		Calls:     orch,
		Monitor:   monitor,
		Metrics:   metrics,
		Store:     mem,
		Backends:  []BackendHealth{transcriber, synthesizer},
		Log:       log,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, srv: srv, admission: ctrl, orch: orch, store: mem, monitor: monitor}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/v1/calls/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

// readUntil reads frames until one of type want arrives, returning every
// frame type seen on the way.
func readUntil(t *testing.T, conn *websocket.Conn, want string) (map[string]any, []string) {
	t.Helper()
	var seen []string
	for i := 0; i < 64; i++ {
		msg := readFrame(t, conn)
		typ, _ := msg["type"].(string)
		seen = append(seen, typ)
		if typ == want {
			return msg, seen
		}
	}
	t.Fatalf("no %s frame; saw %v", want, seen)
	return nil, seen
}

func startCall(t *testing.T, conn *websocket.Conn, callID string) map[string]any {
	t.Helper()
	err := conn.WriteJSON(map[string]any{
		"type":      "call_start",
		"call_id":   callID,
		"tenant_id": "clinic-1",
		"caller":    "+15550100",
		"clinic":    map[string]any{"clinic_name": "Maple Family Practice"},
	})
	if err != nil {
		t.Fatalf("write call_start: %v", err)
	}
	return readFrame(t, conn)
}

func sendUtterance(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	err := conn.WriteJSON(map[string]any{
		"type":         "audio_chunk",
		"pcm16_base64": base64.StdEncoding.EncodeToString([]byte(text)),
		"commit":       true,
	})
	if err != nil {
		t.Fatalf("write audio_chunk: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealthReadyAndMetrics(t *testing.T) {
	env := newTestEnv(t, 2)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		res, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, res.StatusCode)
		}
	}

	env.srv.Drain()
	res, err := http.Get(env.ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("GET /readyz while draining = %d, want 503", res.StatusCode)
	}
}

func TestTriageEndpoint(t *testing.T) {
	env := newTestEnv(t, 2)

	body, _ := json.Marshal(map[string]string{"text": "my father is having chest pain", "language": "en"})
	res, err := http.Post(env.ts.URL+"/v1/triage", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/triage error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var out struct {
		Triage struct {
			Level string `json:"level"`
		} `json:"triage"`
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Triage.Level != "EMERGENCY" || out.Tier != "emergency_bypass" {
		t.Fatalf("triage response = %+v", out)
	}

	res, err = http.Post(env.ts.URL+"/v1/triage", "application/json", strings.NewReader(`{"text":"  "}`))
	if err != nil {
		t.Fatalf("POST /v1/triage error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank text status = %d, want 400", res.StatusCode)
	}
}

func TestCallStreamFullTurn(t *testing.T) {
	env := newTestEnv(t, 2)
	conn := env.dial(t)

	accepted := startCall(t, conn, "call-1")
	if accepted["type"] != "call_accepted" || accepted["call_id"] != "call-1" {
		t.Fatalf("first frame = %v, want call_accepted", accepted)
	}
	if got := len(env.admission.ActiveCalls()); got != 1 {
		t.Fatalf("active calls = %d, want 1", got)
	}

	sendUtterance(t, conn, "what are your hours")
	text, seen := readUntil(t, conn, "assistant_text")
	if !strings.Contains(strings.ToLower(text["text"].(string)), "staff member") {
		t.Fatalf("assistant_text = %v", text)
	}
	if seen[0] != "assistant_audio" {
		t.Fatalf("frames = %v, want audio first", seen)
	}

	if err := conn.WriteJSON(map[string]string{"type": "call_stop"}); err != nil {
		t.Fatalf("write call_stop: %v", err)
	}
	ended, _ := readUntil(t, conn, "call_ended")
	if ended["reason"] != "caller_stop" || ended["turn_count"].(float64) != 1 {
		t.Fatalf("call_ended = %v", ended)
	}

	waitFor(t, "slot release", func() bool { return len(env.admission.ActiveCalls()) == 0 })
	if sums := env.store.Summaries(); len(sums) != 1 || sums[0].CallID != "call-1" {
		t.Fatalf("stored summaries = %+v", sums)
	}
	if p := env.monitor.LatencyPercentiles(observability.PhaseTotal, time.Minute); p.Count != 1 {
		t.Fatalf("total latency samples = %d, want 1", p.Count)
	}
}

func TestCallStreamEmergencyTurn(t *testing.T) {
	env := newTestEnv(t, 2)
	conn := env.dial(t)
	startCall(t, conn, "call-er")

	sendUtterance(t, conn, "I have chest pain")
	transfer, _ := readUntil(t, conn, "transfer_requested")
	if transfer["reason"] != "emergency:chest pain" {
		t.Fatalf("transfer_requested = %v", transfer)
	}
	text, _ := readUntil(t, conn, "assistant_text")
	if !strings.Contains(text["text"].(string), "911") {
		t.Fatalf("assistant_text = %v", text)
	}

	env.orch.Wait()
	res, err := http.Get(env.ts.URL + "/v1/escalations?tenant_id=clinic-1")
	if err != nil {
		t.Fatalf("GET /v1/escalations error = %v", err)
	}
	defer res.Body.Close()
	var out struct {
		Escalations []store.EscalationEvent `json:"escalations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Escalations) != 1 || out.Escalations[0].Level != "EMERGENCY" {
		t.Fatalf("escalations = %+v", out.Escalations)
	}
}

// stallingLLM holds every reply until the turn's context ends.
type stallingLLM struct {
	started  chan struct{}
	canceled atomic.Bool
}

func (m *stallingLLM) OpenConversation(context.Context, string, string) error { return nil }
func (m *stallingLLM) CloseConversation(string)                               {}
func (m *stallingLLM) Reply(ctx context.Context, _ string, _ routing.Tier, _ string) (string, error) {
	close(m.started)
	<-ctx.Done()
	if errors.Is(ctx.Err(), context.Canceled) {
		m.canceled.Store(true)
	}
	return "", ctx.Err()
}

func TestCallStreamDisconnectAbortsTurnInFlight(t *testing.T) {
	model := &stallingLLM{started: make(chan struct{})}
	env := newTestEnvWithLLM(t, 1, model)
	conn := env.dial(t)
	if accepted := startCall(t, conn, "call-1"); accepted["type"] != "call_accepted" {
		t.Fatalf("first frame = %v, want call_accepted", accepted)
	}

	sendUtterance(t, conn, "I need to reschedule my appointment")
	select {
	case <-model.started:
	case <-time.After(3 * time.Second):
		t.Fatalf("turn never reached the model")
	}
	// Drop the socket without a close handshake, as a lost phone bridge would.
	conn.UnderlyingConn().Close()

	waitFor(t, "slot release", func() bool { return env.admission.Stats().Active == 0 })
	if !model.canceled.Load() {
		t.Fatalf("model reply context was not canceled on disconnect")
	}
}

func TestCallStreamRejectsWhenBusy(t *testing.T) {
	env := newTestEnv(t, 1)

	first := env.dial(t)
	if msg := startCall(t, first, "call-1"); msg["type"] != "call_accepted" {
		t.Fatalf("first call frame = %v", msg)
	}

	second := env.dial(t)
	msg := startCall(t, second, "call-2")
	if msg["type"] != "call_rejected" || msg["reason"] != "busy" {
		t.Fatalf("second call frame = %v, want call_rejected busy", msg)
	}
	if got := env.admission.Stats().RejectedCount; got != 1 {
		t.Fatalf("RejectedCount = %d, want 1", got)
	}

	// Dropping the first socket frees its slot.
	first.Close()
	waitFor(t, "slot release after disconnect", func() bool { return env.admission.Stats().Active == 0 })

	third := env.dial(t)
	if msg := startCall(t, third, "call-3"); msg["type"] != "call_accepted" {
		t.Fatalf("third call frame = %v", msg)
	}
}

func TestCallStreamRequiresCallStart(t *testing.T) {
	env := newTestEnv(t, 1)
	conn := env.dial(t)

	sendUtterance(t, conn, "hello")
	msg := readFrame(t, conn)
	if msg["type"] != "error_event" || msg["code"] != "call_not_started" {
		t.Fatalf("frame = %v, want call_not_started error", msg)
	}
	if env.admission.Stats().TotalHandled != 0 {
		t.Fatalf("slot acquired without call_start")
	}
}

func TestCallStreamInvalidFrameKeepsCall(t *testing.T) {
	env := newTestEnv(t, 1)
	conn := env.dial(t)
	startCall(t, conn, "call-1")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio_chunk"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readFrame(t, conn)
	if msg["type"] != "error_event" || msg["code"] != "invalid_client_message" {
		t.Fatalf("frame = %v", msg)
	}

	sendUtterance(t, conn, "what are your hours")
	if _, seen := readUntil(t, conn, "assistant_text"); len(seen) == 0 {
		t.Fatalf("call did not continue after invalid frame")
	}
}

func TestPerfEndpoints(t *testing.T) {
	env := newTestEnv(t, 1)
	env.monitor.RecordCallLatency("c", observability.PhaseSTT, 120)

	res, err := http.Get(env.ts.URL + "/v1/perf/latency?window=10m")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	var latency struct {
		WindowMinutes float64                              `json:"window_minutes"`
		Phases        map[string]observability.Percentiles `json:"phases"`
	}
	if err := json.NewDecoder(res.Body).Decode(&latency); err != nil {
		t.Fatalf("decode: %v", err)
	}
	res.Body.Close()
	if latency.WindowMinutes != 10 || latency.Phases["stt"].Count != 1 {
		t.Fatalf("latency = %+v", latency)
	}

	res, err = http.Get(env.ts.URL + "/v1/perf/latency?window=bogus")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus window status = %d", res.StatusCode)
	}

	res, err = http.Get(env.ts.URL + "/v1/perf/alerts")
	if err != nil {
		t.Fatalf("GET /v1/perf/alerts error = %v", err)
	}
	var alerts struct {
		Alerts      []observability.Alert `json:"alerts"`
		HealthScore int                   `json:"health_score"`
	}
	if err := json.NewDecoder(res.Body).Decode(&alerts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	res.Body.Close()
	if alerts.HealthScore != 100 || len(alerts.Alerts) != 0 {
		t.Fatalf("alerts = %+v", alerts)
	}

	waitFor(t, "api latency samples", func() bool {
		return env.monitor.BufferLen(observability.MetricAPI) >= 3
	})
}

func TestCallListAndStats(t *testing.T) {
	env := newTestEnv(t, 3)
	conn := env.dial(t)
	startCall(t, conn, "call-list")

	res, err := http.Get(env.ts.URL + "/v1/calls")
	if err != nil {
		t.Fatalf("GET /v1/calls error = %v", err)
	}
	var list struct {
		Calls []admission.CallSnapshot `json:"calls"`
		Count int                      `json:"count"`
	}
	_ = json.NewDecoder(res.Body).Decode(&list)
	res.Body.Close()
	if list.Count != 1 || list.Calls[0].CallID != "call-list" || list.Calls[0].TenantID != "clinic-1" {
		t.Fatalf("calls = %+v", list)
	}

	res, err = http.Get(env.ts.URL + "/v1/calls/stats")
	if err != nil {
		t.Fatalf("GET /v1/calls/stats error = %v", err)
	}
	var stats admission.Stats
	_ = json.NewDecoder(res.Body).Decode(&stats)
	res.Body.Close()
	if stats.Active != 1 || stats.Max != 3 {
		t.Fatalf("stats = %+v", stats)
	}
}
