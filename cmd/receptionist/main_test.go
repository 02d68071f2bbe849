package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/protocol"
)

func TestTriageCommandPrintsEmergency(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"triage", "I", "have", "chest", "pain"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var got triageOutput
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v (%s)", err, out.String())
	}
	if got.Level != "EMERGENCY" {
		t.Fatalf("level = %q, want EMERGENCY", got.Level)
	}
	if got.Tier != "emergency_bypass" {
		t.Fatalf("tier = %q, want emergency_bypass", got.Tier)
	}
	if got.Text != "I have chest pain" {
		t.Fatalf("text = %q", got.Text)
	}
}

func TestTriageCommandSpanishRoutine(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"triage", "--language", "es", "cual es su horario"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var got triageOutput
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got.Language != "es" {
		t.Fatalf("language = %q, want es", got.Language)
	}
	if got.Level == "EMERGENCY" || got.Tier == "emergency_bypass" {
		t.Fatalf("routine phrase classified as emergency: %+v", got)
	}
}

func TestStreamURL(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080/v1/calls/stream"},
		{in: "https://rx.example.com/base/", want: "wss://rx.example.com/base/v1/calls/stream"},
		{in: "ftp://host", wantErr: true},
		{in: "http://", wantErr: true},
	}
	for _, tc := range cases {
		got, err := streamURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("streamURL(%q) error = nil, want error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("streamURL(%q) error = %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("streamURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSplitTexts(t *testing.T) {
	if got := splitTexts(""); len(got) != len(defaultUtterances) {
		t.Fatalf("splitTexts(\"\") len = %d, want %d", len(got), len(defaultUtterances))
	}
	got := splitTexts(" a | |b ")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("splitTexts = %#v", got)
	}
}

// fakeStream admits up to capacity concurrent calls and answers every
// committed utterance with one audio frame and the echoed text.
type fakeStream struct {
	capacity int

	mu     sync.Mutex
	active int
	peak   int
	texts  []string
}

func (f *fakeStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var start protocol.CallStart
	if err := conn.ReadJSON(&start); err != nil {
		return
	}
	f.mu.Lock()
	if f.active >= f.capacity {
		f.mu.Unlock()
		_ = conn.WriteJSON(protocol.CallRejected{Type: protocol.TypeCallRejected, CallID: start.CallID, Reason: "busy"})
		return
	}
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	_ = conn.WriteJSON(protocol.CallAccepted{Type: protocol.TypeCallAccepted, CallID: start.CallID, Language: "en", SampleRate: 16000})
	var utterance []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case protocol.AudioChunk:
			pcm, _ := m.PCM()
			utterance = append(utterance, pcm...)
			if !m.Commit {
				continue
			}
			text := string(utterance)
			utterance = nil
			f.mu.Lock()
			f.texts = append(f.texts, text)
			f.mu.Unlock()
			_ = conn.WriteJSON(protocol.AssistantAudio{Type: protocol.TypeAssistantAudio, CallID: start.CallID, Seq: 1, AudioBase64: base64.StdEncoding.EncodeToString([]byte(text))})
			_ = conn.WriteJSON(protocol.AssistantText{Type: protocol.TypeAssistantText, CallID: start.CallID, Text: text})
		case protocol.CallStop:
			_ = conn.WriteJSON(protocol.CallEnded{Type: protocol.TypeCallEnded, CallID: start.CallID, Reason: "caller_stop"})
			return
		}
	}
}

func TestRunLoadReportsAdmissionAndLatency(t *testing.T) {
	fake := &fakeStream{capacity: 2}
	mux := http.NewServeMux()
	mux.Handle("/v1/calls/stream", fake)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	opts := loadOptions{
		baseURL:     srv.URL,
		tenantID:    "t1",
		language:    "en",
		calls:       5,
		turns:       2,
		chunkBytes:  4,
		hold:        300 * time.Millisecond,
		turnTimeout: 5 * time.Second,
		texts:       []string{"what are your hours"},
	}
	if err := opts.validate(); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	report, err := runLoad(context.Background(), opts)
	if err != nil {
		t.Fatalf("runLoad() error = %v", err)
	}

	if report.Accepted+report.Rejected != 5 {
		t.Fatalf("accepted+rejected = %d, want 5 (report=%+v)", report.Accepted+report.Rejected, report)
	}
	if report.Accepted < 2 {
		t.Fatalf("accepted = %d, want at least capacity", report.Accepted)
	}
	if report.Rejected > 0 && report.RejectReasons["busy"] != report.Rejected {
		t.Fatalf("reject reasons = %v", report.RejectReasons)
	}
	if report.Failed != 0 {
		t.Fatalf("failed = %d, errors = %v", report.Failed, report.Errors)
	}
	if report.Turns != report.Accepted*2 {
		t.Fatalf("turns = %d, want %d", report.Turns, report.Accepted*2)
	}
	if got := report.Latency[seriesTurn].Count; got != report.Turns {
		t.Fatalf("turn latency samples = %d, want %d", got, report.Turns)
	}
	if got := report.Latency[seriesFirstAudio].Count; got != report.Turns {
		t.Fatalf("first audio samples = %d, want %d", got, report.Turns)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.peak > 2 {
		t.Fatalf("fake server peak = %d, exceeds capacity", fake.peak)
	}
	for _, text := range fake.texts {
		if text != "what are your hours" {
			t.Fatalf("server reassembled %q from chunks", text)
		}
	}

	var out bytes.Buffer
	printReport(&out, report)
	if !strings.Contains(out.String(), "calls=5") {
		t.Fatalf("printReport output missing totals: %s", out.String())
	}
}

func TestLoadOptionsValidate(t *testing.T) {
	bad := []loadOptions{
		{baseURL: "", calls: 1, chunkBytes: 2, texts: []string{"x"}},
		{baseURL: "http://x", calls: 0, chunkBytes: 2, texts: []string{"x"}},
		{baseURL: "http://x", calls: 1, chunkBytes: 1, texts: []string{"x"}},
		{baseURL: "http://x", calls: 1, chunkBytes: 2},
	}
	for i, o := range bad {
		if err := o.validate(); err == nil {
			t.Fatalf("case %d: validate() = nil, want error", i)
		}
	}
	ok := loadOptions{baseURL: "http://x/", calls: 1, chunkBytes: 2, texts: []string{"x"}}
	if err := ok.validate(); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if ok.baseURL != "http://x" || ok.turnTimeout != time.Second {
		t.Fatalf("normalized options = %+v", ok)
	}
}
