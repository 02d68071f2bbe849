package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/observability"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/protocol"
)

const (
	seriesTurn       = "turn"
	seriesFirstAudio = "first_audio"
	seriesConnect    = "connect"
)

type loadOptions struct {
	baseURL     string
	tenantID    string
	language    string
	calls       int
	turns       int
	chunkBytes  int
	hold        time.Duration
	turnTimeout time.Duration
	texts       []string
}

var defaultUtterances = []string{
	"what are your hours on saturday",
	"I need to book an appointment with the doctor",
	"does my insurance cover a new patient visit",
	"can I get a refill on my blood pressure medication",
}

// callOutcome is what one synthetic call observed.
type callOutcome struct {
	accepted     bool
	rejected     bool
	rejectReason string
	err          error
	turns        int
	skipped      int
	transfers    int
}

type loadReport struct {
	Calls         int                                  `json:"calls"`
	Accepted      int                                  `json:"accepted"`
	Rejected      int                                  `json:"rejected"`
	Failed        int                                  `json:"failed"`
	RejectReasons map[string]int                       `json:"reject_reasons,omitempty"`
	Turns         int                                  `json:"turns"`
	SkippedTurns  int                                  `json:"skipped_turns"`
	Transfers     int                                  `json:"transfers"`
	Latency       map[string]observability.Percentiles `json:"latency"`
	Errors        []string                             `json:"errors,omitempty"`
	Elapsed       float64                              `json:"elapsed_seconds"`
}

func loadtestCmd() *cobra.Command {
	var (
		opts     loadOptions
		textsRaw string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Open concurrent calls against a running server and report admission and latency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.texts = splitTexts(textsRaw)
			if err := opts.validate(); err != nil {
				return err
			}
			report, err := runLoad(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "receptionist base URL")
	f.StringVar(&opts.tenantID, "tenant-id", "loadtest", "tenant_id sent in call_start")
	f.StringVar(&opts.language, "language", "en", "caller language")
	f.IntVar(&opts.calls, "calls", 25, "number of concurrent calls to open")
	f.IntVar(&opts.turns, "turns", 3, "turns per accepted call")
	f.IntVar(&opts.chunkBytes, "chunk-bytes", 16, "audio_chunk payload size in bytes")
	f.DurationVar(&opts.hold, "hold", time.Second, "how long each accepted call stays open after its last turn")
	f.DurationVar(&opts.turnTimeout, "turn-timeout", 15*time.Second, "max wait for a turn to finish")
	f.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (sent as text payloads the mock STT echoes back)")
	f.BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func splitTexts(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultUtterances...)
	}
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (o *loadOptions) validate() error {
	o.baseURL = strings.TrimRight(strings.TrimSpace(o.baseURL), "/")
	switch {
	case o.baseURL == "":
		return fmt.Errorf("base-url is required")
	case o.calls <= 0:
		return fmt.Errorf("calls must be > 0")
	case o.turns < 0:
		return fmt.Errorf("turns must be >= 0")
	case o.chunkBytes < 2:
		return fmt.Errorf("chunk-bytes must be >= 2")
	case len(o.texts) == 0:
		return fmt.Errorf("texts produced no non-empty utterances")
	}
	if o.turnTimeout < time.Second {
		o.turnTimeout = time.Second
	}
	if o.hold < 0 {
		o.hold = 0
	}
	return nil
}

func streamURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/calls/stream"
	return u.String(), nil
}

// runLoad opens every call at once so the server's admission limit is hit
// by genuinely concurrent requests.
func runLoad(ctx context.Context, opts loadOptions) (loadReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	wsURL, err := streamURL(opts.baseURL)
	if err != nil {
		return loadReport{}, fmt.Errorf("build stream URL: %w", err)
	}

	monitor := observability.NewMonitor(opts.calls*(opts.turns+1), nil)
	outcomes := make([]callOutcome, opts.calls)
	start := make(chan struct{})
	began := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < opts.calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outcomes[i] = runCall(ctx, wsURL, opts, monitor, i)
		}(i)
	}
	close(start)
	wg.Wait()

	report := loadReport{
		Calls:         opts.calls,
		RejectReasons: make(map[string]int),
		Latency:       make(map[string]observability.Percentiles, 3),
		Elapsed:       time.Since(began).Seconds(),
	}
	for _, o := range outcomes {
		switch {
		case o.rejected:
			report.Rejected++
			report.RejectReasons[o.rejectReason]++
		case o.accepted:
			report.Accepted++
		}
		if o.err != nil {
			report.Failed++
			report.Errors = append(report.Errors, o.err.Error())
		}
		report.Turns += o.turns
		report.SkippedTurns += o.skipped
		report.Transfers += o.transfers
	}
	window := time.Since(began) + time.Minute
	for _, series := range []string{seriesConnect, seriesFirstAudio, seriesTurn} {
		report.Latency[series] = monitor.LatencyPercentiles(series, window)
	}
	return report, nil
}

func runCall(ctx context.Context, wsURL string, opts loadOptions, monitor *observability.Monitor, index int) callOutcome {
	callID := "load-" + uuid.NewString()
	dialStart := time.Now()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return callOutcome{err: fmt.Errorf("call %d dial: %w", index, err)}
	}
	defer conn.Close()

	err = conn.WriteJSON(protocol.CallStart{
		Type:     protocol.TypeCallStart,
		CallID:   callID,
		TenantID: opts.tenantID,
		Caller:   fmt.Sprintf("+1555%07d", index),
		Language: opts.language,
	})
	if err != nil {
		return callOutcome{err: fmt.Errorf("call %d send call_start: %w", index, err)}
	}

	first, err := readFrame(conn, opts.turnTimeout)
	if err != nil {
		return callOutcome{err: fmt.Errorf("call %d await admission: %w", index, err)}
	}
	switch first.Type {
	case string(protocol.TypeCallRejected):
		return callOutcome{rejected: true, rejectReason: first.Reason}
	case string(protocol.TypeCallAccepted):
	default:
		return callOutcome{err: fmt.Errorf("call %d: unexpected first frame %q", index, first.Type)}
	}
	monitor.RecordCallLatency(callID, seriesConnect, msSince(dialStart))

	out := callOutcome{accepted: true}
	for t := 0; t < opts.turns; t++ {
		text := opts.texts[(index+t)%len(opts.texts)]
		res, err := runLoadTurn(conn, callID, text, opts)
		if err != nil {
			out.err = fmt.Errorf("call %d turn %d: %w", index, t+1, err)
			return out
		}
		out.turns++
		if res.skipped {
			out.skipped++
		} else {
			monitor.RecordCallLatency(callID, seriesTurn, res.totalMS)
		}
		if res.firstAudioMS > 0 {
			monitor.RecordCallLatency(callID, seriesFirstAudio, res.firstAudioMS)
		}
		if res.transferred {
			out.transfers++
		}
		if res.ended {
			return out
		}
	}

	if opts.hold > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(opts.hold):
		}
	}
	if err := conn.WriteJSON(protocol.CallStop{Type: protocol.TypeCallStop, CallID: callID}); err != nil {
		out.err = fmt.Errorf("call %d send call_stop: %w", index, err)
		return out
	}
	for {
		msg, err := readFrame(conn, opts.turnTimeout)
		if err != nil {
			if !isClosed(err) {
				out.err = fmt.Errorf("call %d await call_ended: %w", index, err)
			}
			return out
		}
		if msg.Type == string(protocol.TypeCallEnded) {
			return out
		}
	}
}

type turnResult struct {
	firstAudioMS float64
	totalMS      float64
	skipped      bool
	transferred  bool
	ended        bool
}

// runLoadTurn sends text as the utterance payload, split across chunks, and
// waits until the server reports the turn as answered or skipped.
func runLoadTurn(conn *websocket.Conn, callID, text string, opts loadOptions) (turnResult, error) {
	payload := []byte(text)
	for off := 0; off < len(payload); off += opts.chunkBytes {
		end := off + opts.chunkBytes
		if end > len(payload) {
			end = len(payload)
		}
		err := conn.WriteJSON(protocol.AudioChunk{
			Type:        protocol.TypeAudioChunk,
			CallID:      callID,
			PCM16Base64: base64.StdEncoding.EncodeToString(payload[off:end]),
		})
		if err != nil {
			return turnResult{}, err
		}
	}
	committed := time.Now()
	if err := conn.WriteJSON(protocol.AudioChunk{Type: protocol.TypeAudioChunk, CallID: callID, Commit: true}); err != nil {
		return turnResult{}, err
	}

	var res turnResult
	deadline := committed.Add(opts.turnTimeout)
	for {
		msg, err := readFrame(conn, time.Until(deadline))
		if err != nil {
			return res, err
		}
		switch msg.Type {
		case string(protocol.TypeAssistantAudio):
			if res.firstAudioMS == 0 {
				res.firstAudioMS = msSince(committed)
			}
		case string(protocol.TypeTransferRequested):
			res.transferred = true
		case string(protocol.TypeAssistantText):
			res.totalMS = msSince(committed)
			return res, nil
		case string(protocol.TypeTurnSkipped):
			res.skipped = true
			return res, nil
		case string(protocol.TypeCallEnded):
			res.ended = true
			return res, nil
		}
	}
}

type frame struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
	Code   string `json:"code,omitempty"`
}

func readFrame(conn *websocket.Conn, timeout time.Duration) (frame, error) {
	if timeout <= 0 {
		return frame{}, fmt.Errorf("timeout")
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return frame{}, err
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		return f, nil
	}
}

func isClosed(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}

func printReport(w io.Writer, r loadReport) {
	fmt.Fprintf(w, "calls=%d accepted=%d rejected=%d failed=%d elapsed=%.2fs\n", r.Calls, r.Accepted, r.Rejected, r.Failed, r.Elapsed)
	for reason, n := range r.RejectReasons {
		fmt.Fprintf(w, "  rejected reason=%s count=%d\n", reason, n)
	}
	fmt.Fprintf(w, "turns=%d skipped=%d transfers=%d\n", r.Turns, r.SkippedTurns, r.Transfers)
	for _, series := range []string{seriesConnect, seriesFirstAudio, seriesTurn} {
		p := r.Latency[series]
		fmt.Fprintf(w, "  %-11s n=%-5d p50=%8.2fms p95=%8.2fms p99=%8.2fms avg=%8.2fms\n", series, p.Count, p.P50, p.P95, p.P99, p.Avg)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}
