package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/audio"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/observability"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/protocol"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/session"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/triage"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/voice"
)

const (
	callStartTimeout  = 10 * time.Second
	writeTimeout      = 10 * time.Second
	summaryTimeout    = 3 * time.Second
	maxFrameBytes     = 2 << 20
	maxUtteranceBytes = 30 * 2 * audio.DefaultSampleRate // 30s of PCM16
	audioFormat       = "pcm16_16000"
)

// callConn serialises writes to one websocket.
type callConn struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	metrics *observability.Metrics
}

func (c *callConn) send(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return err
	}
	if t, ok := messageTypeOf(msg); ok {
		c.metrics.IncWSMessage("outbound", string(t))
	}
	return nil
}

func (c *callConn) close(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

// handleCallStream runs one call over a websocket. The first frame must be
// call_start. Admission happens before anything else; the slot is released
// on every exit path, including a recovered panic.
func (s *Server) handleCallStream(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		respondError(w, http.StatusServiceUnavailable, "draining", "server is shutting down")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)
	c := &callConn{conn: conn, metrics: s.metrics}

	start, ok := s.readCallStart(c)
	if !ok {
		return
	}
	callID := strings.TrimSpace(start.CallID)
	if callID == "" {
		callID = uuid.NewString()
	}
	log := s.log.With().Str("call_id", callID).Str("tenant_id", start.TenantID).Logger()

	if !s.admission.AcquireSlot(callID, start.TenantID, start.Caller) {
		_ = c.send(protocol.CallRejected{
			Type:   protocol.TypeCallRejected,
			CallID: callID,
			Reason: "busy",
			Detail: "all lines are busy, please try again shortly",
		})
		c.close(websocket.CloseTryAgainLater, "busy")
		return
	}
	defer s.admission.ReleaseSlot(callID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	err = s.calls.StartCall(ctx, voice.CallConfig{
		CallID:   callID,
		TenantID: start.TenantID,
		Caller:   start.Caller,
		Language: start.Language,
		Clinic: session.ClinicContext{
			ClinicName: start.Clinic.ClinicName,
			DoctorName: start.Clinic.DoctorName,
			Address:    start.Clinic.Address,
			Phone:      start.Clinic.Phone,
			Hours:      start.Clinic.Hours,
		},
		CustomInstructions: start.CustomInstructions,
	})
	if err != nil {
		reason := "start_failed"
		if errors.Is(err, voice.ErrCallExists) {
			reason = "duplicate_call_id"
		}
		log.Warn().Err(err).Str("reason", reason).Msg("call start failed")
		_ = c.send(protocol.CallRejected{Type: protocol.TypeCallRejected, CallID: callID, Reason: reason})
		c.close(websocket.ClosePolicyViolation, reason)
		return
	}

	endReason := "hangup"
	defer func() { s.finishCall(c, log, callID, endReason) }()
	defer func() {
		if rec := recover(); rec != nil {
			var stack [4096]byte
			n := runtime.Stack(stack[:], false)
			log.Error().
				Str("panic", fmt.Sprintf("%v", rec)).
				Str("stack", string(stack[:n])).
				Msg("panic in call; ending call")
			endReason = "internal_error"
		}
	}()

	sampleRate := start.SampleRate
	if !audio.SupportedSampleRate(sampleRate) {
		sampleRate = audio.DefaultSampleRate
	}
	_ = c.send(protocol.CallAccepted{
		Type:       protocol.TypeCallAccepted,
		CallID:     callID,
		Language:   triage.NormalizeLanguage(start.Language),
		SampleRate: sampleRate,
	})
	log.Info().Str("caller", start.Caller).Msg("call connected")

	endReason = s.callLoop(ctx, cancel, c, log, callID)
}

func (s *Server) readCallStart(c *callConn) (protocol.CallStart, bool) {
	_ = c.conn.SetReadDeadline(time.Now().Add(callStartTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.CallStart{}, false
	}
	msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		_ = c.send(protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "invalid_call_start", Detail: err.Error()})
		c.close(websocket.CloseUnsupportedData, "invalid call_start")
		return protocol.CallStart{}, false
	}
	start, ok := msg.(protocol.CallStart)
	if !ok {
		_ = c.send(protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "call_not_started", Detail: "first frame must be call_start"})
		c.close(websocket.ClosePolicyViolation, "call_start required")
		return protocol.CallStart{}, false
	}
	s.metrics.IncWSMessage("inbound", string(protocol.TypeCallStart))
	return start, true
}

// frameBacklog is how many inbound text frames may queue while a turn runs.
const frameBacklog = 128

// frameReader pumps text frames off the socket so a hangup is noticed while
// a turn is still in flight. err is set before frames is closed.
type frameReader struct {
	frames chan []byte
	err    error
}

// readFrames reads until the socket fails, then cancels the call context
// and closes frames.
func readFrames(ctx context.Context, cancel context.CancelFunc, c *callConn, idle time.Duration) *frameReader {
	fr := &frameReader{frames: make(chan []byte, frameBacklog)}
	go func() {
		defer close(fr.frames)
		for {
			_ = c.conn.SetReadDeadline(time.Now().Add(idle))
			msgType, data, err := c.conn.ReadMessage()
			if err != nil {
				fr.err = err
				cancel()
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			select {
			case fr.frames <- data:
			case <-ctx.Done():
				fr.err = ctx.Err()
				return
			}
		}
	}()
	return fr
}

// callLoop handles frames until the caller stops, the socket drops or the
// session goes away, and returns why the call ended. cancel aborts any turn
// in flight once the socket is gone.
func (s *Server) callLoop(ctx context.Context, cancel context.CancelFunc, c *callConn, log zerolog.Logger, callID string) string {
	idle := s.cfg.SessionInactivityTimeout
	if idle <= 0 {
		idle = 2 * time.Minute
	}
	fr := readFrames(ctx, cancel, c, idle)
	var (
		utterance []byte
		turn      int
	)
	for data := range fr.frames {
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = c.send(protocol.ErrorEvent{Type: protocol.TypeErrorEvent, CallID: callID, Code: "invalid_client_message", Detail: err.Error()})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.IncWSMessage("inbound", string(t))
		}

		switch m := parsed.(type) {
		case protocol.AudioChunk:
			pcm, _ := m.PCM()
			if len(utterance)+len(pcm) > maxUtteranceBytes {
				utterance = nil
				_ = c.send(protocol.ErrorEvent{Type: protocol.TypeErrorEvent, CallID: callID, Code: "utterance_too_long", Detail: "utterance discarded; commit more often"})
				continue
			}
			utterance = append(utterance, pcm...)
			if !m.Commit || ctx.Err() != nil {
				continue
			}
			turn++
			log.Debug().
				Int("turn", turn).
				Dur("utterance", audio.PCM16Duration(len(utterance), audio.DefaultSampleRate)).
				Msg("utterance committed")
			res := s.runTurn(ctx, c, callID, fmt.Sprintf("%s-%d", callID, turn), utterance)
			utterance = nil
			if res.Skipped && res.SkipReason == voice.SkipNoSession {
				log.Info().Msg("session no longer active; closing stream")
				return "expired"
			}
		case protocol.CallStop:
			return "caller_stop"
		case protocol.CallStart:
			_ = c.send(protocol.ErrorEvent{Type: protocol.TypeErrorEvent, CallID: callID, Code: "call_already_started"})
		}
	}
	if websocket.IsCloseError(fr.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return "hangup"
	}
	return "disconnect"
}

func (s *Server) runTurn(ctx context.Context, c *callConn, callID, turnID string, pcm []byte) voice.TurnResult {
	seq := 0
	res := s.calls.ProcessAudioTurn(ctx, callID, pcm, func(chunk []byte) error {
		seq++
		return c.send(protocol.AssistantAudio{
			Type:        protocol.TypeAssistantAudio,
			CallID:      callID,
			TurnID:      turnID,
			Seq:         seq,
			Format:      audioFormat,
			AudioBase64: base64.StdEncoding.EncodeToString(chunk),
		})
	})

	if res.Transcript != "" {
		_ = c.send(protocol.Transcript{
			Type:         protocol.TypeTranscript,
			CallID:       callID,
			TurnID:       turnID,
			Text:         res.Transcript,
			TriageLevel:  string(res.Triage.Level),
			Tier:         string(res.Tier),
			STTLatencyMS: res.Latency.STTMS,
		})
	}
	if res.Transferred {
		_ = c.send(protocol.TransferRequested{Type: protocol.TypeTransferRequested, CallID: callID, Reason: res.TransferReason})
	}
	if res.Skipped {
		_ = c.send(protocol.TurnSkipped{Type: protocol.TypeTurnSkipped, CallID: callID, TurnID: turnID, Reason: res.SkipReason})
		return res
	}
	_ = c.send(protocol.AssistantText{
		Type:      protocol.TypeAssistantText,
		CallID:    callID,
		TurnID:    turnID,
		Text:      res.Reply,
		LatencyMS: res.Latency.TotalMS,
	})
	return res
}

// finishCall ends the call in the orchestrator, stores its summary and tells
// the client. It runs on every exit path after a successful start.
func (s *Server) finishCall(c *callConn, log zerolog.Logger, callID, reason string) {
	summary, ok := s.calls.EndCall(context.Background(), callID)
	msg := protocol.CallEnded{Type: protocol.TypeCallEnded, CallID: callID, Reason: reason}
	if ok {
		msg.DurationSeconds = summary.DurationSeconds
		msg.TurnCount = summary.TurnCount
		msg.TransferRequested = summary.TransferRequested
		msg.TransferReason = summary.TransferReason
		if s.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
			if err := s.store.SaveCallSummary(ctx, summary); err != nil {
				log.Warn().Err(err).Msg("call summary write failed")
			}
			cancel()
		}
	}
	if reason != "disconnect" {
		_ = c.send(msg)
	}
	log.Info().Str("reason", reason).Bool("summarized", ok).Msg("call disconnected")
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.CallStart:
		return m.Type, true
	case protocol.AudioChunk:
		return m.Type, true
	case protocol.CallStop:
		return m.Type, true
	case protocol.CallAccepted:
		return m.Type, true
	case protocol.CallRejected:
		return m.Type, true
	case protocol.Transcript:
		return m.Type, true
	case protocol.AssistantAudio:
		return m.Type, true
	case protocol.AssistantText:
		return m.Type, true
	case protocol.TurnSkipped:
		return m.Type, true
	case protocol.TransferRequested:
		return m.Type, true
	case protocol.CallEnded:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
