package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/llm"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/observability"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/policy"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/routing"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/session"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/store"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/triage"
)

var ErrCallExists = errors.New("call already started")

const (
	defaultLLMTimeout = 8 * time.Second
	escalationTimeout = 2 * time.Second
)

// Skip reasons reported on TurnResult.
const (
	SkipNoSession  = "no_session"
	SkipSTTFailed  = "stt_failed"
	SkipSilence    = "silence"
	SkipLLMFailed  = "llm_failed"
	SkipEmptyReply = "empty_reply"
)

// TurnTranscriber is the transcription side of a turn.
type TurnTranscriber interface {
	TranscribeChunk(ctx context.Context, pcm []byte, language string) Outcome[string]
}

// TurnSynthesizer is the synthesis side of a turn.
type TurnSynthesizer interface {
	Synthesize(ctx context.Context, text, language string) Outcome[[]byte]
	SynthesizeStream(ctx context.Context, text, language string, emit func([]byte) error) Outcome[int]
}

// CallConfig describes a call at start.
type CallConfig struct {
	CallID             string
	TenantID           string
	Caller             string
	Clinic             session.ClinicContext
	Language           string
	CustomInstructions string
}

// TurnLatency is the measured time per phase of one turn, in milliseconds.
type TurnLatency struct {
	STTMS   float64 `json:"stt_ms"`
	LLMMS   float64 `json:"llm_ms"`
	TTSMS   float64 `json:"tts_ms"`
	TotalMS float64 `json:"total_ms"`
}

// TurnResult describes what one ProcessAudioTurn did.
type TurnResult struct {
	Transcript      string
	Reply           string
	Triage          triage.Result
	Tier            routing.Tier
	Transferred     bool
	TransferReason  string
	SynthesisFailed bool
	Skipped         bool
	SkipReason      string
	Latency         TurnLatency
}

type OrchestratorConfig struct {
	Sessions        *session.Manager
	Transcriber     TurnTranscriber
	Synthesizer     TurnSynthesizer
	LLM             llm.Adapter
	Monitor         *observability.Monitor
	Store           store.Store
	Metrics         *observability.Metrics
	Log             zerolog.Logger
	StreamSynthesis bool
	LLMTimeout      time.Duration
}

// Orchestrator runs the per-turn pipeline for every live call.
type Orchestrator struct {
	sessions   *session.Manager
	stt        TurnTranscriber
	tts        TurnSynthesizer
	llm        llm.Adapter
	monitor    *observability.Monitor
	store      store.Store
	metrics    *observability.Metrics
	log        zerolog.Logger
	streaming  bool
	llmTimeout time.Duration

	mu        sync.Mutex
	turnLocks map[string]*sync.Mutex

	background sync.WaitGroup
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = defaultLLMTimeout
	}
	return &Orchestrator{
		sessions:   cfg.Sessions,
		stt:        cfg.Transcriber,
		tts:        cfg.Synthesizer,
		llm:        cfg.LLM,
		monitor:    cfg.Monitor,
		store:      cfg.Store,
		metrics:    cfg.Metrics,
		log:        cfg.Log.With().Str("component", "orchestrator").Logger(),
		streaming:  cfg.StreamSynthesis,
		llmTimeout: cfg.LLMTimeout,
		turnLocks:  make(map[string]*sync.Mutex),
	}
}

// StartCall registers the call and opens its LLM conversation. A call id can
// be started once; a second start returns ErrCallExists.
func (o *Orchestrator) StartCall(ctx context.Context, cfg CallConfig) error {
	cfg.CallID = strings.TrimSpace(cfg.CallID)
	if cfg.CallID == "" {
		return errors.New("call id is required")
	}
	cfg.Language = triage.NormalizeLanguage(cfg.Language)

	_, err := o.sessions.Create(session.Session{
		ID:       cfg.CallID,
		TenantID: cfg.TenantID,
		Caller:   cfg.Caller,
		Clinic:   cfg.Clinic,
		Language: cfg.Language,
	})
	if errors.Is(err, session.ErrExists) {
		return ErrCallExists
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	if err := o.llm.OpenConversation(ctx, cfg.CallID, BuildSystemPrompt(cfg)); err != nil {
		_, _ = o.sessions.End(cfg.CallID)
		return fmt.Errorf("open llm conversation: %w", err)
	}

	o.mu.Lock()
	o.turnLocks[cfg.CallID] = &sync.Mutex{}
	o.mu.Unlock()

	o.metrics.IncCallEvent("call_started")
	o.log.Info().
		Str("call_id", cfg.CallID).
		Str("tenant_id", cfg.TenantID).
		Str("language", cfg.Language).
		Msg("call started")
	return nil
}

// ProcessAudio runs one turn and returns the text spoken back to the caller.
// The bool is false when the turn was skipped.
func (o *Orchestrator) ProcessAudio(ctx context.Context, callID string, pcm []byte, onAudio func([]byte) error) (string, bool) {
	res := o.ProcessAudioTurn(ctx, callID, pcm, onAudio)
	if res.Skipped {
		return "", false
	}
	return res.Reply, true
}

// ProcessAudioTurn is ProcessAudio with the full turn detail. Turns for one
// call run one at a time; turns for different calls run concurrently.
func (o *Orchestrator) ProcessAudioTurn(ctx context.Context, callID string, pcm []byte, onAudio func([]byte) error) TurnResult {
	lock := o.turnLock(callID)
	if lock == nil {
		return skipped(SkipNoSession)
	}
	lock.Lock()
	defer lock.Unlock()

	sess, err := o.sessions.Get(callID)
	if err != nil || !sess.Active() {
		return skipped(SkipNoSession)
	}
	log := o.log.With().Str("call_id", callID).Str("tenant_id", sess.TenantID).Logger()
	turnStart := time.Now()
	var res TurnResult

	sttStart := time.Now()
	heard := o.stt.TranscribeChunk(ctx, pcm, sess.Language)
	res.Latency.STTMS = sinceMS(sttStart)
	o.monitor.RecordCallLatency(callID, observability.PhaseSTT, res.Latency.STTMS)
	if !heard.OK {
		log.Warn().
			Str("phase", observability.PhaseSTT).
			Str("backend", heard.Backend).
			Str("reason", heard.Reason).
			Msg("turn skipped: transcription failed")
		return o.skip(res, SkipSTTFailed)
	}
	res.Transcript = strings.TrimSpace(heard.Value)
	if res.Transcript == "" {
		return o.skip(res, SkipSilence)
	}
	_ = o.sessions.Touch(callID)

	res.Triage = triage.DetectUrgency(res.Transcript, sess.Language)
	o.metrics.IncTriageLevel(string(res.Triage.Level))
	if res.Triage.Level == triage.LevelEmergency || res.Triage.Level == triage.LevelHigh {
		o.recordEscalation(sess, res.Triage, res.Transcript)
	}

	res.Tier = routing.ClassifyWithTriage(res.Transcript, res.Triage)
	o.metrics.IncModelTier(string(res.Tier))

	if res.Triage.IsEmergency() {
		res.Reply = res.Triage.Message
		res.Transferred = true
		res.TransferReason = "emergency:" + res.Triage.MatchedKeyword
		_ = o.sessions.RequestTransfer(callID, res.TransferReason)
		log.Warn().
			Str("keyword", res.Triage.MatchedKeyword).
			Str("action", res.Triage.Action).
			Msg("emergency detected; bypassing model and requesting transfer")

		res.Latency.TTSMS, res.SynthesisFailed = o.speak(ctx, log, callID, res.Reply, sess.Language, onAudio)
		return o.complete(callID, res, turnStart)
	}

	llmStart := time.Now()
	llmCtx, cancel := context.WithTimeout(ctx, o.llmTimeout)
	reply, err := o.llm.Reply(llmCtx, callID, res.Tier, res.Transcript)
	cancel()
	res.Latency.LLMMS = sinceMS(llmStart)
	o.monitor.RecordCallLatency(callID, observability.PhaseLLM, res.Latency.LLMMS)
	if err != nil {
		log.Error().
			Err(err).
			Str("phase", observability.PhaseLLM).
			Str("tier", string(res.Tier)).
			Msg("turn skipped: language model failed")
		return o.skip(res, SkipLLMFailed)
	}
	res.Reply = spokenReply(reply, sess.Language)
	if res.Reply == "" {
		return o.skip(res, SkipEmptyReply)
	}

	res.Latency.TTSMS, res.SynthesisFailed = o.speak(ctx, log, callID, res.Reply, sess.Language, onAudio)
	return o.complete(callID, res, turnStart)
}

// speak synthesizes text and hands the audio to onAudio. It reports the
// synthesis time and whether synthesis failed.
func (o *Orchestrator) speak(ctx context.Context, log zerolog.Logger, callID, text, language string, onAudio func([]byte) error) (float64, bool) {
	emit := onAudio
	if emit == nil {
		emit = func([]byte) error { return nil }
	}

	start := time.Now()
	var (
		ok      bool
		backend string
		reason  string
	)
	if o.streaming {
		out := o.tts.SynthesizeStream(ctx, text, language, emit)
		ok, backend, reason = out.OK, out.Backend, out.Reason
	} else {
		out := o.tts.Synthesize(ctx, text, language)
		ok, backend, reason = out.OK, out.Backend, out.Reason
		if ok {
			if err := emit(out.Value); err != nil {
				ok, reason = false, "emit"
			}
		}
	}
	ms := sinceMS(start)
	o.monitor.RecordCallLatency(callID, observability.PhaseTTS, ms)
	if !ok {
		log.Error().
			Str("phase", observability.PhaseTTS).
			Str("backend", backend).
			Str("reason", reason).
			Msg("synthesis failed; reply not spoken")
	}
	return ms, !ok
}

func (o *Orchestrator) complete(callID string, res TurnResult, turnStart time.Time) TurnResult {
	res.Latency.TotalMS = sinceMS(turnStart)
	o.monitor.RecordCallLatency(callID, observability.PhaseTotal, res.Latency.TotalMS)
	_ = o.sessions.RecordTurn(callID, session.TurnLatency{
		STTMS: res.Latency.STTMS,
		LLMMS: res.Latency.LLMMS,
		TTSMS: res.Latency.TTSMS,
	})
	o.metrics.IncCallEvent("turn_completed")
	return res
}

func (o *Orchestrator) skip(res TurnResult, reason string) TurnResult {
	res.Skipped = true
	res.SkipReason = reason
	o.metrics.IncCallEvent("turn_skipped_" + reason)
	return res
}

func skipped(reason string) TurnResult {
	return TurnResult{Skipped: true, SkipReason: reason}
}

// EndCall removes the call, closes its LLM conversation and returns the
// summary. Unknown ids return false. A turn still in flight is not waited
// for; its late bookkeeping finds no session and is dropped.
func (o *Orchestrator) EndCall(_ context.Context, callID string) (store.CallSummary, bool) {
	sess, err := o.sessions.End(callID)
	if err != nil {
		return store.CallSummary{}, false
	}
	o.llm.CloseConversation(callID)

	o.mu.Lock()
	delete(o.turnLocks, callID)
	o.mu.Unlock()

	summary := summarize(sess)
	o.metrics.IncCallEvent("call_ended")
	o.log.Info().
		Str("call_id", callID).
		Str("tenant_id", sess.TenantID).
		Float64("duration_seconds", summary.DurationSeconds).
		Int("turns", summary.TurnCount).
		Bool("transfer_requested", summary.TransferRequested).
		Str("transfer_reason", summary.TransferReason).
		Msg("call ended")
	return summary, true
}

// Wait blocks until background escalation writes have finished.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

func (o *Orchestrator) turnLock(callID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turnLocks[callID]
}

func (o *Orchestrator) recordEscalation(sess *session.Session, result triage.Result, transcript string) {
	if o.store == nil {
		return
	}
	redacted, _ := policy.RedactPHI(transcript)
	evt := store.EscalationEvent{
		ID:             uuid.NewString(),
		CallID:         sess.ID,
		TenantID:       sess.TenantID,
		Level:          string(result.Level),
		MatchedKeyword: result.MatchedKeyword,
		Action:         result.Action,
		Transcript:     redacted,
		Language:       sess.Language,
		CreatedAt:      time.Now().UTC(),
	}
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), escalationTimeout)
		defer cancel()
		if err := o.store.SaveEscalation(ctx, evt); err != nil {
			o.metrics.IncCallEvent("escalation_save_failed")
			o.log.Warn().Err(err).Str("call_id", evt.CallID).Str("level", evt.Level).Msg("escalation write failed")
		}
	}()
}

func summarize(s *session.Session) store.CallSummary {
	ended := s.LastActivityAt
	if ended.IsZero() || ended.Before(s.StartedAt) {
		ended = time.Now().UTC()
	}
	sum := store.CallSummary{
		CallID:            s.ID,
		TenantID:          s.TenantID,
		Caller:            s.Caller,
		Language:          s.Language,
		StartedAt:         s.StartedAt,
		EndedAt:           ended,
		DurationSeconds:   round2(ended.Sub(s.StartedAt).Seconds()),
		TurnCount:         s.TurnCount,
		TransferRequested: s.TransferRequested,
		TransferReason:    s.TransferReason,
	}
	if s.TurnCount > 0 {
		n := float64(s.TurnCount)
		sum.AvgSTTMS = round2(s.STTTotalMS / n)
		sum.AvgLLMMS = round2(s.LLMTotalMS / n)
		sum.AvgTTSMS = round2(s.TTSTotalMS / n)
	}
	return sum
}

func sinceMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
