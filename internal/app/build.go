// Package app assembles the receptionist service from configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/admission"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/config"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/httpapi"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/llm"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/observability"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/session"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/store"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/voice"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Admission    *admission.Controller
	Sessions     *session.Manager
	Orchestrator *voice.Orchestrator
	Monitor      *observability.Monitor
	Exporter     *observability.Exporter
	Metrics      *observability.Metrics
	SpeechDetail string

	// Cleanup releases external resources (DB pool, redis, SDK clients,
	// health loops). Call it after the HTTP server has stopped.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	monitor := observability.NewMonitor(cfg.PerfBufferSize, metrics)

	var closers []func() error
	cleanup := func() error {
		var errs []string
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}
	fail := func(err error) (*BuildResult, error) {
		_ = cleanup()
		return nil, err
	}

	records, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("store init failed: %w", err))
	}
	closers = append(closers, records.Close)

	sinks := []observability.Sink{observability.NewPrometheusSink(metrics)}
	if cfg.RedisURL != "" {
		rdb, err := observability.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("redis init failed: %w", err))
		}
		closers = append(closers, rdb.Close)
		sinks = append(sinks, observability.NewRedisSink(rdb, cfg.MetricsNamespace+":perf", 0))
	}
	exporter := observability.NewExporter(monitor, cfg.MetricsPushInterval, log, sinks...)

	speech, err := resolveSpeechBackends(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	if speech.cleanup != nil {
		closers = append(closers, speech.cleanup)
	}

	healthPolicy := voice.HealthPolicy{Base: cfg.HealthRetryBase, MaxRetries: cfg.HealthMaxRetries}
	transcriber := voice.NewTranscriber(speech.sttPrimary, speech.sttFallback, voice.TranscriberOptions{
		Timeout: cfg.STTTimeout,
		Health:  healthPolicy,
	}, log, metrics)
	closers = append(closers, func() error { transcriber.Close(); return nil })

	synthesizer := voice.NewSynthesizer(speech.tts, voice.SynthesizerOptions{
		Timeout: cfg.TTSTimeout,
		Health:  healthPolicy,
		Voices:  map[string]string{"en": cfg.TTSVoice("en"), "es": cfg.TTSVoice("es")},
	}, log, metrics)
	closers = append(closers, func() error { synthesizer.Close(); return nil })

	model, err := llm.NewAdapter(ctx, llm.Config{
		Provider:       cfg.LLMProvider,
		HTTPURL:        cfg.LLMHTTPURL,
		APIKey:         cfg.LLMAPIKey,
		FastModel:      cfg.LLMFastModel,
		CapableModel:   cfg.LLMCapableModel,
		Timeout:        cfg.LLMTimeout,
		VertexProject:  cfg.VertexProject,
		VertexLocation: cfg.VertexLocation,
	})
	if err != nil {
		return fail(fmt.Errorf("llm adapter init failed: %w", err))
	}
	if c, ok := model.(io.Closer); ok {
		closers = append(closers, c.Close)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	orchestrator := voice.NewOrchestrator(voice.OrchestratorConfig{
		Sessions:        sessions,
		Transcriber:     transcriber,
		Synthesizer:     synthesizer,
		LLM:             model,
		Monitor:         monitor,
		Store:           records,
		Metrics:         metrics,
		Log:             log,
		StreamSynthesis: cfg.StreamSynthesis,
		LLMTimeout:      cfg.LLMTimeout,
	})
	closers = append(closers, func() error { orchestrator.Wait(); return nil })

	ctrl := admission.NewController(cfg.MaxConcurrentCalls, metrics, log)
	sessions.SetExpireHook(expireCall(orchestrator, ctrl, records, metrics, log))

	api := httpapi.New(httpapi.Options{
		Config:    cfg,
		Admission: ctrl,
		Calls:     orchestrator,
		Monitor:   monitor,
		Metrics:   metrics,
		Store:     records,
		Backends:  []httpapi.BackendHealth{transcriber, synthesizer},
		Log:       log,
	})

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Admission:    ctrl,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Monitor:      monitor,
		Exporter:     exporter,
		Metrics:      metrics,
		SpeechDetail: speech.detail,
		Cleanup:      cleanup,
	}, nil
}

// Start launches the background loops: session janitor and metrics export.
func (b *BuildResult) Start(ctx context.Context) {
	b.Sessions.StartJanitor(ctx, b.Config.SessionInactivityTimeout/4)
	b.Exporter.Start(ctx)
}

// expireCall ends a call whose session went idle and frees its slot. The
// stream handler notices on its next turn and closes the socket.
func expireCall(orch *voice.Orchestrator, ctrl *admission.Controller, records store.Store, metrics *observability.Metrics, log zerolog.Logger) func(*session.Session) {
	return func(s *session.Session) {
		metrics.IncCallEvent("call_expired")
		summary, ok := orch.EndCall(context.Background(), s.ID)
		ctrl.ReleaseSlot(s.ID)
		log.Info().Str("call_id", s.ID).Str("tenant_id", s.TenantID).Msg("idle call expired")
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := records.SaveCallSummary(ctx, summary); err != nil {
			log.Warn().Err(err).Str("call_id", s.ID).Msg("call summary write failed")
		}
	}
}
