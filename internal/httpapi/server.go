package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/admission"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/config"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/observability"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/store"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/voice"
)

// CallEngine runs calls for the stream handler.
type CallEngine interface {
	StartCall(ctx context.Context, cfg voice.CallConfig) error
	ProcessAudioTurn(ctx context.Context, callID string, pcm []byte, onAudio func([]byte) error) voice.TurnResult
	EndCall(ctx context.Context, callID string) (store.CallSummary, bool)
}

// BackendHealth is a speech backend whose supervisor state is reported on
// /readyz.
type BackendHealth interface {
	Health() voice.HealthStatus
}

type Options struct {
	Config    config.Config
	Admission *admission.Controller
	Calls     CallEngine
	Monitor   *observability.Monitor
	Metrics   *observability.Metrics
	Store     store.Store
	Backends  []BackendHealth
	Log       zerolog.Logger
}

type Server struct {
	cfg       config.Config
	admission *admission.Controller
	calls     CallEngine
	monitor   *observability.Monitor
	metrics   *observability.Metrics
	store     store.Store
	backends  []BackendHealth
	log       zerolog.Logger
	upgrader  websocket.Upgrader
	draining  atomic.Bool
}

func New(opts Options) *Server {
	cfg := opts.Config
	return &Server{
		cfg:       cfg,
		admission: opts.Admission,
		calls:     opts.Calls,
		monitor:   opts.Monitor,
		metrics:   opts.Metrics,
		store:     opts.Store,
		backends:  opts.Backends,
		log:       opts.Log.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Telephony bridges do not send Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recovery(s.log))
	r.Use(requestLogger(s.log))
	r.Use(apiLatency(s.monitor))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/calls", s.handleListCalls)
		r.Get("/calls/stats", s.handleCallStats)
		r.Get("/calls/stream", s.handleCallStream)
		r.Get("/perf/latency", s.handlePerfLatency)
		r.Get("/perf/alerts", s.handlePerfAlerts)
		r.Post("/triage", s.handleTriage)
		r.Get("/escalations", s.handleEscalations)
	})
	return r
}

// Drain flips /readyz to 503 so the load balancer stops routing new calls.
func (s *Server) Drain() {
	s.draining.Store(true)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	backends := make([]voice.HealthStatus, 0, len(s.backends))
	for _, b := range s.backends {
		backends = append(backends, b.Health())
	}
	status, code := "ready", http.StatusOK
	if s.draining.Load() {
		status, code = "draining", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":   status,
		"backends": backends,
		"calls":    s.admission.Stats(),
	})
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	calls := s.admission.ActiveCalls()
	respondJSON(w, http.StatusOK, map[string]any{
		"calls": calls,
		"count": len(calls),
	})
}

func (s *Server) handleCallStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.admission.Stats())
}

func (s *Server) handleEscalations(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "escalation store not configured")
		return
	}
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, "missing_tenant_id", "query parameter tenant_id is required")
		return
	}
	limit, err := intQuery(r, "limit", 50)
	if err != nil || limit <= 0 || limit > 500 {
		respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	events, err := s.store.RecentEscalations(ctx, tenantID, limit)
	if err != nil {
		s.log.Error().Err(err).Str("tenant_id", tenantID).Msg("list escalations failed")
		respondError(w, http.StatusInternalServerError, "store_error", "could not load escalations")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"escalations": events})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
