package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/observability"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/routing"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/triage"
)

const maxPerfWindow = 24 * time.Hour

func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	window := 5 * time.Minute
	if raw := strings.TrimSpace(r.URL.Query().Get("window")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > maxPerfWindow {
			respondError(w, http.StatusBadRequest, "invalid_window", "window must be a positive duration up to 24h")
			return
		}
		window = d
	}

	phases := make(map[string]observability.Percentiles, 4)
	for _, phase := range []string{observability.PhaseSTT, observability.PhaseLLM, observability.PhaseTTS, observability.PhaseTotal} {
		phases[phase] = s.monitor.LatencyPercentiles(phase, window)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"generated_at":   time.Now().UTC(),
		"window_minutes": window.Minutes(),
		"phases":         phases,
		"api":            s.monitor.LatencyPercentiles(observability.MetricAPI, window),
	})
}

func (s *Server) handlePerfAlerts(w http.ResponseWriter, _ *http.Request) {
	alerts := s.monitor.CheckAlerts()
	respondJSON(w, http.StatusOK, map[string]any{
		"alerts":       alerts,
		"health_score": observability.ScoreAlerts(alerts),
	})
}

type triageRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type triageResponse struct {
	Triage triage.Result `json:"triage"`
	Tier   routing.Tier  `json:"tier"`
}

// handleTriage lets operators check how a phrase would be screened and
// routed without placing a call.
func (s *Server) handleTriage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	result := triage.DetectUrgency(req.Text, req.Language)
	respondJSON(w, http.StatusOK, triageResponse{
		Triage: result,
		Tier:   routing.ClassifyWithTriage(req.Text, result),
	})
}

func intQuery(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
