package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mission-dispatch/internal/config"
	"mission-dispatch/internal/lifecycle"
	"mission-dispatch/internal/models"
	"mission-dispatch/internal/ratelimit"
	"mission-dispatch/internal/telemetry"
)

// Identity headers. Authentication happens upstream; these carry the
// already-validated opaque identity tokens into the core.
const (
	headerRequester = "X-Requester-ID"
	headerScout     = "X-Scout-ID"
)

// Server wires HTTP handlers for the mission API.
type Server struct {
	cfg       config.Config
	lifecycle *lifecycle.Controller
	limiter   *ratelimit.TokenBucket
}

// New constructs the API server. limiter may be nil (no creation cap).
func New(cfg config.Config, lc *lifecycle.Controller, limiter *ratelimit.TokenBucket) *Server {
	return &Server{
		cfg:       cfg,
		lifecycle: lc,
		limiter:   limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/missions", s.handleCreate)
	r.Get("/missions", s.handleHistory)
	r.Get("/missions/pending", s.handleListPending)
	r.Get("/missions/{id}", s.handleGet)
	r.Post("/missions/{id}/claim", s.handleClaim)
	r.Post("/missions/{id}/cancel", s.handleCancel)
	r.Post("/missions/{id}/start", s.handleStartSession)
	r.Post("/missions/{id}/end", s.handleEndSession)
	return r
}

type createRequest struct {
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	DurationMinutes int     `json:"duration_minutes"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	requesterID := r.Header.Get(headerRequester)
	if requesterID == "" {
		writeErrorMsg(w, http.StatusUnauthorized, "missing "+headerRequester)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid json")
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.AllowRequester(r.Context(), requesterID)
		if err != nil {
			writeErrorMsg(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeErrorMsg(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	mission, err := s.lifecycle.Create(r.Context(), requesterID,
		models.Location{Latitude: req.Latitude, Longitude: req.Longitude},
		req.DurationMinutes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mission)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	missions, err := s.lifecycle.ListPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	telemetry.PendingGauge.Set(float64(len(missions)))
	writeJSON(w, http.StatusOK, map[string]any{"missions": missions})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if requester := r.URL.Query().Get("requester"); requester != "" {
		missions, err := s.lifecycle.HistoryByRequester(r.Context(), requester)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"missions": missions})
		return
	}
	if scout := r.URL.Query().Get("scout"); scout != "" {
		missions, err := s.lifecycle.HistoryByScout(r.Context(), scout)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"missions": missions})
		return
	}
	writeErrorMsg(w, http.StatusBadRequest, "requester or scout query parameter required")
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	mission, err := s.lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mission)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	scoutID := r.Header.Get(headerScout)
	if scoutID == "" {
		writeErrorMsg(w, http.StatusUnauthorized, "missing "+headerScout)
		return
	}

	mission, err := s.lifecycle.Claim(r.Context(), chi.URLParam(r, "id"), scoutID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mission)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	actorID := r.Header.Get(headerRequester)
	if actorID == "" {
		actorID = r.Header.Get(headerScout)
	}
	if actorID == "" {
		writeErrorMsg(w, http.StatusUnauthorized, "missing identity header")
		return
	}

	mission, err := s.lifecycle.Cancel(r.Context(), chi.URLParam(r, "id"), actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mission)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	scoutID := r.Header.Get(headerScout)
	if scoutID == "" {
		writeErrorMsg(w, http.StatusUnauthorized, "missing "+headerScout)
		return
	}

	mission, err := s.lifecycle.StartSession(r.Context(), chi.URLParam(r, "id"), scoutID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mission":    mission,
		"channel_id": mission.ChannelID,
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	scoutID := r.Header.Get(headerScout)
	if scoutID == "" {
		writeErrorMsg(w, http.StatusUnauthorized, "missing "+headerScout)
		return
	}

	mission, snapshot, err := s.lifecycle.EndSession(r.Context(), chi.URLParam(r, "id"), scoutID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mission": mission,
		"billing": snapshot,
	})
}

// writeError maps domain errors onto HTTP statuses. AlreadyClaimed is a
// normal race outcome: 409 with a machine-readable body the client
// treats as "try another mission".
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidDuration):
		writeErrorMsg(w, http.StatusUnprocessableEntity, "invalid_duration")
	case errors.Is(err, models.ErrNotFound):
		writeErrorMsg(w, http.StatusNotFound, "not_found")
	case errors.Is(err, models.ErrAlreadyClaimed):
		writeErrorMsg(w, http.StatusConflict, "already_claimed")
	case errors.Is(err, models.ErrInvalidTransition):
		writeErrorMsg(w, http.StatusConflict, "invalid_transition")
	case errors.Is(err, models.ErrUnauthorized):
		writeErrorMsg(w, http.StatusForbidden, "unauthorized")
	default:
		writeErrorMsg(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeErrorMsg(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
