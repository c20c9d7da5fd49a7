// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/gavel/internal/domain/phase"
	"github.com/okian/gavel/internal/judgment"
	"github.com/okian/gavel/internal/session"
	"github.com/okian/gavel/pkg/metrics"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	CreateSession(ctx context.Context, cfg session.Config) *session.Session
	GetSession(id string) (*session.Session, error)
	GetSessionByCode(code string) (*session.Session, error)
	LeaveSession(id, participantID string)
	SessionCount() int
	RetryJudgment(ctx context.Context, sessionID, participantID string) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	sessionsHandler *SessionsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(deps),
		sessionsHandler: NewSessionsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /sessions", MetricsMiddleware(s.sessionsHandler.HandleCreate, "sessions_create"))
	mux.HandleFunc("POST /sessions/{id}/join", MetricsMiddleware(s.sessionsHandler.HandleJoin, "sessions_join"))
	mux.HandleFunc("POST /sessions/{id}/leave", MetricsMiddleware(s.sessionsHandler.HandleLeave, "sessions_leave"))
	mux.HandleFunc("POST /sessions/{id}/actions", MetricsMiddleware(s.sessionsHandler.HandleAction, "sessions_actions"))
	mux.HandleFunc("POST /sessions/{id}/advance", MetricsMiddleware(s.sessionsHandler.HandleAdvance, "sessions_advance"))
	mux.HandleFunc("POST /sessions/{id}/powerups", MetricsMiddleware(s.sessionsHandler.HandlePowerup, "sessions_powerups"))
	mux.HandleFunc("POST /sessions/{id}/powerups/arm", MetricsMiddleware(s.sessionsHandler.HandlePowerupArm, "sessions_powerups_arm"))
	mux.HandleFunc("POST /sessions/{id}/judgment", MetricsMiddleware(s.sessionsHandler.HandleJudgmentRetry, "sessions_judgment"))
	mux.HandleFunc("GET /sessions/{id}/state", MetricsMiddleware(s.sessionsHandler.HandleState, "sessions_state"))
	mux.HandleFunc("GET /sessions/{id}/standings", MetricsMiddleware(s.sessionsHandler.HandleStandings, "sessions_standings"))
	mux.HandleFunc("GET /sessions/{id}/events", MetricsMiddleware(s.sessionsHandler.HandleEvents, "sessions_events"))

	mux.Handle("GET /metrics", metrics.Handler())
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError translates domain sentinels to HTTP status codes. Stale
// losses map to 409 so optimistic clients can absorb them as no-ops.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, session.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, session.ErrStaleAction):
		writeError(w, http.StatusConflict, "stale_action", err)
	case errors.Is(err, session.ErrAwaitingVerdict):
		writeError(w, http.StatusConflict, "awaiting_verdict", err)
	case errors.Is(err, session.ErrRoleTaken):
		writeError(w, http.StatusConflict, "role_taken", err)
	case errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusGone, "session_closed", err)
	case errors.Is(err, session.ErrNotCharged):
		writeError(w, http.StatusBadRequest, "not_charged", err)
	case errors.Is(err, judgment.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "judgment_timeout", err)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", err)
	}
}

// parsePhase validates an optional client-claimed phase.
func parsePhase(raw string) (phase.Phase, bool) {
	if raw == "" {
		return "", true
	}
	p := phase.Phase(raw)
	return p, p.Valid()
}
