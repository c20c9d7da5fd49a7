package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okian/gavel/internal/domain/model"
	"github.com/okian/gavel/internal/domain/phase"
	"github.com/okian/gavel/internal/session"
)

// SessionsHandler handles the session lifecycle and action endpoints.
type SessionsHandler struct {
	deps Dependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps Dependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

type createRequest struct {
	// PhaseLimitsS optionally overrides phase time limits, in seconds.
	PhaseLimitsS map[string]int `json:"phase_limits_s,omitempty"`
	HostName     string         `json:"host_name"`
	HostRole     string         `json:"host_role"`
}

type createResponse struct {
	SessionID   string              `json:"session_id"`
	RoomCode    string              `json:"room_code"`
	Participant session.Participant `json:"participant"`
}

// HandleCreate handles POST /sessions: a host starting a game.
func (h *SessionsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if strings.TrimSpace(req.HostName) == "" || req.HostRole == "" {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("missing host_name or host_role"))
		return
	}

	cfg := session.Config{}
	if len(req.PhaseLimitsS) > 0 {
		cfg.PhaseLimits = make(map[phase.Phase]time.Duration, len(req.PhaseLimitsS))
		for name, secs := range req.PhaseLimitsS {
			p := phase.Phase(name)
			if !p.Valid() || secs <= 0 {
				writeError(w, http.StatusBadRequest, "bad_request", errors.New("invalid phase limit: "+name))
				return
			}
			cfg.PhaseLimits[p] = time.Duration(secs) * time.Second
		}
	}

	sess := h.deps.CreateSession(r.Context(), cfg)
	p, err := sess.Join(req.HostName, model.Role(req.HostRole))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{
		SessionID:   sess.ID,
		RoomCode:    sess.RoomCode,
		Participant: *p,
	})
}

// lookup resolves the {id} path value as a session id, falling back to a
// room code so invite links can use either.
func (h *SessionsHandler) lookup(r *http.Request) (*session.Session, error) {
	id := r.PathValue("id")
	if s, err := h.deps.GetSession(id); err == nil {
		return s, nil
	}
	return h.deps.GetSessionByCode(id)
}

type joinRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// HandleJoin handles POST /sessions/{id}/join.
func (h *SessionsHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	sess, err := h.lookup(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	p, err := sess.Join(req.Name, model.Role(req.Role))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{
		SessionID:   sess.ID,
		RoomCode:    sess.RoomCode,
		Participant: *p,
	})
}

type leaveRequest struct {
	ParticipantID string `json:"participant_id"`
}

// HandleLeave handles POST /sessions/{id}/leave.
func (h *SessionsHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	sess, err := h.lookup(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	h.deps.LeaveSession(sess.ID, req.ParticipantID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

type actionRequest struct {
	ParticipantID string            `json:"participant_id"`
	Type          string            `json:"type"`
	Phase         string            `json:"phase,omitempty"`
	Payload       map[string]string `json:"payload,omitempty"`
}

func (a actionRequest) validate() error {
	switch {
	case strings.TrimSpace(a.ParticipantID) == "":
		return errors.New("missing participant_id")
	case !model.EventType(a.Type).Valid():
		return errors.New("unknown action type")
	}
	return nil
}

type eventResponse struct {
	Event model.ActionEvent `json:"event"`
}

// HandleAction handles POST /sessions/{id}/actions: the action append
// interface. The claimed phase is the client's optimistic view; a stale
// claim comes back as 409 for the client to absorb silently.
func (h *SessionsHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	sess, err := h.lookup(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	claimed, ok := parsePhase(req.Phase)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("unknown phase"))
		return
	}
	ev, err := sess.SubmitAction(r.Context(), req.ParticipantID, model.EventType(req.Type), claimed, req.Payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, eventResponse{Event: ev})
}

type advanceRequest struct {
	ParticipantID string `json:"participant_id"`
}

// HandleAdvance handles POST /sessions/{id}/advance: the judge's manual
// phase advance.
func (h *SessionsHandler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	sess, err := h.lookup(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ev, err := sess.Advance(r.Context(), req.ParticipantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, eventResponse{Event: ev})
}

type powerupRequest struct {
	ParticipantID string `json:"participant_id"`
	Type          string `json:"type"`
}

// HandlePowerup handles POST /sessions/{id}/powerups.
func (h *SessionsHandler) HandlePowerup(w http.ResponseWriter, r *http.Request) {
	sess, err := h.lookup(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req powerupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ev, err := sess.ActivatePowerup(r.Context(), req.ParticipantID, req.Type)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, eventResponse{Event: ev})
}

// HandlePowerupArm handles POST /sessions/{id}/powerups/arm: pre-selecting
// a power-up so the later activation transitions it in place.
func (h *SessionsHandler) HandlePowerupArm(w http.ResponseWriter, r *http.Request) {
	sess, err := h.lookup(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req powerupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	inst, err := sess.ArmPowerup(req.ParticipantID, req.Type)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"powerup": inst})
}

// HandleJudgmentRetry handles POST /sessions/{id}/judgment: the judge's
// manual retry after a jury timeout.
func (h *SessionsHandler) HandleJudgmentRetry(w http.ResponseWriter, r *http.Request) {
	sess, err := h.lookup(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.deps.RetryJudgment(r.Context(), sess.ID, req.ParticipantID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

// HandleState handles GET /sessions/{id}/state.
func (h *SessionsHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	sess, err := h.lookup(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

// HandleStandings handles GET /sessions/{id}/standings.
func (h *SessionsHandler) HandleStandings(w http.ResponseWriter, r *http.Request) {
	sess, err := h.lookup(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"standings": sess.Standings()})
}

// HandleEvents handles GET /sessions/{id}/events?from=<seq>: the backlog
// page for clients recovering from a replication gap.
func (h *SessionsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := h.lookup(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var from uint64
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", errors.New("invalid from seq"))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": sess.EventsSince(from)})
}
