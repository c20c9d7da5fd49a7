// Package ws streams the replicated session event feed to clients over
// WebSocket.
package ws

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/okian/gavel/internal/session"
	"github.com/okian/gavel/pkg/logger"
)

// Handler upgrades stream requests and attaches clients to sessions.
type Handler struct {
	registry *session.Registry
	upgrader websocket.Upgrader
	logger   logger.Logger
}

// NewHandler creates a WebSocket handler over the session registry.
func NewHandler(registry *session.Registry) *Handler {
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The surrounding app fronts this service; origin policy is
			// enforced there.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.Named("ws"),
	}
}

// ServeHTTP handles GET /ws?session=<id|code>&participant=<id>&from=<seq>.
// The stream replays the backlog after the from checkpoint, then tails live
// events until the session completes or the client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	key := q.Get("session")
	sess, err := h.registry.Get(key)
	if err != nil {
		sess, err = h.registry.GetByCode(key)
	}
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var from uint64
	if raw := q.Get("from"); raw != "" {
		from, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid from seq", http.StatusBadRequest)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug(r.Context(), "upgrade failed", logger.Error(err))
		return
	}

	participantID := q.Get("participant")
	if participantID != "" {
		sess.SetConnected(participantID, true)
	}

	client := newClient(conn, sess, participantID, from, h.logger)
	client.run(r.Context())
}
