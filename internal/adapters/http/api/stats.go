package api

import (
	"net/http"
	"time"
)

// StatsHandler reports coarse process statistics.
type StatsHandler struct {
	deps    Dependencies
	started time.Time
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(deps Dependencies) *StatsHandler {
	return &StatsHandler{deps: deps, started: time.Now()}
}

type statsResponse struct {
	ActiveSessions int     `json:"active_sessions"`
	UptimeS        float64 `json:"uptime_s"`
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		ActiveSessions: h.deps.SessionCount(),
		UptimeS:        time.Since(h.started).Seconds(),
	})
}
