package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the gateway status for dashboards.
type StatusHandler struct {
	Mode      string
	Trader    string
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler for the given mode and trader.
func NewStatusHandler(mode, trader string) *StatusHandler {
	return &StatusHandler{Mode: mode, Trader: trader, StartedAt: time.Now().UTC()}
}

// GetStatus responds with the running mode, the trader address and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"trader":         h.Trader,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
