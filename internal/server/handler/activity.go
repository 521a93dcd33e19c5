package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/fundxeval/internal/domain"
)

// ActivityHandler serves the audit log and the payment event stream.
type ActivityHandler struct {
	audit  domain.AuditStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewActivityHandler creates an ActivityHandler. Either source may be nil;
// its endpoint then answers 503.
func NewActivityHandler(audit domain.AuditStore, bus domain.SignalBus, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{audit: audit, bus: bus, logger: logHandler(logger, "activity")}
}

// ListAudit returns audit entries, newest first.
// GET /api/audit?limit=&offset=
func (h *ActivityHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type streamEvent struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// PaymentEvents replays payment transitions after a stream cursor so a
// reconnecting dashboard can catch up. The response carries the cursor for
// the next call.
// GET /api/payments/events?after=0&limit=
func (h *ActivityHandler) PaymentEvents(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	opts := parseListOpts(r)

	msgs, err := h.bus.StreamRead(r.Context(), domain.StreamPayments, after, opts.Limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "read payment events", err)
		return
	}

	events := make([]streamEvent, 0, len(msgs))
	next := after
	for _, m := range msgs {
		next = m.ID
		if !json.Valid(m.Payload) {
			continue
		}
		events = append(events, streamEvent{ID: m.ID, Payload: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"next":   next,
	})
}
