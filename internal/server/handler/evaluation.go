package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// EvaluationLister lists any trader's open evaluations on demand.
type EvaluationLister interface {
	Snapshot(ctx context.Context, trader string) domain.EvaluationSnapshot
}

// SnapshotSource serves the watched trader's latest listing.
type SnapshotSource interface {
	Trader() string
	Snapshot() domain.EvaluationSnapshot
}

// EvaluationHandler serves evaluation listings.
type EvaluationHandler struct {
	registry EvaluationLister
	watched  SnapshotSource
	logger   *slog.Logger
}

// NewEvaluationHandler creates an EvaluationHandler. watched may be nil.
func NewEvaluationHandler(registry EvaluationLister, watched SnapshotSource, logger *slog.Logger) *EvaluationHandler {
	return &EvaluationHandler{registry: registry, watched: watched, logger: logHandler(logger, "evaluation")}
}

// ListEvaluations returns the trader's active evaluations. The watched
// trader is served from the watcher's snapshot, others are read on demand.
// GET /api/evaluations?trader=0x...
func (h *EvaluationHandler) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	trader := strings.TrimSpace(r.URL.Query().Get("trader"))
	if trader == "" && h.watched != nil {
		trader = h.watched.Trader()
	}
	if !common.IsHexAddress(trader) {
		writeError(w, http.StatusBadRequest, "trader must be a hex address")
		return
	}

	if h.watched != nil && strings.EqualFold(trader, h.watched.Trader()) {
		writeJSON(w, http.StatusOK, h.watched.Snapshot())
		return
	}
	writeJSON(w, http.StatusOK, h.registry.Snapshot(r.Context(), trader))
}
