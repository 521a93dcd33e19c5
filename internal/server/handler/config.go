package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/fundxeval/internal/domain"
)

// OfferResolver defines what the config handlers need from the service
// layer.
type OfferResolver interface {
	ExamTypes(ctx context.Context) ([]domain.ExamType, error)
	CachedOffer(ctx context.Context, phase domain.Phase, examType string) (domain.Offer, error)
}

// ConfigHandler serves exam tiers and offers.
type ConfigHandler struct {
	resolver OfferResolver
	logger   *slog.Logger
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(resolver OfferResolver, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{resolver: resolver, logger: logHandler(logger, "config")}
}

// ListExamTypes returns the configured exam tiers.
// GET /api/exam-types
func (h *ConfigHandler) ListExamTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.resolver.ExamTypes(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list exam types", err)
		return
	}
	if types == nil {
		types = []domain.ExamType{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"examTypes": types})
}

// GetOffer resolves the offer for a phase and exam tier.
// GET /api/offers/{phase}/{examType}
func (h *ConfigHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := h.resolver.CachedOffer(r.Context(), domain.Phase(r.PathValue("phase")), r.PathValue("examType"))
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve offer", err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}
