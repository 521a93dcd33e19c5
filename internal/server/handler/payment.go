package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/fundxeval/internal/domain"
)

// PaymentCoordinator defines what the payment handlers need from the
// coordinator.
type PaymentCoordinator interface {
	Begin(ctx context.Context, offer domain.Offer) (domain.PaymentSession, error)
	Cancel(ctx context.Context) (domain.PaymentSession, error)
	Refresh(ctx context.Context) (domain.PaymentSession, error)
	Current() domain.PaymentSession
}

// RecoveryExporter writes sessions needing recovery to cold storage and
// lists earlier exports.
type RecoveryExporter interface {
	ExportRecovery(ctx context.Context, sessions []domain.PaymentSession) (string, error)
	RecoveryExports(ctx context.Context) ([]domain.BlobInfo, error)
}

// PaymentHandler serves the purchase flow.
type PaymentHandler struct {
	resolver    OfferResolver
	coordinator PaymentCoordinator
	store       domain.PaymentStore
	archive     domain.ReceiptArchive
	exporter    RecoveryExporter
	logger      *slog.Logger
}

// NewPaymentHandler creates a PaymentHandler. store, archive and exporter
// may be nil; the endpoints that need them then answer 503.
func NewPaymentHandler(
	resolver OfferResolver,
	coordinator PaymentCoordinator,
	store domain.PaymentStore,
	archive domain.ReceiptArchive,
	exporter RecoveryExporter,
	logger *slog.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		resolver:    resolver,
		coordinator: coordinator,
		store:       store,
		archive:     archive,
		exporter:    exporter,
		logger:      logHandler(logger, "payment"),
	}
}

type beginRequest struct {
	Phase    domain.Phase `json:"phase"`
	ExamType string       `json:"examType"`
}

// Begin resolves the selected offer and submits the payment. The response
// carries the session once the transaction is submitted; confirmation and
// provisioning continue in the background.
// POST /api/payments
func (h *PaymentHandler) Begin(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Phase == "" || strings.TrimSpace(req.ExamType) == "" {
		writeError(w, http.StatusBadRequest, "phase and examType are required")
		return
	}

	offer, err := h.resolver.CachedOffer(r.Context(), req.Phase, req.ExamType)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve offer", err)
		return
	}

	session, err := h.coordinator.Begin(r.Context(), offer)
	if err != nil {
		// Failed sessions are returned alongside the error so the caller
		// sees the recorded failure.
		if session.ID != "" && session.State.Terminal() {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   err.Error(),
				"session": session,
			})
			return
		}
		writeServiceError(w, r, h.logger, "begin payment", err)
		return
	}
	writeJSON(w, http.StatusAccepted, session)
}

// Current returns the coordinator's session.
// GET /api/payments/current
func (h *PaymentHandler) Current(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coordinator.Current())
}

// Cancel abandons a payment that has not been submitted.
// POST /api/payments/cancel
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	session, err := h.coordinator.Cancel(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel payment", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Refresh checks a pending payment's receipt.
// POST /api/payments/refresh
func (h *PaymentHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	session, err := h.coordinator.Refresh(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "refresh payment", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Receipt returns the archived receipt for a transaction, falling back to
// the stored session while the archive has none.
// GET /api/payments/{hash}/receipt
func (h *PaymentHandler) Receipt(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if !strings.HasPrefix(hash, "0x") {
		writeError(w, http.StatusBadRequest, "invalid transaction hash")
		return
	}

	if h.archive != nil {
		receipt, err := h.archive.Fetch(r.Context(), hash)
		if err == nil {
			writeJSON(w, http.StatusOK, receipt)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "receipt archive read failed", slog.String("error", err.Error()))
		}
	}
	if h.store == nil {
		writeError(w, http.StatusNotFound, "receipt not found")
		return
	}
	session, err := h.store.GetByTxHash(r.Context(), hash)
	if err != nil {
		writeServiceError(w, r, h.logger, "load receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, domain.PaymentReceipt{Session: session})
}

// Recovery lists confirmed payments whose provisioning failed. With
// ?export=true the list is also written to the archive.
// GET /api/payments/recovery
func (h *PaymentHandler) Recovery(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "payment store not configured")
		return
	}
	sessions, err := h.store.ListNeedingRecovery(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list recovery", err)
		return
	}
	if sessions == nil {
		sessions = []domain.PaymentSession{}
	}

	resp := map[string]any{"sessions": sessions}
	if r.URL.Query().Get("export") == "true" && h.exporter != nil && len(sessions) > 0 {
		path, err := h.exporter.ExportRecovery(r.Context(), sessions)
		if err != nil {
			writeServiceError(w, r, h.logger, "export recovery", err)
			return
		}
		resp["export"] = path
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecoveryExports lists the recovery exports in the archive.
// GET /api/payments/recovery/exports
func (h *PaymentHandler) RecoveryExports(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "receipt archive not configured")
		return
	}
	exports, err := h.exporter.RecoveryExports(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list recovery exports", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": exports})
}
