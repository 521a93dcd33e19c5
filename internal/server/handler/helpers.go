package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/fundxeval/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps service errors to a status code and the message shown to
// the caller. Unknown errors are reported as 500 without detail.
var errorStatus = []struct {
	err    error
	status int
}{
	{domain.ErrInvalidSelection, http.StatusBadRequest},
	{domain.ErrInvalidEvaluationType, http.StatusBadRequest},
	{domain.ErrBadRequest, http.StatusBadRequest},
	{domain.ErrUnauthorized, http.StatusUnauthorized},
	{domain.ErrNoSession, http.StatusNotFound},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrSessionInUse, http.StatusConflict},
	{domain.ErrNotCancellable, http.StatusConflict},
	{domain.ErrSubmissionRejected, http.StatusUnprocessableEntity},
	{domain.ErrPaymentReverted, http.StatusUnprocessableEntity},
	{domain.ErrRateLimited, http.StatusTooManyRequests},
	{domain.ErrProvisioningFailed, http.StatusBadGateway},
	{domain.ErrLedgerRead, http.StatusBadGateway},
	{domain.ErrConfigUnavailable, http.StatusServiceUnavailable},
	{domain.ErrConfirmationTimeout, http.StatusGatewayTimeout},
}

// writeServiceError writes err using errorStatus and logs anything that is
// not a client mistake.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			if e.status >= http.StatusInternalServerError {
				logger.WarnContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
			}
			writeError(w, e.status, e.err.Error())
			return
		}
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
