package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// writeError maps domain sentinels onto status codes. Anything unmapped is
// logged and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, model.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, model.ErrCapacityExceeded):
		httpx.WriteError(w, http.StatusConflict, "capacity_exceeded", model.ErrCapacityExceeded.Error())
	case errors.Is(err, model.ErrConflict):
		httpx.WriteError(w, http.StatusConflict, "conflict", model.ErrConflict.Error())
	case errors.Is(err, model.ErrExpired):
		httpx.WriteError(w, http.StatusGone, "expired", model.ErrExpired.Error())
	case errors.Is(err, model.ErrIdempotencyConflict):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "idempotency_conflict", model.ErrIdempotencyConflict.Error())
	case errors.Is(err, model.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "invalid_transition", err.Error())
	case errors.Is(err, model.ErrTransient):
		w.Header().Set("Retry-After", "1")
		httpx.WriteError(w, http.StatusServiceUnavailable, "transient", "temporary failure, retry the request")
	default:
		logger.Error("request failed",
			"err", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()),
		)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
