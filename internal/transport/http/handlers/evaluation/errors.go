package evaluationhandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"perfreview/internal/domain/evaluation"
	"perfreview/internal/transport/http/api"
	"perfreview/internal/transport/http/middleware"
)

func writeError(w http.ResponseWriter, r *http.Request, err error, fallbackCode string) {
	requestID := middleware.GetRequestID(r.Context())
	switch {
	case errors.Is(err, evaluation.ErrValidation):
		api.Fail(w, http.StatusBadRequest, "validation_error", err.Error(), requestID)
	case errors.Is(err, evaluation.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), requestID)
	case errors.Is(err, evaluation.ErrInvalidTransition):
		api.Fail(w, http.StatusConflict, "invalid_transition", err.Error(), requestID)
	case errors.Is(err, evaluation.ErrAlreadySubmitted):
		api.Fail(w, http.StatusConflict, "already_submitted", err.Error(), requestID)
	case errors.Is(err, evaluation.ErrConflict):
		api.Fail(w, http.StatusConflict, "conflict", "the record changed concurrently, retry the request", requestID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		api.Fail(w, http.StatusServiceUnavailable, "request_cancelled", "request cancelled", requestID)
	default:
		slog.Error("request failed", "path", r.URL.Path, "code", fallbackCode, "requestId", requestID, "err", err)
		api.Fail(w, http.StatusInternalServerError, fallbackCode, "internal error", requestID)
	}
}
