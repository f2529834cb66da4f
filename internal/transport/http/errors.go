package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/logger"
)

type errorPayload struct {
	Error     string     `json:"error"`
	Message   string     `json:"message,omitempty"`
	SessionID *uuid.UUID `json:"sessionId,omitempty"`
}

// classify maps a core error onto an HTTP status and a stable error code.
func classify(err error) (int, errorPayload) {
	var active *domain.ActiveSessionError
	switch {
	case errors.As(err, &active):
		id := active.SessionID
		return http.StatusBadRequest, errorPayload{Error: "activeSessionExists", SessionID: &id}
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, errorPayload{Error: "badRequest", Message: err.Error()}
	case errors.Is(err, domain.ErrSessionExpired):
		return http.StatusForbidden, errorPayload{Error: "expired"}
	case errors.Is(err, domain.ErrInvalidQuestion):
		return http.StatusForbidden, errorPayload{Error: "invalidQuestion"}
	case errors.Is(err, domain.ErrDuplicateAnswer):
		return http.StatusConflict, errorPayload{Error: "duplicateAnswer"}
	case errors.Is(err, domain.ErrSessionCompleted):
		return http.StatusConflict, errorPayload{Error: "sessionCompleted"}
	case errors.Is(err, domain.ErrLessonNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrProgressNotFound),
		errors.Is(err, domain.ErrReportNotFound):
		return http.StatusNotFound, errorPayload{Error: "notFound", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorPayload{Error: "internal"}
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		logger.WithContext(ctx).WithError(err).Error("request failed")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}
