package http

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/auth"
	"quiz-session-service/internal/domain"
)

const maxBodyBytes = 64 << 10

// Handlers exposes the quiz use cases as REST endpoints.
type Handlers struct {
	service *app.QuizService
}

func NewHandlers(service *app.QuizService) *Handlers {
	return &Handlers{service: service}
}

func (h *Handlers) start(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req startRequest
	if err := readJSON(r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	lessonID, err := req.lessonID()
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	result, err := h.service.StartSession(r.Context(), userID, lessonID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) answer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessionID, err := parseUUID(chi.URLParam(r, "sessionId"), "sessionId")
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	var req answerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	sub, err := req.submission(sessionID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	result, err := h.service.SubmitAnswer(r.Context(), userID, sub)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) finish(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessionID, err := parseUUID(chi.URLParam(r, "sessionId"), "sessionId")
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	result, err := h.service.FinishSession(r.Context(), userID, sessionID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) active(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	active, err := h.service.ActiveSession(r.Context(), userID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if active == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (h *Handlers) history(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), userID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) podium(w http.ResponseWriter, r *http.Request) {
	lessonID, err := parseLessonID(chi.URLParam(r, "lessonId"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	podium, err := h.service.Podium(r.Context(), lessonID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, podium)
}

func (h *Handlers) progress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	lessonID, err := parseLessonID(chi.URLParam(r, "lessonId"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	progress, err := h.service.Progress(r.Context(), userID, lessonID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *Handlers) feedback(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	reportID, err := parseUUID(chi.URLParam(r, "feedbackId"), "feedbackId")
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	report, err := h.service.Feedback(r.Context(), userID, reportID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) ledger(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ledger, err := h.service.Ledger(r.Context(), userID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

func requireUser(w http.ResponseWriter, r *http.Request) (domain.UserID, bool) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorPayload{Error: "unauthorized"})
	}
	return userID, ok
}

func readJSON(r *http.Request, dst any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("read body: %v", err)
	}
	return decodeJSON(data, dst)
}
