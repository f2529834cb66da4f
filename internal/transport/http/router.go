package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/auth"
	"quiz-session-service/internal/logger"
)

// NewRouter mounts the REST API under /api/quiz and the socket under /ws.
func NewRouter(service *app.QuizService, authn *auth.Authenticator) http.Handler {
	h := NewHandlers(service)
	ws := NewWSHandler(service)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.AccessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(authn.Middleware)
		r.Get("/ws", ws.ServeWS)
		r.Route("/api/quiz", func(r chi.Router) {
			r.Post("/start", h.start)
			r.Post("/{sessionId}/answer", h.answer)
			r.Post("/{sessionId}/finish", h.finish)
			r.Get("/active", h.active)
			r.Get("/history", h.history)
			r.Get("/podium/{lessonId}", h.podium)
			r.Get("/progress/{lessonId}", h.progress)
			r.Get("/feedback/{feedbackId}", h.feedback)
			r.Get("/ledger", h.ledger)
		})
	})
	return r
}
