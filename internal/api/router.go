package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ws", s.handleWebSocket)

		r.Get("/sessions", s.handleListSessions)
		r.Get("/readings", s.handleAllReadings)

		r.Route("/sensors", func(r chi.Router) {
			r.Get("/", s.handleScan)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/connect", s.handleConnect)
				r.Delete("/connect", s.handleDisconnect)
				r.Get("/data", s.handleGetReading)
				r.Post("/erg", s.handleSetTargetPower)
			})
		})
	})

	return r
}
