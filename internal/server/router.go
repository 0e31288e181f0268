// Package server exposes the websocket streaming endpoint and the service
// status surface.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/voicebridge/stream-service/internal/app"
	"github.com/voicebridge/stream-service/internal/config"
	"github.com/voicebridge/stream-service/internal/dispatch"
	"github.com/voicebridge/stream-service/internal/observability/logging"
	"github.com/voicebridge/stream-service/internal/session"
)

// QueueHealth is the slice of the queue bridge the status surface reports.
type QueueHealth interface {
	Enabled() bool
	Ready() bool
}

// Server wires the connection handler and status endpoints together.
type Server struct {
	app        *app.Application
	cfg        *config.Configuration
	manager    *session.Manager
	dispatcher *dispatch.Dispatcher
	queue      QueueHealth // nil when the queue path is not configured
	log        zerolog.Logger
}

// New creates a Server. queue may be nil.
func New(application *app.Application, manager *session.Manager, dispatcher *dispatch.Dispatcher, queue QueueHealth) *Server {
	return &Server{
		app:        application,
		cfg:        application.Cfg,
		manager:    manager,
		dispatcher: dispatcher,
		queue:      queue,
		log:        logging.WithComponent("server"),
	}
}

// Router constructs the HTTP router for the service.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/stream", s.handleStream)
	})

	return r
}
