// Package server exposes response generation over HTTP and streams
// notifications to websocket subscribers.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/neoclaw-ai/turnrouter/internal/agent"
	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
	"github.com/neoclaw-ai/turnrouter/internal/notify"
)

const shutdownTimeout = 10 * time.Second

// Responder starts and stops generations.
type Responder interface {
	Start(parent context.Context, p agent.Prompt) (string, <-chan agent.Result, error)
	Stop(messageID string) bool
	IsActive(messageID string) bool
	StopAll()
}

// Messages reads persisted response messages.
type Messages interface {
	ListMessages(ctx context.Context, chatID string) ([]chat.Message, error)
}

// Server is the HTTP API.
type Server struct {
	responses Responder
	messages  Messages
	hub       *notify.Hub
	router    chi.Router
}

// New creates a Server.
func New(responses Responder, messages Messages, hub *notify.Hub) *Server {
	s := &Server{
		responses: responses,
		messages:  messages,
		hub:       hub,
		router:    chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(jsonContentType)

			r.Post("/chats/{chatID}/responses", s.handleStartResponse)
			r.Get("/chats/{chatID}/messages", s.handleListMessages)
			r.Get("/responses/{id}", s.handleGetResponse)
			r.Delete("/responses/{id}", s.handleStopResponse)
		})

		r.Get("/events", s.handleEvents)
	})
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		logging.Logger().Debug(
			"http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(started).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then stops every
// in-flight response and shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Logger().Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.Logger().Info("shutting down http server")
	s.responses.StopAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
