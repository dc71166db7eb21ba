// Package api exposes the documentation assistant over HTTP REST.
//
// Endpoints:
//
//	GET    /health                    liveness probe
//	GET    /ready                     readiness probe (database ping)
//	GET    /api/sources               list indexed sources
//	POST   /api/sources               register a source
//	GET    /api/sources/{id}          source with status and stats
//	DELETE /api/sources/{id}          remove a source and its chunks
//	POST   /api/sources/{id}/index    trigger an indexing run
//	GET    /api/conversations         list conversations for an owner
//	GET    /api/conversations/{id}    conversation with recent turns
//	DELETE /api/conversations/{id}    delete a conversation
//	PUT    /api/conversations/{id}/pin  set the pinned flag
//	POST   /api/chat                  send a message, get a grounded reply
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: health check endpoints
//   - sources.go: source management endpoints
//   - conversations.go: conversation management endpoints
//   - chat.go: chat endpoint
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ClaimFreedomDotOrg/DMNChat-sub000/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to prevent Slowloris abuse.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Generation calls dominate, so this is generous.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the assistant's REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health        *HealthHandler
	sources       *SourceHandler
	conversations *ConversationHandler
	chat          *ChatHandler
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(health *HealthHandler, sources *SourceHandler, conversations *ConversationHandler, chat *ChatHandler, logger log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:           mux,
		logger:        logger,
		health:        health,
		sources:       sources,
		conversations: conversations,
		chat:          chat,
	}

	s.health.RegisterRoutes(mux)
	s.sources.RegisterRoutes(mux)
	s.conversations.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
