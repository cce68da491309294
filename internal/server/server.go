// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeranaias/rigrun-chat/internal/logging"
)

// DefaultAddr is the listen address used when Config.Addr is empty.
const DefaultAddr = "127.0.0.1:9464"

// ErrAlreadyStarted is returned by Start on a running server.
var ErrAlreadyStarted = errors.New("server already started")

// Config configures a Server.
type Config struct {
	Addr   string
	Logger *slog.Logger

	// LoopbackOnly rejects clients that are not on a loopback address.
	LoopbackOnly bool
}

// ============================================================================
// SERVER
// ============================================================================

// Server is a small gin-backed HTTP server.
type Server struct {
	addr    string
	engine  *gin.Engine
	logger  *slog.Logger
	started time.Time

	mu     sync.Mutex
	server *http.Server
	ln     net.Listener
	done   chan struct{}
}

// New creates a Server with /healthz registered.
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	logger := logging.Component(cfg.Logger, "server")

	engine := gin.New()
	engine.Use(
		Recovery(logger),
		SecurityHeaders(),
		RequestLogger(logger),
	)
	if cfg.LoopbackOnly {
		engine.Use(LoopbackOnly())
	}

	s := &Server{
		addr:    cfg.Addr,
		engine:  engine,
		logger:  logger,
		started: time.Now(),
	}
	engine.GET("/healthz", s.handleHealth)
	return s
}

// Handle registers h for method and path.
func (s *Server) Handle(method, path string, h http.Handler) {
	s.engine.Handle(method, path, gin.WrapH(h))
}

// Fallback routes every unmatched request to h.
func (s *Server) Fallback(h http.Handler) {
	s.engine.NoRoute(gin.WrapH(h))
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves in the background. It
// returns the bound address, which differs from the configured one when the
// port is 0.
func (s *Server) Start() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil, ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.done = make(chan struct{})
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	srv, done := s.server, s.done
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server stopped", "addr", ln.Addr().String(), "error", err)
		}
	}()

	s.logger.Info("server started", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// Done is closed once the serve loop exits. It is nil before Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Shutdown gracefully stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	return srv.Shutdown(ctx)
}
