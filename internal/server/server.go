// Package server wraps http.Server with signal handling, connection
// draining, and ordered teardown of background resources.
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Server runs the gateway's HTTP listener with graceful shutdown.
type Server struct {
	httpServer   *http.Server
	drainTimeout time.Duration
	logger       *slog.Logger
	closers      []io.Closer // background resources closed after drain

	stopOnce sync.Once
	stop     chan struct{}
}

// Config holds server configuration.
type Config struct {
	Addr         string // listen address, e.g., ":9000"
	Handler      http.Handler
	DrainTimeout time.Duration // max time to wait for in-flight requests
	Logger       *slog.Logger
}

// New creates a server with graceful shutdown support.
func New(cfg Config) *Server {
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           cfg.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		drainTimeout: cfg.DrainTimeout,
		logger:       cfg.Logger,
		stop:         make(chan struct{}),
	}
}

// RegisterCloser adds a resource to be closed during shutdown, after
// in-flight requests have drained. Health checkers register here.
func (s *Server) RegisterCloser(c io.Closer) {
	s.closers = append(s.closers, c)
}

// Shutdown triggers the same drain sequence as SIGTERM. Safe to call more
// than once.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// ListenAndServe starts the server and blocks until shutdown completes.
//
// Shutdown sequence:
//  1. Wait for SIGTERM/SIGINT or a Shutdown call
//  2. Stop accepting new connections
//  3. Wait for in-flight requests to finish (up to drainTimeout)
//  4. Close registered background resources
func (s *Server) ListenAndServe() error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err // failed to start
	case sig := <-sigCh:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-s.stop:
		s.logger.Info("shutdown requested")
	}

	s.logger.Info("draining connections", "timeout", s.drainTimeout.String())

	ctx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error, forcing close", "error", err)
		s.httpServer.Close()
	}

	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Warn("error closing resource", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}
