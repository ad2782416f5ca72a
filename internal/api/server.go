// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package api provides the HTTP API server for the daemon.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// DefaultSocketPath is where the daemon listens when no listener is
// configured.
const DefaultSocketPath = "/var/run/stevedored.sock"

// ServerConfig contains configuration for the API server.
type ServerConfig struct {
	// SocketPath is the unix socket to listen on. Empty disables the
	// unix listener.
	SocketPath string

	// TCPAddr is an optional host:port TCP listener. Empty disables it.
	TCPAddr string

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of
	// the response. Generous to leave room for wait and prune calls.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next
	// request on a kept-alive connection.
	IdleTimeout time.Duration

	// ShutdownTimeout is the timeout for graceful shutdown.
	ShutdownTimeout time.Duration

	// RouterConfig contains configuration for the router.
	RouterConfig RouterConfig
}

// DefaultServerConfig returns a default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SocketPath:      DefaultSocketPath,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    120 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		RouterConfig:    DefaultRouterConfig(),
	}
}

// Server is the daemon's HTTP API server. It serves the same router on a
// unix socket and, when configured, a TCP listener.
type Server struct {
	config   ServerConfig
	router   chi.Router
	handlers *Handlers
	logger   *logger.Logger

	httpServer *http.Server
	listeners  []net.Listener

	mu      sync.Mutex
	running bool
}

// NewServer creates a new API server.
func NewServer(config ServerConfig, h *Handlers, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		config:   config,
		handlers: h,
		logger:   log.Named("api"),
	}
}

// Router returns the chi router, building it on first use. Exposed for
// tests.
func (s *Server) Router() chi.Router {
	if s.router == nil {
		s.router = NewRouter(s.config.RouterConfig, s.handlers)
	}
	return s.router
}

// Start opens the configured listeners and serves until Shutdown. It
// returns once all listeners are accepting.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	if s.config.SocketPath != "" {
		ln, err := listenUnix(s.config.SocketPath)
		if err != nil {
			return err
		}
		s.listeners = append(s.listeners, ln)
		s.logger.Info("listening", "proto", "unix", "addr", s.config.SocketPath)
	}

	if s.config.TCPAddr != "" {
		ln, err := net.Listen("tcp", s.config.TCPAddr)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("tcp listen on %s: %w", s.config.TCPAddr, err)
		}
		s.listeners = append(s.listeners, ln)
		s.logger.Info("listening", "proto", "tcp", "addr", s.config.TCPAddr)
	}

	if len(s.listeners) == 0 {
		return errors.New("no listeners configured")
	}

	for _, ln := range s.listeners {
		ln := ln
		go func() {
			if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("serve error", "addr", ln.Addr().String(), "error", err)
			}
		}()
	}
	return nil
}

// Shutdown drains in-flight requests and closes the listeners. The unix
// socket file is removed on the way out.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	err := s.httpServer.Shutdown(ctx)
	if s.config.SocketPath != "" {
		os.Remove(s.config.SocketPath)
	}
	return err
}

func (s *Server) closeListeners() {
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.listeners = nil
}

// listenUnix binds a unix socket, replacing a stale socket file from a
// previous unclean shutdown.
func listenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		// Refuse to unlink a live socket: if something answers, another
		// daemon owns it.
		conn, err := net.DialTimeout("unix", path, time.Second)
		if err == nil {
			conn.Close()
			return nil, fmt.Errorf("socket %s is in use by another process", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("unix listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o660); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}
