// Package server runs the rigwatch HTTP listener.
//
// The server owns the listener and the http.Server; the request handling
// lives in package httpapi. Shutdown drains in-flight requests for a
// bounded time before closing the remaining connections.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/xtxerr/rigwatch/config"
	"github.com/xtxerr/rigwatch/internal/logging"
)

var log = logging.Component("server")

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Handler serves every request (required).
	Handler http.Handler

	// Listen is the address to listen on (e.g., "0.0.0.0:9270").
	Listen string

	// TLS configuration (optional).
	TLSCertFile string
	TLSKeyFile  string

	// Timeouts. WriteTimeout 0 leaves long-lived WebSocket and export
	// responses unbounded.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DrainTimeout bounds graceful shutdown.
	DrainTimeout time.Duration
}

// =============================================================================
// Server
// =============================================================================

// Server is the HTTP front of the daemon.
type Server struct {
	cfg      *Config
	http     *http.Server
	listener net.Listener

	mu    sync.Mutex
	ready chan struct{}
}

// New creates a new server.
func New(cfg *Config) *Server {
	// Apply defaults
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListenAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = config.DefaultReadTimeout
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = time.Duration(config.DefaultDrainTimeoutSec) * time.Second
	}

	return &Server{
		cfg: cfg,
		http: &http.Server{
			Handler:           cfg.Handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		ready: make(chan struct{}),
	}
}

// Run listens and serves until ctx is cancelled, then drains.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	close(s.ready)
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	return s.Shutdown()
}

// listen opens the TCP listener, wrapped in TLS when both files are set.
func (s *Server) listen() (net.Listener, error) {
	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS cert: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln, err := tls.Listen("tcp", s.cfg.Listen, tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("TLS listen: %w", err)
		}
		log.Info("listening with TLS", "address", ln.Addr().String())
		return ln, nil
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	log.Info("listening without TLS", "address", ln.Addr().String())
	return ln, nil
}

// Addr blocks until the listener is open and returns its address.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr()
}

// Shutdown stops accepting connections and waits up to the drain timeout
// for in-flight requests.
func (s *Server) Shutdown() error {
	log.Info("shutting down", "drain_timeout", s.cfg.DrainTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		log.Warn("drain timeout exceeded, closing connections", "error", err)
		s.http.Close()
		return fmt.Errorf("drain: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}
