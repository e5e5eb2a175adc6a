// Package web serves the respool HTTP API: pool listing, statistics,
// resizing and reaping, plus health probes and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/go-i2p/respool/lib/metrics"
	"github.com/go-i2p/respool/lib/rpc"
)

// Config holds web server configuration.
type Config struct {
	ListenAddr string           // e.g. "127.0.0.1:8080"
	Pools      rpc.PoolRegistry // required
	Version    string           // reported by /api/health
	RateLimit  RateLimitConfig  // applies to the mutating endpoints
	Logger     *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	pools   rpc.PoolRegistry
	limiter *RateLimiter
	version string
	logger  *slog.Logger
	http    *http.Server

	mu   sync.Mutex
	ln   net.Listener
	done chan struct{} // closed when Serve returns
}

// New creates a web server. Call Stop to release the rate limiter even if
// the server was never started.
func New(cfg Config) (*Server, error) {
	if cfg.Pools == nil {
		return nil, errors.New("web: pool registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		pools:   cfg.Pools,
		version: cfg.Version,
		logger:  logger.With("component", "web"),
		limiter: NewRateLimiter(cfg.RateLimit),
	}
	s.limiter.SetOnReject(func(ip, path string) {
		s.logger.Warn("request rate limited", "ip", ip, "path", path)
	})
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
	return s, nil
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.SetHeader("X-Content-Type-Options", "nosniff"),
		middleware.SetHeader("X-Frame-Options", "DENY"),
		s.accessLog,
	)

	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)
	r.Get("/api/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/pools", func(r chi.Router) {
		r.Get("/", s.handleListPools)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.handleGetPool)
			r.With(s.limiter.Middleware).Post("/resize", s.handleResizePool)
			r.With(s.limiter.Middleware).Post("/reap", s.handleReapPool)
		})
	})
	return r
}

// Start binds ListenAddr and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return errors.New("server already running")
	}

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.ln = ln
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "error", err)
		}
	}(s.done)

	s.logger.Info("web server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop drains in-flight requests until ctx expires and waits for the
// serve loop to exit. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	defer s.limiter.Close()

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-done
	s.logger.Info("web server stopped")
	return nil
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
				"duration", time.Since(start),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
