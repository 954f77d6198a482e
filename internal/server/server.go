// Package server serves the cached aggregates over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	apperrors "codeberg.org/mutker/solo2d/internal/errors"
	"codeberg.org/mutker/solo2d/internal/history"
	"codeberg.org/mutker/solo2d/internal/logger"
	"github.com/julienschmidt/httprouter"
)

const (
	// DefaultStaleAfter is how old the last refresh may be before /health
	// reports the daemon unhealthy.
	DefaultStaleAfter = time.Hour

	readHeaderTimeout = 5 * time.Second
)

type Server struct {
	router     *httprouter.Router
	http       *http.Server
	cache      Cache
	metrics    http.Handler
	history    history.Collector
	logger     logger.Logger
	staleAfter time.Duration
	now        func() time.Time
}

type Option func(*Server)

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithHistory serves recorded aggregates on /history/:window.
func WithHistory(c history.Collector) Option {
	return func(s *Server) {
		s.history = c
	}
}

func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		s.logger = log
	}
}

func WithStaleAfter(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithClock replaces time.Now for the health check.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New returns a server for cache listening on addr.
func New(addr string, cache Cache, opts ...Option) *Server {
	s := &Server{
		router:     httprouter.New(),
		cache:      cache,
		logger:     logger.Default(),
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("server")

	s.router.GET("/state", s.state)
	s.router.GET("/health", s.health)
	if s.metrics != nil {
		s.router.Handler(http.MethodGet, "/metrics", s.metrics)
	}
	if s.history != nil {
		s.router.GET("/history/:window", s.recent)
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return apperrors.New().Wrap(ErrListenFailed, err)
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return apperrors.New().Wrap(ErrShutdownFailed, err)
	}

	return nil
}
