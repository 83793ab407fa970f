// Package http provides the read-mostly HTTP API over a chat index.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatindex/internal/engine"
	"github.com/fyrsmithlabs/chatindex/internal/index"
	"github.com/fyrsmithlabs/chatindex/internal/logging"
	"github.com/fyrsmithlabs/chatindex/internal/reindex"
	"github.com/fyrsmithlabs/chatindex/internal/telemetry"
)

// Index is the part of the engine the API serves. *engine.Engine satisfies it.
type Index interface {
	AllSequences() []index.Sequence
	GetSequence(id string) (index.Sequence, error)
	SequenceSegments(seqID string) ([]index.Segment, error)
	GetSegment(id string) (index.Segment, error)
	NextSegment(id string) (index.Segment, bool, error)
	PreviousSegment(id string) (index.Segment, bool, error)
	FindSegments(filters ...engine.Filter) []index.Segment
	IndexFile(ctx context.Context, path string) (*reindex.Result, error)
	RemoveSource(ctx context.Context, path string) (*index.Sequence, error)
	Stats() (sequences, segments int)
}

var _ Index = (*engine.Engine)(nil)

// Server provides HTTP endpoints for chatindex.
type Server struct {
	echo    *echo.Echo
	index   Index
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
	health  func() telemetry.HealthStatus
	version string
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures a Server.
type Option func(*Server)

// WithTelemetryHealth reports telemetry state on /health.
func WithTelemetryHealth(fn func() telemetry.HealthStatus) Option {
	return func(s *Server) { s.health = fn }
}

// WithVersion sets the version reported on /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithHTTPMetrics replaces the OTel request instruments.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new HTTP server.
func NewServer(ix Index, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if ix == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}

	s := &Server{
		index:  ix,
		logger: logger.Named("http"),
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewHTTPMetrics(s.logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.requestLogger)

	s.echo = e
	s.registerRoutes()
	return s, nil
}

// requestLogger logs every request and stores the request id and a
// context-aware logger on the request context, so handler, store and
// reindex logs carry the same request_id.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		reqID := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), reqID)
		ctx = logging.WithLogger(ctx, logging.New(s.logger).With(
			zap.String("method", req.Method),
			zap.String("route", c.Path()),
		))
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			// Let echo write the response so the logged status is final.
			c.Error(err)
		}

		s.logger.Info("http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/sequences", s.handleListSequences)
	v1.GET("/sequences/:id", s.handleGetSequence)
	v1.GET("/sequences/:id/segments", s.handleSequenceSegments)
	v1.GET("/segments", s.handleFindSegments)
	v1.GET("/segments/:id", s.handleGetSegment)
	v1.GET("/segments/:id/next", s.handleNextSegment)
	v1.GET("/segments/:id/previous", s.handlePreviousSegment)
	v1.POST("/sources/reindex", s.handleReindex)
	v1.DELETE("/sources", s.handleRemoveSource)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It blocks until the server stops and returns
// http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := s.Addr()
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
