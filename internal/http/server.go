// Package http provides the HTTP API for refacta.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refacta/internal/engine"
	"github.com/fyrsmithlabs/refacta/internal/logging"
	"github.com/fyrsmithlabs/refacta/internal/router"
	"github.com/fyrsmithlabs/refacta/internal/specialist"
	"github.com/fyrsmithlabs/refacta/internal/usage"
)

// Service is the orchestration surface the server exposes.
type Service interface {
	Route(ctx context.Context, text string) (router.Decision, error)
	Smart(ctx context.Context, prompt string) (router.Decision, *engine.Run, error)
	Direct(ctx context.Context, name, prompt string) (*engine.Run, error)
	Chat(ctx context.Context, prompt string) (*engine.Run, error)
	Totals() usage.Totals
	Root() string
}

// Catalog lists the known specialists.
type Catalog interface {
	Catalog() []specialist.CatalogEntry
	Generation() uint64
}

// EventSource replays run updates published elsewhere (NATS).
type EventSource interface {
	Subscribe(runID string, fn func(engine.Update)) (*nats.Subscription, error)
}

// Server provides HTTP endpoints for refacta.
type Server struct {
	echo    *echo.Echo
	service Service
	catalog Catalog
	events  EventSource
	logger  *logging.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
	Version   string
}

// Option customizes a Server.
type Option func(*Server)

// WithEventSource enables GET /api/v1/runs/:run_id/events.
func WithEventSource(src EventSource) Option {
	return func(s *Server) { s.events = src }
}

// NewServer creates a new HTTP server.
func NewServer(service Service, catalog Catalog, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		service: service,
		catalog: catalog,
		logger:  logger,
		config:  cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/specialists", s.handleSpecialists)
	v1.POST("/route", s.handleRoute)
	v1.POST("/runs", s.handleRun)
	if s.events != nil {
		v1.GET("/runs/:run_id/events", s.handleRunEvents)
	}
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
