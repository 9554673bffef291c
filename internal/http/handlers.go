package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refacta/internal/engine"
	"github.com/fyrsmithlabs/refacta/internal/orchestrator"
	"github.com/fyrsmithlabs/refacta/internal/router"
	"github.com/fyrsmithlabs/refacta/internal/specialist"
)

// Run modes accepted by POST /api/v1/runs.
const (
	ModeSmart  = "smart"
	ModeDirect = "direct"
	ModeChat   = "chat"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status       string  `json:"status"`
	Version      string  `json:"version,omitempty"`
	Root         string  `json:"root"`
	Specialists  int     `json:"specialists"`
	Generation   uint64  `json:"generation"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// SpecialistsResponse is the response body for GET /api/v1/specialists.
type SpecialistsResponse struct {
	Specialists []specialist.CatalogEntry `json:"specialists"`
	Generation  uint64                    `json:"generation"`
}

// RouteRequest is the request body for POST /api/v1/route.
type RouteRequest struct {
	Text string `json:"text"`
}

// RouteResponse is the response body for POST /api/v1/route.
type RouteResponse struct {
	Specialists []string `json:"specialists"`
	Fallback    bool     `json:"fallback"`
	Reason      string   `json:"reason"`
	Source      string   `json:"source"`
}

// RunRequest is the request body for POST /api/v1/runs.
type RunRequest struct {
	Prompt string `json:"prompt"`
	// Mode is smart (default), direct or chat.
	Mode string `json:"mode,omitempty"`
	// Specialist is required for direct mode.
	Specialist string `json:"specialist,omitempty"`
}

func routeResponse(d router.Decision) RouteResponse {
	return RouteResponse{Specialists: d.Names, Fallback: d.Fallback, Reason: d.Reason, Source: d.Source}
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	t := s.service.Totals()
	return c.JSON(http.StatusOK, StatusResponse{
		Status:       "ok",
		Version:      s.config.Version,
		Root:         s.service.Root(),
		Specialists:  len(s.catalog.Catalog()),
		Generation:   s.catalog.Generation(),
		InputTokens:  t.InputTokens,
		OutputTokens: t.OutputTokens,
		CostUSD:      t.CostUSD,
	})
}

func (s *Server) handleSpecialists(c echo.Context) error {
	return c.JSON(http.StatusOK, SpecialistsResponse{
		Specialists: s.catalog.Catalog(),
		Generation:  s.catalog.Generation(),
	})
}

func (s *Server) handleRoute(c echo.Context) error {
	var req RouteRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid route request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	d, err := s.service.Route(c.Request().Context(), req.Text)
	if err != nil {
		return s.flowError(c, err)
	}
	return c.JSON(http.StatusOK, routeResponse(d))
}

// handleRun starts a run. Clients that accept text/event-stream receive
// every update as an SSE event; others get the final result as JSON.
func (s *Server) handleRun(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt field is required")
	}

	ctx := c.Request().Context()
	var (
		run *engine.Run
		err error
	)
	switch req.Mode {
	case "", ModeSmart:
		_, run, err = s.service.Smart(ctx, req.Prompt)
	case ModeDirect:
		if req.Specialist == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "specialist field is required for direct mode")
		}
		run, err = s.service.Direct(ctx, req.Specialist, req.Prompt)
	case ModeChat:
		run, err = s.service.Chat(ctx, req.Prompt)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
	}
	if err != nil {
		return s.flowError(c, err)
	}

	if !acceptsEventStream(c.Request()) {
		for range run.Updates() {
		}
		return c.JSON(http.StatusOK, run.Wait())
	}

	c.Response().Header().Set("X-Run-ID", run.ID())
	return s.streamUpdates(c, run.Updates(), nil)
}

// handleRunEvents follows a run started elsewhere through the event source.
func (s *Server) handleRunEvents(c echo.Context) error {
	runID := c.Param("run_id")
	updates := make(chan engine.Update, 64)
	sub, err := s.events.Subscribe(runID, func(u engine.Update) {
		select {
		case updates <- u:
		default:
			s.logger.Warn(c.Request().Context(), "dropping run update for slow client", zap.String("run_id", runID))
		}
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event source unavailable")
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	return s.streamUpdates(c, updates, func(u engine.Update) bool { return u.Kind == engine.UpdateDone })
}

// streamUpdates writes updates as SSE until the channel closes, stop
// returns true or the client goes away.
func (s *Server) streamUpdates(c echo.Context, updates <-chan engine.Update, stop func(engine.Update) bool) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(s.config.Heartbeat)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			data, err := json.Marshal(u)
			if err != nil {
				s.logger.Error(ctx, "encoding run update", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\n", u.Kind)
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.Flush()
			if stop != nil && stop(u) {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			w.Flush()

		case <-ctx.Done():
			// The run observes the same context and stops on its own.
			return nil
		}
	}
}

func (s *Server) flowError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, specialist.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrEmptyPrompt):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrSessionClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn(c.Request().Context(), "run abandoned while queued", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request canceled while waiting for the previous run")
	default:
		s.logger.Error(c.Request().Context(), "request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "request failed")
	}
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get(echo.HeaderAccept), "text/event-stream")
}
