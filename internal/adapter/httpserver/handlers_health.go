package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/RealBhupesh/fictional-carnival/internal/domain"
	"github.com/RealBhupesh/fictional-carnival/internal/platform/version"
	"github.com/labstack/echo/v4"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named health check function.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

var errHubUnresponsive = errors.New("relay hub did not answer")

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	return s.runHealthChecks(c, ctx)
}

// handleLiveness also reports the local room sizes; a hub that stopped
// answering shows up as -1.
func (s *Server) handleLiveness(c echo.Context) error {
	rooms := make(map[domain.Room]int, len(domain.AllRooms))
	for _, room := range domain.AllRooms {
		rooms[room] = s.hub.RoomSize(room)
	}

	response := map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).Seconds(),
		"rooms":   rooms,
		"sockets": s.limits.open(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	return s.runHealthChecks(c, ctx)
}

func (s *Server) checkHub(context.Context) error {
	if s.hub.RoomSize(domain.RoomGeneral) < 0 {
		return errHubUnresponsive
	}
	return nil
}

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// runHealthChecks runs every check, the hub first, and reports each result.
// Any failure makes the probe unhealthy.
func (s *Server) runHealthChecks(c echo.Context, ctx context.Context) error {
	checks := append([]HealthCheck{{Name: "relay", Check: s.checkHub}}, s.healthChecks...)

	resp := probeResponse{Status: "ready", Checks: make(map[string]string, len(checks))}
	code := http.StatusOK
	for _, hc := range checks {
		if err := hc.Check(ctx); err != nil {
			resp.Checks[hc.Name] = err.Error()
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[hc.Name] = "ok"
	}

	if err := c.JSON(code, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
