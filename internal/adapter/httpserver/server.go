package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/RealBhupesh/fictional-carnival/internal/adapter/metrics"
	"github.com/RealBhupesh/fictional-carnival/internal/domain"
	"github.com/RealBhupesh/fictional-carnival/internal/platform/config"
	"github.com/RealBhupesh/fictional-carnival/internal/relay"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// SocketPath is where clients open their relay connection.
const SocketPath = "/api/websocket"

type relayHub interface {
	Serve(ctx context.Context, conn *websocket.Conn, claim domain.Claim) error
	Publish(ctx context.Context, room domain.Room, ev domain.Event) error
	RoomSize(room domain.Room) int
	Members(room domain.Room) []relay.Member
}

type tokenVerifier interface {
	Verify(token string) (domain.Claim, error)
}

// Metrics bundles what the server exports. Any field may be nil.
type Metrics struct {
	Registry *prometheus.Registry
	HTTP     *metrics.HTTPMetrics
	Relay    *metrics.RelayMetrics
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	hub      relayHub
	verifier tokenVerifier
	activity domain.ActivityReader
	upgrader websocket.Upgrader
	limits   *connectionLimits

	metrics      Metrics
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, hub relayHub, verifier tokenVerifier, activity domain.ActivityReader, m Metrics, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handleHTTPError

	srv := &Server{
		echo:     e,
		config:   cfg,
		hub:      hub,
		verifier: verifier,
		activity: activity,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
		},
		limits:       newConnectionLimits(cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectionRate, clockwork.NewRealClock()),
		metrics:      m,
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the routes without binding a listener.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// handleHTTPError renders errors that escape the middleware chain, such as
// unknown routes, in the same JSON shape as handler errors.
func handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		wrapped := WrapHTTPError(httpErr)
		if wrapped.HTTPStatus() != httpErr.Code {
			c.Echo().DefaultHTTPErrorHandler(err, c)
			return
		}
		err = wrapped
	}
	_ = HandleError(c, err)
}
