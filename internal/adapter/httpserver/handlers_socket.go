package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/RealBhupesh/fictional-carnival/internal/auth"
	"github.com/RealBhupesh/fictional-carnival/internal/platform/logging"
	apperrors "github.com/RealBhupesh/fictional-carnival/internal/platform/errors"
	"github.com/RealBhupesh/fictional-carnival/internal/relay"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerSocketRoutes() {
	s.echo.GET(SocketPath, s.handleSocket)
}

// handleSocket authenticates the handshake before upgrading. A rejected
// handshake never reaches the hub, so no room hears about it.
func (s *Server) handleSocket(c echo.Context) error {
	req := c.Request()

	ip := c.RealIP()
	if ok, reason := s.limits.acquire(ip); !ok {
		if s.metrics.Relay != nil {
			s.metrics.Relay.HandshakesLimited.WithLabelValues(string(reason)).Inc()
		}
		slog.DebugContext(req.Context(), "Socket handshake limited", "ip", ip, "reason", reason)
		return rejectHandshake(c, reason)
	}
	defer s.limits.release(ip)

	claim, err := s.verifier.Verify(auth.ExtractBearer(req))
	if err != nil {
		if s.metrics.Relay != nil {
			s.metrics.Relay.HandshakesRejected.Inc()
		}
		return apperrors.UnauthorizedError(err)
	}

	conn, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		// The upgrader has already written the error response.
		slog.DebugContext(req.Context(), "Socket upgrade failed", "error", err)
		return nil
	}

	slog.InfoContext(req.Context(), "Socket connected", logging.ClaimAttrs(claim)...)
	if err := s.hub.Serve(req.Context(), conn, claim); err != nil {
		_ = conn.Close()
		if !errors.Is(err, relay.ErrHubStopped) {
			slog.ErrorContext(req.Context(), "Socket session failed", append(logging.ClaimAttrs(claim), "error", err)...)
		}
		return nil
	}
	slog.InfoContext(req.Context(), "Socket disconnected", logging.ClaimAttrs(claim)...)
	return nil
}

func rejectHandshake(c echo.Context, reason limitReason) error {
	if reason == limitTotal {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "relay is at capacity"})
	}
	c.Response().Header().Set("Retry-After", "1")
	return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many connections"})
}
