package httpserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/RealBhupesh/fictional-carnival/internal/domain"
	apperrors "github.com/RealBhupesh/fictional-carnival/internal/platform/errors"
	"github.com/RealBhupesh/fictional-carnival/internal/protocol"
	"github.com/RealBhupesh/fictional-carnival/internal/relay"
	"github.com/labstack/echo/v4"
)

const (
	maxEventBodyBytes    = 64 << 10
	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

func (s *Server) registerAPIRoutes() {
	limiter := newRateLimiter(s.config.APIRateLimit, apiBurst(s.config.APIRateLimit))

	api := s.echo.Group("/api", s.corsMiddleware(), limiter)
	api.POST("/rooms/:room/events", s.handlePublishEvent, s.requirePrivileged)
	api.GET("/rooms/:room", s.handleRoomStatus, s.requirePrivileged)
	api.GET("/activity", s.handleActivity, s.requirePrivileged)
}

func parseRoomParam(c echo.Context) (domain.Room, error) {
	name := c.Param("room")
	room, err := domain.ParseRoom(name)
	if err != nil {
		return "", apperrors.NotFoundError("unknown room").WithField("room", name)
	}
	return room, nil
}

// handlePublishEvent lets server-side producers push a frame into a room.
func (s *Server) handlePublishEvent(c echo.Context) error {
	room, err := parseRoomParam(c)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxEventBodyBytes+1))
	if err != nil {
		return apperrors.ValidationError("failed to read request body")
	}
	if len(body) > maxEventBodyBytes {
		return apperrors.ValidationError("event frame too large").WithField("limit_bytes", maxEventBodyBytes)
	}

	ev, err := protocol.Decode(body)
	if err != nil {
		return apperrors.ValidationError("malformed event frame")
	}
	if ev.Name() == domain.EventUserJoined {
		return apperrors.ValidationError("presence events are emitted by the relay").WithField("event", string(ev.Name()))
	}

	if err := s.hub.Publish(c.Request().Context(), room, ev); err != nil {
		if errors.Is(err, relay.ErrHubStopped) {
			return apperrors.InternalError("relay is shutting down", err)
		}
		return apperrors.InternalError("failed to publish event", err).WithField("room", string(room))
	}

	producer := ""
	if claim, ok := claimFromContext(c); ok {
		producer = claim.SubjectID
	}
	resp := map[string]string{"status": "accepted", "room": string(room), "event": string(ev.Name()), "producer": producer}
	if err := c.JSON(http.StatusAccepted, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type roomStatusResponse struct {
	Room        domain.Room    `json:"room"`
	Connections int            `json:"connections"`
	Members     []relay.Member `json:"members"`
}

func (s *Server) handleRoomStatus(c echo.Context) error {
	room, err := parseRoomParam(c)
	if err != nil {
		return err
	}

	size := s.hub.RoomSize(room)
	if size < 0 {
		return apperrors.InternalError("relay did not answer in time", nil).WithField("room", string(room))
	}
	members := s.hub.Members(room)
	if members == nil {
		members = []relay.Member{}
	}

	resp := roomStatusResponse{Room: room, Connections: size, Members: members}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type activityEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleActivity(c echo.Context) error {
	if s.activity == nil {
		return apperrors.NotFoundError("activity log is not configured")
	}

	limit := defaultActivityLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxActivityLimit {
			return apperrors.ValidationError(fmt.Sprintf("limit must be between 1 and %d", maxActivityLimit)).WithField("limit", raw)
		}
		limit = n
	}

	logs, err := s.activity.Recent(c.Request().Context(), limit)
	if err != nil {
		return apperrors.InternalError("failed to load activity", err)
	}

	entries := make([]activityEntry, 0, len(logs))
	for _, l := range logs {
		entries = append(entries, activityEntry{
			ID:        l.ID.String(),
			UserID:    l.UserID,
			Action:    l.Action,
			Details:   l.Details,
			CreatedAt: l.CreatedAt,
		})
	}

	if err := c.JSON(http.StatusOK, map[string]any{"entries": entries}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
