package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Activity log action recorded when a socket authenticates.
const ActivitySocketConnected = "socket:connected"

type ActivityLog struct {
	ID        uuid.UUID
	UserID    string
	Action    string
	Details   string
	CreatedAt time.Time
}

// AuditRecorder persists activity log entries. The relay calls it
// fire-and-forget; failures are logged and never retried.
type AuditRecorder interface {
	Record(ctx context.Context, entry ActivityLog) error
}

// ActivityReader lists recent activity for the admin feed.
type ActivityReader interface {
	Recent(ctx context.Context, limit int) ([]ActivityLog, error)
}
