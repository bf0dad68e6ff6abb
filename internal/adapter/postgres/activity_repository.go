package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/RealBhupesh/fictional-carnival/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActivityRepo stores the activity log written on socket authentication and
// read by the admin activity feed.
type ActivityRepo struct {
	pool *pgxpool.Pool
}

var (
	_ domain.AuditRecorder  = (*ActivityRepo)(nil)
	_ domain.ActivityReader = (*ActivityRepo)(nil)
)

func NewActivityRepo(pool *pgxpool.Pool) *ActivityRepo {
	return &ActivityRepo{pool: pool}
}

const insertActivity = `
INSERT INTO activity_log (id, user_id, action, details, created_at)
VALUES ($1, $2, $3, $4, $5)`

func (r *ActivityRepo) Record(ctx context.Context, entry domain.ActivityLog) error {
	if _, err := r.pool.Exec(ctx, insertActivity, entry.ID, entry.UserID, entry.Action, entry.Details, entry.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert activity log entry: %w", err)
	}
	return nil
}

const selectRecentActivity = `
SELECT id, user_id, action, details, created_at
FROM activity_log
ORDER BY created_at DESC, id
LIMIT $1`

// Recent returns the newest entries first.
func (r *ActivityRepo) Recent(ctx context.Context, limit int) ([]domain.ActivityLog, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	rows, err := r.pool.Query(ctx, selectRecentActivity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity log: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ActivityLog, error) {
		var e domain.ActivityLog
		err := row.Scan(&e.ID, &e.UserID, &e.Action, &e.Details, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read activity log: %w", err)
	}
	return entries, nil
}
