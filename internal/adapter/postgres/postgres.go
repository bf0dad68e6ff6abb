// Package postgres stores the relay's activity log.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"time"

	"github.com/RealBhupesh/fictional-carnival/internal/adapter/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	// migrationLockID serializes migrations across instances ("relay!" in ASCII hex).
	migrationLockID = 0x72656c617921
	unlockTimeout   = 5 * time.Second
	versionTable    = "public.schema_version"
)

// Options tunes the pool. Zero values keep the pgxpool defaults or the
// settings in the URL.
type Options struct {
	MaxConns int32
	Metrics  *metrics.DBMetrics
}

// Connect opens a pool and pings it.
func Connect(ctx context.Context, databaseURL string, opts Options) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	if opts.Metrics != nil {
		poolCfg.ConnConfig.Tracer = &queryTracer{metrics: opts.Metrics}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connected",
		"host", poolCfg.ConnConfig.Host,
		"sslmode", sslMode(databaseURL),
		"max_conns", poolCfg.MaxConns)
	return pool, nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "unknown"
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		return mode
	}
	return "prefer"
}

// Migrate applies the embedded migrations. Concurrent instances queue on a
// session advisory lock, so each migration runs once.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migration: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer unlock(conn.Conn())

	from, to, err := migrateConn(ctx, conn.Conn())
	if err != nil {
		return err
	}
	if from == to {
		slog.Info("Database schema up to date", "version", to)
	} else {
		slog.Info("Database schema migrated", "from", from, "to", to)
	}
	return nil
}

// unlock runs on a fresh context so a cancelled migration still frees the lock.
func unlock(conn *pgx.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
		slog.Error("Failed to release migration lock", "error", err)
	}
}

func migrateConn(ctx context.Context, conn *pgx.Conn) (from, to int32, err error) {
	files, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read migrations: %w", err)
	}

	migrator, err := migrate.NewMigrator(ctx, conn, versionTable)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := migrator.LoadMigrations(files); err != nil {
		return 0, 0, fmt.Errorf("failed to load migrations: %w", err)
	}

	if from, err = migrator.GetCurrentVersion(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if err := migrator.Migrate(ctx); err != nil {
		return from, 0, fmt.Errorf("failed to migrate database: %w", err)
	}
	return from, int32(len(migrator.Migrations)), nil
}
