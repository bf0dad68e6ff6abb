package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RealBhupesh/fictional-carnival/internal/adapter/httpserver"
	"github.com/RealBhupesh/fictional-carnival/internal/adapter/metrics"
	"github.com/RealBhupesh/fictional-carnival/internal/adapter/postgres"
	"github.com/RealBhupesh/fictional-carnival/internal/adapter/redis"
	"github.com/RealBhupesh/fictional-carnival/internal/auth"
	"github.com/RealBhupesh/fictional-carnival/internal/platform/config"
	"github.com/RealBhupesh/fictional-carnival/internal/platform/logging"
	"github.com/RealBhupesh/fictional-carnival/internal/platform/retry"
	"github.com/RealBhupesh/fictional-carnival/internal/platform/version"
	"github.com/RealBhupesh/fictional-carnival/internal/relay"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

const attemptTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// startupPolicy logs every failed attempt against a backing service.
func startupPolicy(service string) retry.Policy {
	p := retry.StartupPolicy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Backing service not ready, retrying", "service", service, "attempt", attempt, "backoff", backoff, "error", err)
	}
	return p
}

// untilCancelled retries every failure while ctx is alive. Attempt-level
// timeouts must not end the retry loop.
func untilCancelled(ctx context.Context) retry.Classify {
	return func(error) retry.Action {
		if ctx.Err() != nil {
			return retry.Stop
		}
		return retry.Retry
	}
}

func setupDB(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) *pgxpool.Pool {
	dbMetrics := metrics.NewDBMetrics(reg)

	pool, err := retry.Do(ctx, startupPolicy("postgres"), untilCancelled(ctx), func() (*pgxpool.Pool, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()
		return postgres.Connect(attemptCtx, cfg.DatabaseURL, postgres.Options{MaxConns: cfg.DatabaseMaxConns, Metrics: dbMetrics})
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := postgres.Migrate(migrateCtx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config, bridgeMetrics *metrics.BridgeMetrics) *goredis.Client {
	breaker := redis.NewCircuitBreakerHook(bridgeMetrics)
	commands := redis.NewMetricsHook(bridgeMetrics)

	client, err := retry.Do(ctx, startupPolicy("redis"), untilCancelled(ctx), func() (*goredis.Client, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()
		return redis.NewClient(attemptCtx, cfg.RedisURL, commands, breaker)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *httpserver.Server, hub *relay.Hub, stopBridge context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		// Sockets are hijacked, so the HTTP shutdown does not wait for them;
		// the hub sends every client a close frame.
		hub.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopBridge()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Relay starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	verifier, err := auth.NewVerifier(cfg.AuthSecret, clock)
	if err != nil {
		slog.Error("Failed to create token verifier", "error", err)
		os.Exit(1)
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	reg := metrics.NewRegistry()
	relayMetrics := metrics.NewRelayMetrics(reg)

	ctx := context.Background()
	pool := setupDB(ctx, cfg, reg)
	defer pool.Close()
	activity := postgres.NewActivityRepo(pool)

	healthChecks := []httpserver.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
	}

	bridgeCtx, stopBridge := context.WithCancel(ctx)
	defer stopBridge()

	var bridge *redis.Bridge
	if cfg.RedisURL != "" {
		bridgeMetrics := metrics.NewBridgeMetrics(reg)
		redisClient := setupRedis(ctx, cfg, bridgeMetrics)
		defer func() { _ = redisClient.Close() }()

		bridge = redis.NewBridge(redisClient, nodeID, bridgeMetrics)
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	hubCfg := relay.Config{
		NodeID:          nodeID,
		EventsPerSecond: cfg.RelayEventsPerSecond,
		EventBurst:      cfg.RelayEventBurst,
		SendBuffer:      cfg.RelaySendBuffer,
		AuditTimeout:    cfg.AuditTimeout,
	}

	// Pass nil explicitly to avoid a typed-nil interface.
	var hub *relay.Hub
	if bridge != nil {
		hub = relay.NewHub(hubCfg, activity, bridge, relayMetrics, clock)
		go func() {
			if err := bridge.Run(bridgeCtx, hub.DeliverRemote); err != nil {
				slog.Error("Relay bridge stopped", "error", err)
			}
		}()
	} else {
		hub = relay.NewHub(hubCfg, activity, nil, relayMetrics, clock)
	}
	slog.Info("Relay hub started", "node_id", hub.NodeID(), "bridge", bridge != nil)

	srv := httpserver.NewServer(cfg, hub, verifier, activity, httpserver.Metrics{
		Registry: reg,
		HTTP:     metrics.NewHTTPMetrics(reg),
		Relay:    relayMetrics,
	}, healthChecks)

	done := runGracefulShutdown(srv, hub, stopBridge)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
