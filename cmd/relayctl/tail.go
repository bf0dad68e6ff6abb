package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/RealBhupesh/fictional-carnival/internal/client"
	"github.com/RealBhupesh/fictional-carnival/internal/domain"
	"github.com/spf13/cobra"
)

const (
	defaultRelayURL   = "ws://localhost:8080/api/websocket"
	connectTimeout    = 10 * time.Second
	connectionPolling = 500 * time.Millisecond
)

type tailConfig struct {
	url   string
	token string
	state string
}

var tailedEvents = []domain.EventName{
	domain.EventContentUpdate,
	domain.EventAnalyticsUpdate,
	domain.EventAdminAction,
	domain.EventUserJoined,
}

func newTailCmd() *cobra.Command {
	cfg := &tailConfig{}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the events a connection receives",
		Long: `Connect to the relay with a token and print every notification and
event the identity's rooms receive until interrupted. With --state the
notification buffer is kept in a file between runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTail(cmd, cfg)
		},
	}

	addConnectionFlags(cmd, &cfg.url, &cfg.token)
	cmd.Flags().StringVar(&cfg.state, "state", "", "file that keeps the notification buffer between runs")

	return cmd
}

func addConnectionFlags(cmd *cobra.Command, url, token *string) {
	cmd.Flags().StringVar(url, "url", envOr("RELAY_URL", defaultRelayURL), "socket URL of the relay (default $RELAY_URL)")
	cmd.Flags().StringVar(token, "token", envOr("RELAY_TOKEN", ""), "handshake token (default $RELAY_TOKEN)")
}

// lineWriter serializes output from the read loop and the command goroutine.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintf(l.w, format+"\n", args...)
}

func runTail(cmd *cobra.Command, cfg *tailConfig) error {
	out := &lineWriter{w: cmd.OutOrStdout()}

	opts := []client.Option{
		client.WithNotificationHook(func(n domain.Notification) {
			out.printf("notification %s [%s] %s: %s", n.ID, n.Type, n.Title, n.Message)
		}),
	}
	if cfg.state != "" {
		opts = append(opts, client.WithStorage(client.NewFileStorage(cfg.state)))
	}

	manager, err := client.NewManager(cfg.url, opts...)
	if err != nil {
		return err
	}

	for _, n := range manager.Notifications() {
		out.printf("stored %s [%s] %s", n.ID, n.Type, n.Title)
	}

	for _, name := range tailedEvents {
		unsubscribe := manager.Bus().Subscribe(name, func(payload json.RawMessage) {
			out.printf("%s %s", name, payload)
		})
		defer unsubscribe()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := manager.Connect(connectCtx, cfg.token); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.url, err)
	}
	defer manager.Disconnect()
	out.printf("connected to %s", cfg.url)

	ticker := time.NewTicker(connectionPolling)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !manager.Connected() {
				return fmt.Errorf("connection to %s lost", cfg.url)
			}
		}
	}
}
