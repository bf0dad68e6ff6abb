package main

import (
	"log/slog"
	"os"

	"github.com/RealBhupesh/fictional-carnival/internal/platform/logging"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the relay CLI.
func NewRootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "relayctl",
		Short: "Development tools for the realtime relay",
		Long: `relayctl mints handshake tokens for local development, tails the
rooms of a running relay and publishes events through a socket connection.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), logLevel, "text"))
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newTailCmd())
	cmd.AddCommand(newSendCmd())

	return cmd
}

// envOr returns the value of the environment variable key, or fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
