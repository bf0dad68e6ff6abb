package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/RealBhupesh/fictional-carnival/internal/client"
	"github.com/RealBhupesh/fictional-carnival/internal/protocol"
	"github.com/spf13/cobra"
)

type sendConfig struct {
	url   string
	token string
	event string
	data  string
}

func newSendCmd() *cobra.Command {
	cfg := &sendConfig{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one event through a socket connection",
		Long: `Connect with a token, send a single event frame and disconnect. The
relay routes it like any other client frame, so the token's role decides
who receives it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSend(cmd, cfg)
		},
	}

	addConnectionFlags(cmd, &cfg.url, &cfg.token)
	cmd.Flags().StringVar(&cfg.event, "event", "", "event name, e.g. content:update")
	cmd.Flags().StringVar(&cfg.data, "data", "{}", "JSON payload")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

func runSend(cmd *cobra.Command, cfg *sendConfig) error {
	frame, err := json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{cfg.event, json.RawMessage(cfg.data)})
	if err != nil {
		return fmt.Errorf("invalid --data: %w", err)
	}
	ev, err := protocol.Decode(frame)
	if err != nil {
		return err
	}

	manager, err := client.NewManager(cfg.url)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
	defer cancel()
	if err := manager.Connect(ctx, cfg.token); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.url, err)
	}
	defer manager.Disconnect()

	if err := manager.Send(ev); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", ev.Name())
	return nil
}
