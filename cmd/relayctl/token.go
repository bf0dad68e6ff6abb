package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/RealBhupesh/fictional-carnival/internal/auth"
	"github.com/RealBhupesh/fictional-carnival/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

type tokenConfig struct {
	secret string
	id     string
	role   string
	email  string
	name   string
	ttl    time.Duration
}

func newTokenCmd() *cobra.Command {
	cfg := &tokenConfig{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a handshake token",
		Long: `Mint an HS256 handshake token for local development. The secret must
match the AUTH_SECRET of the relay that will verify it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runToken(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.secret, "secret", envOr("AUTH_SECRET", ""), "signing secret (default $AUTH_SECRET)")
	cmd.Flags().StringVar(&cfg.id, "id", "", "subject id of the identity")
	cmd.Flags().StringVar(&cfg.role, "role", string(domain.RoleUser), "role: ADMIN, MANAGER or USER")
	cmd.Flags().StringVar(&cfg.email, "email", "", "email of the identity")
	cmd.Flags().StringVar(&cfg.name, "name", "", "display name of the identity")
	cmd.Flags().DurationVar(&cfg.ttl, "ttl", 12*time.Hour, "token lifetime, 0 for no expiry")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func runToken(cmd *cobra.Command, cfg *tokenConfig) error {
	role := domain.Role(cfg.role)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", cfg.role)
	}
	if cfg.ttl < 0 {
		return errors.New("ttl must not be negative")
	}

	issuer, err := auth.NewIssuer(cfg.secret, clockwork.NewRealClock())
	if err != nil {
		return fmt.Errorf("failed to create issuer: %w", err)
	}

	token, err := issuer.Issue(domain.Claim{
		SubjectID:   cfg.id,
		Role:        role,
		Email:       cfg.email,
		DisplayName: cfg.name,
	}, cfg.ttl)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
