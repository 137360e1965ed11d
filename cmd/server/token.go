package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/livesync/internal/config"
	"github.com/and161185/livesync/internal/server/httpapi"
)

func tokenCmd() *cobra.Command {
	cfg := config.Default()
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <component>",
		Short: "Issue an internal API bearer token for another backend component",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ApplyEnv()
			if cfg.InternalJWTKey == "" {
				return errors.New("missing internal jwt key")
			}
			if ttl <= 0 {
				return fmt.Errorf("ttl must be positive, got %s", ttl)
			}
			tok, err := httpapi.IssueInternalToken([]byte(cfg.InternalJWTKey), args[0], ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.InternalJWTKey, "internal-jwt-key", cfg.InternalJWTKey, "HS256 key (env "+config.EnvInternalJWTKey+")")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
