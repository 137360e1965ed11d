package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/livesync/internal/config"
	"github.com/and161185/livesync/internal/migrate"
)

func migrateCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(migrate.Up), string(migrate.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ApplyEnv()
			if cfg.DSN == "" {
				return errors.New("empty dsn")
			}
			log, err := newLogger(cfg.Dev)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			dir := migrate.Direction(args[0])
			if err := migrate.Run(cmd.Context(), cfg.DSN, dir); err != nil {
				return fmt.Errorf("migrate %s: %w", dir, err)
			}
			log.Info("migrations applied", zap.String("direction", string(dir)))
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.DSN, "dsn", cfg.DSN, "PostgreSQL DSN (env "+config.EnvDSN+")")
	cmd.Flags().BoolVar(&cfg.Dev, "dev", cfg.Dev, "development logging")
	return cmd
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
