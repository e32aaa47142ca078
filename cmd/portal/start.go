// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/daemon"
	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
)

func newStartCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run a migration in the foreground",
		Long: `Runs the configured migration phases until they complete, a fatal error
stops them, or the process receives SIGINT/SIGTERM. Streaming phases keep
running until stopped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			xglog.Configure(xglog.Config{
				Level:   cfg.Log.Level,
				Service: "migration-portal",
				Version: cfg.Version,
			})
			logger := xglog.WithComponent("portal")

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := daemon.Build(ctx, cfg)
			if err != nil {
				logger.Error().Err(err).Str(xglog.FieldEvent, "portal.build_failed").Msg("failed to assemble migration")
				return err
			}
			logger.Info().
				Str(xglog.FieldEvent, "portal.start").
				Str(xglog.FieldRunID, app.Controller().RunID()).
				Str("commit", commit).
				Msg("starting migration")

			if err := app.Run(ctx); err != nil {
				logger.Error().Err(err).Str(xglog.FieldEvent, "portal.run_failed").Msg("migration ended with error")
				return err
			}
			logger.Info().Str(xglog.FieldEvent, "portal.done").Msg("migration ended")
			return nil
		},
	}
}
