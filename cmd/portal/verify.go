// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/daemon"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/verify"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/workspace"
)

func newVerifyCmd(load loadFunc) *cobra.Command {
	var reverse bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run pre-flight verification without starting a migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			phases, err := status.ParsePhases(cfg.Job.Phases)
			if err != nil {
				return err
			}
			ws, err := workspace.New(cfg.Workspace)
			if err != nil {
				return err
			}
			if err := ws.Ensure(); err != nil {
				return err
			}

			runStorePath := ""
			if cfg.RunStore.Enabled {
				runStorePath = daemon.RunStorePath(cfg, ws)
			}
			svc := verify.NewService(verify.FromConfig(cfg, runStorePath))

			var ok bool
			if reverse {
				ok = svc.VerifyReversePhase(cmd.Context(), ws)
			} else {
				ok = svc.Verify(cmd.Context(), phases, ws)
			}

			rep, err := verify.LoadReport(ws.VerifyResultPath())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("verification failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reverse, "reverse", false, "run the reverse-phase checks instead")
	return cmd
}
