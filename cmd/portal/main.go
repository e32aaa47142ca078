// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command portal runs and controls openGauss migrations.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/config"
)

var (
	version   = "v0.0.0-dev"
	commit    = "none"
	buildDate = "unknown"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "portal",
		Short:         "Migration control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")

	load := func() (config.Config, error) {
		return config.NewLoader(configPath, version).Load()
	}

	root.AddCommand(
		newStartCmd(load),
		newVerifyCmd(load),
		newStatusCmd(load),
		newRunsCmd(load),
		newStopCmd(load),
		newPhaseCmd(load, "incremental", "Control incremental migration", []string{"stop", "resume", "restart"}),
		newPhaseCmd(load, "reverse", "Control reverse migration", []string{"start", "stop", "resume", "restart"}),
		newVersionCmd(),
	)
	return root
}

type loadFunc func() (config.Config, error)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
