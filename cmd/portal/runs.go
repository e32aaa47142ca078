// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/daemon"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/persistence/sqlite"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/workspace"
)

func newRunsCmd(load loadFunc) *cobra.Command {
	var (
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past migration runs from the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !cfg.RunStore.Enabled {
				return fmt.Errorf("run store is disabled in the configuration")
			}
			ws, err := workspace.New(cfg.Workspace)
			if err != nil {
				return err
			}
			store, err := sqlite.OpenRunStore(daemon.RunStorePath(cfg, ws))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			out := cmd.OutOrStdout()
			if runID != "" {
				recs, err := store.Transitions(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					return fmt.Errorf("%w: %s", sqlite.ErrRunNotFound, runID)
				}
				for _, r := range recs {
					fmt.Fprintf(out, "%s  %-35s %d\n", r.Timestamp.Format(time.RFC3339), r.Status, r.Status.Code())
				}
				return nil
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printRuns(out, runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	cmd.Flags().StringVar(&runID, "run", "", "print the transitions of one run")
	return cmd
}

func printRuns(out io.Writer, runs []sqlite.Run) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tFINISHED\tSTATUS\tTRANSITIONS")
	for _, r := range runs {
		finished := "-"
		if !r.FinishedAt.IsZero() {
			finished = r.FinishedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			r.ID, r.StartedAt.Format(time.RFC3339), finished, r.LastStatus, r.Transitions)
	}
	return w.Flush()
}
