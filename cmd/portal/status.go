// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/heartbeat"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/workspace"
)

type statusOptions struct {
	workspace string
	follow    bool
	history   bool
	json      bool
}

func newStatusCmd(load loadFunc) *cobra.Command {
	var opts statusOptions
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the migration status from the workspace",
		Long: `Reads the status history file of a workspace. Works whether or not a
run is active; the heartbeat file tells the two apart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if opts.workspace != "" {
				cfg.Workspace = opts.workspace
			}
			ws, err := workspace.New(cfg.Workspace)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			window := cfg.Heartbeat.StaleWindow

			if !opts.follow {
				recs, err := status.Load(ws.HistoryPath())
				if err != nil {
					return fmt.Errorf("read status: %w", err)
				}
				return printStatus(out, ws, window, recs, opts)
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return status.Watch(ctx, ws.HistoryPath(), func(recs []status.Record) {
				_ = printStatus(out, ws, window, recs, opts)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.workspace, "workspace", "w", "", "workspace directory (overrides config)")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "keep printing on every status change")
	cmd.Flags().BoolVar(&opts.history, "history", false, "print the full status history")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print JSON")
	return cmd
}

type statusView struct {
	Status      string          `json:"status"`
	Code        int             `json:"code"`
	Description string          `json:"description"`
	Since       int64           `json:"since"`
	Active      bool            `json:"active"`
	History     []status.Record `json:"history,omitempty"`
}

func printStatus(w io.Writer, ws *workspace.Workspace, window time.Duration, recs []status.Record, opts statusOptions) error {
	cur := status.Latest(recs)
	stale, err := heartbeat.IsStale(ws.HeartbeatPath(), window, time.Now())
	if err != nil {
		return err
	}
	view := statusView{
		Status:      cur.Status.String(),
		Code:        cur.Status.Code(),
		Description: cur.Status.Description(),
		Since:       cur.Timestamp.UnixMilli(),
		Active:      !stale,
	}
	if opts.history {
		view.History = recs
	}

	if opts.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	state := "inactive"
	if view.Active {
		state = "active"
	}
	fmt.Fprintf(w, "%s (%d) %s, since %s [%s]\n",
		view.Status, view.Code, view.Description, cur.Timestamp.Format(time.RFC3339), state)
	for _, r := range view.History {
		fmt.Fprintf(w, "  %s  %-35s %d\n", r.Timestamp.Format(time.RFC3339), r.Status, r.Status.Code())
	}
	return nil
}

