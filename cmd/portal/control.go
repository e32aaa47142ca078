// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// controlClient talks to the control API of a running portal.
type controlClient struct {
	base string
	http *http.Client
}

func newControlClient(addr string) *controlClient {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &controlClient{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

// post sends a control request and returns the decoded body.
func (c *controlClient) post(path string) (map[string]any, error) {
	resp, err := c.http.Post(c.base+path, "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("control API unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if msg, ok := out["error"].(string); ok {
			return out, fmt.Errorf("%s %s: %s", http.StatusText(resp.StatusCode), path, msg)
		}
		return out, fmt.Errorf("%s %s", http.StatusText(resp.StatusCode), path)
	}
	return out, nil
}

func addrFlag(cmd *cobra.Command, addr *string) {
	cmd.Flags().StringVar(addr, "addr", "", "control API address (defaults to api.listenAddr)")
}

func resolveAddr(load loadFunc, addr string) (string, error) {
	if addr != "" {
		return addr, nil
	}
	cfg, err := load()
	if err != nil {
		return "", err
	}
	if !cfg.API.Enabled {
		return "", fmt.Errorf("control API is disabled in the configuration")
	}
	return cfg.API.ListenAddr, nil
}

func newStopCmd(load loadFunc) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveAddr(load, addr)
			if err != nil {
				return err
			}
			if _, err := newControlClient(a).post("/stop"); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "stop requested")
			return nil
		},
	}
	addrFlag(cmd, &addr)
	return cmd
}

func newPhaseCmd(load loadFunc, phase, short string, ops []string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:       phase + " <" + strings.Join(ops, "|") + ">",
		Short:     short,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: ops,
		RunE: func(cmd *cobra.Command, args []string) error {
			op := args[0]
			if !slices.Contains(ops, op) {
				return fmt.Errorf("unknown %s operation %q", phase, op)
			}
			a, err := resolveAddr(load, addr)
			if err != nil {
				return err
			}
			out, err := newControlClient(a).post("/" + phase + "/" + op)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s done, status %v\n", phase, op, out["status"])
			return nil
		},
	}
	addrFlag(cmd, &addr)
	return cmd
}
