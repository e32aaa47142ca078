// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package verify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/persistence/sqlite"
)

// Checker is one pre-flight check.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// WritableDir checks that a file can be created and removed inside Dir.
type WritableDir struct {
	Label string
	Dir   string
}

func (c WritableDir) Name() string { return "writable:" + c.Label }

func (c WritableDir) Check(_ context.Context) error {
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", c.Dir, err)
	}
	f, err := os.CreateTemp(c.Dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("directory %s not writable: %w", c.Dir, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// ToolsAvailable checks that every executable resolves on PATH.
type ToolsAvailable struct {
	Tools []string
	// LookPath defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

func (c ToolsAvailable) Name() string { return "tools" }

func (c ToolsAvailable) Check(_ context.Context) error {
	look := c.LookPath
	if look == nil {
		look = exec.LookPath
	}
	var missing []string
	for _, tool := range c.Tools {
		if _, err := look(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("executables not found: %s", strings.Join(missing, ", "))
	}
	return nil
}

// EndpointReachable dials a TCP endpoint, typically a broker listener.
type EndpointReachable struct {
	Label    string
	Endpoint string
	Timeout  time.Duration
}

func (c EndpointReachable) Name() string { return "endpoint:" + c.Label }

func (c EndpointReachable) Check(ctx context.Context) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Endpoint)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", c.Endpoint, err)
	}
	return conn.Close()
}

// RunStoreIntegrity runs a quick integrity check on the run ledger. A ledger
// that does not exist yet passes.
type RunStoreIntegrity struct {
	Path string
}

func (c RunStoreIntegrity) Name() string { return "runstore" }

func (c RunStoreIntegrity) Check(ctx context.Context) error {
	if _, err := os.Stat(c.Path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	problems, err := sqlite.VerifyIntegrity(ctx, c.Path, sqlite.QuickCheck)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s corrupt: %s", filepath.Base(c.Path), strings.Join(problems, "; "))
	}
	return nil
}
