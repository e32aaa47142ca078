// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
)

func TestVerifyIntegrity_HealthyLedger(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := OpenRunStore(path)
	require.NoError(t, err)
	require.NoError(t, s.BeginRun(ctx, "run-1", "/ws", time.Now()))
	require.NoError(t, s.RecordTransition(ctx, "run-1", status.Record{Status: status.MigrationStarting, Timestamp: time.Now()}))
	require.NoError(t, s.Close())

	for _, mode := range []IntegrityMode{QuickCheck, FullCheck} {
		problems, err := VerifyIntegrity(ctx, path, mode)
		require.NoError(t, err, mode)
		assert.Empty(t, problems, mode)
	}
}

func TestVerifyIntegrity_ReportsDamagedPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := OpenRunStore(path)
	require.NoError(t, err)
	// Rollback journal so every page lands in the main file before damage.
	_, err = s.db.Exec("PRAGMA journal_mode=DELETE")
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		_, err := s.db.Exec("INSERT INTO runs (id, workspace, started_at) VALUES (?, ?, ?)",
			fmt.Sprintf("run-%03d", i), "/ws/payload-payload-payload", i)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt(bytes.Repeat([]byte{0xFF}, 512), 4096+16)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	problems, err := VerifyIntegrity(context.Background(), path, FullCheck)
	if err == nil {
		assert.NotEmpty(t, problems, "damaged b-tree must be reported")
	}
}

func TestVerifyIntegrity_MissingLedger(t *testing.T) {
	_, err := VerifyIntegrity(context.Background(), filepath.Join(t.TempDir(), "absent.db"), QuickCheck)
	assert.Error(t, err, "read-only open never creates the ledger")
}
