// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
)

func openStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := OpenRunStore(filepath.Join(t.TempDir(), "ledger", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunStore_RecordsTransitionsInOrder(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, s.BeginRun(ctx, "run-1", "/ws", base))

	obs := s.Observer("run-1")
	seq := []status.Status{
		status.MigrationStarting,
		status.StartFullMigration,
		status.FullMigrationRunning,
		status.FullMigrationFinished,
	}
	for i, st := range seq {
		obs.OnTransition(status.NotStart, status.Record{Status: st, Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	recs, err := s.Transitions(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, recs, len(seq))
	for i, r := range recs {
		assert.Equal(t, seq[i], r.Status)
		assert.Equal(t, base.Add(time.Duration(i)*time.Second).UnixMilli(), r.Timestamp.UnixMilli())
	}

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, status.FullMigrationFinished, run.LastStatus)
	assert.Equal(t, 4, run.Transitions)
	assert.True(t, run.FinishedAt.IsZero(), "run is not finished until a terminal status")
}

func TestRunStore_TerminalStatusClosesRun(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	start := time.UnixMilli(1_700_000_000_000)
	end := start.Add(time.Minute)

	require.NoError(t, s.BeginRun(ctx, "run-f", "/ws", start))
	require.NoError(t, s.RecordTransition(ctx, "run-f", status.Record{Status: status.MigrationFailed, Timestamp: end}))

	run, err := s.GetRun(ctx, "run-f")
	require.NoError(t, err)
	assert.Equal(t, status.MigrationFailed, run.LastStatus)
	assert.Equal(t, end.UnixMilli(), run.FinishedAt.UnixMilli())
}

func TestRunStore_ListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.UnixMilli(1_700_000_000_000)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.BeginRun(ctx, id, "/ws", base.Add(time.Duration(i)*time.Hour)))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Equal(t, status.NotStart, runs[0].LastStatus)
	assert.Zero(t, runs[0].Transitions)
}

func TestRunStore_UnknownRun(t *testing.T) {
	s := openStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunStore_TransitionForUnknownRunRejected(t *testing.T) {
	s := openStore(t)
	err := s.RecordTransition(context.Background(), "ghost",
		status.Record{Status: status.MigrationStarting, Timestamp: time.Now()})
	assert.Error(t, err, "foreign key should reject transitions without a run")
}

func TestRunStore_ReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	s, err := OpenRunStore(path)
	require.NoError(t, err)
	require.NoError(t, s.BeginRun(ctx, "r", "/ws", time.Now()))
	require.NoError(t, s.RecordTransition(ctx, "r", status.Record{Status: status.MigrationStarting, Timestamp: time.Now()}))
	require.NoError(t, s.Close())

	s2, err := OpenRunStore(path)
	require.NoError(t, err)
	defer s2.Close()

	recs, err := s2.Transitions(ctx, "r")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, status.MigrationStarting, recs[0].Status)
}
