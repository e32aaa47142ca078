// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package status

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
)

// Watch calls fn with the full history each time the file at path is
// replaced, and once up front if the file already exists. It blocks until
// ctx is cancelled. The parent directory is watched because the tracker
// replaces the file by rename.
func Watch(ctx context.Context, path string, fn func([]Record)) error {
	logger := xglog.WithComponentFromContext(ctx, "status-watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	emit := func() {
		records, err := Load(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Debug().Err(err).Str(xglog.FieldPath, path).Msg("status history not readable yet")
			}
			return
		}
		fn(records)
	}
	emit()

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename) {
				emit()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Str(xglog.FieldEvent, "status.watch_error").Msg("status watcher error")
		}
	}
}
