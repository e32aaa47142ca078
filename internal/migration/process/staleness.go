// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package process

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
)

type staleEntry struct {
	mtime     time.Time
	unchanged int
}

// StalenessDetector tracks progress files by modification time.
//
// Each Progressing call compares the file's mtime with the previous call.
// A changed mtime (or a missing file) resets the counter. Once the counter
// has reached the threshold, the next unchanged observation reports false a
// single time and resets the counter, so one stall yields one failure.
type StalenessDetector struct {
	threshold int
	stat      func(string) (os.FileInfo, error)
	logger    zerolog.Logger

	mu      sync.Mutex
	entries map[string]*staleEntry
}

// NewStalenessDetector returns a detector firing after threshold unchanged polls.
func NewStalenessDetector(threshold int) *StalenessDetector {
	if threshold < 1 {
		threshold = 1
	}
	return &StalenessDetector{
		threshold: threshold,
		stat:      os.Stat,
		logger:    xglog.WithComponent("staleness"),
		entries:   make(map[string]*staleEntry),
	}
}

// Progressing reports whether the file at path is still being updated.
func (d *StalenessDetector) Progressing(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[path]
	if !ok {
		e = &staleEntry{}
		d.entries[path] = e
	}

	info, err := d.stat(path)
	if err != nil {
		// Not written yet, or rotated away: treat as modified.
		e.mtime = time.Time{}
		e.unchanged = 0
		return true
	}
	mtime := info.ModTime()
	if !ok || !mtime.Equal(e.mtime) {
		e.mtime = mtime
		e.unchanged = 0
		return true
	}

	if e.unchanged >= d.threshold {
		d.logger.Error().
			Str(xglog.FieldEvent, "staleness.detected").
			Str(xglog.FieldPath, path).
			Int("polls", e.unchanged+1).
			Time("mtime", mtime).
			Msg("status file has not been updated, process considered dead")
		e.unchanged = 0
		return false
	}
	e.unchanged++
	return true
}

// Forget drops the tracking state for path.
func (d *StalenessDetector) Forget(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, path)
}
