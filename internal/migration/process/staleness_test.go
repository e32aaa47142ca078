// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package process

import (
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeInfo struct {
	fs.FileInfo
	mtime time.Time
}

func (f fakeInfo) ModTime() time.Time { return f.mtime }

// fakeFS serves a controllable mtime for a single path.
type fakeFS struct {
	mtime   time.Time
	missing bool
}

func (f *fakeFS) stat(string) (os.FileInfo, error) {
	if f.missing {
		return nil, os.ErrNotExist
	}
	return fakeInfo{mtime: f.mtime}, nil
}

func newFakeDetector(threshold int) (*StalenessDetector, *fakeFS) {
	fsys := &fakeFS{mtime: time.Unix(1000, 0)}
	d := NewStalenessDetector(threshold)
	d.stat = fsys.stat
	return d, fsys
}

func TestStalenessFiresOnceAfterThreshold(t *testing.T) {
	d, _ := newFakeDetector(60)

	assert.True(t, d.Progressing("status.txt"), "first observation is a baseline")
	for i := 1; i <= 60; i++ {
		assert.True(t, d.Progressing("status.txt"), "unchanged poll %d", i)
	}
	assert.False(t, d.Progressing("status.txt"), "61st unchanged poll fires")

	// Counter was reset: the stall does not fire again immediately.
	for i := 1; i <= 60; i++ {
		assert.True(t, d.Progressing("status.txt"), "post-fire poll %d", i)
	}
	assert.False(t, d.Progressing("status.txt"))
}

func TestStalenessResetsOnChange(t *testing.T) {
	d, fsys := newFakeDetector(60)

	d.Progressing("status.txt")
	for i := 1; i < 59; i++ {
		d.Progressing("status.txt")
	}
	fsys.mtime = fsys.mtime.Add(time.Second)
	assert.True(t, d.Progressing("status.txt"), "poll 59 sees a change")

	for i := 1; i <= 60; i++ {
		assert.True(t, d.Progressing("status.txt"), "unchanged poll %d after reset", i)
	}
	assert.False(t, d.Progressing("status.txt"))
}

func TestStalenessMissingFileCountsAsProgress(t *testing.T) {
	d, fsys := newFakeDetector(2)
	fsys.missing = true
	for i := 0; i < 10; i++ {
		assert.True(t, d.Progressing("absent.txt"))
	}

	fsys.missing = false
	assert.True(t, d.Progressing("absent.txt"))
	assert.True(t, d.Progressing("absent.txt"))
	assert.True(t, d.Progressing("absent.txt"))
	assert.False(t, d.Progressing("absent.txt"))
}

func TestStalenessTracksPathsIndependently(t *testing.T) {
	d, _ := newFakeDetector(1)
	d.Progressing("a")
	d.Progressing("a")
	d.Progressing("b")
	assert.False(t, d.Progressing("a"))
	assert.True(t, d.Progressing("b"))

	d.Forget("a")
	assert.True(t, d.Progressing("a"), "forgotten path restarts from baseline")
}
