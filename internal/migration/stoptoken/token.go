// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stoptoken provides the run-wide, one-way stop flag checked between
// migration steps.
package stoptoken

import (
	"sync"
	"sync/atomic"
)

// Token is set at most once and never reset. The zero value is ready to use.
type Token struct {
	stopped atomic.Bool
	done    chan struct{}
	init    sync.Once
}

// New returns an unset token.
func New() *Token {
	return &Token{}
}

func (t *Token) ch() chan struct{} {
	t.init.Do(func() { t.done = make(chan struct{}) })
	return t.done
}

// RequestStop sets the token. It reports true only for the call that
// actually flipped it.
func (t *Token) RequestStop() bool {
	if !t.stopped.CompareAndSwap(false, true) {
		return false
	}
	close(t.ch())
	return true
}

// IsStopped reports whether a stop was requested.
func (t *Token) IsStopped() bool {
	return t.stopped.Load()
}

// Done is closed once a stop is requested, for use in select statements.
func (t *Token) Done() <-chan struct{} {
	return t.ch()
}
