// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stoptoken

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestStopIsOneWay(t *testing.T) {
	tok := New()
	assert.False(t, tok.IsStopped())
	select {
	case <-tok.Done():
		t.Fatal("done closed before stop")
	default:
	}

	assert.True(t, tok.RequestStop())
	assert.False(t, tok.RequestStop())
	assert.True(t, tok.IsStopped())
	<-tok.Done()
}

func TestZeroValueUsable(t *testing.T) {
	var tok Token
	tok.RequestStop()
	assert.True(t, tok.IsStopped())
	<-tok.Done()
}

func TestConcurrentRequestStopHasSingleWinner(t *testing.T) {
	tok := New()
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok.RequestStop() {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}
