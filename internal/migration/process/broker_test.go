// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package process

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerSetRestartOrder(t *testing.T) {
	log := &eventLog{}
	set := NewBrokerSet(
		newFakeBroker("zookeeper", log),
		newFakeBroker("kafka", log),
		newFakeBroker("registry", log),
	)

	require.NoError(t, set.Restart(context.Background()))
	assert.Equal(t, []string{
		"stop registry", "stop kafka", "stop zookeeper",
		"start zookeeper", "start kafka", "start registry",
	}, log.all())
}

func TestBrokerSetRestartFailsWhenBrokerStaysDown(t *testing.T) {
	log := &eventLog{}
	kafka := newFakeBroker("kafka", log)
	kafka.failOn = true
	set := NewBrokerSet(newFakeBroker("zookeeper", log), kafka)

	err := set.Restart(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBrokerNotAlive)
	assert.Contains(t, err.Error(), "kafka")
}

func TestBrokerSetHandlesIsACopy(t *testing.T) {
	set := NewBrokerSet(newFakeBroker("a", nil))
	hs := set.Handles()
	hs[0] = nil
	assert.NotNil(t, set.Handles()[0])
	assert.Equal(t, 1, set.Len())
}
