//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2025 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package retrieval

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEachRowChunkCoversEveryRowOnce(t *testing.T) {
	logger, _ := test.NewNullLogger()

	for _, workers := range []int{1, 3, 4, 7, 16} {
		var lock sync.Mutex
		seen := map[int]int{}

		err := forEachRowChunk(logger, workers, 10,
			func(worker, from, to int) error {
				lock.Lock()
				defer lock.Unlock()
				for i := from; i < to; i++ {
					seen[i]++
				}
				return nil
			})
		require.NoError(t, err, "workers=%d", workers)

		require.Len(t, seen, 10, "workers=%d", workers)
		for i := 0; i < 10; i++ {
			assert.Equal(t, 1, seen[i], "workers=%d row %d", workers, i)
		}
	}
}

func TestForEachRowChunkZeroRows(t *testing.T) {
	logger, _ := test.NewNullLogger()

	called := false
	err := forEachRowChunk(logger, 4, 0, func(worker, from, to int) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestForEachRowChunkPropagatesError(t *testing.T) {
	logger, _ := test.NewNullLogger()
	boom := errors.New("bad chunk")

	err := forEachRowChunk(logger, 2, 8, func(worker, from, to int) error {
		if worker == 1 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
}

func TestForEachRowChunkRecoversPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()

	err := forEachRowChunk(logger, 2, 8, func(worker, from, to int) error {
		if worker == 0 {
			panic("solver blew up")
		}
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row solver panic")
	assert.Contains(t, err.Error(), "solver blew up")

	var logged bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel {
			logged = true
			assert.NotEmpty(t, entry.Data["stack"])
		}
	}
	assert.True(t, logged, "the panic must be logged with its stack")
}
