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
	"runtime/debug"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// forEachRowChunk splits n rows into one contiguous chunk per worker and
// runs action concurrently. The worker index passed to action is unique per
// goroutine, so callers can pin per-worker state (FFT plans, scratch) to it.
// Panics inside action are recovered and surfaced as errors, a failing row
// must not take down the process.
func forEachRowChunk(logger logrus.FieldLogger, workers, n int,
	action func(worker, from, to int) error,
) error {
	if n == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	chunk := (n + workers - 1) / workers

	var eg errgroup.Group
	for worker := 0; worker < workers; worker++ {
		from := worker * chunk
		to := from + chunk
		if to > n {
			to = n
		}
		if from >= to {
			break
		}

		eg.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithField("stack", string(debug.Stack())).
						Errorf("recovered from panic in row solver: %v", rec)
					err = errors.Errorf("row solver panic: %v", rec)
				}
			}()

			return action(worker, from, to)
		})
	}

	return eg.Wait()
}
