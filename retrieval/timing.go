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
	"time"
)

// Stage names used by the timing accumulator. StageOracle covers time spent
// blocked inside oracle queries, StageSolve the per-batch reconstruction,
// StageTotal the wall time of Fit. Callers derive non-oracle time as
// total - oracle.
const (
	StageOracle = "oracle"
	StageSolve  = "solve"
	StageTotal  = "total"
)

// Timings accumulates elapsed durations per named stage. Values only ever
// grow and are never reset, so repeated Fit calls on the same retriever
// accumulate. Safe for concurrent use; reads are allowed while a fit is in
// progress.
type Timings struct {
	lock   sync.RWMutex
	stages map[string]time.Duration
}

func NewTimings() *Timings {
	return &Timings{stages: map[string]time.Duration{}}
}

func (t *Timings) Add(stage string, d time.Duration) {
	if d < 0 {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	t.stages[stage] += d
}

func (t *Timings) Value(stage string) time.Duration {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.stages[stage]
}

// Snapshot returns a copy of the current stage durations. The copy is
// detached, mutating it does not affect the accumulator.
func (t *Timings) Snapshot() map[string]time.Duration {
	t.lock.RLock()
	defer t.lock.RUnlock()

	out := make(map[string]time.Duration, len(t.stages))
	for stage, d := range t.stages {
		out[stage] = d
	}

	return out
}
