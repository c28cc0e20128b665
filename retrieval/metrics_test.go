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
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsDisabled(t *testing.T) {
	t.Run("nil receiver", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.OracleQuery(time.Second)
			m.BatchSolve(time.Second)
			m.RowsSolved(3, 1)
		})
	})

	t.Run("nil registerer", func(t *testing.T) {
		m := NewMetrics(nil)
		assert.NotPanics(t, func() {
			m.OracleQuery(time.Second)
			m.BatchSolve(time.Second)
			m.RowsSolved(3, 1)
		})
	})
}

func TestMetricsCountRows(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RowsSolved(5, 2)
	m.RowsSolved(1, 0)

	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP phaseret_rows_degenerate_total Rows filled with NaN because their measurements were degenerate
# TYPE phaseret_rows_degenerate_total counter
phaseret_rows_degenerate_total 2
# HELP phaseret_rows_reconstructed_total Rows recovered with a usable calibration
# TYPE phaseret_rows_reconstructed_total counter
phaseret_rows_reconstructed_total 6
`), "phaseret_rows_reconstructed_total", "phaseret_rows_degenerate_total"))
}

func TestMetricsObserveDurations(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.OracleQuery(50 * time.Millisecond)
	m.BatchSolve(10 * time.Millisecond)
	m.BatchSolve(20 * time.Millisecond)

	for _, name := range []string{
		"phaseret_oracle_query_duration_seconds",
		"phaseret_batch_solve_duration_seconds",
	} {
		n, err := testutil.GatherAndCount(reg, name)
		require.NoError(t, err)
		assert.Equal(t, 1, n, name)
	}
}

func TestMetricsRegisterTwice(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	NewMetrics(reg)

	assert.Panics(t, func() { NewMetrics(reg) })
}
