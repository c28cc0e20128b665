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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics observes oracle latency, solve latency and row outcomes. A nil
// *Metrics or a Metrics built from a nil registerer is a no-op, so callers
// never have to guard their observe calls.
type Metrics struct {
	enabled bool

	oracleQueryDuration prometheus.Observer
	batchSolveDuration  prometheus.Observer
	rowsReconstructed   prometheus.Counter
	rowsDegenerate      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}

	oracleQueryDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "phaseret_oracle_query_duration_seconds",
		Help:    "Duration of a single oracle query for one batch",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	})
	batchSolveDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "phaseret_batch_solve_duration_seconds",
		Help:    "Duration of reconstructing one batch of rows",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	})
	rowsReconstructed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phaseret_rows_reconstructed_total",
		Help: "Rows recovered with a usable calibration",
	})
	rowsDegenerate := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "phaseret_rows_degenerate_total",
		Help: "Rows filled with NaN because their measurements were degenerate",
	})

	reg.MustRegister(oracleQueryDuration, batchSolveDuration,
		rowsReconstructed, rowsDegenerate)

	return &Metrics{
		enabled:             true,
		oracleQueryDuration: oracleQueryDuration,
		batchSolveDuration:  batchSolveDuration,
		rowsReconstructed:   rowsReconstructed,
		rowsDegenerate:      rowsDegenerate,
	}
}

func (m *Metrics) OracleQuery(d time.Duration) {
	if m == nil || !m.enabled {
		return
	}

	m.oracleQueryDuration.Observe(d.Seconds())
}

func (m *Metrics) BatchSolve(d time.Duration) {
	if m == nil || !m.enabled {
		return
	}

	m.batchSolveDuration.Observe(d.Seconds())
}

func (m *Metrics) RowsSolved(reconstructed, degenerate int) {
	if m == nil || !m.enabled {
		return
	}

	m.rowsReconstructed.Add(float64(reconstructed))
	m.rowsDegenerate.Add(float64(degenerate))
}
