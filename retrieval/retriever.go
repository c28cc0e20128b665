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

// Package retrieval reconstructs a complex transmission matrix from
// phaseless oracle measurements. The oracle, hardware or simulated, reports
// only intensities |probe · row|² for chosen binary probes; the retriever
// designs a complement-paired circulant probe ensemble around that channel,
// reads each row's fields interferometrically out of the pair intensity
// differences, settles the remaining per-pair sign bits against a small
// block of designed anchor probes and fits the row by FFT-accelerated least
// squares.
package retrieval

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Oracle reports phaseless measurements. Query sends the full probe
// ensemble and asks for the intensities of the transmission matrix rows
// [firstComponent, firstComponent+components); the response has one row per
// probe signal and one column per requested component. Implementations must
// be pure functions of their input up to their own noise model. A hardware
// backed oracle may run a one-time internal calibration on its first query,
// only the latency of that call may differ.
type Oracle interface {
	Query(ctx context.Context, probes mat.Matrix, firstComponent,
		components int) (*mat.Dense, error)
}

// Retriever drives the oracle batch by batch and solves for the rows of the
// transmission matrix. The probe ensemble is built once at construction and
// shared, immutable, across all batches and fits.
type Retriever struct {
	config   Config
	logger   logrus.FieldLogger
	metrics  *Metrics
	ensemble *ensemble
	solvers  []*rowSolver
	timings  *Timings

	fitLock sync.Mutex
}

func New(cfg Config) (*Retriever, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		logger = l
	}

	r := &Retriever{
		config:   cfg,
		metrics:  cfg.Metrics,
		ensemble: newEnsemble(cfg),
		timings:  NewTimings(),
	}
	r.logger = logger.WithFields(logrus.Fields{
		"action":       "phase_retrieval",
		"retriever_id": uuid.NewString(),
	})

	workers := cfg.Workers
	if workers > cfg.BatchSize {
		workers = cfg.BatchSize
	}
	r.solvers = make([]*rowSolver, workers)
	for w := range r.solvers {
		r.solvers[w] = newRowSolver(r.ensemble, cfg.PowerIterations,
			cfg.RefineIterations)
	}

	r.logger.WithFields(logrus.Fields{
		"signals": cfg.Signals,
		"columns": cfg.Columns,
		"orbit":   r.ensemble.orbit,
		"anchors": cfg.Anchors,
		"workers": workers,
	}).Debug("probe ensemble built")

	return r, nil
}

// Probes exposes the probe ensemble, for example to hand it to hardware
// tooling. The returned matrix is the ensemble itself and must be treated
// as read-only; the retriever relies on it never changing.
func (r *Retriever) Probes() mat.Matrix {
	return r.ensemble.probes
}

// Timings returns a snapshot of the accumulated stage durations. Safe to
// call while a fit is running; durations only ever grow, also across
// repeated fits.
func (r *Retriever) Timings() map[string]time.Duration {
	return r.timings.Snapshot()
}

// Fit queries the oracle once per batch of components and assembles the
// reconstructed transmission matrix in row order. The returned matrix is
// owned by the caller, the retriever keeps no reference to it.
//
// Oracle failures and malformed response shapes abort the run and are
// returned with their cause preserved, never retried: a silent retry could
// mask hardware faults that matter for calibration quality. Rows with
// degenerate measurements do not abort anything, they come back as NaN for
// the caller to inspect.
func (r *Retriever) Fit(ctx context.Context, oracle Oracle) (*mat.CDense, error) {
	r.fitLock.Lock()
	defer r.fitLock.Unlock()

	start := time.Now()
	defer func() {
		r.timings.Add(StageTotal, time.Since(start))
	}()

	cfg := r.config
	out := mat.NewCDense(cfg.Components, cfg.Columns, nil)
	batches := cfg.Components / cfg.BatchSize

	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "fit aborted before batch %d", b)
		}

		first := b * cfg.BatchSize

		began := time.Now()
		y, err := oracle.Query(ctx, r.ensemble.probes, first, cfg.BatchSize)
		oracleTook := time.Since(began)
		r.timings.Add(StageOracle, oracleTook)
		r.metrics.OracleQuery(oracleTook)
		if err != nil {
			return nil, errors.Wrapf(err, "oracle query for components %d..%d",
				first, first+cfg.BatchSize-1)
		}
		if rows, cols := y.Dims(); rows != cfg.Signals || cols != cfg.BatchSize {
			return nil, errors.Wrapf(ErrMeasurementShape,
				"oracle returned %dx%d, want %dx%d",
				rows, cols, cfg.Signals, cfg.BatchSize)
		}

		began = time.Now()
		degenerate, err := r.solveBatch(y, out, first)
		solveTook := time.Since(began)
		r.timings.Add(StageSolve, solveTook)
		r.metrics.BatchSolve(solveTook)
		if err != nil {
			return nil, errors.Wrapf(err, "solve batch %d", b)
		}
		r.metrics.RowsSolved(cfg.BatchSize-degenerate, degenerate)

		fields := logrus.Fields{
			"batch":       b,
			"batches":     batches,
			"oracle_took": oracleTook,
			"solve_took":  solveTook,
		}
		if degenerate > 0 {
			fields["degenerate_rows"] = degenerate
			r.logger.WithFields(fields).Warn("batch contains degenerate rows")
		} else {
			r.logger.WithFields(fields).Debug("batch reconstructed")
		}

		if cfg.Progress != nil {
			cfg.Progress(first+cfg.BatchSize, cfg.Components)
		}
	}

	return out, nil
}

func (r *Retriever) solveBatch(y *mat.Dense, out *mat.CDense, first int) (int, error) {
	cfg := r.config
	orbit := r.ensemble.orbit

	var degenerate atomic.Int64
	err := forEachRowChunk(r.logger, len(r.solvers), cfg.BatchSize,
		func(worker, from, to int) error {
			solver := r.solvers[worker]
			yCirc := make([]float64, orbit)
			yAnch := make([]float64, cfg.Anchors)
			rowBuf := make([]complex128, cfg.Columns)

			for i := from; i < to; i++ {
				for j := 0; j < orbit; j++ {
					yCirc[j] = y.At(j, i)
				}
				for t := 0; t < cfg.Anchors; t++ {
					yAnch[t] = y.At(orbit+t, i)
				}

				if !solver.solve(yCirc, yAnch, rowBuf) {
					degenerate.Add(1)
				}

				// disjoint row ranges, no lock needed on the output
				for k, v := range rowBuf {
					out.Set(first+i, k, v)
				}
			}

			return nil
		})

	return int(degenerate.Load()), err
}
