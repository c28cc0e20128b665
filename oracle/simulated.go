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

// Package oracle provides measurement backends for the retrieval package.
package oracle

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/cblas128"
	"gonum.org/v1/gonum/mat"

	"github.com/weaviate/phaseret/retrieval"
)

const noiseSeedSalt = 0x14057b7ef767814f

// Simulated computes |probe · row|² directly from a known complex
// transmission matrix. It stands in for the optical hardware during
// development and tests: same query contract, optionally the same one-time
// calibration latency on first use, optionally Gaussian intensity noise.
type Simulated struct {
	tm   *mat.CDense
	rows int
	cols int

	noise   float64
	rngLock sync.Mutex
	rng     *rand.Rand

	delay   time.Duration
	calOnce sync.Once

	queries atomic.Int64
}

var _ retrieval.Oracle = (*Simulated)(nil)

type SimulatedConfig struct {
	// Noise is the standard deviation of additive Gaussian intensity noise,
	// relative to the mean noiseless intensity of the batch. 0 disables it.
	Noise float64

	// Seed drives the noise source.
	Seed uint64

	// CalibrationDelay is slept through once, on the first query, mimicking
	// hardware that calibrates itself on first use.
	CalibrationDelay time.Duration
}

func NewSimulated(tm *mat.CDense, cfg SimulatedConfig) (*Simulated, error) {
	if tm == nil {
		return nil, errors.New("transmission matrix must not be nil")
	}
	rows, cols := tm.Dims()
	if rows == 0 || cols == 0 {
		return nil, errors.Errorf("transmission matrix must not be empty, got %dx%d",
			rows, cols)
	}
	if cfg.Noise < 0 {
		return nil, errors.Errorf("noise must not be negative, got %g", cfg.Noise)
	}

	return &Simulated{
		tm:    tm,
		rows:  rows,
		cols:  cols,
		noise: cfg.Noise,
		rng:   rand.New(rand.NewPCG(cfg.Seed, noiseSeedSalt)),
		delay: cfg.CalibrationDelay,
	}, nil
}

func (s *Simulated) Query(ctx context.Context, probes mat.Matrix,
	firstComponent, components int,
) (*mat.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if components <= 0 || firstComponent < 0 ||
		firstComponent+components > s.rows {
		return nil, errors.Errorf("component range %d..%d out of bounds for %d rows",
			firstComponent, firstComponent+components-1, s.rows)
	}
	signals, width := probes.Dims()
	if width != s.cols {
		return nil, errors.Errorf(
			"probe width %d does not match %d transmission matrix columns",
			width, s.cols)
	}

	s.calOnce.Do(func() {
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
	})
	s.queries.Add(1)

	// bilinear product, T not H: real probes must not be conjugated
	pc := mat.NewCDense(signals, width, nil)
	for i := 0; i < signals; i++ {
		for k := 0; k < width; k++ {
			pc.Set(i, k, complex(probes.At(i, k), 0))
		}
	}
	sub := mat.NewCDense(components, width, nil)
	for i := 0; i < components; i++ {
		for k := 0; k < width; k++ {
			sub.Set(i, k, s.tm.At(firstComponent+i, k))
		}
	}

	// fields = pc · subᵀ, unconjugated: blas.Trans, never blas.ConjTrans
	fields := mat.NewCDense(signals, components, nil)
	cblas128.Gemm(blas.NoTrans, blas.Trans, 1,
		pc.RawCMatrix(), sub.RawCMatrix(), 0, fields.RawCMatrix())

	out := mat.NewDense(signals, components, nil)
	var sum float64
	for i := 0; i < signals; i++ {
		for j := 0; j < components; j++ {
			f := fields.At(i, j)
			v := real(f)*real(f) + imag(f)*imag(f)
			out.Set(i, j, v)
			sum += v
		}
	}

	if s.noise > 0 {
		sigma := s.noise * sum / float64(signals*components)
		s.rngLock.Lock()
		for i := 0; i < signals; i++ {
			for j := 0; j < components; j++ {
				v := out.At(i, j) + sigma*s.rng.NormFloat64()
				if v < 0 {
					// intensities are physical, the detector never reports
					// below zero
					v = 0
				}
				out.Set(i, j, v)
			}
		}
		s.rngLock.Unlock()
	}

	return out, nil
}

// Queries reports how many batches the oracle has answered.
func (s *Simulated) Queries() int64 {
	return s.queries.Load()
}
