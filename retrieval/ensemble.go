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
	"math/rand/v2"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

const probeSeedSalt = 0x5851f42d4c957f2d

// ensemble is the fixed probing matrix, built exactly once per retriever and
// shared read-only across all batches and fits.
//
// Rows 0..orbit-1 are the full cyclic-shift orbit of a random binary base
// sequence of length orbit = signals - anchors, windowed to the probe width.
// The base is drawn anti-periodic: its second half is the bitwise complement
// of its first half, so shifting by half the orbit complements every mask,
// probes.Row(j+pairs) == 1 - probes.Row(j). Each mask therefore interferes
// against the same all-ones reference as its partner, which is what lets the
// solver read the real part of every field straight out of the intensity
// difference within a pair. The orbit structure additionally makes every
// field <probe_j, v> computable for all j at once with a single FFT pair.
//
// The last rows are the anchor block: an all-ones row fixing the scale and
// phase convention, a first-half-ones row fixing the conjugation branch, and
// single-impulse rows spread over the columns as per-entry magnitude
// references. Anchors are never unknowns, they only calibrate.
type ensemble struct {
	columns   int
	orbit     int
	pairs     int
	anchors   int
	halfWidth int
	impulses  []int

	base      []float64
	baseFFT   []complex128
	ones      float64
	epsInvert float64

	invKernel []complex128
	invPrefix []complex128

	probes *mat.Dense
}

func newEnsemble(cfg Config) *ensemble {
	e := &ensemble{
		columns:   cfg.Columns,
		orbit:     cfg.Signals - cfg.Anchors,
		anchors:   cfg.Anchors,
		halfWidth: (cfg.Columns + 1) / 2,
	}
	e.pairs = e.orbit / 2

	rng := rand.New(rand.NewPCG(cfg.Seed, probeSeedSalt))
	e.base = make([]float64, e.orbit)
	for m := 0; m < e.pairs; m++ {
		v := float64(rng.IntN(2))
		e.base[m] = v
		e.base[m+e.pairs] = 1 - v
	}

	for _, v := range e.base {
		e.ones += v
	}
	e.epsInvert = 1e-8 * e.ones

	fft := fourier.NewCmplxFFT(e.orbit)
	seq := make([]complex128, e.orbit)
	for k, v := range e.base {
		seq[k] = complex(v, 0)
	}
	e.baseFFT = fft.Coefficients(nil, seq)

	// inversion kernel: the window image of a unit impulse pair
	// delta_j - delta_{j+pairs} under the Tikhonov circulant inverse is a
	// cyclic shift of this one sequence, so the influence of any single
	// sign bit on any anchor field is a constant-time lookup.
	spec := make([]complex128, e.orbit)
	for f := 1; f < e.orbit; f += 2 {
		b := e.baseFFT[f]
		den := real(b)*real(b) + imag(b)*imag(b) + e.epsInvert
		spec[f] = 2 * b / complex(den, 0)
	}
	e.invKernel = fft.Sequence(nil, spec)
	inv := complex(1/float64(e.orbit), 0)
	for d := range e.invKernel {
		e.invKernel[d] *= inv
	}

	e.invPrefix = make([]complex128, 2*e.orbit+1)
	for d := 0; d < 2*e.orbit; d++ {
		e.invPrefix[d+1] = e.invPrefix[d] + e.invKernel[d%e.orbit]
	}

	e.probes = mat.NewDense(cfg.Signals, cfg.Columns, nil)
	for j := 0; j < e.orbit; j++ {
		for k := 0; k < cfg.Columns; k++ {
			e.probes.Set(j, k, e.base[(k-j+e.orbit)%e.orbit])
		}
	}

	row := e.orbit
	for k := 0; k < cfg.Columns; k++ {
		e.probes.Set(row, k, 1)
	}
	row++

	if cfg.Anchors > 1 {
		for k := 0; k < e.halfWidth; k++ {
			e.probes.Set(row, k, 1)
		}
		row++
	}

	if count := cfg.Anchors - 2; count > 0 {
		e.impulses = make([]int, count)
		for i := 0; i < count; i++ {
			e.impulses[i] = i * cfg.Columns / count
			e.probes.Set(row+i, e.impulses[i], 1)
		}
	}

	return e
}

// anchorField evaluates the field the anchor probe t would produce on row,
// i.e. the plain (unconjugated) inner product of the anchor row with row.
func (e *ensemble) anchorField(t int, row []complex128) complex128 {
	switch {
	case t == 0:
		var sum complex128
		for _, v := range row {
			sum += v
		}
		return sum
	case t == 1 && e.anchors > 1:
		var sum complex128
		for _, v := range row[:e.halfWidth] {
			sum += v
		}
		return sum
	default:
		return row[e.impulses[t-2]]
	}
}

func (e *ensemble) anchorNormSq(t int) float64 {
	switch {
	case t == 0:
		return float64(e.columns)
	case t == 1 && e.anchors > 1:
		return float64(e.halfWidth)
	default:
		return 1
	}
}

// kernWindow sums the inversion kernel over the cyclic index window
// [start, start+n), using the doubled prefix sums.
func (e *ensemble) kernWindow(start, n int) complex128 {
	return e.invPrefix[start+n] - e.invPrefix[start]
}

// anchorKernel is the response of anchor t to the inverted unit impulse
// pair at shift j: how much one sign bit moves that anchor's field.
func (e *ensemble) anchorKernel(t, j int) complex128 {
	switch {
	case t == 0:
		return e.kernWindow((e.orbit-j)%e.orbit, e.columns)
	case t == 1 && e.anchors > 1:
		return e.kernWindow((e.orbit-j)%e.orbit, e.halfWidth)
	default:
		return e.invKernel[(e.impulses[t-2]-j+e.orbit)%e.orbit]
	}
}
