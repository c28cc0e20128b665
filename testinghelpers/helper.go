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

// Package testinghelpers holds fixtures and quality metrics shared by the
// retrieval and oracle tests.
package testinghelpers

import (
	"math"
	"math/cmplx"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
}

// RandomTransmissionMatrix draws iid entries with standard normal real and
// imaginary parts.
func RandomTransmissionMatrix(rng *rand.Rand, rows, cols int) *mat.CDense {
	tm := mat.NewCDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for k := 0; k < cols; k++ {
			tm.Set(i, k, complex(rng.NormFloat64(), rng.NormFloat64()))
		}
	}
	return tm
}

// RandomRealTransmissionMatrix draws iid standard normal real entries.
func RandomRealTransmissionMatrix(rng *rand.Rand, rows, cols int) *mat.CDense {
	tm := mat.NewCDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for k := 0; k < cols; k++ {
			tm.Set(i, k, complex(rng.NormFloat64(), 0))
		}
	}
	return tm
}

func RandomBinaryProbe(rng *rand.Rand, cols int) []float64 {
	x := make([]float64, cols)
	for k := range x {
		x[k] = float64(rng.IntN(2))
	}
	return x
}

// Intensities computes |row · probe|² for every row of tm.
func Intensities(tm *mat.CDense, probe []float64) []float64 {
	rows, cols := tm.Dims()
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		var f complex128
		for k := 0; k < cols; k++ {
			f += tm.At(i, k) * complex(probe[k], 0)
		}
		out[i] = real(f)*real(f) + imag(f)*imag(f)
	}
	return out
}

// IntensityCorrelation probes both matrices with fresh random binary
// vectors and returns the Pearson correlation between the two intensity
// responses over all probe and row pairs. It is invariant to per-row phase
// and conjugation, which makes it the natural quality metric for a
// phaseless reconstruction.
func IntensityCorrelation(rng *rand.Rand, want, got *mat.CDense, probes int) float64 {
	_, cols := want.Dims()
	var a, b []float64
	for p := 0; p < probes; p++ {
		x := RandomBinaryProbe(rng, cols)
		a = append(a, Intensities(want, x)...)
		b = append(b, Intensities(got, x)...)
	}
	return stat.Correlation(a, b, nil)
}

// IntensityMSE is the mean squared intensity difference over fresh random
// binary probes.
func IntensityMSE(rng *rand.Rand, want, got *mat.CDense, probes int) float64 {
	_, cols := want.Dims()
	var sum float64
	var n int
	for p := 0; p < probes; p++ {
		x := RandomBinaryProbe(rng, cols)
		a := Intensities(want, x)
		b := Intensities(got, x)
		for i := range a {
			d := a[i] - b[i]
			sum += d * d
			n++
		}
	}
	return sum / float64(n)
}

// RelativeRowError aligns got to want over the one remaining unit phase
// factor and the conjugation branch, then returns ||want-aligned||/||want||.
func RelativeRowError(want, got []complex128) float64 {
	direct := alignedError(want, got)
	conj := make([]complex128, len(got))
	for k, v := range got {
		conj[k] = cmplx.Conj(v)
	}
	if e := alignedError(want, conj); e < direct {
		direct = e
	}
	return direct
}

func alignedError(want, got []complex128) float64 {
	var cross complex128
	for k := range want {
		cross += want[k] * cmplx.Conj(got[k])
	}
	phase := complex(1, 0)
	if a := cmplx.Abs(cross); a > 0 {
		phase = cross / complex(a, 0)
	}

	var diff, norm float64
	for k := range want {
		d := want[k] - phase*got[k]
		diff += real(d)*real(d) + imag(d)*imag(d)
		norm += real(want[k])*real(want[k]) + imag(want[k])*imag(want[k])
	}
	if norm == 0 {
		return math.Sqrt(diff)
	}
	return math.Sqrt(diff / norm)
}

// CanonicalizeRow applies the anchor phase convention to a reference row:
// rotate so the entry sum lands on the positive real axis, then conjugate
// if the first-half sum has a negative imaginary part. Reconstructed rows
// follow the same convention, so canonicalized references compare entry
// wise without any per-row free phase.
func CanonicalizeRow(row []complex128) []complex128 {
	out := make([]complex128, len(row))
	copy(out, row)

	var sum complex128
	for _, v := range out {
		sum += v
	}
	if a := cmplx.Abs(sum); a > 0 {
		rot := cmplx.Conj(sum) / complex(a, 0)
		for k := range out {
			out[k] *= rot
		}
	}

	half := (len(out) + 1) / 2
	var hsum complex128
	for _, v := range out[:half] {
		hsum += v
	}
	if imag(hsum) < 0 {
		for k := range out {
			out[k] = cmplx.Conj(out[k])
		}
	}

	return out
}

// Row extracts one row of a complex matrix as a slice.
func Row(m *mat.CDense, i int) []complex128 {
	_, cols := m.Dims()
	out := make([]complex128, cols)
	for k := 0; k < cols; k++ {
		out[k] = m.At(i, k)
	}
	return out
}
