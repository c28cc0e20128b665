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
	"math"
	"math/bits"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// exhaustiveSignBits caps the number of open sign bits for which every
// assignment is enumerated. Beyond it the solver seeds the pattern from the
// spectral estimate and polishes it with coordinate descent.
const exhaustiveSignBits = 16

// signSweeps bounds the coordinate descent passes over the sign pattern.
const signSweeps = 8

// signBitFloor drops sign bits whose imaginary magnitude is negligible
// against the largest one in the row; their contribution sits below
// measurement precision either way.
const signBitFloor = 1e-7

// referenceFloor is the fraction of the mean circulant intensity below
// which the all-ones reference counts as dark. Without a reference there is
// no interferometric readout and the row falls back to the spectral
// estimate.
const referenceFloor = 1e-12

// rowSolver recovers one transmission matrix row from its intensity column.
// Each worker owns one instance: the FFT plan and the scratch buffers are
// not safe for concurrent use. The solver keeps no state across rows.
//
// The ensemble pairs every shifted mask with its complement, and both see
// the same all-ones total field s. In the gauge where s is real and
// nonnegative, |s-f|^2 = s^2 - 2s*Re(f) + |f|^2, so each pair's intensity
// difference hands over Re(f) of that field in closed form, and the
// measured magnitude |f| then leaves only the sign of Im(f) open, one bit
// per pair. The solver settles those bits against the anchor intensities,
// enumerating every assignment when few enough bits matter and polishing a
// spectral seed otherwise, and finally maps the field estimates back to the
// row as a windowed circulant least squares problem, conjugate gradients
// with every operator application a single FFT pair. Directions the
// ensemble never observes stay at their least norm value of zero.
//
// All circulant work runs on the padded width orbit = signals - anchors.
// With u the base sequence and p a row padded to orbit, the probe fields
// obey FFT(<x_j, p>)_f = conj(FFT(u)_f) * FFT(p)_f. gonum's transforms are
// unnormalized, the inverse direction carries the 1/orbit.
type rowSolver struct {
	ens *ensemble
	fft *fourier.CmplxFFT

	powerIters  int
	refineIters int
	epsInvert   float64
	gamma       float64

	padded []complex128 // orbit, synthesis workspace
	spec   []complex128 // orbit, frequency workspace
	fields []complex128 // orbit, circulant fields workspace
	row    []complex128 // orbit, current iterate, zero beyond columns
	work   []complex128 // orbit, forward and adjoint workspace
	target []complex128 // orbit, field estimates from the pair readout

	reField []float64 // pairs, real parts from the pair differences
	imMag   []float64 // pairs, imaginary magnitudes
	signs   []float64 // pairs, current sign pattern
	best    []float64 // pairs, best sign pattern seen
	sigIdx  []int     // significant pair indices, heaviest first

	eBase   []complex128 // anchors, sign-independent screening fields
	eAnchor []complex128 // anchors, screening fields of the current signs

	cgR []complex128 // columns, normal equation residual
	cgP []complex128 // columns, search direction
	cgW []complex128 // columns, operator image of the search direction

	weights []float64 // orbit, deflated circulant intensities
	corr    []float64 // orbit, analysis output for real iteration vectors
	sbar    []float64 // columns, synthesis of weights
	v1, v2  []float64 // columns, block iteration vectors
	tv1     []float64 // columns
	tv2     []float64 // columns
}

func newRowSolver(ens *ensemble, powerIters, refineIters int) *rowSolver {
	return &rowSolver{
		ens:         ens,
		fft:         fourier.NewCmplxFFT(ens.orbit),
		powerIters:  powerIters,
		refineIters: refineIters,
		epsInvert:   ens.epsInvert,
		padded:      make([]complex128, ens.orbit),
		spec:        make([]complex128, ens.orbit),
		fields:      make([]complex128, ens.orbit),
		row:         make([]complex128, ens.orbit),
		work:        make([]complex128, ens.orbit),
		target:      make([]complex128, ens.orbit),
		reField:     make([]float64, ens.pairs),
		imMag:       make([]float64, ens.pairs),
		signs:       make([]float64, ens.pairs),
		best:        make([]float64, ens.pairs),
		sigIdx:      make([]int, 0, ens.pairs),
		eBase:       make([]complex128, ens.anchors),
		eAnchor:     make([]complex128, ens.anchors),
		cgR:         make([]complex128, ens.columns),
		cgP:         make([]complex128, ens.columns),
		cgW:         make([]complex128, ens.columns),
		weights:     make([]float64, ens.orbit),
		corr:        make([]float64, ens.orbit),
		sbar:        make([]float64, ens.columns),
		v1:          make([]float64, ens.columns),
		v2:          make([]float64, ens.columns),
		tv1:         make([]float64, ens.columns),
		tv2:         make([]float64, ens.columns),
	}
}

// solve recovers one row from its measurement column and writes it to dst.
// It returns false when the measurements are degenerate, in which case dst
// is filled with NaN for the caller to inspect. It never fails the batch.
func (s *rowSolver) solve(yCirc, yAnch []float64, dst []complex128) bool {
	var total float64
	for _, v := range yCirc {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			fillNaN(dst)
			return false
		}
		total += math.Abs(v)
	}
	for _, v := range yAnch {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			fillNaN(dst)
			return false
		}
		total += math.Abs(v)
	}
	if total == 0 {
		fillNaN(dst)
		return false
	}

	var circTotal float64
	for _, v := range yCirc {
		circTotal += math.Max(v, 0)
	}

	ref := math.Max(yAnch[0], 0)
	if ref*float64(s.ens.orbit) <= referenceFloor*circTotal {
		s.referenceFallback(yCirc)
	} else {
		s.holographic(math.Sqrt(ref), yCirc, yAnch)
	}

	s.finishGauge()

	for k, v := range s.row[:s.ens.columns] {
		if cmplx.IsNaN(v) || cmplx.IsInf(v) {
			fillNaN(dst)
			return false
		}
		dst[k] = v
	}

	return true
}

// holographic reads the pair structure out of the intensities, settles the
// sign bits and fits the row to the resulting field estimates.
func (s *rowSolver) holographic(g float64, yCirc, yAnch []float64) {
	pairs := s.ens.pairs

	for j := 0; j < pairs; j++ {
		re := (g*g + yCirc[j] - yCirc[j+pairs]) / (2 * g)
		// |Re f| can never exceed |f|; noisy intensities can pretend it does
		if lim := math.Sqrt(math.Max(yCirc[j], 0)); re > lim {
			re = lim
		} else if re < -lim {
			re = -lim
		}
		s.reField[j] = re
		s.imMag[j] = math.Sqrt(math.Max(yCirc[j]-re*re, 0))
	}

	var mmax float64
	for _, m := range s.imMag {
		if m > mmax {
			mmax = m
		}
	}
	s.sigIdx = s.sigIdx[:0]
	for j, m := range s.imMag {
		if m > signBitFloor*mmax {
			s.sigIdx = append(s.sigIdx, j)
		}
	}
	sort.Slice(s.sigIdx, func(a, b int) bool {
		ma, mb := s.imMag[s.sigIdx[a]], s.imMag[s.sigIdx[b]]
		if ma != mb {
			return ma > mb
		}
		return s.sigIdx[a] < s.sigIdx[b]
	})

	if len(s.sigIdx) <= exhaustiveSignBits {
		for j := range s.signs {
			s.signs[j] = 1
		}
		s.screenAnchors(g)
		s.searchSignsExhaustive(yAnch)
	} else {
		s.searchSignsGreedy(g, yCirc, yAnch)
	}

	s.assembleTarget(g)
	s.invertTarget()
	s.refineLS()
}

// assembleBase loads the sign-independent half of the field estimates: the
// real parts on the first half of the orbit and their complement
// counterparts, g minus the same real part, on the second.
func (s *rowSolver) assembleBase(g float64) {
	pairs := s.ens.pairs
	for j := 0; j < pairs; j++ {
		s.target[j] = complex(s.reField[j], 0)
		s.target[j+pairs] = complex(g-s.reField[j], 0)
	}
}

// assembleTarget adds the signed imaginary parts on top of assembleBase.
// The complement field s - f mirrors the sign, which keeps the pair
// identity exact whatever the pattern says.
func (s *rowSolver) assembleTarget(g float64) {
	s.assembleBase(g)
	pairs := s.ens.pairs
	for j := 0; j < pairs; j++ {
		im := s.signs[j] * s.imMag[j]
		s.target[j] += complex(0, im)
		s.target[j+pairs] -= complex(0, im)
	}
}

// invertTarget solves the padded circulant system for s.target with a
// Tikhonov floor and windows the result into s.row. Frequency bins where
// the base spectrum is weak contribute nothing instead of blowing up.
func (s *rowSolver) invertTarget() {
	s.fft.Coefficients(s.spec, s.target)
	for f := range s.spec {
		b := s.ens.baseFFT[f]
		den := real(b)*real(b) + imag(b)*imag(b) + s.epsInvert
		s.spec[f] = s.spec[f] * b / complex(den, 0)
	}
	s.fft.Sequence(s.row, s.spec)

	cols := s.ens.columns
	inv := complex(1/float64(s.ens.orbit), 0)
	for k := 0; k < cols; k++ {
		s.row[k] *= inv
	}
	for k := cols; k < len(s.row); k++ {
		s.row[k] = 0
	}
}

// screenAnchors computes the anchor fields the inversion of the current
// sign pattern would produce, without running a transform per pattern: the
// inversion is linear in the field estimates, so the sign-independent part
// is inverted once and each bit contributes through the ensemble's kernel.
func (s *rowSolver) screenAnchors(g float64) {
	s.assembleBase(g)
	s.invertTarget()
	for t := 0; t < s.ens.anchors; t++ {
		s.eBase[t] = s.ens.anchorField(t, s.row[:s.ens.columns])
	}
	for t := range s.eAnchor {
		e := s.eBase[t]
		for j := 0; j < s.ens.pairs; j++ {
			e += complex(0, s.signs[j]*s.imMag[j]) * s.ens.anchorKernel(t, j)
		}
		s.eAnchor[t] = e
	}
}

// anchorMisfit scores the screening fields against the measured anchor
// intensities.
func (s *rowSolver) anchorMisfit(yAnch []float64) float64 {
	var sum float64
	for t, e := range s.eAnchor {
		d := real(e)*real(e) + imag(e)*imag(e) - math.Max(yAnch[t], 0)
		sum += d * d
	}
	return sum
}

// flipSign flips pair j and updates the screening fields in place.
func (s *rowSolver) flipSign(j int) {
	s.signs[j] = -s.signs[j]
	step := complex(0, 2*s.signs[j]*s.imMag[j])
	for t := range s.eAnchor {
		s.eAnchor[t] += step * s.ens.anchorKernel(t, j)
	}
}

// searchSignsExhaustive walks every sign assignment of the significant
// pairs in Gray order, so each step flips exactly one bit and the screening
// fields update in constant time per anchor.
func (s *rowSolver) searchSignsExhaustive(yAnch []float64) {
	n := len(s.sigIdx)
	bestMis := s.anchorMisfit(yAnch)
	copy(s.best, s.signs)

	for gray := uint64(1); gray < uint64(1)<<uint(n); gray++ {
		s.flipSign(s.sigIdx[bits.TrailingZeros64(gray)])
		if mis := s.anchorMisfit(yAnch); mis < bestMis {
			bestMis = mis
			copy(s.best, s.signs)
		}
	}

	copy(s.signs, s.best)
}

// searchSignsGreedy seeds the sign pattern from the spectral estimate and
// polishes it with coordinate descent, heaviest bits first. The spectral
// seed leaves the conjugation branch arbitrary, so the mirrored pattern is
// scored too before the sweeps start.
func (s *rowSolver) searchSignsGreedy(g float64, yCirc, yAnch []float64) {
	cols := s.ens.columns

	s.spectralInit(yCirc)
	for k := range s.row {
		s.row[k] = 0
	}
	for k := 0; k < cols; k++ {
		s.row[k] = complex(s.v1[k], s.gamma*s.v2[k])
	}

	// rotate the seed into the reference gauge before reading signs off it
	var sum complex128
	for k := 0; k < cols; k++ {
		sum += s.row[k]
	}
	if a := cmplx.Abs(sum); a > 1e-300 {
		rot := cmplx.Conj(sum) / complex(a, 0)
		for k := 0; k < cols; k++ {
			s.row[k] *= rot
		}
	}

	s.analyze()
	for j := 0; j < s.ens.pairs; j++ {
		if imag(s.fields[j]) < 0 {
			s.signs[j] = -1
		} else {
			s.signs[j] = 1
		}
	}

	s.screenAnchors(g)
	mis := s.anchorMisfit(yAnch)

	var mirror float64
	for t := range s.eAnchor {
		e := 2*s.eBase[t] - s.eAnchor[t]
		d := real(e)*real(e) + imag(e)*imag(e) - math.Max(yAnch[t], 0)
		mirror += d * d
	}
	if mirror < mis {
		for j := range s.signs {
			s.signs[j] = -s.signs[j]
		}
		for t := range s.eAnchor {
			s.eAnchor[t] = 2*s.eBase[t] - s.eAnchor[t]
		}
		mis = mirror
	}

	for sweep := 0; sweep < signSweeps; sweep++ {
		improved := false
		for _, j := range s.sigIdx {
			s.flipSign(j)
			if m := s.anchorMisfit(yAnch); m < mis {
				mis = m
				improved = true
			} else {
				s.flipSign(j)
			}
		}
		if !improved {
			break
		}
	}
}

// applyForward computes the circulant fields of a width-columns vector,
// leaving them in s.fields. Unlike analyze it does not touch s.row.
func (s *rowSolver) applyForward(v []complex128) {
	for k := range s.work {
		s.work[k] = 0
	}
	copy(s.work, v)
	s.fft.Coefficients(s.spec, s.work)
	for f := range s.spec {
		s.spec[f] *= cmplx.Conj(s.ens.baseFFT[f])
	}
	s.fft.Sequence(s.fields, s.spec)

	inv := complex(1/float64(s.ens.orbit), 0)
	for j := range s.fields {
		s.fields[j] *= inv
	}
}

// applyAdjoint computes the adjoint of applyForward on a field vector,
// windowed to out.
func (s *rowSolver) applyAdjoint(y, out []complex128) {
	s.fft.Coefficients(s.spec, y)
	for f := range s.spec {
		s.spec[f] *= s.ens.baseFFT[f]
	}
	s.fft.Sequence(s.work, s.spec)

	inv := complex(1/float64(s.ens.orbit), 0)
	for k := range out {
		out[k] = s.work[k] * inv
	}
}

// refineLS polishes the windowed fit of the field estimates with conjugate
// gradients on the normal equations, warm started from the one-shot
// inversion in s.row. The iterates never leave the row space of the
// observed operator, so unobserved directions keep their least norm value.
func (s *rowSolver) refineLS() {
	if s.refineIters <= 0 {
		return
	}
	cols := s.ens.columns

	s.applyForward(s.row[:cols])
	for j := range s.fields {
		s.fields[j] = s.target[j] - s.fields[j]
	}
	s.applyAdjoint(s.fields, s.cgR)

	var rs float64
	for _, c := range s.cgR {
		rs += real(c)*real(c) + imag(c)*imag(c)
	}
	if rs == 0 {
		return
	}
	rs0 := rs
	copy(s.cgP, s.cgR)

	for it := 0; it < s.refineIters; it++ {
		s.applyForward(s.cgP)
		s.applyAdjoint(s.fields, s.cgW)

		var den float64
		for k := range s.cgP {
			den += real(s.cgP[k])*real(s.cgW[k]) + imag(s.cgP[k])*imag(s.cgW[k])
		}
		if !(den > 0) {
			break
		}

		alpha := complex(rs/den, 0)
		for k := 0; k < cols; k++ {
			s.row[k] += alpha * s.cgP[k]
			s.cgR[k] -= alpha * s.cgW[k]
		}

		var rsNew float64
		for _, c := range s.cgR {
			rsNew += real(c)*real(c) + imag(c)*imag(c)
		}
		if rsNew <= 1e-28*rs0 {
			break
		}

		beta := complex(rsNew/rs, 0)
		for k := range s.cgP {
			s.cgP[k] = s.cgR[k] + beta*s.cgP[k]
		}
		rs = rsNew
	}
}

// referenceFallback handles rows whose all-ones reference is dark: without
// it there is no interferometric readout, so the row keeps the spectral
// estimate, scaled to reproduce the circulant energy.
func (s *rowSolver) referenceFallback(yCirc []float64) {
	cols := s.ens.columns

	s.spectralInit(yCirc)
	for k := range s.row {
		s.row[k] = 0
	}
	for k := 0; k < cols; k++ {
		s.row[k] = complex(s.v1[k], s.gamma*s.v2[k])
	}

	s.analyze()
	var pfit, pmeas float64
	for j, f := range s.fields {
		pfit += real(f)*real(f) + imag(f)*imag(f)
		pmeas += math.Max(yCirc[j], 0)
	}
	if pfit > 0 {
		scale := complex(math.Sqrt(pmeas/pfit), 0)
		for k := 0; k < cols; k++ {
			s.row[k] *= scale
		}
	}
}

// finishGauge nails the reporting convention: the entry sum lands exactly
// on the positive real axis and the first-half field in the closed upper
// half plane. Pure rotation and conjugation, the fitted magnitudes stay
// untouched, and for a measurement-consistent row the rotation angle is
// zero to rounding.
func (s *rowSolver) finishGauge() {
	cols := s.ens.columns

	e0 := s.ens.anchorField(0, s.row[:cols])
	if a := cmplx.Abs(e0); a > 1e-300 {
		rot := cmplx.Conj(e0) / complex(a, 0)
		for k := 0; k < cols; k++ {
			s.row[k] *= rot
		}
	}

	if s.ens.anchors > 1 {
		if h := s.ens.anchorField(1, s.row[:cols]); imag(h) < 0 {
			for k := 0; k < cols; k++ {
				s.row[k] = cmplx.Conj(s.row[k])
			}
		}
	}
}

// analyze computes the circulant fields <x_j, row> for all j at once,
// leaving them in s.fields.
func (s *rowSolver) analyze() {
	s.fft.Coefficients(s.spec, s.row)
	for f := range s.spec {
		s.spec[f] *= cmplx.Conj(s.ens.baseFFT[f])
	}
	s.fft.Sequence(s.fields, s.spec)

	inv := complex(1/float64(s.ens.orbit), 0)
	for j := range s.fields {
		s.fields[j] *= inv
	}
}

// synthesize computes sum_j q_j x_j on the probe window.
func (s *rowSolver) synthesize(q, out []float64) {
	for j, v := range q {
		s.padded[j] = complex(v, 0)
	}
	s.fft.Coefficients(s.spec, s.padded)
	for f := range s.spec {
		s.spec[f] *= s.ens.baseFFT[f]
	}
	s.fft.Sequence(s.padded, s.spec)

	inv := 1 / float64(s.ens.orbit)
	for k := range out {
		out[k] = real(s.padded[k]) * inv
	}
}

// analyzeReal runs analyze for a real iteration vector, leaving the real
// parts of the fields in s.corr. It clobbers s.row.
func (s *rowSolver) analyzeReal(v []float64) {
	for k := range s.row {
		s.row[k] = 0
	}
	for k, val := range v {
		s.row[k] = complex(val, 0)
	}
	s.analyze()
	for j := range s.corr {
		s.corr[j] = real(s.fields[j])
	}
}

// applyLifted applies the deflated lifted operator
//
//	T(v) = sum_j w_j (x_j - 1/2)<x_j - 1/2, v>
//
// restricted to the probe window, where w holds the mean-deflated circulant
// intensities. Centering the probes to +-1/2 removes their DC bulk, which
// would otherwise bury the signal plane under a rank-one component along
// the all-ones direction. Because sum_j w_j = 0 after deflation, only two
// cross terms survive, both available from s.sbar and the fresh analysis.
func (s *rowSolver) applyLifted(v, out []float64) {
	s.analyzeReal(v)

	sumV := floats.Sum(v)
	var dotWC float64
	for j := range s.corr {
		s.corr[j] *= s.weights[j]
		dotWC += s.corr[j]
	}

	s.synthesize(s.corr, out)
	for k := range out {
		out[k] -= 0.5*sumV*s.sbar[k] + 0.5*dotWC
	}
}

// spectralInit extracts the top two eigenvectors of the lifted operator,
// whose span approximates the plane {Re a, Im a}, with a two-vector block
// iteration. The starting vectors are derived from the measurements
// themselves, keeping every solve deterministic. The result stays in v1, v2
// and gamma for the callers to combine.
func (s *rowSolver) spectralInit(yCirc []float64) {
	cols := s.ens.columns

	mean := floats.Sum(yCirc) / float64(len(yCirc))
	for j, v := range yCirc {
		s.weights[j] = v - mean
	}
	s.synthesize(s.weights, s.sbar)

	copy(s.v1, s.sbar)
	if norm := floats.Norm(s.v1, 2); norm > 0 {
		floats.Scale(1/norm, s.v1)
	} else {
		for k := range s.v1 {
			s.v1[k] = 0
		}
		s.v1[0] = 1
	}

	// second start: the half-rotated weighted sum, orthogonalized
	for k := range s.v2 {
		s.v2[k] = s.sbar[(k+cols/2)%cols]
	}
	s.orthonormalize(s.v2, s.v1)

	for it := 0; it < s.powerIters; it++ {
		s.applyLifted(s.v1, s.tv1)
		s.applyLifted(s.v2, s.tv2)

		norm := floats.Norm(s.tv1, 2)
		if norm == 0 {
			// operator vanished, keep the current basis
			break
		}
		copy(s.v1, s.tv1)
		floats.Scale(1/norm, s.v1)

		copy(s.v2, s.tv2)
		s.orthonormalize(s.v2, s.v1)
	}

	s.applyLifted(s.v1, s.tv1)
	lambda1 := floats.Dot(s.v1, s.tv1)
	s.applyLifted(s.v2, s.tv2)
	lambda2 := floats.Dot(s.v2, s.tv2)

	// the eigenvalue ratio balances the real and imaginary parts of the
	// seed; for a nearly real row lambda2 collapses and so does gamma
	s.gamma = 0
	if lambda1 > 0 && lambda2 > 0 {
		s.gamma = math.Sqrt(lambda2 / lambda1)
		if s.gamma > 1 {
			s.gamma = 1
		}
	}
}

// orthonormalize removes the v1 component from v and normalizes what is
// left. A collapsed v is left at zero, the seed then degrades to real.
func (s *rowSolver) orthonormalize(v, v1 []float64) {
	floats.AddScaled(v, -floats.Dot(v, v1), v1)
	norm := floats.Norm(v, 2)
	if norm <= 1e-12 {
		for k := range v {
			v[k] = 0
		}
		return
	}
	floats.Scale(1/norm, v)
}

func fillNaN(dst []complex128) {
	nan := complex(math.NaN(), math.NaN())
	for k := range dst {
		dst[k] = nan
	}
}
