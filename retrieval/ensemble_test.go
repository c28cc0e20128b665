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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/weaviate/phaseret/testinghelpers"
)

func ensembleConfig() Config {
	cfg := Config{
		Components:      4,
		Columns:         16,
		CirculantLength: 16,
		Signals:         32,
		Anchors:         6,
		BatchSize:       2,
	}
	cfg.SetDefaults()
	return cfg
}

func TestEnsembleDeterministic(t *testing.T) {
	a := newEnsemble(ensembleConfig())
	b := newEnsemble(ensembleConfig())
	assert.True(t, mat.Equal(a.probes, b.probes),
		"same seed must produce the same ensemble")

	cfg := ensembleConfig()
	cfg.Seed = 12345
	c := newEnsemble(cfg)
	assert.False(t, mat.Equal(a.probes, c.probes),
		"a different seed must produce a different ensemble")
}

func TestEnsembleCirculantStructure(t *testing.T) {
	cfg := ensembleConfig()
	e := newEnsemble(cfg)

	require.Equal(t, cfg.Signals-cfg.Anchors, e.orbit)
	require.Equal(t, e.orbit/2, e.pairs)
	require.Len(t, e.base, e.orbit)

	var ones float64
	for _, v := range e.base {
		assert.Contains(t, []float64{0, 1}, v)
		ones += v
	}
	assert.Equal(t, ones, e.ones)
	assert.Equal(t, float64(e.pairs), e.ones,
		"each complement pair holds exactly one 1")

	// the second half of the orbit is the bitwise complement of the first,
	// both in the base sequence and in every probe window cut from it
	for m := 0; m < e.pairs; m++ {
		assert.Equal(t, 1-e.base[m], e.base[m+e.pairs], "base position %d", m)
	}
	for j := 0; j < e.pairs; j++ {
		for k := 0; k < cfg.Columns; k++ {
			assert.Equal(t, 1-e.probes.At(j, k), e.probes.At(j+e.pairs, k),
				"row %d must complement row %d", j+e.pairs, j)
		}
	}

	for j := 0; j < e.orbit; j++ {
		for k := 0; k < cfg.Columns; k++ {
			assert.Equal(t, e.base[(k-j+e.orbit)%e.orbit], e.probes.At(j, k),
				"row %d must be the base sequence shifted by %d", j, j)
		}
	}
}

func TestEnsembleAnchorRows(t *testing.T) {
	cfg := ensembleConfig()
	e := newEnsemble(cfg)

	for k := 0; k < cfg.Columns; k++ {
		assert.Equal(t, 1.0, e.probes.At(e.orbit, k), "all-ones anchor")
	}

	for k := 0; k < cfg.Columns; k++ {
		want := 0.0
		if k < e.halfWidth {
			want = 1
		}
		assert.Equal(t, want, e.probes.At(e.orbit+1, k), "half-ones anchor")
	}

	require.Len(t, e.impulses, cfg.Anchors-2)
	for i, pos := range e.impulses {
		row := e.orbit + 2 + i
		for k := 0; k < cfg.Columns; k++ {
			want := 0.0
			if k == pos {
				want = 1
			}
			assert.Equal(t, want, e.probes.At(row, k), "impulse anchor %d", i)
		}
	}
}

// anchorField must agree with a direct product against the stored anchor
// probe rows, for every anchor kind.
func TestEnsembleAnchorFieldMatchesProbes(t *testing.T) {
	cfg := ensembleConfig()
	e := newEnsemble(cfg)

	rng := testinghelpers.NewRNG(3)
	row := make([]complex128, cfg.Columns)
	for k := range row {
		row[k] = complex(rng.NormFloat64(), rng.NormFloat64())
	}

	for anchor := 0; anchor < cfg.Anchors; anchor++ {
		var want complex128
		for k := 0; k < cfg.Columns; k++ {
			want += complex(e.probes.At(e.orbit+anchor, k), 0) * row[k]
		}

		got := e.anchorField(anchor, row)
		assert.InDelta(t, real(want), real(got), 1e-12)
		assert.InDelta(t, imag(want), imag(got), 1e-12)

		var norm float64
		for k := 0; k < cfg.Columns; k++ {
			norm += e.probes.At(e.orbit+anchor, k) * e.probes.At(e.orbit+anchor, k)
		}
		assert.InDelta(t, norm, e.anchorNormSq(anchor), 1e-12)
	}
}

// The inversion image of a single imaginary pair perturbation must reach
// every anchor exactly as the precomputed kernel says, wraparound included.
func TestEnsembleAnchorKernelMatchesInversion(t *testing.T) {
	cfg := ensembleConfig()
	e := newEnsemble(cfg)
	s := newRowSolver(e, 0, 0)

	for _, j := range []int{0, 3, e.pairs - 1} {
		for k := range s.target {
			s.target[k] = 0
		}
		s.target[j] = complex(0, 1)
		s.target[j+e.pairs] = complex(0, -1)
		s.invertTarget()

		for anchor := 0; anchor < cfg.Anchors; anchor++ {
			want := e.anchorField(anchor, s.row[:cfg.Columns])
			got := complex(0, 1) * e.anchorKernel(anchor, j)
			assert.InDelta(t, real(want), real(got), 1e-10,
				"pair %d anchor %d", j, anchor)
			assert.InDelta(t, imag(want), imag(got), 1e-10,
				"pair %d anchor %d", j, anchor)
		}
	}
}

// Two anchors is the floor: the all-ones reference for the pair readout and
// the half-ones row for the conjugation branch, no impulses left over.
func TestEnsembleMinimalAnchors(t *testing.T) {
	cfg := Config{
		Components:      2,
		Columns:         8,
		CirculantLength: 8,
		Signals:         16,
		Anchors:         2,
		BatchSize:       2,
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	e := newEnsemble(cfg)
	require.Equal(t, 14, e.orbit)
	require.Equal(t, 7, e.pairs)
	assert.Empty(t, e.impulses)
	for k := 0; k < cfg.Columns; k++ {
		assert.Equal(t, 1.0, e.probes.At(e.orbit, k))
	}
	for k := 0; k < cfg.Columns; k++ {
		want := 0.0
		if k < e.halfWidth {
			want = 1
		}
		assert.Equal(t, want, e.probes.At(e.orbit+1, k))
	}
}
