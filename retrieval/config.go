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
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// defaultSeed keeps the probe ensemble deterministic when the caller does
	// not pick a seed of their own.
	defaultSeed = 0x9e3779b97f4a7c15

	DefaultPowerIterations  = 48
	DefaultRefineIterations = 160
)

// Config describes one retrieval run. The six geometry fields are required;
// everything else has a usable default. A Config is copied into the retriever
// at construction and never read again afterwards.
type Config struct {
	// Components is the number of transmission matrix rows to recover.
	Components int

	// Columns is the probe width, which equals the transmission matrix
	// column count.
	Columns int

	// CirculantLength is the length of the base random sequence the
	// circulant probe block is built from. Recommended 0.75 * Columns.
	CirculantLength int

	// Signals is the total number of probe rows sent to the oracle. Must
	// equal 2 * CirculantLength.
	Signals int

	// Anchors is the number of designed reference rows appended to the
	// probe ensemble. At least 1 is required for calibration, around 20 is
	// recommended. Signals minus anchors must stay even so the circulant
	// block can pair every mask with its complement.
	Anchors int

	// BatchSize is the number of rows recovered per oracle query. Must
	// evenly divide Components. 100-500 is the recommended range.
	BatchSize int

	// Seed drives the probe ensemble randomness. 0 selects a fixed default,
	// so runs are deterministic unless a seed is chosen explicitly.
	Seed uint64

	// PowerIterations and RefineIterations bound the two stages of the
	// per-row solver. 0 selects the defaults.
	PowerIterations  int
	RefineIterations int

	// Workers is the number of goroutines solving rows within a batch.
	// 0 selects GOMAXPROCS.
	Workers int

	// Logger may be nil, in which case all log output is discarded.
	Logger logrus.FieldLogger

	// Metrics may be nil, in which case nothing is observed.
	Metrics *Metrics

	// Progress, if set, is invoked after each completed batch with the
	// number of rows recovered so far and the total row count.
	Progress func(done, total int)
}

func (c *Config) SetDefaults() {
	if c.Seed == 0 {
		c.Seed = defaultSeed
	}

	if c.PowerIterations == 0 {
		c.PowerIterations = DefaultPowerIterations
	}

	if c.RefineIterations == 0 {
		c.RefineIterations = DefaultRefineIterations
	}

	if c.Workers == 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
}

// Validate reports every violation at once rather than stopping at the
// first. The returned error wraps ErrInvalidConfig.
func (c Config) Validate() error {
	var reasons []string
	addf := func(format string, args ...interface{}) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	if c.Components <= 0 {
		addf("components must be positive, got %d", c.Components)
	}
	if c.Columns <= 0 {
		addf("columns must be positive, got %d", c.Columns)
	}
	if c.CirculantLength <= 0 {
		addf("circulant length must be positive, got %d", c.CirculantLength)
	}
	if c.Signals <= 0 {
		addf("signals must be positive, got %d", c.Signals)
	}
	if c.Anchors <= 0 {
		addf("anchors must be positive, got %d: at least one reference row "+
			"is required to calibrate the per-row phase", c.Anchors)
	}
	if c.BatchSize <= 0 {
		addf("batch size must be positive, got %d", c.BatchSize)
	}

	if c.Signals != 2*c.CirculantLength {
		addf("signals (%d) must equal twice the circulant length (%d)",
			c.Signals, c.CirculantLength)
	}
	if c.BatchSize > 0 && c.Components%c.BatchSize != 0 {
		addf("batch size (%d) must evenly divide components (%d)",
			c.BatchSize, c.Components)
	}
	if c.Anchors >= c.Signals {
		addf("anchors (%d) must be fewer than signals (%d)",
			c.Anchors, c.Signals)
	}
	if c.Columns < c.CirculantLength {
		addf("columns (%d) must be at least the circulant length (%d)",
			c.Columns, c.CirculantLength)
	}
	if c.Columns > c.Signals-c.Anchors {
		addf("columns (%d) must not exceed the circulant block height (%d), "+
			"otherwise some columns are never probed by a full shift orbit",
			c.Columns, c.Signals-c.Anchors)
	}
	if (c.Signals-c.Anchors)%2 != 0 {
		addf("the shift orbit (signals minus anchors, %d) must be even: "+
			"every shifted mask is paired with its complement",
			c.Signals-c.Anchors)
	}

	if c.PowerIterations < 0 {
		addf("power iterations must not be negative, got %d", c.PowerIterations)
	}
	if c.RefineIterations < 0 {
		addf("refine iterations must not be negative, got %d", c.RefineIterations)
	}
	if c.Workers < 0 {
		addf("workers must not be negative, got %d", c.Workers)
	}

	if len(reasons) == 0 {
		return nil
	}

	return errors.Wrap(ErrInvalidConfig, strings.Join(reasons, ", "))
}
