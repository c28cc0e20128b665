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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Components:      8,
		Columns:         16,
		CirculantLength: 16,
		Signals:         32,
		Anchors:         6,
		BatchSize:       4,
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := validConfig()
		assert.NoError(t, cfg.Validate())
	})

	tests := []struct {
		name     string
		mutate   func(*Config)
		contains string
	}{
		{"zero components", func(c *Config) { c.Components = 0 },
			"components must be positive"},
		{"negative columns", func(c *Config) { c.Columns = -1 },
			"columns must be positive"},
		{"zero circulant length", func(c *Config) { c.CirculantLength = 0 },
			"circulant length must be positive"},
		{"zero signals", func(c *Config) { c.Signals = 0 },
			"signals must be positive"},
		{"zero anchors", func(c *Config) { c.Anchors = 0 },
			"anchors must be positive"},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 },
			"batch size must be positive"},
		{"signals not twice circulant", func(c *Config) { c.Signals = 31 },
			"twice the circulant length"},
		{"batch size does not divide components", func(c *Config) { c.BatchSize = 3 },
			"evenly divide"},
		{"anchors not fewer than signals", func(c *Config) { c.Anchors = 32 },
			"fewer than signals"},
		{"columns below circulant length", func(c *Config) { c.Columns = 15 },
			"at least the circulant length"},
		{"columns beyond circulant block", func(c *Config) { c.Anchors = 17 },
			"circulant block height"},
		{"odd shift orbit", func(c *Config) { c.Anchors = 5 },
			"must be even"},
		{"negative power iterations", func(c *Config) { c.PowerIterations = -1 },
			"power iterations must not be negative"},
		{"negative refine iterations", func(c *Config) { c.RefineIterations = -4 },
			"refine iterations must not be negative"},
		{"negative workers", func(c *Config) { c.Workers = -1 },
			"workers must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}

	t.Run("all violations reported at once", func(t *testing.T) {
		cfg := validConfig()
		cfg.Components = 0
		cfg.Anchors = 0

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "components must be positive")
		assert.Contains(t, err.Error(), "anchors must be positive")
	})
}

func TestConfigSetDefaults(t *testing.T) {
	t.Run("fills zero values", func(t *testing.T) {
		cfg := validConfig()
		cfg.SetDefaults()

		assert.NotZero(t, cfg.Seed)
		assert.Equal(t, DefaultPowerIterations, cfg.PowerIterations)
		assert.Equal(t, DefaultRefineIterations, cfg.RefineIterations)
		assert.Greater(t, cfg.Workers, 0)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		cfg := validConfig()
		cfg.Seed = 99
		cfg.PowerIterations = 7
		cfg.RefineIterations = 11
		cfg.Workers = 3
		cfg.SetDefaults()

		assert.Equal(t, uint64(99), cfg.Seed)
		assert.Equal(t, 7, cfg.PowerIterations)
		assert.Equal(t, 11, cfg.RefineIterations)
		assert.Equal(t, 3, cfg.Workers)
	})
}
