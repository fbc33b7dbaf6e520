package bce

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/nickng/bcelim/trace"
)

// Config controls the pass.
//
//	enabled = true
//	max_trace_depth = 32
//	max_constraints = 16
//	optimize_nested = true
type Config struct {
	Enabled bool `toml:"enabled"`

	// MaxTraceDepth is the number of instructions a single value trace may
	// walk over.
	MaxTraceDepth int `toml:"max_trace_depth"`

	// MaxConstraints is the largest number of guard constraints a loop may
	// need to be transformed. Costlier loops keep their bounds checks.
	MaxConstraints int `toml:"max_constraints"`

	// OptimizeNested enables loops containing other loops.
	OptimizeNested bool `toml:"optimize_nested"`
}

const DefaultMaxConstraints = 16

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		MaxTraceDepth:  trace.DefaultMaxDepth,
		MaxConstraints: DefaultMaxConstraints,
		OptimizeNested: true,
	}
}

// LoadConfig reads a TOML configuration file. Keys missing from the file
// keep their default.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg.normalize(), nil
}

// normalize replaces non-positive limits by their default.
func (c Config) normalize() Config {
	if c.MaxTraceDepth <= 0 {
		c.MaxTraceDepth = trace.DefaultMaxDepth
	}
	if c.MaxConstraints <= 0 {
		c.MaxConstraints = DefaultMaxConstraints
	}
	return c
}
