// This file defines the Go structs that correspond to the YAML configuration
// for the benchmark runner: corpus shape, sweep settings and the catalog of
// index configurations to measure.
package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ruggierom/affindb/pkg/core/distance"
	"github.com/ruggierom/affindb/pkg/core/tuner"
	"github.com/ruggierom/affindb/pkg/core/types"
	"github.com/ruggierom/affindb/pkg/engine"
)

// Config is the top-level structure of the benchmark configuration file.
// Every field has a usable default, so an empty (or absent) file runs a
// synthetic sweep over the reference catalog.
type Config struct {
	// Dim is the trait vector dimensionality of the corpus.
	Dim int `yaml:"dim"`

	// SampleSize is how many corpus profiles are replayed as queries.
	SampleSize int `yaml:"sample_size"`

	// K is the depth recall is measured at.
	K int `yaml:"k"`

	// Seed drives query sampling and synthetic corpus generation.
	Seed int64 `yaml:"seed"`

	// LatencyBudgetMs is the p95 ceiling used to pick the winner.
	LatencyBudgetMs float64 `yaml:"latency_budget_ms"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Catalog lists the index configurations to sweep, in order.
	// Empty means the reference catalog.
	Catalog []types.IndexConfig `yaml:"catalog"`

	// Corpus selects where the profiles come from.
	Corpus CorpusConfig `yaml:"corpus"`
}

// CorpusConfig defines where the benchmark corpus is read from. When File is
// set it names a msgpack profile stream; otherwise a synthetic clustered
// corpus is generated.
type CorpusConfig struct {
	File      string          `yaml:"file"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
}

// SyntheticConfig shapes the generated corpus: profiles scattered around a
// set of archetype centers with per-trait jitter.
type SyntheticConfig struct {
	Profiles   int     `yaml:"profiles"`
	Archetypes int     `yaml:"archetypes"`
	Jitter     float64 `yaml:"jitter"`
}

// LoadConfig reads and parses the YAML configuration file from the given
// path. Environment references (${VAR}) are expanded before parsing, and
// unknown fields are rejected so typos fail loudly. An empty path returns
// the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read configuration file '%s': %w", path, err)
		}

		expandedData := os.ExpandEnv(string(data))

		decoder := yaml.NewDecoder(strings.NewReader(expandedData))
		decoder.KnownFields(true)

		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
		}
	}
	cfg.applyDefaults()

	for i, c := range cfg.Catalog {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Dim <= 0 {
		c.Dim = distance.DefaultDim
	}
	if c.SampleSize <= 0 {
		c.SampleSize = tuner.DefaultSampleSize
	}
	if c.K <= 0 {
		c.K = tuner.DefaultK
	}
	if c.LatencyBudgetMs <= 0 {
		c.LatencyBudgetMs = engine.DefaultLatencyBudgetMs
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.Catalog) == 0 {
		c.Catalog = tuner.DefaultCatalog()
	}
	if c.Corpus.File == "" {
		if c.Corpus.Synthetic.Profiles <= 0 {
			c.Corpus.Synthetic.Profiles = 2000
		}
		if c.Corpus.Synthetic.Archetypes <= 0 {
			c.Corpus.Synthetic.Archetypes = 16
		}
		if c.Corpus.Synthetic.Jitter <= 0 {
			c.Corpus.Synthetic.Jitter = 0.15
		}
	}
}
