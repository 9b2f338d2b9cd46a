package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  IndexConfig
		ok   bool
	}{
		{"minimal", IndexConfig{M: 1, EfConstruction: 1, EfSearch: 1}, true},
		{"typical", IndexConfig{M: 16, EfConstruction: 64, EfSearch: 64}, true},
		{"zero M", IndexConfig{M: 0, EfConstruction: 8, EfSearch: 8}, false},
		{"negative M", IndexConfig{M: -4, EfConstruction: 8, EfSearch: 8}, false},
		{"efC below M", IndexConfig{M: 16, EfConstruction: 8, EfSearch: 8}, false},
		{"zero efS", IndexConfig{M: 4, EfConstruction: 8, EfSearch: 0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestIndexConfigBuildKey(t *testing.T) {
	a := IndexConfig{M: 16, EfConstruction: 128, EfSearch: 64}
	b := IndexConfig{M: 16, EfConstruction: 128, EfSearch: 200}
	assert.Equal(t, a.BuildKey(), b.BuildKey(),
		"configs differing only in EfSearch share a build")

	c := IndexConfig{M: 8, EfConstruction: 128, EfSearch: 64}
	d := IndexConfig{M: 16, EfConstruction: 64, EfSearch: 64}
	assert.NotEqual(t, a.BuildKey(), c.BuildKey())
	assert.NotEqual(t, a.BuildKey(), d.BuildKey())
}

func TestIndexConfigString(t *testing.T) {
	cfg := IndexConfig{M: 16, EfConstruction: 64, EfSearch: 80}
	assert.Equal(t, "M=16/efC=64/efS=80", cfg.String())
}

func TestProfileClone(t *testing.T) {
	p := Profile{ID: "a", Vector: []float32{0.1, 0.2, 0.3}, Confidence: 0.9}
	c := p.Clone()
	require.Equal(t, p, c)

	c.Vector[0] = 42
	assert.Equal(t, float32(0.1), p.Vector[0], "clone must not alias the vector")
}

func TestBenchmarkResultFailed(t *testing.T) {
	clean := BenchmarkResult{Recall: 0.98, AvgLatencyMs: 0.2, P95LatencyMs: 0.4}
	assert.False(t, clean.Failed())

	withErr := BenchmarkResult{Err: "index build: M must be >= 1, got 0"}
	assert.True(t, withErr.Failed())

	infLatency := BenchmarkResult{P95LatencyMs: math.Inf(1)}
	assert.True(t, infLatency.Failed())
}
