// Package types holds the value types shared across the affinity core:
// profiles, index configurations, search results and benchmark reports.
// It is a leaf package so the index, tuner and store can exchange data
// without import cycles.
package types

import (
	"fmt"
	"math"
)

// Profile is one corpus entity: an opaque id, its trait vector and the
// confidence the upstream extractor assigned to that vector. Profiles are
// value objects; the store and the index always work on copies.
type Profile struct {
	ID         string    `json:"id" yaml:"id" msgpack:"id"`
	Vector     []float32 `json:"vector" yaml:"vector" msgpack:"vector"`
	Confidence float64   `json:"confidence" yaml:"confidence" msgpack:"confidence"`
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	vec := make([]float32, len(p.Vector))
	copy(vec, p.Vector)
	return Profile{ID: p.ID, Vector: vec, Confidence: p.Confidence}
}

// Candidate is the graph-internal result unit: an internal node id and its
// distance to the query (1 - cosine similarity on normalized vectors).
type Candidate struct {
	Id       uint32
	Distance float64
}

// Match is the boundary result unit: an external profile id and its cosine
// similarity to the query, in [0,1] for this domain.
type Match struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// IndexConfig is the immutable parameter triple of one graph configuration.
// M bounds node degree, EfConstruction is the build-time beam width,
// EfSearch the query-time beam width.
type IndexConfig struct {
	M              int `json:"m" yaml:"m" msgpack:"m"`
	EfConstruction int `json:"ef_construction" yaml:"ef_construction" msgpack:"ef_construction"`
	EfSearch       int `json:"ef_search" yaml:"ef_search" msgpack:"ef_search"`
}

// Validate checks the config invariants: M >= 1, EfConstruction >= M,
// EfSearch >= 1.
func (c IndexConfig) Validate() error {
	if c.M < 1 {
		return fmt.Errorf("index config: M must be >= 1, got %d", c.M)
	}
	if c.EfConstruction < c.M {
		return fmt.Errorf("index config: efConstruction (%d) must be >= M (%d)", c.EfConstruction, c.M)
	}
	if c.EfSearch < 1 {
		return fmt.Errorf("index config: efSearch must be >= 1, got %d", c.EfSearch)
	}
	return nil
}

// BuildKey identifies the graph structure a config produces. EfSearch only
// affects query time, so sweeps reuse one build per key.
func (c IndexConfig) BuildKey() [2]int {
	return [2]int{c.M, c.EfConstruction}
}

func (c IndexConfig) String() string {
	return fmt.Sprintf("M=%d/efC=%d/efS=%d", c.M, c.EfConstruction, c.EfSearch)
}

// BenchmarkResult is one measured catalog entry: the config plus its recall
// and latency aggregates over the sampled queries. Produced only by the
// tuner; read-only afterwards.
type BenchmarkResult struct {
	Config        IndexConfig `json:"config"`
	Recall        float64     `json:"recall"`
	AvgLatencyMs  float64     `json:"avg_latency_ms"`
	P95LatencyMs  float64     `json:"p95_latency_ms"`
	ThroughputQPS float64     `json:"throughput_qps"`
	Queries       int         `json:"queries"`
	// Err is set when the config failed during measurement; such a result
	// carries recall 0 and +Inf latencies and never wins a budget selection
	// against a config that measured cleanly.
	Err string `json:"err,omitempty"`
}

// Failed reports whether this result is a measurement-failure sentinel.
func (r BenchmarkResult) Failed() bool {
	return r.Err != "" || math.IsInf(r.P95LatencyMs, 1)
}
