// Package tuner benchmarks index configurations against exact ground truth
// and selects the best one under a latency budget.
//
// This file implements the configuration sweep: for each catalog entry the
// tuner builds a private graph index, replays a fixed sample of queries
// against it, measures recall against the Oracle and collects the latency
// distribution. Builds are reused across entries that share (M,
// EfConstruction), since EfSearch only affects query time.

package tuner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/ruggierom/affindb/pkg/core/distance"
	"github.com/ruggierom/affindb/pkg/core/nsw"
	"github.com/ruggierom/affindb/pkg/core/types"
)

// ErrBenchmarkUnavailable is returned when a sweep is requested on an empty
// corpus: there is nothing to sample queries from.
var ErrBenchmarkUnavailable = errors.New("benchmark unavailable: corpus is empty")

const (
	// DefaultSampleSize is how many corpus profiles are replayed as queries.
	DefaultSampleSize = 20
	// DefaultK is the ground-truth depth recall is measured at.
	DefaultK = 10
)

// Options configures a sweep. The zero value is usable: sample size and k
// fall back to the package defaults, metric and precision to cosine/float32,
// and the zero seed is a valid, reproducible seed.
type Options struct {
	// SampleSize caps how many profiles are drawn as benchmark queries.
	// The effective sample is min(SampleSize, corpus size).
	SampleSize int
	// K is the neighbor depth for both ground truth and recall.
	K int
	// Seed drives query sampling. Same seed, same corpus, same sample;
	// benchmark randomness is never ambient.
	Seed int64
	// Metric and Precision configure the private index builds so the sweep
	// measures the same kernels the serving index runs.
	Metric    distance.Metric
	Precision distance.Precision
}

func (o Options) withDefaults() Options {
	if o.SampleSize <= 0 {
		o.SampleSize = DefaultSampleSize
	}
	if o.K <= 0 {
		o.K = DefaultK
	}
	if o.Metric == "" {
		o.Metric = distance.Cosine
	}
	if o.Precision == "" {
		o.Precision = distance.Float32
	}
	return o
}

// Tuner sweeps index configurations and ranks them by measured recall and
// latency. A Tuner is stateless between runs and safe to reuse.
type Tuner struct {
	opts Options
}

// New creates a Tuner with the given options.
func New(opts Options) *Tuner {
	return &Tuner{opts: opts.withDefaults()}
}

// DefaultCatalog returns the reference sweep catalog, ordered from cheap and
// inaccurate to expensive and accurate. Consecutive entries share an (M,
// EfConstruction) pair where only the search beam differs, so a sweep also
// exercises build reuse.
func DefaultCatalog() []types.IndexConfig {
	return []types.IndexConfig{
		{M: 4, EfConstruction: 8, EfSearch: 8},
		{M: 4, EfConstruction: 16, EfSearch: 16},
		{M: 8, EfConstruction: 32, EfSearch: 16},
		{M: 8, EfConstruction: 32, EfSearch: 32},
		{M: 16, EfConstruction: 64, EfSearch: 32},
		{M: 16, EfConstruction: 64, EfSearch: 64},
		{M: 16, EfConstruction: 128, EfSearch: 128},
		{M: 32, EfConstruction: 256, EfSearch: 200},
	}
}

// buildEntry caches one private index build per (M, EfConstruction) pair.
// Failed builds are cached too, so a bad pair fails every catalog entry that
// shares it without being retried.
type buildEntry struct {
	index *nsw.Index
	err   error
}

// Run sweeps the catalog against the corpus and returns one BenchmarkResult
// per entry, in catalog order.
//
// A config that fails to build or errors during measurement is absorbed into
// its result (recall 0, +Inf latencies, Err set) rather than aborting the
// sweep. Run fails outright only when the corpus is empty
// (ErrBenchmarkUnavailable) or ctx is cancelled.
//
// The sweep builds private indexes from the corpus snapshot; it never touches
// a serving index and persists nothing.
func (t *Tuner) Run(ctx context.Context, corpus []types.Profile, catalog []types.IndexConfig) ([]types.BenchmarkResult, error) {
	if len(corpus) == 0 {
		return nil, ErrBenchmarkUnavailable
	}
	if len(catalog) == 0 {
		return []types.BenchmarkResult{}, nil
	}

	queries := t.sampleQueries(corpus)
	oracle := NewOracle(corpus)
	dim := len(corpus[0].Vector)

	// Ground truth does not depend on the config, so compute it once per
	// sampled query instead of once per (config, query) pair.
	truths := make([]map[string]struct{}, len(queries))
	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches, err := oracle.KNearest(q.Vector, t.opts.K, q.ID)
		if err != nil {
			return nil, fmt.Errorf("ground truth for %q: %w", q.ID, err)
		}
		set := make(map[string]struct{}, len(matches))
		for _, m := range matches {
			set[m.ID] = struct{}{}
		}
		truths[i] = set
	}

	builds := make(map[[2]int]*buildEntry)
	results := make([]types.BenchmarkResult, 0, len(catalog))

	for _, cfg := range catalog {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, ok := builds[cfg.BuildKey()]
		if !ok {
			entry = &buildEntry{}
			entry.index, entry.err = t.buildIndex(dim, cfg, corpus)
			builds[cfg.BuildKey()] = entry
		}
		if entry.err != nil {
			results = append(results, failedResult(cfg, 0, entry.err))
			continue
		}

		res, err := t.measure(ctx, entry.index, cfg, queries, truths)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	return results, nil
}

// sampleQueries draws min(SampleSize, len(corpus)) profiles through a seeded
// permutation of corpus indices.
func (t *Tuner) sampleQueries(corpus []types.Profile) []types.Profile {
	n := t.opts.SampleSize
	if n > len(corpus) {
		n = len(corpus)
	}
	rng := rand.New(rand.NewSource(t.opts.Seed))
	perm := rng.Perm(len(corpus))
	queries := make([]types.Profile, n)
	for i := 0; i < n; i++ {
		queries[i] = corpus[perm[i]]
	}
	return queries
}

// buildIndex constructs the private graph for one (M, EfConstruction) pair,
// inserting the corpus in slice order for determinism.
func (t *Tuner) buildIndex(dim int, cfg types.IndexConfig, corpus []types.Profile) (*nsw.Index, error) {
	ix, err := nsw.New(dim, cfg, t.opts.Metric, t.opts.Precision)
	if err != nil {
		return nil, err
	}
	if err := ix.Build(corpus); err != nil {
		return nil, err
	}
	return ix, nil
}

// measure replays the sampled queries against one built index at the
// config's EfSearch and aggregates recall and latency. A search error turns
// the whole config into a failure sentinel; only ctx cancellation is
// propagated.
func (t *Tuner) measure(ctx context.Context, ix *nsw.Index, cfg types.IndexConfig, queries []types.Profile, truths []map[string]struct{}) (types.BenchmarkResult, error) {
	k := t.opts.K
	latencies := make([]float64, 0, len(queries))
	totalRecall := 0.0

	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			return types.BenchmarkResult{}, err
		}

		// Ask for one extra neighbor so the query's own profile can be
		// dropped, mirroring the oracle's self-exclusion.
		start := time.Now()
		candidates, err := ix.Search(q.Vector, k+1, cfg.EfSearch, nil)
		elapsed := time.Since(start)
		if err != nil {
			return failedResult(cfg, len(queries), err), nil
		}
		latencies = append(latencies, float64(elapsed.Nanoseconds())/1e6)

		hits := 0
		kept := 0
		for _, c := range candidates {
			id, ok := ix.ExternalID(c.Id)
			if !ok || id == q.ID {
				continue
			}
			if kept == k {
				break
			}
			kept++
			if _, ok := truths[i][id]; ok {
				hits++
			}
		}
		totalRecall += clamp01(float64(hits) / float64(k))
	}

	return aggregate(cfg, totalRecall, latencies), nil
}

// aggregate folds per-query measurements into one result: mean recall, mean
// and 95th-percentile latency, throughput.
func aggregate(cfg types.IndexConfig, totalRecall float64, latencies []float64) types.BenchmarkResult {
	n := len(latencies)
	if n == 0 {
		return failedResult(cfg, 0, errors.New("no queries measured"))
	}

	sum := 0.0
	for _, l := range latencies {
		sum += l
	}
	mean := sum / float64(n)

	sort.Float64s(latencies)
	// floor(0.95*N), clamped to the last element.
	p95Idx := int(math.Floor(0.95 * float64(n)))
	if p95Idx >= n {
		p95Idx = n - 1
	}
	p95 := latencies[p95Idx]

	throughput := 0.0
	if mean > 0 {
		throughput = 1000.0 / mean
	}

	return types.BenchmarkResult{
		Config:        cfg,
		Recall:        clamp01(totalRecall / float64(n)),
		AvgLatencyMs:  mean,
		P95LatencyMs:  p95,
		ThroughputQPS: throughput,
		Queries:       n,
	}
}

// failedResult is the worst-case sentinel for a config that could not be
// measured: it ranks below every config that measured cleanly but is never
// dropped from the report.
func failedResult(cfg types.IndexConfig, queries int, err error) types.BenchmarkResult {
	return types.BenchmarkResult{
		Config:       cfg,
		Recall:       0,
		AvgLatencyMs: math.Inf(1),
		P95LatencyMs: math.Inf(1),
		Queries:      queries,
		Err:          err.Error(),
	}
}

// SelectBest picks the winning config: among results whose p95 latency fits
// the budget, the one with the highest recall (catalog order breaks ties).
// When nothing fits the budget it falls back to the globally lowest p95,
// favoring responsiveness over quality rather than failing.
func SelectBest(results []types.BenchmarkResult, budgetMs float64) (types.BenchmarkResult, error) {
	if len(results) == 0 {
		return types.BenchmarkResult{}, errors.New("no benchmark results to select from")
	}

	bestIdx := -1
	for i, r := range results {
		if r.P95LatencyMs > budgetMs {
			continue
		}
		if bestIdx == -1 || r.Recall > results[bestIdx].Recall {
			bestIdx = i
		}
	}
	if bestIdx >= 0 {
		return results[bestIdx], nil
	}

	fastest := 0
	for i := 1; i < len(results); i++ {
		if results[i].P95LatencyMs < results[fastest].P95LatencyMs {
			fastest = i
		}
	}
	return results[fastest], nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
