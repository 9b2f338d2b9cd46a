// This file implements the operational methods of the Engine, wrapping the
// core database and the tuner with instrumentation: every boundary call
// updates the Prometheus collectors in pkg/metrics.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ruggierom/affindb/pkg/core"
	"github.com/ruggierom/affindb/pkg/core/tuner"
	"github.com/ruggierom/affindb/pkg/core/types"
	"github.com/ruggierom/affindb/pkg/metrics"
)

// --- Profile Operations ---

// Upsert inserts or replaces the profile for id. The vector must match the
// engine dimensionality and confidence must be in [0,1].
//
// Re-upserting an existing id relocates its node in place without repairing
// former neighbors, which slowly erodes recall; RebuildInterval (or an
// explicit AutoTune) heals that drift.
func (e *Engine) Upsert(id string, vector []float32, confidence float64) error {
	if err := e.DB.Upsert(id, vector, confidence); err != nil {
		return err
	}
	metrics.UpsertsTotal.Inc()
	metrics.Profiles.Set(float64(e.DB.Len()))
	return nil
}

// Remove deletes the profile for id. Returns false when the id is unknown.
func (e *Engine) Remove(id string) bool {
	removed := e.DB.Remove(id)
	if removed {
		metrics.Profiles.Set(float64(e.DB.Len()))
	}
	return removed
}

// Get retrieves a copy of the stored profile for id.
func (e *Engine) Get(id string) (types.Profile, bool) {
	return e.DB.Get(id)
}

// Len returns the number of live profiles.
func (e *Engine) Len() int {
	return e.DB.Len()
}

// ActiveConfig returns the configuration the serving index currently runs.
func (e *Engine) ActiveConfig() types.IndexConfig {
	return e.DB.ActiveConfig()
}

// --- Search Operations ---

// Search returns up to k profiles most similar to the query vector, best
// first. efSearch widens the traversal beam (0 uses the active config's
// beam; higher is more accurate and slower).
func (e *Engine) Search(vector []float32, k, efSearch int) ([]types.Match, error) {
	return e.search(vector, k, efSearch, 0)
}

// SearchFiltered is Search restricted to profiles whose confidence is at
// least minConfidence. The filter is applied before traversal, so low
// confidence profiles never crowd out eligible ones.
func (e *Engine) SearchFiltered(vector []float32, k, efSearch int, minConfidence float64) ([]types.Match, error) {
	return e.search(vector, k, efSearch, minConfidence)
}

func (e *Engine) search(vector []float32, k, efSearch int, minConfidence float64) ([]types.Match, error) {
	start := time.Now()
	matches, err := e.DB.Search(vector, k, core.SearchOptions{
		EfSearch:      efSearch,
		MinConfidence: minConfidence,
	})
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SearchesTotal.WithLabelValues("ok").Inc()
	return matches, nil
}

// --- Benchmark Operations ---

// RunBenchmark sweeps the catalog against a snapshot of the current corpus
// and returns one result per catalog entry, in catalog order.
//
// Builds are private to the sweep; the serving index keeps answering
// searches untouched. The sweep honors ctx cancellation.
func (e *Engine) RunBenchmark(ctx context.Context, catalog []types.IndexConfig, sampleSize, k int) ([]types.BenchmarkResult, error) {
	tn := tuner.New(tuner.Options{
		SampleSize: sampleSize,
		K:          k,
		Seed:       e.opts.Seed,
		Metric:     e.opts.Metric,
		Precision:  e.opts.Precision,
	})

	start := time.Now()
	results, err := tn.Run(ctx, e.DB.Snapshot(), catalog)
	if err != nil {
		metrics.BenchmarkSweepsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.BenchmarkSweepsTotal.WithLabelValues("ok").Inc()

	e.log.Info("benchmark sweep finished",
		"configs", len(results),
		"queries", sampleSize,
		"took", time.Since(start).Round(time.Millisecond))
	return results, nil
}

// SelectConfig picks the best measured configuration under the latency
// budget: highest recall among results with p95 <= latencyBudgetMs, falling
// back to the globally fastest config when nothing fits.
func (e *Engine) SelectConfig(results []types.BenchmarkResult, latencyBudgetMs float64) (types.BenchmarkResult, error) {
	return tuner.SelectBest(results, latencyBudgetMs)
}

// AutoTune sweeps the default catalog under the engine's benchmark settings,
// selects the winner within the configured latency budget and, when it
// differs from the active configuration, rebuilds the serving index with it.
//
// Returns the winning result whether or not a rebuild happened.
func (e *Engine) AutoTune(ctx context.Context) (types.BenchmarkResult, error) {
	results, err := e.RunBenchmark(ctx, tuner.DefaultCatalog(), e.opts.SampleSize, e.opts.RecallK)
	if err != nil {
		return types.BenchmarkResult{}, err
	}

	best, err := e.SelectConfig(results, e.opts.LatencyBudgetMs)
	if err != nil {
		return types.BenchmarkResult{}, err
	}
	metrics.BenchmarkBestRecall.Set(best.Recall)

	if best.Config == e.DB.ActiveConfig() {
		e.log.Debug("auto-tune kept the active config",
			"config", best.Config.String(), "recall", best.Recall)
		return best, nil
	}

	if err := e.DB.Rebuild(best.Config); err != nil {
		return types.BenchmarkResult{}, fmt.Errorf("adopting config %s: %w", best.Config.String(), err)
	}
	metrics.IndexRebuildsTotal.Inc()
	e.log.Info("auto-tune adopted a new config",
		"config", best.Config.String(),
		"recall", best.Recall,
		"p95_ms", best.P95LatencyMs)
	return best, nil
}

// RunBenchmarkAsync starts a catalog sweep in the background and returns the
// id of a Task that can be polled for its status and, once completed, the
// report. The sweep is canceled if the engine closes first.
func (e *Engine) RunBenchmarkAsync(catalog []types.IndexConfig, sampleSize, k int) string {
	task := e.tasks.newTask()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		task.setStatus(TaskStatusRunning)
		results, err := e.RunBenchmark(e.sweepCtx, catalog, sampleSize, k)
		if err != nil {
			task.fail(err)
			return
		}
		task.complete(results)
	}()

	return task.ID
}

// Task retrieves an asynchronous benchmark task by id.
func (e *Engine) Task(taskID string) (*Task, bool) {
	return e.tasks.get(taskID)
}
