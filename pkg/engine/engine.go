// Package engine provides the high-level, embedded interface for AffinDB.
//
// It owns the in-memory corpus and its serving index (core.DB), runs
// benchmark sweeps through the tuner, and optionally performs background
// maintenance: periodic auto-tuning and periodic full rebuilds that heal
// the drift accumulated by in-place upserts.
//
// Basic usage:
//
//	eng, err := engine.Open(engine.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ruggierom/affindb/pkg/core"
	"github.com/ruggierom/affindb/pkg/core/distance"
	"github.com/ruggierom/affindb/pkg/core/tuner"
	"github.com/ruggierom/affindb/pkg/core/types"
	"github.com/ruggierom/affindb/pkg/metrics"
)

// DefaultLatencyBudgetMs is the p95 ceiling auto-tuning selects under when
// the caller does not set one.
const DefaultLatencyBudgetMs = 5.0

// Options configures the behavior of the Engine: corpus shape, initial index
// parameters, benchmark settings and background maintenance policies.
type Options struct {
	// Dim is the trait vector dimensionality. 0 resolves to
	// distance.DefaultDim.
	Dim int

	// Index is the initial graph configuration. The zero value resolves to
	// the core default (M=16, efConstruction=64, efSearch=64).
	Index types.IndexConfig

	// Metric selects the distance function (default distance.Cosine).
	Metric distance.Metric

	// Precision selects the stored vector width (default distance.Float32).
	Precision distance.Precision

	// LatencyBudgetMs is the p95 latency ceiling used when selecting a
	// benchmark winner. 0 resolves to DefaultLatencyBudgetMs.
	LatencyBudgetMs float64

	// SampleSize is the number of corpus vectors sampled as benchmark
	// queries (default tuner.DefaultSampleSize).
	SampleSize int

	// RecallK is the result depth recall is measured at (default
	// tuner.DefaultK).
	RecallK int

	// Seed drives benchmark query sampling. A fixed seed makes sweeps
	// reproducible on a fixed corpus.
	Seed int64

	// AutoTuneInterval enables periodic sweep-and-adopt when > 0.
	// Set to 0 to disable background auto-tuning.
	AutoTuneInterval time.Duration

	// RebuildInterval enables periodic full index rebuilds when > 0.
	// Rebuilding restores the recall that incremental upserts erode.
	// Set to 0 to disable.
	RebuildInterval time.Duration

	// Logger receives background maintenance logs. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns a standard configuration suitable for most use
// cases.
//
// Defaults:
//   - Dim 5, index M=16/efC=64/efS=64, cosine metric, float32 precision
//   - Benchmarks: 20 sampled queries, recall@10, 5ms p95 budget
//   - Background auto-tune and rebuild: disabled
func DefaultOptions() Options {
	c := core.DefaultOptions()
	return Options{
		Dim:             c.Dim,
		Index:           c.Index,
		Metric:          c.Metric,
		Precision:       c.Precision,
		LatencyBudgetMs: DefaultLatencyBudgetMs,
		SampleSize:      tuner.DefaultSampleSize,
		RecallK:         tuner.DefaultK,
	}
}

func (o Options) withDefaults() Options {
	if o.LatencyBudgetMs <= 0 {
		o.LatencyBudgetMs = DefaultLatencyBudgetMs
	}
	if o.SampleSize <= 0 {
		o.SampleSize = tuner.DefaultSampleSize
	}
	if o.RecallK <= 0 {
		o.RecallK = tuner.DefaultK
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Engine is the main entry point for AffinDB.
//
// Use Open() to initialize an Engine and Close() to shut it down. All
// methods are safe for concurrent use; once Close returns, no further
// operations may be started.
type Engine struct {
	// DB is the underlying corpus and serving index. While exported, the
	// Engine methods should be preferred: they keep the Prometheus
	// collectors in step with the data.
	DB *core.DB

	opts  Options
	log   *slog.Logger
	tasks *taskManager

	// sweepCtx bounds background and asynchronous sweeps; Close cancels it
	// so an in-flight benchmark never outlives the engine.
	sweepCtx    context.Context
	sweepCancel context.CancelFunc

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open initializes a new Engine instance using the provided options.
//
// It validates the index configuration, creates the empty corpus and, when
// AutoTuneInterval or RebuildInterval is set, starts the background
// maintenance goroutine.
func Open(opts Options) (*Engine, error) {
	opts = opts.withDefaults()

	db, err := core.Open(core.Options{
		Dim:       opts.Dim,
		Index:     opts.Index,
		Metric:    opts.Metric,
		Precision: opts.Precision,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		DB:     db,
		opts:   opts,
		log:    opts.Logger,
		tasks:  newTaskManager(),
		closed: make(chan struct{}),
	}
	e.sweepCtx, e.sweepCancel = context.WithCancel(context.Background())

	if opts.AutoTuneInterval > 0 || opts.RebuildInterval > 0 {
		e.wg.Add(1)
		go e.backgroundTasks()
	}

	return e, nil
}

// Close stops background maintenance, cancels in-flight asynchronous sweeps
// and waits for all engine goroutines to finish. It is idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.sweepCancel()
		e.wg.Wait()
	})
	return nil
}

// backgroundTasks drives the optional maintenance tickers.
// (Unexported: internal use only)
func (e *Engine) backgroundTasks() {
	defer e.wg.Done()

	var tuneCh, rebuildCh <-chan time.Time
	if e.opts.AutoTuneInterval > 0 {
		t := time.NewTicker(e.opts.AutoTuneInterval)
		defer t.Stop()
		tuneCh = t.C
	}
	if e.opts.RebuildInterval > 0 {
		t := time.NewTicker(e.opts.RebuildInterval)
		defer t.Stop()
		rebuildCh = t.C
	}

	for {
		select {
		case <-e.closed:
			return
		case <-tuneCh:
			if _, err := e.AutoTune(e.sweepCtx); err != nil {
				// An empty corpus just means there is nothing to tune yet.
				if !errors.Is(err, tuner.ErrBenchmarkUnavailable) && !errors.Is(err, context.Canceled) {
					e.log.Error("background auto-tune failed", "error", err)
				}
			}
		case <-rebuildCh:
			e.healDrift()
		}
	}
}

// healDrift rebuilds the serving graph under the active config when upserts
// have mutated it since the last build.
// (Unexported: internal use only)
func (e *Engine) healDrift() {
	if e.DB.MutationsSinceBuild() == 0 || e.DB.Len() == 0 {
		return
	}
	cfg := e.DB.ActiveConfig()
	if err := e.DB.Rebuild(cfg); err != nil {
		e.log.Error("background rebuild failed", "config", cfg.String(), "error", err)
		return
	}
	metrics.IndexRebuildsTotal.Inc()
	e.log.Info("index rebuilt", "config", cfg.String(), "profiles", e.DB.Len())
}
