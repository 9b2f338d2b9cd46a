// Package core provides the fundamental data structures and logic of the
// affinity matching engine.
//
// This file defines the DB struct, which composes the authoritative
// ProfileStore with the serving graph index behind a single handle. The
// corpus is explicitly owned and lifecycle-scoped, with no ambient global
// state, and every mutation flows store-first, so the index can always be
// rebuilt from the store.
package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ruggierom/affindb/pkg/core/distance"
	"github.com/ruggierom/affindb/pkg/core/nsw"
	"github.com/ruggierom/affindb/pkg/core/types"
)

// Options configures a DB instance.
type Options struct {
	// Dim is the corpus dimensionality. Defaults to distance.DefaultDim.
	Dim int
	// Index is the initial serving index configuration.
	Index types.IndexConfig
	// Metric selects the distance function (default cosine).
	Metric distance.Metric
	// Precision selects the index vector storage type (default float32).
	Precision distance.Precision
}

// DefaultOptions returns the standard configuration: five trait dimensions,
// a balanced graph config, cosine similarity at float32 precision.
func DefaultOptions() Options {
	return Options{
		Dim:       distance.DefaultDim,
		Index:     types.IndexConfig{M: 16, EfConstruction: 64, EfSearch: 64},
		Metric:    distance.Cosine,
		Precision: distance.Float32,
	}
}

func (o Options) withDefaults() Options {
	if o.Dim == 0 {
		o.Dim = distance.DefaultDim
	}
	if o.Index == (types.IndexConfig{}) {
		o.Index = DefaultOptions().Index
	}
	if o.Metric == "" {
		o.Metric = distance.Cosine
	}
	if o.Precision == "" {
		o.Precision = distance.Float32
	}
	return o
}

// SearchOptions tunes one query.
type SearchOptions struct {
	// EfSearch is the beam width. Zero means the active config's value.
	EfSearch int
	// MinConfidence restricts results to profiles at or above this
	// confidence floor. Zero disables the filter.
	MinConfidence float64
}

// DB owns one corpus and its serving index.
//
// Searches run lock-free with respect to mutations apart from the index's
// own read lock; Upsert, Remove and Rebuild serialize on a writer mutex.
// Rebuild constructs the replacement graph off-lock and swaps it in, so
// searches keep hitting the old complete graph until the instant of the
// swap.
type DB struct {
	store *ProfileStore

	// writeMu serializes mutators. Holding it across the whole Rebuild
	// keeps upserts out between snapshot and swap, so the fresh graph
	// never silently drops a concurrent write.
	writeMu sync.Mutex

	// mu guards the index handle and active config for the swap.
	mu        sync.RWMutex
	index     *nsw.Index
	activeCfg types.IndexConfig

	opts Options

	// mutations counts upserts and removes since the last full build; the
	// engine uses it to decide when drift healing is worth a rebuild.
	mutations atomic.Int64
}

// Open creates an empty DB with the given options.
func Open(opts Options) (*DB, error) {
	opts = opts.withDefaults()
	if opts.Dim < 1 {
		return nil, fmt.Errorf("core: dimension must be >= 1, got %d", opts.Dim)
	}
	if err := opts.Index.Validate(); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	ix, err := nsw.New(opts.Dim, opts.Index, opts.Metric, opts.Precision)
	if err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	return &DB{
		store:     NewProfileStore(opts.Dim),
		index:     ix,
		activeCfg: opts.Index,
		opts:      opts,
	}, nil
}

// Dim returns the corpus dimensionality.
func (db *DB) Dim() int { return db.store.Dim() }

// Len returns the number of stored profiles.
func (db *DB) Len() int { return db.store.Len() }

// Get returns a copy of the profile with the given id.
func (db *DB) Get(id string) (types.Profile, bool) { return db.store.Get(id) }

// Snapshot returns a deep, insertion-ordered copy of the corpus.
func (db *DB) Snapshot() []types.Profile { return db.store.Snapshot() }

// ActiveConfig returns the serving index's current configuration.
func (db *DB) ActiveConfig() types.IndexConfig {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.activeCfg
}

// MutationsSinceBuild returns how many upserts and removes have landed since
// the last full rebuild.
func (db *DB) MutationsSinceBuild() int64 { return db.mutations.Load() }

// Upsert inserts or replaces a profile, store first, then the serving
// index. Validation (dimension, confidence range) happens at the store
// boundary.
func (db *DB) Upsert(id string, vector []float32, confidence float64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if err := db.store.Upsert(id, vector, confidence); err != nil {
		return err
	}

	p, _ := db.store.Get(id)
	if err := db.serving().Upsert(p); err != nil {
		return fmt.Errorf("core: index upsert: %w", err)
	}
	db.mutations.Add(1)
	return nil
}

// Remove deletes a profile from the store and tombstones it in the index.
// Removing an absent id is a safe no-op and returns false.
func (db *DB) Remove(id string) bool {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	removed := db.store.Remove(id)
	db.serving().Remove(id)
	if removed {
		db.mutations.Add(1)
	}
	return removed
}

// Search returns up to k matches for the query vector, best first.
// Similarity is 1 − graph distance, which is the cosine similarity when the
// DB runs the cosine metric. A MinConfidence floor is resolved through the
// store's confidence B-Tree into an index allow-list.
func (db *DB) Search(query []float32, k int, opts SearchOptions) ([]types.Match, error) {
	ix := db.serving()

	var allow nsw.AllowList
	if opts.MinConfidence > 0 {
		ids := db.store.IDsWithConfidenceAtLeast(opts.MinConfidence)
		if len(ids) == 0 {
			if ix.Len() == 0 {
				return nil, nsw.ErrEmptyIndex
			}
			return []types.Match{}, nil
		}
		allow = ix.AllowListFor(ids)
	}

	candidates, err := ix.Search(query, k, opts.EfSearch, allow)
	if err != nil {
		return nil, err
	}

	matches := make([]types.Match, 0, len(candidates))
	for _, c := range candidates {
		id, ok := ix.ExternalID(c.Id)
		if !ok {
			continue
		}
		matches = append(matches, types.Match{ID: id, Similarity: 1 - c.Distance})
	}
	return matches, nil
}

// Rebuild constructs a fresh serving index with the given config from the
// current corpus and atomically swaps it in, adopting cfg as the active
// config. Concurrent searches see the old graph until the swap; concurrent
// upserts wait. This is the healing mechanism for upsert drift.
func (db *DB) Rebuild(cfg types.IndexConfig) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	fresh, err := nsw.New(db.store.Dim(), cfg, db.opts.Metric, db.opts.Precision)
	if err != nil {
		return fmt.Errorf("core: rebuild: %w", err)
	}
	if err := fresh.Build(db.store.Snapshot()); err != nil {
		return fmt.Errorf("core: rebuild: %w", err)
	}

	db.mu.Lock()
	db.index = fresh
	db.activeCfg = cfg
	db.mu.Unlock()

	db.mutations.Store(0)
	return nil
}

// serving returns the current index handle.
func (db *DB) serving() *nsw.Index {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.index
}
