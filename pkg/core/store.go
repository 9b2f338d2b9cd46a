// Package core provides the fundamental data structures and logic of the
// affinity matching engine.
//
// This file implements the ProfileStore, the authoritative in-memory corpus
// of entity profiles. It owns the id -> profile mapping, keeps a stable
// insertion order for deterministic builds and sampling, and maintains a
// B-Tree over confidence scores for range filtering. It uses a read-write
// mutex to allow concurrent reads while ensuring exclusive access for write
// operations.

package core

import (
	"fmt"
	"math"
	"sync"

	"github.com/tidwall/btree"

	"github.com/ruggierom/affindb/pkg/core/distance"
	"github.com/ruggierom/affindb/pkg/core/types"
)

// ConfidenceItem is the B-Tree entry associating a confidence score with a
// profile id.
type ConfidenceItem struct {
	Confidence float64
	ID         string
}

// confidenceItemLess orders items by confidence, with the id as a tie-break
// so distinct profiles stay distinct in the tree.
func confidenceItemLess(a, b ConfidenceItem) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence < b.Confidence
	}
	return a.ID < b.ID
}

// ProfileStore is the thread-safe, in-memory corpus of profiles. It is the
// single source of truth: index nodes hold copies of its vectors, never the
// other way around.
type ProfileStore struct {
	mu sync.RWMutex

	dim      int
	profiles map[string]types.Profile
	// order preserves first-insertion order so Snapshot, builds and
	// benchmark sampling iterate deterministically.
	order        []string
	byConfidence *btree.BTreeG[ConfidenceItem]
}

// NewProfileStore creates an empty store for vectors of the given
// dimensionality.
func NewProfileStore(dim int) *ProfileStore {
	return &ProfileStore{
		dim:          dim,
		profiles:     make(map[string]types.Profile),
		byConfidence: btree.NewBTreeG[ConfidenceItem](confidenceItemLess),
	}
}

// Dim returns the corpus dimensionality.
func (s *ProfileStore) Dim() int { return s.dim }

// Upsert inserts a profile or replaces an existing one by id, last write
// wins. The vector is copied, never retained. Vectors of the wrong
// dimensionality and confidence values outside [0,1] or NaN are rejected,
// never clamped.
func (s *ProfileStore) Upsert(id string, vector []float32, confidence float64) error {
	if id == "" {
		return fmt.Errorf("store: profile id must not be empty")
	}
	if len(vector) != s.dim {
		return fmt.Errorf("store: profile %q: %w: got %d, corpus is %d", id, distance.ErrDimensionMismatch, len(vector), s.dim)
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return fmt.Errorf("store: profile %q: confidence must be in [0,1], got %v", id, confidence)
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, exists := s.profiles[id]; exists {
		s.byConfidence.Delete(ConfidenceItem{Confidence: prev.Confidence, ID: id})
	} else {
		s.order = append(s.order, id)
	}

	s.profiles[id] = types.Profile{ID: id, Vector: vec, Confidence: confidence}
	s.byConfidence.Set(ConfidenceItem{Confidence: confidence, ID: id})
	return nil
}

// Get returns a copy of the profile with the given id.
func (s *ProfileStore) Get(id string) (types.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, found := s.profiles[id]
	if !found {
		return types.Profile{}, false
	}
	return p.Clone(), true
}

// Len returns the number of stored profiles.
func (s *ProfileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// Snapshot returns a deep copy of the corpus in first-insertion order.
// Callers own the result; index builds, oracles and sweeps all consume it.
func (s *ProfileStore) Snapshot() []types.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Profile, 0, len(s.profiles))
	for _, id := range s.order {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out
}

// IDsWithConfidenceAtLeast returns the ids of all profiles whose confidence
// is >= min, ascending from the B-Tree pivot.
func (s *ProfileStore) IDsWithConfidenceAtLeast(min float64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	s.byConfidence.Ascend(ConfidenceItem{Confidence: min}, func(item ConfidenceItem) bool {
		ids = append(ids, item.ID)
		return true
	})
	return ids
}

// Remove deletes a profile by id. Removing an absent id is a safe no-op and
// returns false.
func (s *ProfileStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, found := s.profiles[id]
	if !found {
		return false
	}

	delete(s.profiles, id)
	s.byConfidence.Delete(ConfidenceItem{Confidence: p.Confidence, ID: id})
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}
