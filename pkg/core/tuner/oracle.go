// Package tuner benchmarks index configurations against exact ground truth
// and selects the best one under a latency budget.
//
// This file implements the Oracle, the brute-force k-nearest-neighbor scan
// used to compute ground-truth neighbor sets. It is O(N·D) per query and
// exists only for benchmarking; nothing on the serving path calls it.
package tuner

import (
	"fmt"
	"sort"

	"github.com/ruggierom/affindb/pkg/core/distance"
	"github.com/ruggierom/affindb/pkg/core/types"
)

// Oracle computes exact nearest neighbors over a fixed corpus snapshot.
type Oracle struct {
	corpus []types.Profile
}

// NewOracle wraps a corpus slice. The oracle does not copy: callers pass a
// snapshot they own (e.g. ProfileStore.Snapshot output) and must not mutate
// it while the oracle is in use.
func NewOracle(corpus []types.Profile) *Oracle {
	return &Oracle{corpus: corpus}
}

// Len returns the corpus size.
func (o *Oracle) Len() int { return len(o.corpus) }

// KNearest scans the whole corpus, scoring every profile except excludeID by
// cosine similarity to the query, and returns the top k matches in
// descending similarity order. Ties keep corpus order, matching the
// deterministic tie-break the graph index uses.
func (o *Oracle) KNearest(query []float32, k int, excludeID string) ([]types.Match, error) {
	if k < 1 {
		return nil, fmt.Errorf("oracle: k must be >= 1, got %d", k)
	}

	scored := make([]types.Match, 0, len(o.corpus))
	for i := range o.corpus {
		p := &o.corpus[i]
		if p.ID == excludeID {
			continue
		}
		sim, err := distance.CosineSimilarity(query, p.Vector)
		if err != nil {
			return nil, fmt.Errorf("oracle: profile %q: %w", p.ID, err)
		}
		scored = append(scored, types.Match{ID: p.ID, Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}
