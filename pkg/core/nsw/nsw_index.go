// Package nsw implements a navigable small-world graph index for
// approximate nearest-neighbor search over profile vectors.
//
// Unlike hierarchical variants, the graph is a single layer built without
// any randomness: nodes are inserted in caller order, each connected to its
// M nearest predecessors found by a beam search of width EfConstruction,
// and every affected adjacency is pruned back to the M strongest edges with
// ties broken by internal id. Two builds from the same ordered input and
// config therefore produce identical adjacency.
//
// Concurrency follows a many-readers/one-writer discipline: Search takes
// the read lock, Build/Upsert/Remove the write lock. Build assembles the
// new graph off-lock and swaps it in, so concurrent searches always observe
// a complete graph.
package nsw

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ruggierom/affindb/pkg/core/distance"
	"github.com/ruggierom/affindb/pkg/core/types"
)

// ErrEmptyIndex is returned by Search when the graph holds no live nodes.
var ErrEmptyIndex = errors.New("index contains no profiles")

// AllowList restricts which internal ids may appear in search results.
// Traversal still routes through disallowed nodes, like tombstones, so a
// filtered search cannot be cut off from an allowed region; the tradeoff is
// that a very selective filter degrades toward a full graph walk.
type AllowList map[uint32]struct{}

// Index is the graph. All exported methods are safe for concurrent use.
type Index struct {
	mu sync.RWMutex

	dim       int
	cfg       types.IndexConfig
	metric    distance.Metric
	precision distance.Precision

	distFuncF32 distance.DistanceFuncF32
	distFuncF16 distance.DistanceFuncF16

	// entrypoint is the first live inserted node; searches and inserts
	// start here. Re-elected deterministically when tombstoned.
	entrypoint uint32
	hasEntry   bool

	nodes              []*Node
	externalToInternal map[string]uint32
	nodeCounter        atomic.Uint64
	liveCount          int

	visitedPool sync.Pool
	minHeapPool sync.Pool
	maxHeapPool sync.Pool
}

// New creates an empty index for vectors of the given dimensionality.
// The config is validated and fixed for the life of the index; a different
// config requires a fresh index (see core.DB.Rebuild).
func New(dim int, cfg types.IndexConfig, metric distance.Metric, precision distance.Precision) (*Index, error) {
	if dim < 1 {
		return nil, fmt.Errorf("nsw: dimension must be >= 1, got %d", dim)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("nsw: %w", err)
	}
	if !metric.Valid() {
		return nil, fmt.Errorf("nsw: unsupported metric %q", metric)
	}
	if !precision.Valid() {
		return nil, fmt.Errorf("nsw: unsupported precision %q", precision)
	}

	ix := &Index{
		dim:                dim,
		cfg:                cfg,
		metric:             metric,
		precision:          precision,
		nodes:              make([]*Node, 0, 1024),
		externalToInternal: make(map[string]uint32),
	}

	var err error
	switch precision {
	case distance.Float32:
		ix.distFuncF32, err = distance.GetFloat32Func(metric)
	case distance.Float16:
		ix.distFuncF16, err = distance.GetFloat16Func(metric)
	}
	if err != nil {
		return nil, fmt.Errorf("nsw: %w", err)
	}

	ix.visitedPool = sync.Pool{
		New: func() any { return NewBitSet(256) },
	}
	ix.minHeapPool = sync.Pool{
		New: func() any { return newMinHeap(cfg.EfConstruction) },
	}
	ix.maxHeapPool = sync.Pool{
		New: func() any { return newMaxHeap(cfg.EfConstruction) },
	}

	return ix, nil
}

// Config returns the index's parameter triple.
func (ix *Index) Config() types.IndexConfig { return ix.cfg }

// Dim returns the corpus dimensionality.
func (ix *Index) Dim() int { return ix.dim }

// Metric returns the distance metric.
func (ix *Index) Metric() distance.Metric { return ix.metric }

// Precision returns the vector storage precision.
func (ix *Index) Precision() distance.Precision { return ix.precision }

// Len returns the number of live (non-tombstoned) nodes.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.liveCount
}

// Contains reports whether id is currently indexed and live.
func (ix *Index) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.externalToInternal[id]
	return ok
}

// InternalID resolves an external id to its internal id.
func (ix *Index) InternalID(id string) (uint32, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	internal, ok := ix.externalToInternal[id]
	return internal, ok
}

// ExternalID resolves an internal id back to the profile id.
func (ix *Index) ExternalID(internal uint32) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if internal >= uint32(len(ix.nodes)) || ix.nodes[internal] == nil {
		return "", false
	}
	return ix.nodes[internal].ID, true
}

// AllowListFor translates external ids into an AllowList, skipping ids that
// are not live in the index.
func (ix *Index) AllowListFor(ids []string) AllowList {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	allow := make(AllowList, len(ids))
	for _, id := range ids {
		if internal, ok := ix.externalToInternal[id]; ok {
			allow[internal] = struct{}{}
		}
	}
	return allow
}

// Build constructs the graph from scratch, inserting profiles in slice
// order. The new graph is assembled off-lock and swapped in whole, so
// concurrent searches never observe a partially built graph. Any previous
// content is discarded.
func (ix *Index) Build(profiles []types.Profile) error {
	fresh, err := New(ix.dim, ix.cfg, ix.metric, ix.precision)
	if err != nil {
		return err
	}
	for i := range profiles {
		if err := fresh.insertUnlocked(profiles[i]); err != nil {
			return fmt.Errorf("build %q: %w", profiles[i].ID, err)
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.nodes = fresh.nodes
	ix.externalToInternal = fresh.externalToInternal
	ix.entrypoint = fresh.entrypoint
	ix.hasEntry = fresh.hasEntry
	ix.liveCount = fresh.liveCount
	ix.nodeCounter.Store(fresh.nodeCounter.Load())
	return nil
}

// Upsert adds a new profile or relocates an existing one. Relocation
// replaces the node's vector and recomputes its out-edges with the same
// greedy-connect step as insertion; new neighbors gain a pruned back-edge.
// Former neighbors keep their existing edges, so the graph drifts slightly
// under heavy relocation and is healed by a periodic full Build.
func (ix *Index) Upsert(p types.Profile) error {
	if len(p.Vector) != ix.dim {
		return fmt.Errorf("upsert %q: %w: got %d, corpus is %d", p.ID, distance.ErrDimensionMismatch, len(p.Vector), ix.dim)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if internal, ok := ix.externalToInternal[p.ID]; ok {
		return ix.relocateUnlocked(internal, p)
	}
	return ix.insertUnlocked(p)
}

// Remove tombstones a profile. The node keeps routing traversal but is
// excluded from all results. Removing an absent id is a no-op and returns
// false.
func (ix *Index) Remove(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	internal, ok := ix.externalToInternal[id]
	if !ok {
		return false
	}
	if internal < uint32(len(ix.nodes)) && ix.nodes[internal] != nil {
		ix.nodes[internal].Deleted = true
	}
	delete(ix.externalToInternal, id)
	ix.liveCount--

	if ix.entrypoint == internal {
		ix.reelectEntrypointUnlocked()
	}
	return true
}

// Search returns up to k live candidates nearest to the query, ordered by
// ascending distance (descending similarity). efSearch widens the beam at
// the cost of more distance evaluations; values below 1 fall back to the
// index config's EfSearch. Fails with ErrEmptyIndex when no live nodes
// exist and ErrDimensionMismatch when the query length is wrong.
func (ix *Index) Search(query []float32, k, efSearch int, allow AllowList) ([]types.Candidate, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("search: %w: got %d, corpus is %d", distance.ErrDimensionMismatch, len(query), ix.dim)
	}
	if k < 1 {
		return nil, fmt.Errorf("search: k must be >= 1, got %d", k)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.liveCount == 0 {
		return nil, ErrEmptyIndex
	}

	ef := efSearch
	if ef < 1 {
		ef = ix.cfg.EfSearch
	}

	qF32, qF16 := ix.prepareVector(query)
	return ix.searchGraphUnlocked(qF32, qF16, ix.entrypoint, k, ef, allow)
}

// prepareVector copies and normalizes a caller vector into the index's
// storage precision. Caller memory is never retained or mutated.
func (ix *Index) prepareVector(v []float32) ([]float32, []uint16) {
	vec := make([]float32, len(v))
	copy(vec, v)
	if ix.metric == distance.Cosine {
		distance.Normalize(vec)
	}
	if ix.precision == distance.Float16 {
		return nil, distance.ToFloat16(vec)
	}
	return vec, nil
}

// insertUnlocked adds a brand-new node and greedily connects it. The caller
// must hold the write lock or own the index exclusively.
func (ix *Index) insertUnlocked(p types.Profile) error {
	if _, exists := ix.externalToInternal[p.ID]; exists {
		return fmt.Errorf("id %q already indexed", p.ID)
	}
	if len(p.Vector) != ix.dim {
		return fmt.Errorf("%w: got %d, corpus is %d", distance.ErrDimensionMismatch, len(p.Vector), ix.dim)
	}

	f32, f16 := ix.prepareVector(p.Vector)
	internal := uint32(ix.nodeCounter.Add(1) - 1)
	ix.growNodes(internal)

	node := &Node{ID: p.ID, InternalID: internal, VectorF32: f32, VectorF16: f16}
	ix.nodes[internal] = node
	ix.externalToInternal[p.ID] = internal
	ix.liveCount++

	if !ix.hasEntry {
		ix.entrypoint = internal
		ix.hasEntry = true
		return nil
	}
	return ix.connectUnlocked(node)
}

// relocateUnlocked replaces an existing node's vector and re-runs the
// greedy-connect step for its out-edges. The old out-edges stay in place
// until connectUnlocked replaces them: the construction beam seeds at the
// entrypoint, which may be this very node, and needs the old edges to reach
// the rest of the graph.
func (ix *Index) relocateUnlocked(internal uint32, p types.Profile) error {
	node := ix.nodes[internal]
	node.VectorF32, node.VectorF16 = ix.prepareVector(p.Vector)
	return ix.connectUnlocked(node)
}

// connectUnlocked wires a node into the graph: beam-search its
// EfConstruction nearest live nodes, keep the top M as out-edges, and give
// each of them a back-edge pruned by the same top-M rule.
func (ix *Index) connectUnlocked(node *Node) error {
	candidates, err := ix.searchGraphUnlocked(node.VectorF32, node.VectorF16, ix.entrypoint, ix.cfg.EfConstruction, ix.cfg.EfConstruction, nil)
	if err != nil {
		return err
	}

	m := ix.cfg.M
	selected := candidates[:0:0]
	for _, c := range candidates {
		if c.Id == node.InternalID {
			continue
		}
		selected = append(selected, c)
		if len(selected) == m {
			break
		}
	}

	node.Neighbors = node.Neighbors[:0]
	for _, c := range selected {
		node.Neighbors = append(node.Neighbors, c.Id)
	}

	for _, c := range selected {
		if err := ix.addBackEdgeUnlocked(ix.nodes[c.Id], node, c.Distance); err != nil {
			return err
		}
	}
	return nil
}

// addBackEdgeUnlocked links neighbor -> node, re-pruning the neighbor's
// adjacency to its M strongest edges when full. Strength ordering is
// (distance ascending, internal id ascending), the same tie-break used
// everywhere, which is what keeps builds idempotent.
func (ix *Index) addBackEdgeUnlocked(neighbor, node *Node, dist float64) error {
	for _, id := range neighbor.Neighbors {
		if id == node.InternalID {
			return nil
		}
	}
	if len(neighbor.Neighbors) < ix.cfg.M {
		neighbor.Neighbors = append(neighbor.Neighbors, node.InternalID)
		return nil
	}

	type edge struct {
		id   uint32
		dist float64
	}
	edges := make([]edge, 0, len(neighbor.Neighbors)+1)
	for _, id := range neighbor.Neighbors {
		d, err := ix.distanceBetweenNodes(neighbor, ix.nodes[id])
		if err != nil {
			return err
		}
		edges = append(edges, edge{id: id, dist: d})
	}
	edges = append(edges, edge{id: node.InternalID, dist: dist})

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].dist != edges[j].dist {
			return edges[i].dist < edges[j].dist
		}
		return edges[i].id < edges[j].id
	})

	neighbor.Neighbors = neighbor.Neighbors[:0]
	for _, e := range edges[:ix.cfg.M] {
		neighbor.Neighbors = append(neighbor.Neighbors, e.id)
	}
	return nil
}

// distanceBetweenNodes computes the stored-precision distance between two
// nodes without boxing.
func (ix *Index) distanceBetweenNodes(a, b *Node) (float64, error) {
	switch ix.precision {
	case distance.Float16:
		return ix.distFuncF16(a.VectorF16, b.VectorF16)
	default:
		return ix.distFuncF32(a.VectorF32, b.VectorF32)
	}
}

// searchGraphUnlocked is the beam search at the heart of both queries and
// construction. It walks the graph best-first from the entry point with a
// frontier of width max(ef, k), tracking visited nodes in a pooled bitset,
// and stops when the nearest frontier candidate cannot improve the worst
// retained result. Results come back in ascending (distance, id) order,
// trimmed to k, containing only live and allowed nodes.
func (ix *Index) searchGraphUnlocked(qF32 []float32, qF16 []uint16, entry uint32, k, ef int, allow AllowList) ([]types.Candidate, error) {
	visited := ix.visitedPool.Get().(*BitSet)
	candidates := ix.minHeapPool.Get().(*minHeap)
	results := ix.maxHeapPool.Get().(*maxHeap)

	*candidates = (*candidates)[:0]
	*results = (*results)[:0]

	defer func() {
		visited.Clear()
		ix.visitedPool.Put(visited)
		ix.minHeapPool.Put(candidates)
		ix.maxHeapPool.Put(results)
	}()

	visited.EnsureCapacity(uint32(ix.nodeCounter.Load()))

	if ef < k {
		ef = k
	}

	// Devirtualize the distance call: one closure specialized for this
	// search, so the hot loop performs no type switches.
	var distFn func(node *Node) (float64, error)
	switch ix.precision {
	case distance.Float16:
		fn := ix.distFuncF16
		distFn = func(node *Node) (float64, error) { return fn(qF16, node.VectorF16) }
	default:
		fn := ix.distFuncF32
		distFn = func(node *Node) (float64, error) { return fn(qF32, node.VectorF32) }
	}

	entryNode := ix.nodes[entry]
	if entryNode == nil {
		return nil, fmt.Errorf("entry point node %d not found", entry)
	}
	dist, err := distFn(entryNode)
	if err != nil {
		return nil, err
	}

	ep := types.Candidate{Id: entry, Distance: dist}
	candidates.Push(ep)
	visited.Add(entry)
	if admissible(entryNode, allow) {
		results.Push(ep)
	}

	for candidates.Len() > 0 {
		current := candidates.Pop()

		// Once ef results are held, a frontier candidate farther than the
		// worst retained result cannot lead anywhere better.
		if results.Len() >= ef && current.Distance > results.Peek().Distance {
			break
		}

		currentNode := ix.nodes[current.Id]
		if currentNode == nil {
			continue
		}

		for _, neighborID := range currentNode.Neighbors {
			if visited.Has(neighborID) {
				continue
			}
			visited.Add(neighborID)

			neighborNode := ix.nodes[neighborID]
			if neighborNode == nil {
				continue
			}

			d, err := distFn(neighborNode)
			if err != nil {
				continue
			}

			worst := math.MaxFloat64
			if results.Len() > 0 {
				worst = results.Peek().Distance
			}

			if results.Len() < ef || d < worst {
				c := types.Candidate{Id: neighborID, Distance: d}
				candidates.Push(c)
				if admissible(neighborNode, allow) {
					results.Push(c)
					if results.Len() > ef {
						results.Pop()
					}
				}
			}
		}
	}

	count := results.Len()
	final := make([]types.Candidate, count)
	for i := count - 1; i >= 0; i-- {
		final[i] = results.Pop()
	}
	if len(final) > k {
		final = final[:k]
	}
	return final, nil
}

// admissible reports whether a node may appear in results: live, and on the
// allow list when one is set.
func admissible(node *Node, allow AllowList) bool {
	if node.Deleted {
		return false
	}
	if allow == nil {
		return true
	}
	_, ok := allow[node.InternalID]
	return ok
}

// reelectEntrypointUnlocked picks the lowest-id live node as the new entry
// point, keeping entry selection deterministic.
func (ix *Index) reelectEntrypointUnlocked() {
	for i, node := range ix.nodes {
		if node != nil && !node.Deleted {
			ix.entrypoint = uint32(i)
			return
		}
	}
	ix.hasEntry = false
}

// growNodes extends the node arena to cover id, doubling capacity to
// amortize allocations.
func (ix *Index) growNodes(id uint32) {
	if uint32(len(ix.nodes)) > id {
		return
	}
	if uint32(cap(ix.nodes)) <= id {
		newCap := uint32(cap(ix.nodes))
		if newCap == 0 {
			newCap = 1024
		}
		for newCap <= id {
			newCap *= 2
		}
		grown := make([]*Node, len(ix.nodes), newCap)
		copy(grown, ix.nodes)
		ix.nodes = grown
	}
	ix.nodes = ix.nodes[:id+1]
}
