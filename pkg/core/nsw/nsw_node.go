// Package nsw implements a navigable small-world graph index for
// approximate nearest-neighbor search over profile vectors.
//
// This file defines the Node struct, the fundamental building block of the
// graph. Each node holds one profile's vector copy plus its adjacency list.
package nsw

// Node is a single graph vertex.
type Node struct {
	// ID is the external, user-facing profile identifier.
	ID string
	// InternalID is the dense uint32 id used for traversal and bitsets.
	InternalID uint32
	// VectorF32 holds the normalized vector at float32 precision.
	// Immutable once published; relocation swaps the slice, never edits it.
	VectorF32 []float32
	// VectorF16 holds the normalized vector as float16 bit patterns when
	// the index runs at half precision.
	VectorF16 []uint16
	// Neighbors is the adjacency list, at most the index's M entries,
	// kept pruned to the strongest edges. Guarded by the index lock.
	Neighbors []uint32
	// Deleted marks a tombstone: the node still routes traversal but is
	// excluded from results. Guarded by the index lock.
	Deleted bool
}
