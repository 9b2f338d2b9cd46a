// Package nsw implements a navigable small-world graph index for
// approximate nearest-neighbor search over profile vectors.
//
// This file defines the candidate heaps used by graph traversal: a min-heap
// for the frontier (nearest unexplored candidate on top) and a max-heap for
// the retained results (worst retained candidate on top, cheap to displace).
// Both hold candidates by value and order equal distances by internal id, so
// traversal order is fully reproducible for identical input.
package nsw

import "github.com/ruggierom/affindb/pkg/core/types"

// minHeap keeps the nearest candidate at the root.
type minHeap []types.Candidate

func newMinHeap(capacity int) *minHeap {
	h := make(minHeap, 0, capacity)
	return &h
}

func (h minHeap) Len() int { return len(h) }

// Peek returns the nearest candidate without removing it.
func (h minHeap) Peek() types.Candidate { return h[0] }

func (h minHeap) less(i, j int) bool {
	if h[i].Distance != h[j].Distance {
		return h[i].Distance < h[j].Distance
	}
	return h[i].Id < h[j].Id
}

// Push adds a candidate and restores the heap order.
func (h *minHeap) Push(c types.Candidate) {
	*h = append(*h, c)
	s := *h
	i := len(s) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if !s.less(i, parent) {
			break
		}
		s[i], s[parent] = s[parent], s[i]
		i = parent
	}
}

// Pop removes and returns the nearest candidate.
func (h *minHeap) Pop() types.Candidate {
	s := *h
	top := s[0]
	n := len(s) - 1
	s[0] = s[n]
	s = s[:n]
	*h = s
	i := 0
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		smallest := left
		if right := left + 1; right < n && s.less(right, left) {
			smallest = right
		}
		if !s.less(smallest, i) {
			break
		}
		s[i], s[smallest] = s[smallest], s[i]
		i = smallest
	}
	return top
}

// maxHeap keeps the farthest candidate at the root, making the worst of the
// retained result set cheap to inspect and replace.
type maxHeap []types.Candidate

func newMaxHeap(capacity int) *maxHeap {
	h := make(maxHeap, 0, capacity)
	return &h
}

func (h maxHeap) Len() int { return len(h) }

// Peek returns the farthest retained candidate without removing it.
func (h maxHeap) Peek() types.Candidate { return h[0] }

func (h maxHeap) less(i, j int) bool {
	if h[i].Distance != h[j].Distance {
		return h[i].Distance > h[j].Distance
	}
	return h[i].Id > h[j].Id
}

// Push adds a candidate and restores the heap order.
func (h *maxHeap) Push(c types.Candidate) {
	*h = append(*h, c)
	s := *h
	i := len(s) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if !s.less(i, parent) {
			break
		}
		s[i], s[parent] = s[parent], s[i]
		i = parent
	}
}

// Pop removes and returns the farthest candidate.
func (h *maxHeap) Pop() types.Candidate {
	s := *h
	top := s[0]
	n := len(s) - 1
	s[0] = s[n]
	s = s[:n]
	*h = s
	i := 0
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		largest := left
		if right := left + 1; right < n && s.less(right, left) {
			largest = right
		}
		if !s.less(largest, i) {
			break
		}
		s[i], s[largest] = s[largest], s[i]
		i = largest
	}
	return top
}
