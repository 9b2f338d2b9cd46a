package nsw

// BitSet tracks visited internal ids during traversal. It is pooled and
// reused across searches, so Clear must leave capacity in place.
type BitSet struct {
	words []uint64
}

// NewBitSet returns a set sized for ids up to capacity.
func NewBitSet(capacity uint32) *BitSet {
	return &BitSet{words: make([]uint64, (capacity>>6)+1)}
}

// Add marks n as visited, growing the set when n is out of range.
func (bs *BitSet) Add(n uint32) {
	w := n >> 6
	if w >= uint32(len(bs.words)) {
		bs.grow(n)
	}
	bs.words[w] |= 1 << (n & 63)
}

// Has reports whether n was visited.
func (bs *BitSet) Has(n uint32) bool {
	w := n >> 6
	if w >= uint32(len(bs.words)) {
		return false
	}
	return bs.words[w]&(1<<(n&63)) != 0
}

// Clear zeroes the set, keeping the backing array.
func (bs *BitSet) Clear() {
	for i := range bs.words {
		bs.words[i] = 0
	}
}

// EnsureCapacity grows the set so ids up to maxVal can be added without
// reallocation inside the hot loop.
func (bs *BitSet) EnsureCapacity(maxVal uint32) {
	if (maxVal >> 6) >= uint32(len(bs.words)) {
		bs.grow(maxVal)
	}
}

func (bs *BitSet) grow(n uint32) {
	needed := (n >> 6) + 1
	if uint32(len(bs.words)) >= needed {
		return
	}
	words := make([]uint64, needed)
	copy(words, bs.words)
	bs.words = words
}
