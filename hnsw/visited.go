package hnsw

// visitedSet is a bitset over node ids with a dirty list, so clearing between
// layer searches touches only the words that were actually set.
type visitedSet struct {
	bits  []uint64
	dirty []uint64
}

func newVisitedSet(capacity int) *visitedSet {
	return &visitedSet{
		bits:  make([]uint64, (capacity+63)/64),
		dirty: make([]uint64, 0, 128),
	}
}

func bitPos(id uint64) (word int, mask uint64) {
	return int(id >> 6), uint64(1) << (id & 63)
}

// Visit marks a node as visited.
func (v *visitedSet) Visit(id uint64) {
	word, mask := bitPos(id)

	if word >= len(v.bits) {
		v.grow(word + 1)
	}

	if v.bits[word]&mask == 0 {
		v.bits[word] |= mask
		v.dirty = append(v.dirty, id)
	}
}

// Visited reports whether the node has been visited since the last Reset.
func (v *visitedSet) Visited(id uint64) bool {
	word, mask := bitPos(id)
	if word >= len(v.bits) {
		return false
	}

	return v.bits[word]&mask != 0
}

// Reset clears every bit set since the previous Reset.
func (v *visitedSet) Reset() {
	for _, id := range v.dirty {
		word, mask := bitPos(id)
		v.bits[word] &^= mask
	}

	v.dirty = v.dirty[:0]
}

func (v *visitedSet) grow(newLen int) {
	newCap := max(len(v.bits)*2, newLen)

	newBits := make([]uint64, newCap)
	copy(newBits, v.bits)
	v.bits = newBits
}
