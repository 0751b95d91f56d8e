// Package hnsw provides a Hierarchical Navigable Small World graph index for
// approximate nearest neighbor search over unit vectors.
//
// Vectors are L2-normalized on insert and compared by cosine distance
// (1 - dot product), so distances fall in [0, 2] and smaller is closer.
// Node levels are derived deterministically from the node id, which makes
// graph construction reproducible for a given insert order and keeps the
// persisted form free of generator state.
package hnsw

import (
	"math"
	"slices"
	"sync"

	"github.com/hupe1980/vecvault/distance"
)

// Options configures an Index.
type Options struct {
	// Dimension is the dimensionality of indexed vectors. Required.
	Dimension int

	// M is the maximum number of bidirectional links per node above layer 0.
	// Layer 0 allows 2*M links.
	M int

	// EFConstruction is the size of the dynamic candidate list during insert.
	EFConstruction int

	// EFSearch is the default size of the dynamic candidate list during
	// search. Raised to k when a query asks for more results.
	EFSearch int
}

// DefaultOptions are the default options for an Index.
var DefaultOptions = Options{
	M:              16,
	EFConstruction: 200,
	EFSearch:       100,
}

// Result is a single search hit.
type Result struct {
	ID       uint64
	Distance float32
}

type node struct {
	id     uint64
	level  int
	vector []float32
	// conns[l] holds the neighbor ids at layer l, for l in [0, level].
	conns [][]uint64
}

// Index is an HNSW graph. Safe for concurrent use; writes are serialized,
// reads proceed concurrently.
type Index struct {
	mu   sync.RWMutex
	opts Options

	mmax  int // max neighbors per node at layers > 0
	mmax0 int // max neighbors per node at layer 0
	ml    float64

	nodes      map[uint64]*node
	entryPoint uint64
	maxLevel   int
	hasEntry   bool
}

// New creates an empty index.
func New(optFns ...func(o *Options)) (*Index, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &DimensionMismatchError{Expected: 1, Actual: opts.Dimension}
	}

	if opts.M < 2 {
		opts.M = DefaultOptions.M
	}

	if opts.EFConstruction < opts.M {
		opts.EFConstruction = DefaultOptions.EFConstruction
	}

	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultOptions.EFSearch
	}

	return &Index{
		opts:  opts,
		mmax:  opts.M,
		mmax0: opts.M * 2,
		ml:    1.0 / math.Log(float64(opts.M)),
		nodes: make(map[uint64]*node),
	}, nil
}

// Options returns a copy of the index options.
func (idx *Index) Options() Options { return idx.opts }

// Dimension returns the vector dimensionality of the index.
func (idx *Index) Dimension() int { return idx.opts.Dimension }

// Len returns the number of indexed vectors.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.nodes)
}

// Contains reports whether the id is present in the index.
func (idx *Index) Contains(id uint64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	_, ok := idx.nodes[id]

	return ok
}

// Insert adds a vector to the graph. The vector is copied and L2-normalized;
// the caller's slice is not retained. Inserting an existing id fails with
// DuplicateIDError.
func (idx *Index) Insert(id uint64, vector []float32) error {
	if len(vector) != idx.opts.Dimension {
		return &DimensionMismatchError{Expected: idx.opts.Dimension, Actual: len(vector)}
	}

	vec, ok := distance.NormalizeL2Copy(vector)
	if !ok {
		return ErrZeroVector
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.nodes[id]; ok {
		return &DuplicateIDError{ID: id}
	}

	level := levelForID(id, idx.ml)

	n := &node{
		id:     id,
		level:  level,
		vector: vec,
		conns:  make([][]uint64, level+1),
	}

	idx.nodes[id] = n

	if !idx.hasEntry {
		idx.entryPoint = id
		idx.maxLevel = level
		idx.hasEntry = true

		return nil
	}

	ep := idx.entryPoint
	epDist := idx.distanceTo(ep, vec)

	// Greedy descent through layers above the new node's level.
	for l := idx.maxLevel; l > level; l-- {
		ep, epDist = idx.greedyClosest(vec, ep, epDist, l)
	}

	visited := newVisitedSet(len(idx.nodes))

	startLevel := min(level, idx.maxLevel)
	for l := startLevel; l >= 0; l-- {
		candidates := idx.searchLayer(vec, ep, epDist, idx.opts.EFConstruction, l, visited)
		visited.Reset()

		neighbors := idx.selectNeighbors(vec, candidates, idx.opts.M)

		n.conns[l] = neighbors

		maxConns := idx.mmax
		if l == 0 {
			maxConns = idx.mmax0
		}

		for _, nb := range neighbors {
			idx.linkBack(nb, id, l, maxConns)
		}

		if len(neighbors) > 0 {
			ep = neighbors[0]
			epDist = idx.distanceTo(ep, vec)
		}
	}

	if level > idx.maxLevel {
		idx.maxLevel = level
		idx.entryPoint = id
	}

	return nil
}

// Search returns up to k nearest neighbors of the query vector, ordered by
// ascending distance with ties broken by ascending id. The query is
// normalized before searching. An empty index returns no results.
func (idx *Index) Search(query []float32, k int) ([]Result, error) {
	return idx.SearchWithEF(query, k, 0)
}

// SearchWithEF is Search with an explicit candidate-list size. An ef of 0
// falls back to the configured EFSearch.
func (idx *Index) SearchWithEF(query []float32, k int, ef int) ([]Result, error) {
	if len(query) != idx.opts.Dimension {
		return nil, &DimensionMismatchError{Expected: idx.opts.Dimension, Actual: len(query)}
	}

	if k <= 0 {
		return nil, nil
	}

	q, ok := distance.NormalizeL2Copy(query)
	if !ok {
		return nil, ErrZeroVector
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.hasEntry {
		return nil, nil
	}

	if ef <= 0 {
		ef = idx.opts.EFSearch
	}

	if ef < k {
		ef = k
	}

	ep := idx.entryPoint
	epDist := idx.distanceTo(ep, q)

	for l := idx.maxLevel; l > 0; l-- {
		ep, epDist = idx.greedyClosest(q, ep, epDist, l)
	}

	visited := newVisitedSet(len(idx.nodes))
	candidates := idx.searchLayer(q, ep, epDist, ef, 0, visited)

	results := make([]Result, 0, candidates.Len())
	for {
		item, ok := candidates.PopItem()
		if !ok {
			break
		}

		results = append(results, Result{ID: item.Node, Distance: item.Distance})
	}

	slices.SortFunc(results, func(a, b Result) int {
		if a.Distance != b.Distance {
			if a.Distance < b.Distance {
				return -1
			}

			return 1
		}

		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	if len(results) > k {
		results = results[:k]
	}

	return results, nil
}

// greedyClosest walks a single layer toward the query until no neighbor
// improves the distance.
func (idx *Index) greedyClosest(q []float32, ep uint64, epDist float32, level int) (uint64, float32) {
	for {
		improved := false

		for _, nb := range idx.nodes[ep].connsAt(level) {
			if d := idx.distanceTo(nb, q); d < epDist {
				ep, epDist = nb, d
				improved = true
			}
		}

		if !improved {
			return ep, epDist
		}
	}
}

// searchLayer performs a best-first search over one layer and returns a
// max-heap of at most ef candidates (worst on top).
func (idx *Index) searchLayer(q []float32, ep uint64, epDist float32, ef, level int, visited *visitedSet) *priorityQueue {
	candidates := newMinQueue(ef)
	results := newMaxQueue(ef)

	visited.Visit(ep)
	candidates.PushItem(priorityQueueItem{Node: ep, Distance: epDist})
	results.PushItem(priorityQueueItem{Node: ep, Distance: epDist})

	for candidates.Len() > 0 {
		current, _ := candidates.PopItem()

		if worst, ok := results.TopItem(); ok && current.Distance > worst.Distance && results.Len() >= ef {
			break
		}

		for _, nb := range idx.nodes[current.Node].connsAt(level) {
			if visited.Visited(nb) {
				continue
			}

			visited.Visit(nb)

			d := idx.distanceTo(nb, q)

			if worst, ok := results.TopItem(); !ok || results.Len() < ef || d < worst.Distance {
				candidates.PushItem(priorityQueueItem{Node: nb, Distance: d})
				results.PushItem(priorityQueueItem{Node: nb, Distance: d})

				if results.Len() > ef {
					results.PopItem()
				}
			}
		}
	}

	return results
}

// selectNeighbors applies the heuristic neighbor selection from the HNSW
// paper: a candidate is kept only if it is closer to the query than to any
// already-selected neighbor, which keeps links spread across directions.
func (idx *Index) selectNeighbors(q []float32, candidates *priorityQueue, m int) []uint64 {
	ordered := make([]priorityQueueItem, 0, candidates.Len())
	for {
		item, ok := candidates.PopItem()
		if !ok {
			break
		}

		ordered = append(ordered, item)
	}

	// Max-heap pops worst-first; reverse to closest-first.
	slices.Reverse(ordered)

	selected := make([]uint64, 0, m)

	for _, cand := range ordered {
		if len(selected) >= m {
			break
		}

		keep := true

		for _, s := range selected {
			if distance.Cosine(idx.nodes[cand.Node].vector, idx.nodes[s].vector) < cand.Distance {
				keep = false

				break
			}
		}

		if keep {
			selected = append(selected, cand.Node)
		}
	}

	// Backfill with skipped candidates if the heuristic was too aggressive.
	if len(selected) < m {
		for _, cand := range ordered {
			if len(selected) >= m {
				break
			}

			if !slices.Contains(selected, cand.Node) {
				selected = append(selected, cand.Node)
			}
		}
	}

	return selected
}

// linkBack adds a reverse edge and prunes the neighbor's list if it exceeds
// maxConns.
func (idx *Index) linkBack(from, to uint64, level, maxConns int) {
	n := idx.nodes[from]

	if slices.Contains(n.conns[level], to) {
		return
	}

	n.conns[level] = append(n.conns[level], to)

	if len(n.conns[level]) <= maxConns {
		return
	}

	pruned := newMaxQueue(len(n.conns[level]))
	for _, nb := range n.conns[level] {
		pruned.PushItem(priorityQueueItem{Node: nb, Distance: distance.Cosine(n.vector, idx.nodes[nb].vector)})
	}

	selected := idx.selectNeighbors(n.vector, pruned, maxConns)
	n.conns[level] = selected
}

func (idx *Index) distanceTo(id uint64, q []float32) float32 {
	return distance.Cosine(idx.nodes[id].vector, q)
}

func (n *node) connsAt(level int) []uint64 {
	if level > n.level {
		return nil
	}

	return n.conns[level]
}

// levelForID derives a node's level from its id via a splitmix-style hash,
// mapped to the HNSW exponential layer distribution.
func levelForID(id uint64, ml float64) int {
	x := id + 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x ^= x >> 31

	// Uniform in (0, 1]; the +1 keeps r strictly positive.
	r := (float64(x>>11) + 1) / (1 << 53)

	return int(-math.Log(r) * ml)
}
