package hnsw

// priorityQueueItem represents an item in the priority queue.
// Value-based (no pointers) for cache locality and zero allocations.
type priorityQueueItem struct {
	Node     uint64  // Node is the graph node id.
	Distance float32 // Distance is the priority of the item in the queue.
}

// priorityQueue is a binary heap of priorityQueueItems, min or max ordered.
type priorityQueue struct {
	isMaxHeap bool
	items     []priorityQueueItem
}

// newMinQueue initializes a new priority queue with minimum priority on top.
func newMinQueue(capacity int) *priorityQueue {
	return &priorityQueue{
		isMaxHeap: false,
		items:     make([]priorityQueueItem, 0, capacity),
	}
}

// newMaxQueue initializes a new priority queue with maximum priority on top.
func newMaxQueue(capacity int) *priorityQueue {
	return &priorityQueue{
		isMaxHeap: true,
		items:     make([]priorityQueueItem, 0, capacity),
	}
}

// Len returns the number of elements in the priority queue.
func (pq *priorityQueue) Len() int { return len(pq.items) }

// TopItem returns the top element of the heap without removing it.
func (pq *priorityQueue) TopItem() (priorityQueueItem, bool) {
	if len(pq.items) == 0 {
		return priorityQueueItem{}, false
	}
	return pq.items[0], true
}

// PushItem inserts an item while maintaining the heap invariant.
func (pq *priorityQueue) PushItem(item priorityQueueItem) {
	pq.items = append(pq.items, item)
	pq.siftUp(len(pq.items) - 1)
}

// PopItem removes and returns the top element while maintaining the heap invariant.
func (pq *priorityQueue) PopItem() (priorityQueueItem, bool) {
	n := len(pq.items)
	if n == 0 {
		return priorityQueueItem{}, false
	}
	root := pq.items[0]
	last := pq.items[n-1]
	pq.items[n-1] = priorityQueueItem{}
	pq.items = pq.items[:n-1]
	if n-1 > 0 {
		pq.items[0] = last
		pq.siftDown(0)
	}
	return root, true
}

func (pq *priorityQueue) less(i, j int) bool {
	a, b := pq.items[i], pq.items[j]
	if a.Distance != b.Distance {
		if pq.isMaxHeap {
			return a.Distance > b.Distance
		}
		return a.Distance < b.Distance
	}
	// Equal distances order by id so heap behavior is stable across runs.
	if pq.isMaxHeap {
		return a.Node > b.Node
	}
	return a.Node < b.Node
}

func (pq *priorityQueue) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !pq.less(i, p) {
			return
		}
		pq.items[i], pq.items[p] = pq.items[p], pq.items[i]
		i = p
	}
}

func (pq *priorityQueue) siftDown(i int) {
	n := len(pq.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && pq.less(r, l) {
			best = r
		}
		if !pq.less(best, i) {
			return
		}
		pq.items[i], pq.items[best] = pq.items[best], pq.items[i]
		i = best
	}
}
