package queue

import (
	"container/heap"
	"sync"

	"github.com/Sriram-PR/campus-crawler/pkg/models"
)

// --- Frontier heap ---

// frontierItem represents an entry in the heap
type frontierItem struct {
	entry models.FrontierEntry
	seq   uint64 // Insertion order, breaks ties between equal depths
	index int    // The index of the item in the heap (required by heap interface)
}

// frontierHeap implements heap.Interface ordered by (depth, seq)
type frontierHeap []*frontierItem

func (h frontierHeap) Len() int { return len(h) }

func (h frontierHeap) Less(i, j int) bool {
	if h[i].entry.Depth != h[j].entry.Depth {
		return h[i].entry.Depth < h[j].entry.Depth
	}
	return h[i].seq < h[j].seq
}

func (h frontierHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

// Push adds an element to the heap
func (h *frontierHeap) Push(x any) {
	item := x.(*frontierItem)
	item.index = len(*h)
	*h = append(*h, item)
}

// Pop removes and returns the minimum element from the heap
func (h *frontierHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*h = old[0 : n-1]
	return item
}

// Frontier is the breadth-first crawl queue. Entries come out shallowest first and, within one depth,
// in the order they were added. A URL is accepted at most once for the Frontier's lifetime.
type Frontier struct {
	mu   sync.Mutex
	h    frontierHeap
	seen map[string]struct{}
	next uint64
}

// NewFrontier creates an empty frontier
func NewFrontier() *Frontier {
	f := &Frontier{seen: make(map[string]struct{})}
	heap.Init(&f.h)
	return f
}

// Push queues entry unless its URL was pushed before. Returns false for a duplicate.
func (f *Frontier) Push(entry models.FrontierEntry) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, dup := f.seen[entry.URL]; dup {
		return false
	}
	f.seen[entry.URL] = struct{}{}

	heap.Push(&f.h, &frontierItem{entry: entry, seq: f.next})
	f.next++
	return true
}

// Pop removes the next entry without blocking; ok is false when the frontier is empty
func (f *Frontier) Pop() (entry models.FrontierEntry, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.h) == 0 {
		return models.FrontierEntry{}, false
	}
	return heap.Pop(&f.h).(*frontierItem).entry, true
}

// Len returns the number of queued entries
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.h)
}
