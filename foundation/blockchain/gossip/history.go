package gossip

import "sync"

// DefaultHistorySize is the number of broadcast ids a node remembers.
const DefaultHistorySize = 50

// History is a bounded FIFO of recently seen broadcast ids. Once capacity
// is reached the oldest id is evicted to make room for a new one.
type History struct {
	mu    sync.Mutex
	ring  []string
	next  int
	count int
	index map[string]struct{}
}

// NewHistory constructs a history that remembers up to size ids.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}

	return &History{
		ring:  make([]string, size),
		index: make(map[string]struct{}, size),
	}
}

// Add records the id. It reports false without changing the history when
// the id is already present.
func (h *History) Add(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.index[id]; exists {
		return false
	}

	// Evict the oldest id when the ring is full. The slot being written
	// is the oldest one.
	if h.count == len(h.ring) {
		delete(h.index, h.ring[h.next])
	} else {
		h.count++
	}

	h.ring[h.next] = id
	h.index[id] = struct{}{}
	h.next = (h.next + 1) % len(h.ring)

	return true
}

// Contains reports whether the id is in the history.
func (h *History) Contains(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, exists := h.index[id]
	return exists
}

// Len returns the number of ids currently remembered.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.count
}

// Copy returns the remembered ids, oldest first.
func (h *History) Copy() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, h.count)
	start := (h.next - h.count + len(h.ring)) % len(h.ring)
	for i := 0; i < h.count; i++ {
		ids = append(ids, h.ring[(start+i)%len(h.ring)])
	}

	return ids
}
