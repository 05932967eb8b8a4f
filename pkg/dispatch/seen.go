package dispatch

import "sync"

// seenSet remembers recent event ids with FIFO eviction.
type seenSet struct {
	mu       sync.Mutex
	capacity int
	// ids maps each remembered id to its slot in order.
	ids   map[string]int
	order []string
	next  int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		capacity: capacity,
		ids:      make(map[string]int, capacity),
		order:    make([]string, 0, capacity),
	}
}

// add records id and reports whether it was new. Empty ids are never
// deduplicated.
func (s *seenSet) add(id string) bool {
	if id == "" {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return false
	}

	if len(s.order) < s.capacity {
		s.order = append(s.order, id)
		s.ids[id] = len(s.order) - 1
		return true
	}

	if evicted := s.order[s.next]; evicted != "" {
		delete(s.ids, evicted)
	}
	s.order[s.next] = id
	s.ids[id] = s.next
	s.next = (s.next + 1) % s.capacity
	return true
}

// remove forgets id so a redelivery is processed again. Its ring slot is
// left empty until eviction reaches it.
func (s *seenSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.ids[id]
	if !ok {
		return
	}
	s.order[slot] = ""
	delete(s.ids, id)
}
