package cache

import (
	"container/list"
	"sync"
)

// FIFOSet is a bounded set with strict first-in-first-out eviction, used
// for the wallet monitor's transaction-hash dedup set (§3: "a bounded set
// (>=10k FIFO) of processed txHash ensures at-most-once detection").
// Unlike BoundedCache, membership never gets promoted on access — insertion
// order alone determines eviction order.
type FIFOSet[K comparable] struct {
	mu       sync.Mutex
	max      int
	members  map[K]*list.Element
	order    *list.List // front = oldest
}

// NewFIFOSet creates a FIFOSet holding at most max members.
func NewFIFOSet[K comparable](max int) *FIFOSet[K] {
	if max <= 0 {
		max = 10000
	}
	return &FIFOSet[K]{
		max:     max,
		members: make(map[K]*list.Element),
		order:   list.New(),
	}
}

// Contains reports whether key has already been recorded.
func (s *FIFOSet[K]) Contains(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[key]
	return ok
}

// Add records key, evicting the oldest member if the set is at capacity.
// Returns true if key was newly added, false if it was already present
// (the caller's at-most-once-processing signal).
func (s *FIFOSet[K]) Add(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[key]; ok {
		return false
	}
	el := s.order.PushBack(key)
	s.members[key] = el
	if len(s.members) > s.max {
		oldest := s.order.Front()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.members, oldest.Value.(K))
		}
	}
	return true
}

// Len returns the current member count.
func (s *FIFOSet[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}
