package core

import "sync"

// Watcher is a subscriber attached to one or more spaces.
type Watcher interface {
	ID() string
	// Emit queues msg for the next flush. It must not block.
	Emit(msg *SubMessage)
	SpaceFilters() *FilterSet
}

// FilterSet is an ordered collection of filters, each scoped to a space.
// It is shared by every space a watcher is attached to, so it carries its own lock.
type FilterSet struct {
	mu      sync.RWMutex
	filters []SpaceFilter
}

// ForSpace returns the filters scoped to space, in insertion order.
func (s *FilterSet) ForSpace(space string) []SpaceFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SpaceFilter
	for _, f := range s.filters {
		if f.Space == space {
			out = append(out, f)
		}
	}
	return out
}

// Find looks a filter up by space and name.
func (s *FilterSet) Find(space, name string) (SpaceFilter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.filters {
		if f.Space == space && f.Name == name {
			return f, true
		}
	}
	return SpaceFilter{}, false
}

// Add appends f.
func (s *FilterSet) Add(f SpaceFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, f)
}

// Replace swaps the filter sharing f's space and name. Returns false if none exists.
func (s *FilterSet) Replace(f SpaceFilter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.filters {
		if s.filters[i].Space == f.Space && s.filters[i].Name == f.Name {
			s.filters[i] = f
			return true
		}
	}
	return false
}

// Remove drops every filter with the given space and name.
func (s *FilterSet) Remove(space, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.filters[:0]
	for _, f := range s.filters {
		if f.Space == space && f.Name == name {
			continue
		}
		kept = append(kept, f)
	}
	s.filters = kept
}

// DropSpace removes all filters scoped to space.
func (s *FilterSet) DropSpace(space string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.filters[:0]
	for _, f := range s.filters {
		if f.Space != space {
			kept = append(kept, f)
		}
	}
	s.filters = kept
}

// Len returns the total number of filters across spaces.
func (s *FilterSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.filters)
}
