// Package selection tracks which nodes of the current listing are checked.
package selection

import (
	"sync"
)

// Set is the checked subset of the visible nodes. Ids outside the current
// listing are never held. Safe for concurrent use.
type Set struct {
	mu      sync.RWMutex
	visible []string
	checked map[string]bool
}

// New returns an empty selection with nothing visible.
func New() *Set {
	return &Set{checked: make(map[string]bool)}
}

// SetVisible replaces the visible ids and drops checks that are no longer visible.
func (s *Set) SetVisible(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.visible = append(s.visible[:0:0], ids...)
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		if s.checked[id] {
			keep[id] = true
		}
	}
	s.checked = keep
}

// Toggle flips one id. Ids that are not visible are ignored.
func (s *Set) Toggle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isVisible(id) {
		return
	}
	if s.checked[id] {
		delete(s.checked, id)
	} else {
		s.checked[id] = true
	}
}

// ToggleAll unchecks everything if anything is checked, otherwise checks every visible id.
func (s *Set) ToggleAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.checked) > 0 {
		s.checked = make(map[string]bool)
		return
	}
	for _, id := range s.visible {
		s.checked[id] = true
	}
}

// Clear unchecks everything.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checked = make(map[string]bool)
}

// Selected returns the checked ids in listing order.
func (s *Set) Selected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.checked))
	for _, id := range s.visible {
		if s.checked[id] {
			out = append(out, id)
		}
	}
	return out
}

// IsChecked reports whether id is checked.
func (s *Set) IsChecked(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checked[id]
}

// Len returns the number of checked ids.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.checked)
}

func (s *Set) isVisible(id string) bool {
	for _, v := range s.visible {
		if v == id {
			return true
		}
	}
	return false
}
