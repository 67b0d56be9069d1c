package supervisor

import "sync"

// statusStore holds the current Snapshot. Its lock is independent of the
// transition lock and only held while copying fields.
type statusStore struct {
	mu   sync.RWMutex
	snap Snapshot
}

func (s *statusStore) get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// set moves to state to and applies fn to the stored snapshot in one step.
func (s *statusStore) set(to State, fn func(*Snapshot)) (from State, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from = s.snap.State
	s.snap.State = to
	if fn != nil {
		fn(&s.snap)
	}
	return from, s.snap
}
