package game_state

import "sync"

// Store holds the latest and the previous Snapshot of one game. It has a single
// writer (the ingest loop) and any number of readers. Readers get the stored
// pointers themselves, so the snapshot may be replaced between two calls; callers
// needing a consistent pair must read once and keep their reference.
type Store struct {
	mu       sync.RWMutex
	current  *Snapshot
	previous *Snapshot
	// changed is closed and replaced on every accepted update.
	changed chan struct{}
}

func NewStore() *Store {
	return &Store{
		changed: make(chan struct{}),
	}
}

// Update replaces the current snapshot, retaining the old one as previous, and wakes
// all waiters. Ticks must strictly increase: a repeated or older tick is discarded
// and Update returns false.
func (s *Store) Update(snap *Snapshot) bool {
	if snap == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && snap.Tick <= s.current.Tick {
		return false
	}

	s.previous, s.current = s.current, snap
	close(s.changed)
	s.changed = make(chan struct{})
	return true
}

// Current returns the latest snapshot, or nil before the first update.
func (s *Store) Current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Previous returns the snapshot replaced by the latest update, or nil.
func (s *Store) Previous() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previous
}

// Changed returns a channel closed by the next accepted Update. Grab the channel
// before reading Current to avoid missing an update between the two.
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

// Reset forgets both snapshots, e.g. when the host announces a new game whose tick
// numbering restarts. Waiters are not woken.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.previous = nil
}
