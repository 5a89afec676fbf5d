package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStoreState marks an Advance that would corrupt the two-slot
// history: a nil snapshot, or a slot index that does not move forward.
// It indicates a scheduling bug and is fatal for the run.
var ErrStoreState = errors.New("assignment store state error")

// AssignmentStore is the bounded two-slot history buffer: it owns the
// current and previous snapshots and nothing else. No domain logic
// lives here. Advance swaps both references under one critical section
// so readers never observe a torn current/previous pair.
type AssignmentStore struct {
	mu       sync.RWMutex
	current  *Snapshot
	previous *Snapshot
}

// NewAssignmentStore returns an empty store.
func NewAssignmentStore() *AssignmentStore {
	return &AssignmentStore{}
}

// Advance installs snap as the current snapshot and demotes the old
// current to previous. The snapshot must be non-nil and carry a slot
// index strictly greater than the resident one.
func (s *AssignmentStore) Advance(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("AssignmentStore.Advance: %w: nil snapshot", ErrStoreState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && snap.Slot() <= s.current.Slot() {
		return fmt.Errorf("AssignmentStore.Advance: %w: slot %d does not advance past %d",
			ErrStoreState, snap.Slot(), s.current.Slot())
	}
	s.previous = s.current
	s.current = snap
	return nil
}

// Current returns the current snapshot, nil before the first Advance.
func (s *AssignmentStore) Current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Previous returns the snapshot before the current one, nil until the
// second Advance.
func (s *AssignmentStore) Previous() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previous
}

// Window returns the current and previous snapshots as one consistent
// pair, read under a single critical section. Callers diffing two
// consecutive slots must use Window rather than separate Current and
// Previous calls.
func (s *AssignmentStore) Window() (current, previous *Snapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.previous
}

// CurrentSlot returns the resident slot index, 0 when the store is
// empty.
func (s *AssignmentStore) CurrentSlot() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return s.current.Slot()
}

// Reset drops both snapshots, returning the store to its initial
// state. Used between runs.
func (s *AssignmentStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.previous = nil
}
