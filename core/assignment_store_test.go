package core

import (
	"errors"
	"sync"
	"testing"
)

func TestAssignmentStoreAdvance(t *testing.T) {
	store := NewAssignmentStore()

	if store.Current() != nil || store.Previous() != nil {
		t.Fatalf("new store not empty: current=%v previous=%v", store.Current(), store.Previous())
	}
	if store.CurrentSlot() != 0 {
		t.Fatalf("CurrentSlot() = %d, want 0", store.CurrentSlot())
	}

	s1 := mustSnapshot(t, 1, []SlotRecord{rec(1, 1, 1)})
	s2 := mustSnapshot(t, 2, []SlotRecord{rec(1, 1, 1)})

	if err := store.Advance(s1); err != nil {
		t.Fatalf("Advance(s1) error = %v", err)
	}
	if store.Current() != s1 || store.Previous() != nil {
		t.Fatalf("after first Advance: current=%p previous=%p, want s1, nil", store.Current(), store.Previous())
	}

	if err := store.Advance(s2); err != nil {
		t.Fatalf("Advance(s2) error = %v", err)
	}
	if store.Current() != s2 || store.Previous() != s1 {
		t.Fatalf("after second Advance: current slot %d previous slot %d, want 2, 1",
			store.Current().Slot(), store.Previous().Slot())
	}
	if store.CurrentSlot() != 2 {
		t.Fatalf("CurrentSlot() = %d, want 2", store.CurrentSlot())
	}
}

func TestAssignmentStoreRejectsBadAdvance(t *testing.T) {
	store := NewAssignmentStore()

	if err := store.Advance(nil); !errors.Is(err, ErrStoreState) {
		t.Fatalf("Advance(nil) error = %v, want ErrStoreState", err)
	}

	s2 := mustSnapshot(t, 2, []SlotRecord{rec(1, 1, 1)})
	if err := store.Advance(s2); err != nil {
		t.Fatalf("Advance(s2) error = %v", err)
	}

	sameSlot := mustSnapshot(t, 2, []SlotRecord{rec(1, 1, 1)})
	if err := store.Advance(sameSlot); !errors.Is(err, ErrStoreState) {
		t.Fatalf("Advance(same slot) error = %v, want ErrStoreState", err)
	}
	earlier := mustSnapshot(t, 1, []SlotRecord{rec(1, 1, 1)})
	if err := store.Advance(earlier); !errors.Is(err, ErrStoreState) {
		t.Fatalf("Advance(earlier slot) error = %v, want ErrStoreState", err)
	}

	// The failed advances must not have touched the window.
	if store.Current() != s2 || store.Previous() != nil {
		t.Fatalf("store mutated by rejected Advance")
	}
}

func TestAssignmentStoreReset(t *testing.T) {
	store := NewAssignmentStore()
	_ = store.Advance(mustSnapshot(t, 1, []SlotRecord{rec(1, 1, 1)}))
	_ = store.Advance(mustSnapshot(t, 2, []SlotRecord{rec(1, 1, 1)}))

	store.Reset()
	if store.Current() != nil || store.Previous() != nil || store.CurrentSlot() != 0 {
		t.Fatalf("Reset() left state behind")
	}
	if err := store.Advance(mustSnapshot(t, 1, []SlotRecord{rec(1, 1, 1)})); err != nil {
		t.Fatalf("Advance after Reset error = %v", err)
	}
}

// Readers racing an Advance must always observe a pair where previous
// is either nil or exactly one slot behind current, never a torn mix.
func TestAssignmentStoreAdvanceIsAtomic(t *testing.T) {
	store := NewAssignmentStore()
	_ = store.Advance(mustSnapshot(t, 1, []SlotRecord{rec(1, 1, 1)}))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				curr, prev := store.Window()
				if curr == nil {
					t.Errorf("Window() current = nil during run")
					return
				}
				if prev != nil && prev.Slot() != curr.Slot()-1 {
					t.Errorf("torn read: previous slot %d, current slot %d", prev.Slot(), curr.Slot())
					return
				}
			}
		}()
	}

	for slot := 2; slot <= 50; slot++ {
		if err := store.Advance(mustSnapshot(t, slot, []SlotRecord{rec(1, 1, 1)})); err != nil {
			t.Fatalf("Advance(slot %d) error = %v", slot, err)
		}
	}
	close(stop)
	wg.Wait()
}
