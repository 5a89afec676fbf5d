package model

// RemapEvent records one controller reassignment observed between two
// consecutive slots. Events are immutable once created.
type RemapEvent struct {
	// NodeID is the reassigned node.
	NodeID int
	// PrevController and NewController are both nonzero: transitions
	// from or to the unassigned state are not remappings.
	PrevController int
	NewController  int
	// Slot is the slot index at which the new assignment took effect.
	Slot int
}
