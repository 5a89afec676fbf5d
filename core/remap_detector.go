package core

import "github.com/signalsfoundry/sagin-domain-engine/model"

// DetectRemaps diffs two consecutive snapshots and returns the
// controller reassignments, ordered by ascending node id.
//
// A remapping is counted only for nodes present in both snapshots
// whose controller changed between two nonzero values. Transitions
// from the unassigned state (prev 0) are first assignments, and
// transitions to it (new 0) are unassignments; neither carries a
// reconfiguration cost, so neither produces an event. Nodes appearing
// in or disappearing from the slot produce no event either.
//
// prev may be nil (the first slot of a run), in which case the result
// is empty.
func DetectRemaps(prev, curr *Snapshot) []model.RemapEvent {
	if prev == nil || curr == nil {
		return nil
	}

	var events []model.RemapEvent
	for _, id := range curr.NodeIDs() {
		newC, _ := curr.Controller(id)
		if newC == 0 {
			continue
		}
		prevC, ok := prev.Controller(id)
		if !ok || prevC == 0 || prevC == newC {
			continue
		}
		events = append(events, model.RemapEvent{
			NodeID:         id,
			PrevController: prevC,
			NewController:  newC,
			Slot:           curr.Slot(),
		})
	}
	return events
}
