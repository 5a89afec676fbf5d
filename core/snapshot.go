package core

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/sagin-domain-engine/model"
)

// ErrMalformedSlotData marks structurally invalid slot input: unknown
// node references, negative ids, or a feed that cannot be decoded.
// Loader errors are fatal for the run; skipping a slot would corrupt
// the two-slot history.
var ErrMalformedSlotData = errors.New("malformed slot data")

// SlotRecord is the flat per-node input for one slot, as delivered by
// the external placement oracle. The flat view is authoritative; the
// grouped per-domain view is derived from it.
type SlotRecord struct {
	Node model.Node
	// DomainID is the node's domain for this slot (0 = unassigned).
	DomainID int
	// ControllerID is the node's assigned controller (0 = unassigned).
	ControllerID int
	// MasterID is the node's declared master reference (0 = none).
	MasterID int
}

// Snapshot is the complete, immutable state for one slot: the nodes
// present, the flat controller assignment, the derived domain grouping
// and the declared master references. Snapshots are built once by
// NewSnapshot and never mutated afterwards; accessors returning slices
// or maps hand out internal state that callers must treat as read-only.
type Snapshot struct {
	slot int
	at   time.Time

	nodes       map[int]model.Node
	nodeIDs     []int // ascending
	controllers map[int]int
	masters     map[int]int
	ecef        map[int]Vec3

	domains    map[int]model.Domain // keyed by id, id > 0 only
	domainIDs  []int                // ascending
	unassigned []int                // ascending, domain 0 members

	hasMasterRefs bool
}

// NewSnapshot validates the flat records and builds the snapshot for
// the given slot. at is the simulation time the slot takes effect; it
// anchors the geodetic-to-ECEF conversion for position-carrying nodes.
//
// Validation is fail-fast: duplicate or non-positive node ids, negative
// domain/controller/master ids, and controller or master references to
// nodes absent from the slot all fail with ErrMalformedSlotData.
func NewSnapshot(slot int, at time.Time, records []SlotRecord) (*Snapshot, error) {
	if slot < 1 {
		return nil, fmt.Errorf("NewSnapshot: %w: slot %d out of range", ErrMalformedSlotData, slot)
	}

	s := &Snapshot{
		slot:        slot,
		at:          at,
		nodes:       make(map[int]model.Node, len(records)),
		controllers: make(map[int]int, len(records)),
		masters:     make(map[int]int, len(records)),
		ecef:        make(map[int]Vec3),
		domains:     make(map[int]model.Domain),
	}

	for _, rec := range records {
		id := rec.Node.ID
		if id <= 0 {
			return nil, fmt.Errorf("NewSnapshot: %w: node id %d is not positive", ErrMalformedSlotData, id)
		}
		if _, exists := s.nodes[id]; exists {
			return nil, fmt.Errorf("NewSnapshot: %w: duplicate node id %d", ErrMalformedSlotData, id)
		}
		if rec.DomainID < 0 {
			return nil, fmt.Errorf("NewSnapshot: %w: node %d has negative domain %d", ErrMalformedSlotData, id, rec.DomainID)
		}
		if rec.ControllerID < 0 {
			return nil, fmt.Errorf("NewSnapshot: %w: node %d has negative controller %d", ErrMalformedSlotData, id, rec.ControllerID)
		}
		if rec.MasterID < 0 {
			return nil, fmt.Errorf("NewSnapshot: %w: node %d has negative master %d", ErrMalformedSlotData, id, rec.MasterID)
		}

		s.nodes[id] = rec.Node
		s.nodeIDs = append(s.nodeIDs, id)
		s.controllers[id] = rec.ControllerID
		if rec.MasterID != 0 {
			s.masters[id] = rec.MasterID
			s.hasMasterRefs = true
		}
		if rec.Node.Position != nil {
			s.ecef[id] = GeodeticToECEF(*rec.Node.Position, at)
		}
	}
	sort.Ints(s.nodeIDs)

	// References must resolve within the slot.
	for _, rec := range records {
		if c := rec.ControllerID; c != 0 {
			if _, ok := s.nodes[c]; !ok {
				return nil, fmt.Errorf("NewSnapshot: %w: node %d references unknown controller %d", ErrMalformedSlotData, rec.Node.ID, c)
			}
		}
		if m := rec.MasterID; m != 0 {
			if _, ok := s.nodes[m]; !ok {
				return nil, fmt.Errorf("NewSnapshot: %w: node %d references unknown master %d", ErrMalformedSlotData, rec.Node.ID, m)
			}
		}
	}

	s.groupDomains(records)
	return s, nil
}

// groupDomains derives the per-domain view from the flat records and
// resolves each domain's controller: the single distinct nonzero
// controller referenced by the members when they agree, otherwise the
// lowest-id self-assigned member (a node whose controller is itself is
// by convention a controller).
func (s *Snapshot) groupDomains(records []SlotRecord) {
	memberSets := make(map[int][]int)
	for _, rec := range records {
		memberSets[rec.DomainID] = append(memberSets[rec.DomainID], rec.Node.ID)
	}

	for domainID, members := range memberSets {
		sort.Ints(members)
		if domainID == model.UnassignedDomain {
			s.unassigned = members
			continue
		}

		distinct := distinctControllers(members, s.controllers)
		controller := 0
		if len(distinct) == 1 && distinct[0] != 0 {
			controller = distinct[0]
		} else {
			for _, m := range members {
				if s.controllers[m] == m {
					controller = m
					break
				}
			}
		}

		s.domains[domainID] = model.Domain{
			ID:           domainID,
			ControllerID: controller,
			Members:      members,
		}
		s.domainIDs = append(s.domainIDs, domainID)
	}
	sort.Ints(s.domainIDs)
}

// distinctControllers returns the sorted distinct controller values
// referenced by the given members, including 0 when present.
func distinctControllers(members []int, controllers map[int]int) []int {
	seen := make(map[int]struct{})
	for _, m := range members {
		seen[controllers[m]] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// Slot returns the 1-based slot index the snapshot describes.
func (s *Snapshot) Slot() int { return s.slot }

// At returns the simulation time the slot takes effect.
func (s *Snapshot) At() time.Time { return s.at }

// NodeIDs returns the ids of all nodes present, ascending.
func (s *Snapshot) NodeIDs() []int { return s.nodeIDs }

// NodeCount returns the number of nodes present in the slot.
func (s *Snapshot) NodeCount() int { return len(s.nodeIDs) }

// Node returns the node with the given id, if present.
func (s *Snapshot) Node(id int) (model.Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Controller returns the node's controller assignment (0 = unassigned)
// and whether the node is present in the slot.
func (s *Snapshot) Controller(id int) (int, bool) {
	c, ok := s.controllers[id]
	return c, ok
}

// MasterRef returns the node's declared master reference, 0 when the
// node declared none or is absent.
func (s *Snapshot) MasterRef(id int) int { return s.masters[id] }

// HasMasterRefs reports whether any node in the slot declared a
// nonzero master reference. When false, the hierarchy resolver infers
// reporting edges from node types and positions.
func (s *Snapshot) HasMasterRefs() bool { return s.hasMasterRefs }

// Domain returns the grouped view of a nonzero domain id.
func (s *Snapshot) Domain(id int) (model.Domain, bool) {
	d, ok := s.domains[id]
	return d, ok
}

// DomainIDs returns the nonzero domain ids with at least one member,
// ascending.
func (s *Snapshot) DomainIDs() []int { return s.domainIDs }

// DomainCount returns the number of distinct nonzero domains with at
// least one member. The unassigned pool does not count as a domain.
func (s *Snapshot) DomainCount() int { return len(s.domainIDs) }

// Unassigned returns the ids of nodes in the unassigned pool, ascending.
func (s *Snapshot) Unassigned() []int { return s.unassigned }

// ECEF returns the node's ECEF position in kilometres at the snapshot
// time, and whether the node carried a position.
func (s *Snapshot) ECEF(id int) (Vec3, bool) {
	p, ok := s.ecef[id]
	return p, ok
}
