package core

import (
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/sagin-domain-engine/model"
)

// ErrHierarchyInconsistency marks a snapshot whose control hierarchy
// fails validation. Resolver errors are recoverable: the slot is
// flagged in the run metrics and the run continues, since the external
// placement oracle is allowed to be imperfect.
var ErrHierarchyInconsistency = errors.New("hierarchy inconsistency")

// ResolveHierarchy derives the domain-controller -> master-controller
// forest from the snapshot's flat per-node attributes and validates it.
// The flat view is authoritative: each domain must have exactly one
// distinct controller among its members, the controller must be a
// member, and no node may control two domains. Master references must
// point at master-eligible nodes that are not ordinary members of some
// domain, and the reports-to edges must be acyclic.
//
// When the slot declares no master references at all, reporting edges
// are inferred: each domain controller reports to the nearest
// standalone MASTER_SAT (by ECEF distance when both positions are
// known, lowest id otherwise). A slot with no eligible masters yields
// a flat hierarchy, which is valid.
//
// The snapshot is not mutated; the returned structure is read-only.
func ResolveHierarchy(s *Snapshot) (*model.Hierarchy, error) {
	h := &model.Hierarchy{
		DomainController: make(map[int]int),
		MasterOf:         make(map[int]int),
	}

	// Controller agreement, domain by domain.
	for _, id := range s.DomainIDs() {
		d, _ := s.Domain(id)
		distinct := distinctControllers(d.Members, s.controllers)
		switch {
		case len(distinct) == 1 && distinct[0] == 0:
			return nil, fmt.Errorf("ResolveHierarchy: %w: domain %d has no controller", ErrHierarchyInconsistency, id)
		case len(distinct) > 1:
			return nil, fmt.Errorf("ResolveHierarchy: %w: domain %d controller ids disagree %v", ErrHierarchyInconsistency, id, distinct)
		}
		h.DomainController[id] = distinct[0]
	}

	// One controller, one domain.
	domainOfController := make(map[int]int)
	for _, id := range s.DomainIDs() {
		c := h.DomainController[id]
		if prev, dup := domainOfController[c]; dup {
			return nil, fmt.Errorf("ResolveHierarchy: %w: node %d is controller of domains %d and %d",
				ErrHierarchyInconsistency, c, prev, id)
		}
		domainOfController[c] = id
	}

	// The controller must sit inside the domain it controls.
	for _, id := range s.DomainIDs() {
		d, _ := s.Domain(id)
		if c := h.DomainController[id]; !d.HasMember(c) {
			return nil, fmt.Errorf("ResolveHierarchy: %w: controller %d is not a member of domain %d",
				ErrHierarchyInconsistency, c, id)
		}
	}

	if s.HasMasterRefs() {
		if err := resolveDeclaredMasters(s, h, domainOfController); err != nil {
			return nil, err
		}
	} else {
		inferMasters(s, h, domainOfController)
	}

	masters := make(map[int]struct{})
	for _, m := range h.MasterOf {
		if m != 0 {
			masters[m] = struct{}{}
		}
	}
	for m := range masters {
		h.Masters = append(h.Masters, m)
	}
	sort.Ints(h.Masters)

	return h, nil
}

// resolveDeclaredMasters validates the controllers' declared master
// references and records the reports-to edges.
func resolveDeclaredMasters(s *Snapshot, h *model.Hierarchy, domainOfController map[int]int) error {
	for _, id := range s.DomainIDs() {
		c := h.DomainController[id]
		m := s.MasterRef(c)
		if m == 0 {
			h.MasterOf[c] = 0
			continue
		}

		node, _ := s.Node(m)
		if node.Type != model.NodeTypeMasterSat {
			return fmt.Errorf("ResolveHierarchy: %w: master %d for domain %d is not master-eligible (type %s)",
				ErrHierarchyInconsistency, m, id, node.Type)
		}
		if md, member := memberDomain(s, m); member && domainOfController[m] != md {
			return fmt.Errorf("ResolveHierarchy: %w: master %d is an ordinary member of domain %d",
				ErrHierarchyInconsistency, m, md)
		}
		if err := checkMasterChain(s, c); err != nil {
			return err
		}
		h.MasterOf[c] = m
	}
	return nil
}

// memberDomain returns the nonzero domain the node belongs to, if any.
func memberDomain(s *Snapshot, id int) (int, bool) {
	for _, did := range s.DomainIDs() {
		d, _ := s.Domain(did)
		if d.HasMember(id) {
			return did, true
		}
	}
	return 0, false
}

// checkMasterChain walks the reports-to edges starting at id and fails
// when the walk revisits a node.
func checkMasterChain(s *Snapshot, id int) error {
	visited := map[int]struct{}{}
	for cur := id; cur != 0; cur = s.MasterRef(cur) {
		if _, seen := visited[cur]; seen {
			return fmt.Errorf("ResolveHierarchy: %w: reports-to cycle through node %d", ErrHierarchyInconsistency, cur)
		}
		visited[cur] = struct{}{}
	}
	return nil
}

// inferMasters assigns each domain controller the nearest standalone
// MASTER_SAT when the feed declares no master references. MASTER_SAT
// controllers are top-level and get no master; MASTER_SATs that are
// ordinary members of a domain are not candidates.
func inferMasters(s *Snapshot, h *model.Hierarchy, domainOfController map[int]int) {
	var candidates []int
	for _, id := range s.NodeIDs() {
		n, _ := s.Node(id)
		if n.Type != model.NodeTypeMasterSat {
			continue
		}
		if md, member := memberDomain(s, id); member && domainOfController[id] != md {
			continue
		}
		candidates = append(candidates, id)
	}

	for _, did := range s.DomainIDs() {
		c := h.DomainController[did]
		if n, _ := s.Node(c); n.Type == model.NodeTypeMasterSat {
			h.MasterOf[c] = 0
			continue
		}
		h.MasterOf[c] = nearestMaster(s, c, candidates)
	}
}

// nearestMaster picks the candidate closest to the controller in ECEF
// terms, falling back to the lowest candidate id when either position
// is unknown. Candidates are ascending, so the fallback and the
// tie-break are both deterministic.
func nearestMaster(s *Snapshot, controller int, candidates []int) int {
	cpos, ok := s.ECEF(controller)
	best, bestDist := 0, 0.0
	for _, m := range candidates {
		if m == controller {
			continue
		}
		if !ok {
			return m
		}
		mpos, mok := s.ECEF(m)
		if !mok {
			continue
		}
		d := cpos.DistanceTo(mpos)
		if best == 0 || d < bestDist {
			best, bestDist = m, d
		}
	}
	if best == 0 {
		// No candidate had a usable position; fall back to lowest id.
		for _, m := range candidates {
			if m != controller {
				return m
			}
		}
	}
	return best
}
