package core

import "github.com/signalsfoundry/sagin-domain-engine/model"

// EmitFlowPolicies produces the forwarding-scope directives for one
// slot: one directive per nonzero domain, ascending domain id. Each
// directive carries the intra-domain pair rules (every ordered member
// pair, src then dst ascending) followed by one egress rule per
// member routing out-of-domain traffic via the domain controller; the
// controller's own egress rule points at its master and is omitted
// when it has none. Unassigned nodes receive no rules.
//
// The emitter is a pure function of (snapshot, hierarchy): identical
// inputs always yield the identical directive sequence, so repeated
// installation is idempotent. Delay hints come from the snapshot's
// fixed per-slot ECEF positions and are 0 when either endpoint has no
// position.
func EmitFlowPolicies(s *Snapshot, h *model.Hierarchy) []model.FlowDirective {
	directives := make([]model.FlowDirective, 0, s.DomainCount())

	for _, did := range s.DomainIDs() {
		d, _ := s.Domain(did)
		controller := h.DomainController[did]
		master := h.MasterOf[controller]

		members := make([]int, len(d.Members))
		copy(members, d.Members)

		var rules []model.FlowRule
		for _, src := range members {
			for _, dst := range members {
				if src == dst {
					continue
				}
				rules = append(rules, model.FlowRule{
					Kind:        model.RuleIntraDomain,
					SrcID:       src,
					DstID:       dst,
					DelayHintMs: delayHint(s, src, dst),
				})
			}
		}
		for _, src := range members {
			if src == controller {
				continue
			}
			rules = append(rules, model.FlowRule{
				Kind:        model.RuleEgress,
				SrcID:       src,
				DstID:       controller,
				DelayHintMs: delayHint(s, src, controller),
			})
		}
		if master != 0 {
			rules = append(rules, model.FlowRule{
				Kind:        model.RuleEgress,
				SrcID:       controller,
				DstID:       master,
				DelayHintMs: delayHint(s, controller, master),
			})
		}

		directives = append(directives, model.FlowDirective{
			DomainID:     did,
			ControllerID: controller,
			MasterID:     master,
			Members:      members,
			Rules:        rules,
		})
	}

	return directives
}

// delayHint estimates the one-way propagation delay between two nodes
// in milliseconds, 0 when either position is unknown.
func delayHint(s *Snapshot, a, b int) float64 {
	pa, ok := s.ECEF(a)
	if !ok {
		return 0
	}
	pb, ok := s.ECEF(b)
	if !ok {
		return 0
	}
	return PropagationDelayMs(pa, pb)
}
