package core

import (
	"reflect"
	"testing"

	"github.com/signalsfoundry/sagin-domain-engine/model"
)

func emitterFixture(t *testing.T) (*Snapshot, *model.Hierarchy) {
	t.Helper()
	s := mustSnapshot(t, 4, []SlotRecord{
		withPos(trec(1, 0, 0, model.NodeTypeMasterSat), 0, 10, 8000),
		withPos(trec(2, 1, 2, model.NodeTypeLEOSat), 5, 12, 550),
		withPos(trec(3, 1, 2, model.NodeTypeGround), 5.2, 12.3, 0.2),
		trec(4, 2, 4, model.NodeTypeHAPS),
		trec(5, 2, 4, model.NodeTypeLEOSat),
		trec(9, 0, 0, model.NodeTypeGround),
	})
	h, err := ResolveHierarchy(s)
	if err != nil {
		t.Fatalf("ResolveHierarchy() error = %v", err)
	}
	return s, h
}

func TestEmitFlowPoliciesShape(t *testing.T) {
	s, h := emitterFixture(t)

	directives := EmitFlowPolicies(s, h)
	if len(directives) != 2 {
		t.Fatalf("EmitFlowPolicies() returned %d directives, want 2", len(directives))
	}

	d1 := directives[0]
	if d1.DomainID != 1 || d1.ControllerID != 2 || d1.MasterID != 1 {
		t.Fatalf("directive[0] = %+v, want domain 1 controller 2 master 1", d1)
	}
	if !reflect.DeepEqual(d1.Members, []int{2, 3}) {
		t.Fatalf("directive[0].Members = %v, want [2 3]", d1.Members)
	}
	// Pair rules (2,3) and (3,2), egress 3->2, controller egress 2->1.
	wantKinds := []struct {
		kind     model.FlowRuleKind
		src, dst int
	}{
		{model.RuleIntraDomain, 2, 3},
		{model.RuleIntraDomain, 3, 2},
		{model.RuleEgress, 3, 2},
		{model.RuleEgress, 2, 1},
	}
	if len(d1.Rules) != len(wantKinds) {
		t.Fatalf("directive[0] has %d rules, want %d: %+v", len(d1.Rules), len(wantKinds), d1.Rules)
	}
	for i, w := range wantKinds {
		r := d1.Rules[i]
		if r.Kind != w.kind || r.SrcID != w.src || r.DstID != w.dst {
			t.Errorf("rule[%d] = %+v, want kind=%v %d->%d", i, r, w.kind, w.src, w.dst)
		}
	}

	// All three endpoints carry positions, so every rule in domain 1
	// gets a positive delay hint.
	for i, r := range d1.Rules {
		if r.DelayHintMs <= 0 {
			t.Errorf("rule[%d].DelayHintMs = %v, want > 0", i, r.DelayHintMs)
		}
	}

	// Domain 2 has no positions: hints are 0, egress to the inferred
	// master (node 1) still present for its controller.
	d2 := directives[1]
	if d2.DomainID != 2 || d2.ControllerID != 4 {
		t.Fatalf("directive[1] = %+v, want domain 2 controller 4", d2)
	}
	for i, r := range d2.Rules {
		if r.DelayHintMs != 0 {
			t.Errorf("domain 2 rule[%d].DelayHintMs = %v, want 0", i, r.DelayHintMs)
		}
	}
	last := d2.Rules[len(d2.Rules)-1]
	if last.Kind != model.RuleEgress || last.SrcID != 4 || last.DstID != 1 {
		t.Errorf("domain 2 controller egress = %+v, want 4->1", last)
	}
}

// Unassigned nodes (domain 0) must appear in no directive.
func TestEmitFlowPoliciesSkipsUnassigned(t *testing.T) {
	s, h := emitterFixture(t)

	for _, d := range EmitFlowPolicies(s, h) {
		for _, m := range d.Members {
			if m == 9 {
				t.Fatalf("unassigned node 9 appears in directive for domain %d", d.DomainID)
			}
		}
		for _, r := range d.Rules {
			if r.SrcID == 9 || r.DstID == 9 {
				t.Fatalf("unassigned node 9 appears in rule %+v", r)
			}
		}
	}
}

func TestEmitFlowPoliciesIdempotent(t *testing.T) {
	s, h := emitterFixture(t)

	first := EmitFlowPolicies(s, h)
	second := EmitFlowPolicies(s, h)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("EmitFlowPolicies() differs across calls:\n%+v\n%+v", first, second)
	}
}

func TestEmitFlowPoliciesControllerWithoutMaster(t *testing.T) {
	s := mustSnapshot(t, 1, []SlotRecord{
		trec(1, 1, 1, model.NodeTypeLEOSat),
		trec(2, 1, 1, model.NodeTypeLEOSat),
	})
	h, err := ResolveHierarchy(s)
	if err != nil {
		t.Fatalf("ResolveHierarchy() error = %v", err)
	}

	directives := EmitFlowPolicies(s, h)
	if len(directives) != 1 {
		t.Fatalf("EmitFlowPolicies() returned %d directives, want 1", len(directives))
	}
	for _, r := range directives[0].Rules {
		if r.Kind == model.RuleEgress && r.SrcID == 1 {
			t.Fatalf("controller egress %+v emitted despite no master", r)
		}
	}
}
