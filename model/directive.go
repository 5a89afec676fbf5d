package model

import (
	"encoding/json"
	"fmt"
)

// FlowRuleKind distinguishes the two rule families a directive carries.
type FlowRuleKind int

const (
	// RuleIntraDomain permits direct traffic between two domain members.
	RuleIntraDomain FlowRuleKind = iota
	// RuleEgress routes a member's out-of-domain traffic via DstID
	// (the domain controller, or the controller's master).
	RuleEgress
)

func (k FlowRuleKind) String() string {
	if k == RuleEgress {
		return "EGRESS"
	}
	return "INTRA_DOMAIN"
}

// MarshalJSON renders the kind under its wire name.
func (k FlowRuleKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON accepts the wire names produced by MarshalJSON.
func (k *FlowRuleKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "INTRA_DOMAIN":
		*k = RuleIntraDomain
	case "EGRESS":
		*k = RuleEgress
	default:
		return fmt.Errorf("unknown flow rule kind %q", s)
	}
	return nil
}

// FlowRule is one forwarding instruction inside a directive.
type FlowRule struct {
	Kind  FlowRuleKind `json:"kind"`
	SrcID int          `json:"src_id"`
	DstID int          `json:"dst_id"`
	// DelayHintMs estimates the one-way propagation delay between the
	// endpoints in milliseconds, 0 when either position is unknown.
	DelayHintMs float64 `json:"delay_hint_ms,omitempty"`
}

// FlowDirective is the forwarding scope for one domain: install rules
// so any two members reach each other directly, and route traffic
// destined outside the domain through the controller. Directives are
// handed to the control plane as ordered, idempotent units.
type FlowDirective struct {
	DomainID     int `json:"domain_id"`
	ControllerID int `json:"controller_id"`
	// MasterID is the master the controller reports to, 0 when none.
	MasterID int `json:"master_id,omitempty"`
	// Members holds the member node ids in ascending order.
	Members []int      `json:"members"`
	Rules   []FlowRule `json:"rules"`
}
