package model

import "time"

// SlotMetrics is the per-slot record appended to the run-scoped metrics
// sequence. One record exists for every completed slot, including slots
// flagged inconsistent.
type SlotMetrics struct {
	Slot      int       `json:"slot"`
	Timestamp time.Time `json:"timestamp"`
	// Nodes and Domains count the nodes present and the distinct
	// domains with at least one member.
	Nodes   int `json:"num_nodes"`
	Domains int `json:"num_domains"`
	// Remaps counts the controller reassignments detected against the
	// previous slot.
	Remaps int `json:"remappings"`
	// Directives and FlowRules count the emitter output for the slot;
	// both are 0 when the slot was flagged inconsistent.
	Directives int `json:"directives"`
	FlowRules  int `json:"flow_rules"`
	// Inconsistent marks a slot whose hierarchy failed validation.
	// Detail carries the validation failure, empty otherwise.
	Inconsistent bool   `json:"inconsistent"`
	Detail       string `json:"detail,omitempty"`
}

// RunSummary aggregates a finished run.
type RunSummary struct {
	Slots             int     `json:"slots"`
	TotalRemaps       int     `json:"total_remappings"`
	MeanDomains       float64 `json:"mean_domains_per_slot"`
	PeakDomains       int     `json:"peak_domains"`
	InconsistentSlots int     `json:"inconsistent_slots"`
	TotalFlowRules    int     `json:"total_flow_rules"`
}
