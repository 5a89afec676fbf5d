package model

// Hierarchy is the resolved two-level control structure for one slot:
// each domain has exactly one controller, and each controller reports
// to at most one master. The zero master id means "no master".
type Hierarchy struct {
	// DomainController maps domain id -> controller node id.
	DomainController map[int]int
	// MasterOf maps controller node id -> master node id (0 = none).
	MasterOf map[int]int
	// Masters holds the distinct master node ids in ascending order.
	Masters []int
}

// MasterFor returns the master a domain's controller reports to,
// or 0 when the domain is unknown or its controller has no master.
func (h *Hierarchy) MasterFor(domainID int) int {
	c, ok := h.DomainController[domainID]
	if !ok {
		return 0
	}
	return h.MasterOf[c]
}
