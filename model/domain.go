package model

// UnassignedDomain is the reserved domain id for nodes that belong to
// no administrative domain in the current slot.
const UnassignedDomain = 0

// Domain is an administrative grouping of nodes for one slot.
type Domain struct {
	ID int
	// ControllerID is the member node acting as domain controller,
	// 0 when the domain has no resolvable controller.
	ControllerID int
	// Members holds the member node ids in ascending order.
	Members []int
}

// HasMember reports whether id is in the member set.
func (d Domain) HasMember(id int) bool {
	for _, m := range d.Members {
		if m == id {
			return true
		}
	}
	return false
}
