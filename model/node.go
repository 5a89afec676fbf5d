package model

// NodeType classifies a SAGIN node by the network layer it lives in.
type NodeType int

const (
	NodeTypeUnknown NodeType = iota
	NodeTypeMasterSat          // MEO coordination satellite, master-controller eligible
	NodeTypeLEOSat             // LEO satellite
	NodeTypeGround             // terrestrial ground station
	NodeTypeHAPS               // high-altitude platform station
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeMasterSat:
		return "MASTER_SAT"
	case NodeTypeLEOSat:
		return "LEO_SAT"
	case NodeTypeGround:
		return "GROUND"
	case NodeTypeHAPS:
		return "HAPS"
	default:
		return "UNKNOWN"
	}
}

// Geodetic is a position in geodetic coordinates.
type Geodetic struct {
	// LatDeg and LonDeg are in degrees, north/east positive.
	LatDeg float64
	LonDeg float64
	// AltKm is the altitude above the reference ellipsoid in kilometres.
	AltKm float64
}

// Node is one SAGIN element (satellite, HAPS or ground switch) as it
// exists in a single time slot. The ID is the only attribute guaranteed
// stable across slots.
type Node struct {
	ID   int
	Name string
	Type NodeType

	// Position is the node's geodetic position for the current slot,
	// nil when the feed carries no position for it.
	Position *Geodetic
}
