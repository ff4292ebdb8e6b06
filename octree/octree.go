// Package octree implements an occupancy octree that records ray cast hits and misses from a
// sensor and answers occupied, free or unknown queries about points in space.
package octree

import (
	"github.com/golang/geo/r3"
)

// Each node in the octree is either an internal node which links to other nodes, an unobserved
// leaf, or an observed leaf holding hit and miss counts at the octree's resolution.
const (
	InternalNode = NodeType(iota)
	LeafNodeEmpty
	LeafNodeFilled
)

// NodeType represents the possible types of nodes in an octree.
type NodeType uint8

// State is the answer to an occupancy query.
type State uint8

// Occupancy query answers.
const (
	Unknown State = iota
	Free
	Occupied
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Occupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// Querier is the only capability the grid builder needs from a spatial index. Threshold is the
// fraction of hits among all observations above which a cell counts as occupied.
type Querier interface {
	QueryLabel(p r3.Vector, threshold float64) State
}
