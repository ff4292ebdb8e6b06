package octree

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/poserefine/logging"
	"go.viam.com/poserefine/voxel"
)

// maxDepth bounds the number of subdivisions between the root and the leaves.
const maxDepth = 16

type key [3]int

// OccupancyOctree is a cube of side resolution*2^depth recursively split into octants down to
// leaves of side resolution. Leaves are only allocated once observed.
type OccupancyOctree struct {
	logger     logging.Logger
	root       *basicOctree
	resolution float64
	depth      int
	min        r3.Vector
	size       int
}

// basicOctree is one node of the tree with its center and side length.
type basicOctree struct {
	node       basicOctreeNode
	center     r3.Vector
	sideLength float64
}

type basicOctreeNode struct {
	nodeType NodeType
	children []*basicOctree
	hits     uint32
	misses   uint32
}

// New creates an empty octree centered at center, with leaves of side resolution, large enough to
// hold a cube of side sideLength.
func New(center r3.Vector, sideLength, resolution float64, logger logging.Logger) (*OccupancyOctree, error) {
	if !(sideLength > 0) {
		return nil, errors.Errorf("invalid side length (%.2f) for octree", sideLength)
	}
	if !(resolution > 0) {
		return nil, errors.Errorf("invalid resolution (%.4f) for octree", resolution)
	}
	depth := 0
	for resolution*math.Exp2(float64(depth)) < sideLength {
		depth++
		if depth > maxDepth {
			return nil, errors.Errorf("side length %.2f needs more than %d levels at resolution %.4f", sideLength, maxDepth, resolution)
		}
	}
	side := resolution * math.Exp2(float64(depth))
	half := r3.Vector{X: side / 2, Y: side / 2, Z: side / 2}
	return &OccupancyOctree{
		logger:     logger,
		root:       &basicOctree{node: newLeafNodeEmpty(), center: center, sideLength: side},
		resolution: resolution,
		depth:      depth,
		min:        center.Sub(half),
	}, nil
}

// NewBounding creates an octree whose cube contains every finite point and the sensor origin.
func NewBounding(points []r3.Vector, origin r3.Vector, resolution float64, logger logging.Logger) (*OccupancyOctree, error) {
	lo, hi := origin, origin
	for _, p := range points {
		if !voxel.IsFinite(p) {
			continue
		}
		lo = r3.Vector{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vector{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	extent := hi.Sub(lo)
	side := math.Max(math.Max(extent.X, extent.Y), extent.Z) + 2*resolution
	return New(lo.Add(hi).Mul(0.5), side, resolution, logger)
}

func newLeafNodeEmpty() basicOctreeNode {
	return basicOctreeNode{nodeType: LeafNodeEmpty}
}

func newInternalNode(children []*basicOctree) basicOctreeNode {
	return basicOctreeNode{nodeType: InternalNode, children: children}
}

// Size returns the number of observed leaves.
func (o *OccupancyOctree) Size() int {
	return o.size
}

// Resolution returns the leaf side length.
func (o *OccupancyOctree) Resolution() float64 {
	return o.resolution
}

// SideLength returns the side length of the root cube.
func (o *OccupancyOctree) SideLength() float64 {
	return o.root.sideLength
}

func (o *OccupancyOctree) keyOf(p r3.Vector) (key, bool) {
	u := p.Sub(o.min).Mul(1 / o.resolution)
	k := key{int(math.Floor(u.X)), int(math.Floor(u.Y)), int(math.Floor(u.Z))}
	return k, o.validKey(k)
}

func (o *OccupancyOctree) validKey(k key) bool {
	n := 1 << o.depth
	return k[0] >= 0 && k[1] >= 0 && k[2] >= 0 && k[0] < n && k[1] < n && k[2] < n
}

func (o *OccupancyOctree) keyCenter(k key) r3.Vector {
	return o.min.Add(r3.Vector{X: float64(k[0]) + 0.5, Y: float64(k[1]) + 0.5, Z: float64(k[2]) + 0.5}.Mul(o.resolution))
}

// UpdateCell records one observation of the leaf containing p.
func (o *OccupancyOctree) UpdateCell(p r3.Vector, occupied bool) error {
	if !o.root.checkPointPlacement(p) {
		return errors.New("error point is outside the bounds of this octree")
	}
	leaf := o.root.leaf(p, o.resolution, true)
	if leaf.node.nodeType == LeafNodeEmpty {
		leaf.node.nodeType = LeafNodeFilled
		o.size++
	}
	if occupied {
		leaf.node.hits++
	} else {
		leaf.node.misses++
	}
	return nil
}

// QueryLabel reports the leaf containing p as occupied when hits/(hits+misses) >= threshold, free
// when observed below that, and unknown when never observed or outside the octree.
func (o *OccupancyOctree) QueryLabel(p r3.Vector, threshold float64) State {
	if !o.root.checkPointPlacement(p) {
		return Unknown
	}
	leaf := o.root.leaf(p, o.resolution, false)
	if leaf == nil || leaf.node.nodeType != LeafNodeFilled {
		return Unknown
	}
	total := leaf.node.hits + leaf.node.misses
	if float64(leaf.node.hits)/float64(total) >= threshold {
		return Occupied
	}
	return Free
}

// leaf descends to the leaf containing p, splitting unobserved nodes on the way when create is set.
func (octree *basicOctree) leaf(p r3.Vector, resolution float64, create bool) *basicOctree {
	for current := octree; ; {
		if current.sideLength <= resolution*1.5 {
			return current
		}
		switch current.node.nodeType {
		case InternalNode:
			current = current.node.children[current.childIndex(p)]
		case LeafNodeEmpty:
			if !create {
				return nil
			}
			current.splitIntoOctants()
		case LeafNodeFilled:
			return current
		}
	}
}

// splitIntoOctants turns an unobserved node into an internal node with eight unobserved children.
func (octree *basicOctree) splitIntoOctants() {
	children := make([]*basicOctree, 0, 8)
	newSideLength := octree.sideLength / 2
	for _, i := range []float64{-1, 1} {
		for _, j := range []float64{-1, 1} {
			for _, k := range []float64{-1, 1} {
				centerOffset := r3.Vector{X: i * newSideLength / 2, Y: j * newSideLength / 2, Z: k * newSideLength / 2}
				children = append(children, &basicOctree{
					node:       newLeafNodeEmpty(),
					center:     octree.center.Add(centerOffset),
					sideLength: newSideLength,
				})
			}
		}
	}
	octree.node = newInternalNode(children)
}

// childIndex matches the ordering produced by splitIntoOctants.
func (octree *basicOctree) childIndex(p r3.Vector) int {
	idx := 0
	if p.X >= octree.center.X {
		idx += 4
	}
	if p.Y >= octree.center.Y {
		idx += 2
	}
	if p.Z >= octree.center.Z {
		idx++
	}
	return idx
}

// checkPointPlacement reports whether p lies within the node's cube.
func (octree *basicOctree) checkPointPlacement(p r3.Vector) bool {
	half := octree.sideLength / 2
	return math.Abs(p.X-octree.center.X) <= half &&
		math.Abs(p.Y-octree.center.Y) <= half &&
		math.Abs(p.Z-octree.center.Z) <= half
}
