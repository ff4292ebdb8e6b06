package voxel

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Occupancy is a soft occupancy grid produced from a point set. Each voxel keeps the largest
// contribution of any point together with that point's index and the derivative of the value
// with respect to the point position, which is what Backward routes gradients through.
type Occupancy struct {
	Lattice
	Values []float64

	source    []int32
	grad      []r3.Vector
	numPoints int
}

func newOccupancy(l Lattice, numPoints int) *Occupancy {
	occ := &Occupancy{
		Lattice:   l,
		Values:    make([]float64, l.Len()),
		source:    make([]int32, l.Len()),
		grad:      make([]r3.Vector, l.Len()),
		numPoints: numPoints,
	}
	for i := range occ.source {
		occ.source[i] = -1
	}
	return occ
}

func (o *Occupancy) offer(idx, point int, value float64, grad r3.Vector) {
	if value > o.Values[idx] {
		o.Values[idx] = value
		o.source[idx] = int32(point)
		o.grad[idx] = grad
	}
}

// Mass is the total occupancy.
func (o *Occupancy) Mass() float64 {
	return floats.Sum(o.Values)
}

// Dot returns the sum of occupancy weighted by weights, which must have one entry per voxel.
func (o *Occupancy) Dot(weights []float64) float64 {
	return floats.Dot(o.Values, weights)
}

// Source returns the index of the point that produced voxel idx, or -1 if the voxel is empty.
func (o *Occupancy) Source(idx int) int {
	return int(o.source[idx])
}

// Backward converts the gradient of a scalar with respect to every voxel value into the gradient
// with respect to every input point.
func (o *Occupancy) Backward(dValues []float64) ([]r3.Vector, error) {
	if len(dValues) != len(o.Values) {
		return nil, errors.Errorf("expected %d voxel gradients, got %d", len(o.Values), len(dValues))
	}
	out := make([]r3.Vector, o.numPoints)
	for i, src := range o.source {
		if src < 0 || dValues[i] == 0 {
			continue
		}
		out[src] = out[src].Add(o.grad[i].Mul(dValues[i]))
	}
	return out, nil
}

// span returns the voxel range whose centers may lie within radius voxel units of u.
func (l Lattice) span(u r3.Vector, radius float64) (lo, hi Coords, ok bool) {
	clamp := func(from, to float64, dim int) (int, int, bool) {
		a := int(math.Max(math.Ceil(from), 0))
		b := int(math.Min(math.Floor(to), float64(dim-1)))
		return a, b, a <= b
	}
	var okI, okJ, okK bool
	lo.I, hi.I, okI = clamp(u.X-radius, u.X+radius, l.Dims[0])
	lo.J, hi.J, okJ = clamp(u.Y-radius, u.Y+radius, l.Dims[1])
	lo.K, hi.K, okK = clamp(u.Z-radius, u.Z+radius, l.Dims[2])
	return lo, hi, okI && okJ && okK
}

// Voxelize splats points into a soft occupancy grid. A point contributes 1 - d/connectivity to
// every voxel whose center is closer than connectivity voxel units, d being that distance in voxel
// units, and each voxel keeps the largest contribution. Points that are not finite or that fall
// outside the lattice are dropped.
func Voxelize(points []r3.Vector, l Lattice, connectivity int) (*Occupancy, error) {
	if connectivity < 1 {
		return nil, errors.Errorf("connectivity must be at least 1, got %d", connectivity)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	occ := newOccupancy(l, len(points))
	c := float64(connectivity)
	for pi, p := range points {
		if !IsFinite(p) || !l.Contains(l.CoordsOf(p)) {
			continue
		}
		u := l.Continuous(p)
		lo, hi, ok := l.span(u, c)
		if !ok {
			continue
		}
		for i := lo.I; i <= hi.I; i++ {
			for j := lo.J; j <= hi.J; j++ {
				for k := lo.K; k <= hi.K; k++ {
					diff := u.Sub(r3.Vector{X: float64(i), Y: float64(j), Z: float64(k)})
					d := diff.Norm()
					if d >= c {
						continue
					}
					var grad r3.Vector
					if d > 0 {
						grad = diff.Mul(-1 / (c * d * l.Pitch))
					}
					occ.offer(l.Index(Coords{i, j, k}), pi, 1-d/c, grad)
				}
			}
		}
	}
	return occ, nil
}

// VoxelizeHard marks every voxel whose center is within threshold voxel units of a point.
func VoxelizeHard(points []r3.Vector, l Lattice, threshold float64) ([]bool, error) {
	if !(threshold > 0) {
		return nil, errors.Errorf("threshold must be positive, got %v", threshold)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	out := make([]bool, l.Len())
	for _, p := range points {
		if !IsFinite(p) {
			continue
		}
		u := l.Continuous(p)
		lo, hi, ok := l.span(u, threshold)
		if !ok {
			continue
		}
		for i := lo.I; i <= hi.I; i++ {
			for j := lo.J; j <= hi.J; j++ {
				for k := lo.K; k <= hi.K; k++ {
					if u.Sub(r3.Vector{X: float64(i), Y: float64(j), Z: float64(k)}).Norm() <= threshold {
						out[l.Index(Coords{i, j, k})] = true
					}
				}
			}
		}
	}
	return out, nil
}
