package voxel

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// VoxelizeSDF builds a pseudo occupancy grid from points carrying signed distances. A point with
// distance s fully occupies the ball of radius s around it and fades out linearly over the next
// threshold voxels: a voxel whose center is r away gets clamp(1 - (r-s)/(threshold*pitch), 0, 1).
// Negative distances are treated as zero. Points that are not finite or that fall outside the
// lattice are dropped.
func VoxelizeSDF(points []r3.Vector, sdf []float64, l Lattice, threshold float64) (*Occupancy, error) {
	if len(points) != len(sdf) {
		return nil, errors.Errorf("got %d points but %d signed distances", len(points), len(sdf))
	}
	if !(threshold > 0) {
		return nil, errors.Errorf("threshold must be positive, got %v", threshold)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	occ := newOccupancy(l, len(points))
	band := threshold * l.Pitch
	for pi, p := range points {
		if !IsFinite(p) || !l.Contains(l.CoordsOf(p)) || math.IsNaN(sdf[pi]) || math.IsInf(sdf[pi], 0) {
			continue
		}
		s := math.Max(sdf[pi], 0)
		lo, hi, ok := l.span(l.Continuous(p), (s+band)/l.Pitch)
		if !ok {
			continue
		}
		for i := lo.I; i <= hi.I; i++ {
			for j := lo.J; j <= hi.J; j++ {
				for k := lo.K; k <= hi.K; k++ {
					c := Coords{i, j, k}
					diff := p.Sub(l.Center(c))
					r := diff.Norm()
					value := 1 - (r-s)/band
					if value <= 0 {
						continue
					}
					var grad r3.Vector
					if value >= 1 {
						value = 1
					} else {
						grad = diff.Mul(-1 / (band * r))
					}
					occ.offer(l.Index(c), pi, value, grad)
				}
			}
		}
	}
	return occ, nil
}
