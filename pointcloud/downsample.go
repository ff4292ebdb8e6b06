package pointcloud

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// VoxelCoords stores voxel coordinates of a down-sampling grid.
type VoxelCoords struct {
	I, J, K int64
}

// GetVoxelCoordinates computes voxel coordinates in a grid of voxelSize anchored at ptMin.
func GetVoxelCoordinates(pt, ptMin r3.Vector, voxelSize float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor((pt.X - ptMin.X) / voxelSize)),
		J: int64(math.Floor((pt.Y - ptMin.Y) / voxelSize)),
		K: int64(math.Floor((pt.Z - ptMin.Z) / voxelSize)),
	}
}

// VoxelDownSample replaces the finite points falling into each voxel of side voxelSize by their
// centroid. The grid is anchored at the minimum corner of the points and the output is ordered
// by voxel coordinates.
func VoxelDownSample(points []r3.Vector, voxelSize float64) ([]r3.Vector, error) {
	if !(voxelSize > 0) {
		return nil, errors.Errorf("voxel size must be positive, got %v", voxelSize)
	}
	ptMin, _, ok := BoundingBox(points)
	if !ok {
		return nil, nil
	}

	type accumulator struct {
		sum r3.Vector
		n   int
	}
	voxels := map[VoxelCoords]*accumulator{}
	for _, p := range points {
		if !isFinite(p) {
			continue
		}
		coords := GetVoxelCoordinates(p, ptMin, voxelSize)
		acc, ok := voxels[coords]
		if !ok {
			acc = &accumulator{}
			voxels[coords] = acc
		}
		acc.sum = acc.sum.Add(p)
		acc.n++
	}

	keys := make([]VoxelCoords, 0, len(voxels))
	for k := range voxels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].I != keys[b].I {
			return keys[a].I < keys[b].I
		}
		if keys[a].J != keys[b].J {
			return keys[a].J < keys[b].J
		}
		return keys[a].K < keys[b].K
	})

	out := make([]r3.Vector, len(keys))
	for i, k := range keys {
		acc := voxels[k]
		out[i] = acc.sum.Mul(1 / float64(acc.n))
	}
	return out, nil
}
