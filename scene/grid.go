package scene

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/poserefine/octree"
	"go.viam.com/poserefine/pointcloud"
	"go.viam.com/poserefine/registration"
	"go.viam.com/poserefine/voxel"
)

// BuildInstanceGrid labels a cube of side extents centered on the instance's masked points. The
// cube's min corner is snapped down to the pitch lattice and it holds ceil(extents/pitch) voxels
// per axis. Each voxel center gets the instance id if the instance's octree reports it occupied,
// else the id of the first other instance in ascending order that does, else background if the
// background octree does; otherwise it is free if any octree observed it free and unknown if none
// did.
func BuildInstanceGrid(
	octrees LabelOctrees,
	pitch float64,
	cloud *pointcloud.Organized,
	mask []bool,
	instanceID int32,
	extents float64,
	threshold float64,
) (*voxel.Grid, r3.Vector, voxel.Dims, error) {
	if instanceID <= 0 || instanceID > voxel.MaxInstanceID {
		return nil, r3.Vector{}, voxel.Dims{}, errors.Errorf("instance id %d out of range [1, %d]", instanceID, voxel.MaxInstanceID)
	}
	if !(pitch > 0) || !(extents > 0) {
		return nil, r3.Vector{}, voxel.Dims{}, registration.NewDegenerateInputError(instanceID,
			"pitch %v and extents %v must be positive", pitch, extents)
	}
	target, ok := octrees[instanceID]
	if !ok {
		return nil, r3.Vector{}, voxel.Dims{}, errors.Errorf("no octree for instance %d", instanceID)
	}
	background, ok := octrees[0]
	if !ok {
		return nil, r3.Vector{}, voxel.Dims{}, errors.New("no background octree")
	}

	points, err := cloud.Masked(mask)
	if err != nil {
		return nil, r3.Vector{}, voxel.Dims{}, err
	}
	center, n := pointcloud.NaNMean(points)
	if n == 0 {
		return nil, r3.Vector{}, voxel.Dims{}, registration.NewDegenerateInputError(instanceID, "instance mask has no valid points")
	}

	half := extents / 2
	aabbMin := r3.Vector{
		X: math.Floor((center.X-half)/pitch) * pitch,
		Y: math.Floor((center.Y-half)/pitch) * pitch,
		Z: math.Floor((center.Z-half)/pitch) * pitch,
	}
	side := int(math.Ceil(extents / pitch))
	shape := voxel.Dims{side, side, side}
	grid, err := voxel.NewGrid(voxel.Lattice{Pitch: pitch, Origin: aabbMin, Dims: shape}, voxel.LabelUnknown)
	if err != nil {
		return nil, r3.Vector{}, voxel.Dims{}, err
	}

	others := lo.Filter(lo.Keys(octrees), func(id int32, _ int) bool { return id != 0 && id != instanceID })
	sort.Slice(others, func(a, b int) bool { return others[a] < others[b] })
	ordered := make([]octree.Querier, 0, len(others)+2)
	labels := make([]uint8, 0, len(others)+2)
	ordered = append(ordered, target)
	labels = append(labels, uint8(instanceID))
	for _, id := range others {
		if id > voxel.MaxInstanceID {
			continue
		}
		ordered = append(ordered, octrees[id])
		labels = append(labels, uint8(id))
	}
	ordered = append(ordered, background)
	labels = append(labels, voxel.LabelBackground)

	for idx := range grid.Labels {
		p := grid.Center(grid.Unravel(idx))
		label := voxel.LabelUnknown
		for i, tree := range ordered {
			state := tree.QueryLabel(p, threshold)
			if state == octree.Occupied {
				label = labels[i]
				break
			}
			if state == octree.Free {
				label = voxel.LabelFree
			}
		}
		grid.Labels[idx] = label
	}
	return grid, aabbMin, shape, nil
}

// TargetGrid marks the voxels labeled instanceID.
func TargetGrid(grid *voxel.Grid, instanceID int32) *voxel.FloatGrid {
	return grid.Indicator(func(label uint8) bool { return int32(label) == instanceID })
}

// NoEntryGrid marks the voxels an instance must not overlap: free space and space occupied by the
// background or any other instance.
func NoEntryGrid(grid *voxel.Grid, instanceID int32) *voxel.FloatGrid {
	return grid.Indicator(func(label uint8) bool {
		return label != voxel.LabelUnknown && int32(label) != instanceID
	})
}
