package octree

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/poserefine/voxel"
)

// InsertPointCloud casts a ray from origin to every finite point. Leaves holding an endpoint get
// one hit, the other leaves crossed by any ray get one miss. A leaf is counted at most once per
// insertion and endpoints win over traversal. Rays are clipped to the octree.
func (o *OccupancyOctree) InsertPointCloud(points []r3.Vector, origin r3.Vector) error {
	originKey, ok := o.keyOf(origin)
	if !ok {
		return errors.Errorf("sensor origin %v is outside the octree", origin)
	}

	occupied := map[key]struct{}{}
	for _, p := range points {
		if !voxel.IsFinite(p) {
			continue
		}
		if k, ok := o.keyOf(p); ok {
			occupied[k] = struct{}{}
		}
	}

	free := map[key]struct{}{}
	skipped := 0
	for _, p := range points {
		if !voxel.IsFinite(p) {
			skipped++
			continue
		}
		o.castRay(origin, originKey, p, func(k key) {
			if _, hit := occupied[k]; !hit {
				free[k] = struct{}{}
			}
		})
	}

	for k := range free {
		if err := o.UpdateCell(o.keyCenter(k), false); err != nil {
			return err
		}
	}
	for k := range occupied {
		if err := o.UpdateCell(o.keyCenter(k), true); err != nil {
			return err
		}
	}
	o.logger.Debugw("inserted point cloud",
		"points", len(points), "skipped", skipped, "occupied", len(occupied), "free", len(free), "leaves", o.size)
	return nil
}

// castRay visits the leaves crossed by the segment from start to end, excluding the leaf holding
// end, with the voxel traversal of Amanatides and Woo.
func (o *OccupancyOctree) castRay(start r3.Vector, startKey key, end r3.Vector, visit func(key)) {
	endKey, _ := o.keyOf(end)
	if startKey == endKey {
		return
	}
	dir := end.Sub(start)
	from := [3]float64{start.X, start.Y, start.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}
	lo := [3]float64{o.min.X, o.min.Y, o.min.Z}

	var step [3]int
	var tMax, tDelta [3]float64
	for axis := 0; axis < 3; axis++ {
		switch {
		case d[axis] > 0:
			step[axis] = 1
			boundary := lo[axis] + float64(startKey[axis]+1)*o.resolution
			tMax[axis] = (boundary - from[axis]) / d[axis]
			tDelta[axis] = o.resolution / d[axis]
		case d[axis] < 0:
			step[axis] = -1
			boundary := lo[axis] + float64(startKey[axis])*o.resolution
			tMax[axis] = (boundary - from[axis]) / d[axis]
			tDelta[axis] = -o.resolution / d[axis]
		default:
			tMax[axis] = math.Inf(1)
			tDelta[axis] = math.Inf(1)
		}
	}

	maxSteps := 3 << o.depth
	current := startKey
	for i := 0; i < maxSteps; i++ {
		if current == endKey || !o.validKey(current) {
			return
		}
		visit(current)

		axis := 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		if tMax[axis] > 1 {
			return
		}
		current[axis] += step[axis]
		tMax[axis] += tDelta[axis]
	}
}
