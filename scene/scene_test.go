package scene

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/poserefine/logging"
	"go.viam.com/poserefine/octree"
	"go.viam.com/poserefine/pointcloud"
	"go.viam.com/poserefine/registration"
	"go.viam.com/poserefine/voxel"
)

type querierFunc func(p r3.Vector) octree.State

func (f querierFunc) QueryLabel(p r3.Vector, threshold float64) octree.State {
	return f(p)
}

func twoPointCloud(t *testing.T) (*pointcloud.Organized, []bool) {
	t.Helper()
	cloud, err := pointcloud.NewOrganized(3, 1, []r3.Vector{
		{X: 0.01, Y: 0.01, Z: 1.01},
		{X: -0.01, Y: -0.01, Z: 0.99},
		pointcloud.NaNPoint(),
	})
	test.That(t, err, test.ShouldBeNil)
	return cloud, []bool{true, true, true}
}

func TestBuildInstanceGridPrecedence(t *testing.T) {
	octrees := LabelOctrees{
		2: querierFunc(func(p r3.Vector) octree.State {
			switch {
			case p.X < 0 && p.Z < 1:
				return octree.Occupied
			case p.Z < 1:
				return octree.Free
			}
			return octree.Unknown
		}),
		1: querierFunc(func(p r3.Vector) octree.State {
			if p.Y < 0 {
				return octree.Occupied
			}
			return octree.Unknown
		}),
		3: querierFunc(func(p r3.Vector) octree.State {
			if p.Y < 0 && p.X > 0 {
				return octree.Occupied
			}
			return octree.Unknown
		}),
		0: querierFunc(func(p r3.Vector) octree.State {
			if p.Z > 1.1 {
				return octree.Occupied
			}
			return octree.Free
		}),
	}
	cloud, mask := twoPointCloud(t)

	grid, aabbMin, shape, err := BuildInstanceGrid(octrees, 0.125, cloud, mask, 2, 0.5, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, aabbMin, test.ShouldResemble, r3.Vector{X: -0.25, Y: -0.25, Z: 0.75})
	test.That(t, shape, test.ShouldResemble, voxel.Dims{4, 4, 4})
	test.That(t, grid.Dims, test.ShouldResemble, shape)

	at := func(i, j, k int) uint8 { return grid.At(voxel.Coords{I: i, J: j, K: k}) }
	// x < 0, z < 1 belongs to the instance even where another instance is occupied
	test.That(t, at(0, 0, 0), test.ShouldEqual, uint8(2))
	test.That(t, at(1, 3, 1), test.ShouldEqual, uint8(2))
	// lowest other id wins
	test.That(t, at(3, 0, 0), test.ShouldEqual, uint8(1))
	test.That(t, at(0, 0, 3), test.ShouldEqual, uint8(1))
	// background
	test.That(t, at(3, 3, 3), test.ShouldEqual, voxel.LabelBackground)
	// free when nobody is occupied
	test.That(t, at(3, 3, 2), test.ShouldEqual, voxel.LabelFree)

	target := TargetGrid(grid, 2)
	test.That(t, target.Sum(), test.ShouldEqual, float64(grid.Count(2)))
	noEntry := NoEntryGrid(grid, 2)
	test.That(t, noEntry.Values[grid.Index(voxel.Coords{I: 0, J: 0, K: 0})], test.ShouldEqual, 0.)
	test.That(t, noEntry.Values[grid.Index(voxel.Coords{I: 3, J: 0, K: 0})], test.ShouldEqual, 1.)
	test.That(t, noEntry.Values[grid.Index(voxel.Coords{I: 3, J: 3, K: 2})], test.ShouldEqual, 1.)
	test.That(t, noEntry.Lattice, test.ShouldResemble, target.Lattice)
}

func TestBuildInstanceGridUnknown(t *testing.T) {
	unknown := querierFunc(func(p r3.Vector) octree.State { return octree.Unknown })
	cloud, mask := twoPointCloud(t)
	grid, _, _, err := BuildInstanceGrid(LabelOctrees{0: unknown, 1: unknown}, 0.125, cloud, mask, 1, 0.5, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grid.Count(voxel.LabelUnknown), test.ShouldEqual, grid.Len())
	test.That(t, NoEntryGrid(grid, 1).Sum(), test.ShouldEqual, 0.)
}

func TestBuildInstanceGridErrors(t *testing.T) {
	unknown := querierFunc(func(p r3.Vector) octree.State { return octree.Unknown })
	octrees := LabelOctrees{0: unknown, 1: unknown}
	cloud, mask := twoPointCloud(t)

	_, _, _, err := BuildInstanceGrid(octrees, 0.125, cloud, []bool{false, false, true}, 1, 0.5, 0.5)
	test.That(t, registration.IsDegenerateInput(err), test.ShouldBeTrue)

	_, _, _, err = BuildInstanceGrid(octrees, 0.125, cloud, mask, 1, 0, 0.5)
	test.That(t, registration.IsDegenerateInput(err), test.ShouldBeTrue)

	_, _, _, err = BuildInstanceGrid(octrees, 0.125, cloud, mask, 4, 0.5, 0.5)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, registration.IsDegenerateInput(err), test.ShouldBeFalse)

	_, _, _, err = BuildInstanceGrid(octrees, 0.125, cloud, mask, 0, 0.5, 0.5)
	test.That(t, err, test.ShouldNotBeNil)
}

func planeCloud(t *testing.T) (*pointcloud.Organized, []int32) {
	t.Helper()
	const n = 10
	points := make([]r3.Vector, 0, n*n)
	labels := make([]int32, 0, n*n)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			points = append(points, r3.Vector{
				X: float64(col-n/2)*0.005 + 0.0013,
				Y: float64(row-n/2)*0.005 + 0.0017,
				Z: 0.5037,
			})
			if col < n/2 {
				labels = append(labels, 1)
			} else {
				labels = append(labels, 0)
			}
		}
	}
	labels[0] = -2
	cloud, err := pointcloud.NewOrganized(n, n, points)
	test.That(t, err, test.ShouldBeNil)
	return cloud, labels
}

func TestBuildOctrees(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud, labels := planeCloud(t)

	octrees, err := BuildOctrees(context.Background(), cloud, labels, []int32{1}, 0.01, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(octrees), test.ShouldEqual, 2)

	instancePoint := cloud.At(5, 2)
	backgroundPoint := cloud.At(5, 7)
	test.That(t, octrees[1].QueryLabel(instancePoint, 0.5), test.ShouldEqual, octree.Occupied)
	test.That(t, octrees[0].QueryLabel(backgroundPoint, 0.5), test.ShouldEqual, octree.Occupied)
	test.That(t, octrees[1].QueryLabel(instancePoint.Mul(0.5), 0.5), test.ShouldEqual, octree.Free)
	test.That(t, octrees[0].QueryLabel(backgroundPoint.Mul(0.5), 0.5), test.ShouldEqual, octree.Free)
	test.That(t, octrees[1].QueryLabel(instancePoint.Add(r3.Vector{Z: 0.1}), 0.5), test.ShouldEqual, octree.Unknown)

	_, err = BuildOctrees(context.Background(), cloud, labels[1:], []int32{1}, 0.01, logger)
	test.That(t, err, test.ShouldNotBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = BuildOctrees(ctx, cloud, labels, []int32{1}, 0.01, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
