package registration

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/poserefine/logging"
	"go.viam.com/poserefine/spatialmath"
	"go.viam.com/poserefine/voxel"
)

// cubeGrid returns a grid of side dims whose voxels in [lo, hi] on every axis carry label and
// the rest fill.
func cubeGrid(t *testing.T, pitch float64, origin r3.Vector, dims, lo, hi int, label, fill uint8) *voxel.Grid {
	t.Helper()
	l, err := voxel.NewLattice(pitch, origin, voxel.Dims{dims, dims, dims})
	test.That(t, err, test.ShouldBeNil)
	grid, err := voxel.NewGrid(l, fill)
	test.That(t, err, test.ShouldBeNil)
	for i := lo; i <= hi; i++ {
		for j := lo; j <= hi; j++ {
			for k := lo; k <= hi; k++ {
				grid.Set(voxel.Coords{I: i, J: j, K: k}, label)
			}
		}
	}
	return grid
}

// cubeCenters returns the voxel centers of the cube [lo, hi]^3 of l.
func cubeCenters(l voxel.Lattice, lo, hi int) []r3.Vector {
	var points []r3.Vector
	for i := lo; i <= hi; i++ {
		for j := lo; j <= hi; j++ {
			for k := lo; k <= hi; k++ {
				points = append(points, l.Center(voxel.Coords{I: i, J: j, K: k}))
			}
		}
	}
	return points
}

func TestAdam(t *testing.T) {
	adam, err := NewAdam(4, 0.1, []float64{1, 0.1})
	test.That(t, err, test.ShouldBeNil)

	params := []float64{0, 0, 5, 5}
	test.That(t, adam.UpdateMasked(params, []float64{1, -2, 3, 3}, 2, []bool{true, false}), test.ShouldBeNil)
	test.That(t, adam.Steps(), test.ShouldEqual, 1)
	// the first bias corrected step is alpha times the sign of the gradient
	test.That(t, params[0], test.ShouldAlmostEqual, -0.1, 1e-6)
	test.That(t, params[1], test.ShouldAlmostEqual, 0.01, 1e-6)
	test.That(t, params[2:], test.ShouldResemble, []float64{5, 5})

	test.That(t, adam.Update(params, []float64{0, 0, 0, 0}), test.ShouldBeNil)
	test.That(t, params[2:], test.ShouldResemble, []float64{5, 5})

	test.That(t, adam.Update(params[:3], []float64{0, 0, 0}), test.ShouldNotBeNil)
	test.That(t, adam.UpdateMasked(params, []float64{0, 0, 0, 0}, 3, nil), test.ShouldNotBeNil)

	_, err = NewAdam(4, 0, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRegistrationAligned(t *testing.T) {
	logger := logging.NewTestLogger(t)
	// a power of two pitch keeps voxel centers exact
	target := cubeGrid(t, 0.125, r3.Vector{}, 8, 2, 4, 1, voxel.LabelUnknown)
	source := cubeCenters(target.Lattice, 2, 4)

	reg, err := NewInstanceRegistration(source, target, 1, InstanceConfig{}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reg.Iteration(), test.ShouldEqual, -1)

	initial, err := reg.Evaluate()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, initial.Reward, test.ShouldEqual, 1.)
	test.That(t, initial.Penalty, test.ShouldEqual, 0.)
	test.That(t, initial.Loss, test.ShouldEqual, -1.)

	seq := reg.Sequence(100)
	count := 0
	for seq.Next() {
		count++
		test.That(t, seq.Transform(), test.ShouldNotBeNil)
	}
	test.That(t, seq.Err(), test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 101)
	test.That(t, reg.Iteration(), test.ShouldEqual, 99)

	final, err := reg.Evaluate()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, final.Loss, test.ShouldBeLessThanOrEqualTo, initial.Loss)
	test.That(t, spatialmath.PoseAlmostEqual(reg.Pose(), spatialmath.NewZeroPose(), 1e-9), test.ShouldBeTrue)
}

func TestRegistrationCubeReward(t *testing.T) {
	logger := logging.NewTestLogger(t)
	target := cubeGrid(t, 0.125, r3.Vector{}, 24, 4, 6, 1, voxel.LabelFree)

	rewardAfterStep := func(p r3.Vector) float64 {
		reg, err := NewInstanceRegistration([]r3.Vector{p}, target, 1, InstanceConfig{}, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, reg.Step(), test.ShouldBeNil)
		test.That(t, reg.Iteration(), test.ShouldEqual, 0)
		loss, err := reg.Evaluate()
		test.That(t, err, test.ShouldBeNil)
		return loss.Reward
	}

	centered := rewardAfterStep(target.Center(voxel.Coords{I: 5, J: 5, K: 5}))
	away := rewardAfterStep(target.Center(voxel.Coords{I: 15, J: 5, K: 5}))
	test.That(t, away, test.ShouldEqual, 0.)
	test.That(t, centered, test.ShouldBeGreaterThan, away)
}

func shiftedCube(t *testing.T) (*voxel.Grid, []r3.Vector, spatialmath.Pose) {
	t.Helper()
	// centered on the world origin, a 5 voxel cube inside a free margin
	target := cubeGrid(t, 0.125, r3.Vector{X: -0.5625, Y: -0.5625, Z: -0.5625}, 9, 2, 6, 3, voxel.LabelFree)
	return target, cubeCenters(target.Lattice, 2, 6), spatialmath.NewPoseFromPoint(r3.Vector{X: 0.0375})
}

func TestRegistrationImproves(t *testing.T) {
	logger := logging.NewTestLogger(t)
	target, source, start := shiftedCube(t)

	reg, err := NewInstanceRegistration(source, target, 3, InstanceConfig{WarmStart: &start}, logger)
	test.That(t, err, test.ShouldBeNil)
	initial, err := reg.Evaluate()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, initial.Reward, test.ShouldBeLessThan, 1)
	test.That(t, initial.Penalty, test.ShouldBeGreaterThan, 0)

	test.That(t, reg.Step(), test.ShouldBeNil)
	test.That(t, reg.Pose().Translation.X, test.ShouldBeLessThan, start.Translation.X)
	afterOne, err := reg.Evaluate()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, afterOne.Loss, test.ShouldBeLessThan, initial.Loss)

	best := afterOne.Loss
	for i := 0; i < 30; i++ {
		test.That(t, reg.Step(), test.ShouldBeNil)
		loss, err := reg.Evaluate()
		test.That(t, err, test.ShouldBeNil)
		best = math.Min(best, loss.Loss)
	}
	test.That(t, best, test.ShouldBeLessThan, initial.Loss)
	test.That(t, reg.Pose().IsFinite(), test.ShouldBeTrue)
}

func TestRegistrationDegenerate(t *testing.T) {
	logger := logging.NewTestLogger(t)
	target, source, _ := shiftedCube(t)

	_, err := NewInstanceRegistration(nil, target, 3, InstanceConfig{}, logger)
	test.That(t, IsDegenerateInput(err), test.ShouldBeTrue)

	_, err = NewInstanceRegistration(source, target, 4, InstanceConfig{}, logger)
	test.That(t, IsDegenerateInput(err), test.ShouldBeTrue)

	_, err = NewInstanceRegistration(source, target, 0, InstanceConfig{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, IsDegenerateInput(err), test.ShouldBeFalse)

	_, err = NewInstanceRegistration(source, target, 3, InstanceConfig{Connectivity: -1}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	outside := spatialmath.NewPoseFromPoint(r3.Vector{X: 10})
	reg, err := NewInstanceRegistration(source, target, 3, InstanceConfig{WarmStart: &outside}, logger)
	test.That(t, err, test.ShouldBeNil)
	err = reg.Step()
	test.That(t, IsDegenerateInput(err), test.ShouldBeTrue)
	test.That(t, reg.Iteration(), test.ShouldEqual, -1)
	test.That(t, reg.Pose(), test.ShouldResemble, outside)
	test.That(t, reg.Err(), test.ShouldBeNil)
	_, err = reg.Evaluate()
	test.That(t, IsDegenerateInput(err), test.ShouldBeTrue)
}

func TestRegistrationDivergence(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	target, source, start := shiftedCube(t)

	reg, err := NewInstanceRegistration(source, target, 3, InstanceConfig{Alpha: math.Inf(1), WarmStart: &start}, logger)
	test.That(t, err, test.ShouldBeNil)

	err = reg.Step()
	test.That(t, IsNumericDivergence(err), test.ShouldBeTrue)
	test.That(t, reg.Pose(), test.ShouldResemble, start)
	test.That(t, reg.Step(), test.ShouldEqual, err)
	test.That(t, reg.Err(), test.ShouldEqual, err)
	test.That(t, logs.FilterMessage("registration diverged").Len(), test.ShouldEqual, 1)
}

func TestTransformSequence(t *testing.T) {
	logger := logging.NewTestLogger(t)
	target, source, start := shiftedCube(t)

	reg, err := NewInstanceRegistration(source, target, 3, InstanceConfig{WarmStart: &start}, logger)
	test.That(t, err, test.ShouldBeNil)
	seq := reg.Sequence(3)
	test.That(t, seq.Next(), test.ShouldBeTrue)
	test.That(t, seq.Transform().RawMatrix().Data, test.ShouldResemble, start.Matrix().RawMatrix().Data)
	test.That(t, reg.Iteration(), test.ShouldEqual, -1)

	count := 1
	for seq.Next() {
		count++
	}
	test.That(t, count, test.ShouldEqual, 4)
	test.That(t, reg.Iteration(), test.ShouldEqual, 2)
	test.That(t, seq.Next(), test.ShouldBeFalse)
	test.That(t, seq.Err(), test.ShouldBeNil)

	// stopping early leaves the registration where the consumer left it
	early := reg.Sequence(50)
	test.That(t, early.Next(), test.ShouldBeTrue)
	test.That(t, early.Next(), test.ShouldBeTrue)
	test.That(t, reg.Iteration(), test.ShouldEqual, 3)

	diverging, err := NewInstanceRegistration(source, target, 3, InstanceConfig{Alpha: math.Inf(1)}, logger)
	test.That(t, err, test.ShouldBeNil)
	seq = diverging.Sequence(5)
	test.That(t, seq.Next(), test.ShouldBeTrue)
	test.That(t, seq.Next(), test.ShouldBeFalse)
	test.That(t, IsNumericDivergence(seq.Err()), test.ShouldBeTrue)
}
