package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/poserefine/pointcloud"
	"go.viam.com/poserefine/registration"
	"go.viam.com/poserefine/scene"
	"go.viam.com/poserefine/spatialmath"
	"go.viam.com/poserefine/vision/segmentation"
	"go.viam.com/poserefine/voxel"
)

// coverageThreshold is the radius in voxels within which a registered point covers a voxel.
const coverageThreshold = 0.5

// Registration is the outcome of registering one instance of a scene.
type Registration struct {
	InstanceID int32
	ClassID    int
	// Pose takes model points into the camera frame.
	Pose spatialmath.Pose
	Loss registration.Loss
	// Coverage is the share of the instance's voxels reached by a registered model point.
	Coverage float64
	// Transforms are the camera frame estimates, the starting one first.
	Transforms []spatialmath.Pose
	Err        error
}

// Registrations are the results of one scene.
type Registrations []Registration

// String prints a table of the registrations with the pose, loss and coverage of each instance.
func (rs Registrations) String() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Instance", "Class", "Translation", "Rotation (rad)", "Loss", "Coverage", "Error"})
	for _, r := range rs {
		if r.Err != nil {
			t.AppendRow(table.Row{r.InstanceID, r.ClassID, "", "", "", "", r.Err.Error()})
			continue
		}
		aa := spatialmath.QuatToR4AA(r.Pose.Orientation)
		t.AppendRow(table.Row{
			r.InstanceID,
			r.ClassID,
			fmt.Sprintf("(%.4f, %.4f, %.4f)", r.Pose.Translation.X, r.Pose.Translation.Y, r.Pose.Translation.Z),
			fmt.Sprintf("%.4f", aa.Theta),
			fmt.Sprintf("%.4f", r.Loss.Loss),
			fmt.Sprintf("%.2f", r.Coverage),
			"",
		})
	}
	return t.Render()
}

// RegisterScene registers the model of every labeled instance against an organized scene cloud.
// Each instance gets a cube of side the model's bounding diagonal around its masked points,
// labeled from per-label octrees, and its down-sampled model is registered into it starting from
// the cube center. Instance failures are reported in their Registration; errors are returned for
// mismatched inputs and cancellation.
func (p *Pipeline) RegisterScene(
	ctx context.Context,
	cloud *pointcloud.Organized,
	labels *segmentation.InstanceLabels,
) (Registrations, error) {
	if cloud == nil || labels == nil {
		return nil, errors.New("scene cloud and labels are required")
	}
	if labels.Width*labels.Height != cloud.Len() {
		return nil, errors.Errorf("label image is %dx%d, cloud has %d points", labels.Width, labels.Height, cloud.Len())
	}
	octrees, err := scene.BuildOctrees(ctx, cloud, labels.Labels, labels.IDs(), p.cfg.Scene.OctreeResolution, p.logger)
	if err != nil {
		return nil, err
	}

	out := make(Registrations, 0, len(labels.Instances))
	for _, ins := range labels.Instances {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		res := p.registerInstance(ctx, octrees, cloud, labels, ins)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if res.Err != nil {
			p.logger.Warnw("registration failed", "instance", ins.ID, "class", ins.ClassID, "error", res.Err)
		} else {
			p.logger.Infow("registered instance",
				"instance", ins.ID,
				"class", ins.ClassID,
				"loss", res.Loss.Loss,
				"coverage", res.Coverage,
				"rotation", spatialmath.AngleBetween(spatialmath.NewZeroPose().Orientation, res.Pose.Orientation),
				"elapsed", time.Since(start),
			)
		}
		out = append(out, res)
	}
	return out, nil
}

func (p *Pipeline) registerInstance(
	ctx context.Context,
	octrees scene.LabelOctrees,
	cloud *pointcloud.Organized,
	labels *segmentation.InstanceLabels,
	ins segmentation.Instance,
) Registration {
	res := Registration{InstanceID: ins.ID, ClassID: ins.ClassID}

	diagonal, err := p.models.BoundingDiagonal(ctx, ins.ClassID)
	if err != nil {
		res.Err = err
		return res
	}
	pitch := diagonal / float64(p.cfg.Scene.GridDimension)
	points, err := p.models.PointSet(ctx, ins.ClassID)
	if err != nil {
		res.Err = err
		return res
	}
	source, err := pointcloud.VoxelDownSample(points, pitch)
	if err != nil {
		res.Err = err
		return res
	}

	grid, aabbMin, shape, err := scene.BuildInstanceGrid(
		octrees, pitch, cloud, labels.Mask(ins.ID), ins.ID, diagonal, p.cfg.Scene.OccupancyThreshold)
	if err != nil {
		res.Err = err
		return res
	}
	local, comToCamera := centered(grid, aabbMin, shape)

	reg, err := registration.NewInstanceRegistration(source, local, ins.ID,
		p.cfg.Registration.InstanceConfig(), p.logger.Sublogger("registration"))
	if err != nil {
		res.Err = err
		return res
	}
	seq := reg.Sequence(p.cfg.Registration.Steps)
	for seq.Next() {
		if ctx.Err() != nil {
			break
		}
		pose, err := spatialmath.PoseFromMatrix(seq.Transform())
		if err != nil {
			res.Err = err
			return res
		}
		res.Transforms = append(res.Transforms, spatialmath.Compose(comToCamera, pose))
	}
	if err := seq.Err(); err != nil {
		res.Err = err
	}

	final := reg.Pose()
	res.Pose = spatialmath.Compose(comToCamera, final)
	if res.Loss, err = reg.Evaluate(); err != nil && res.Err == nil {
		res.Err = err
	}
	res.Coverage, err = coverage(final.Transform(source), local, ins.ID)
	if err != nil && res.Err == nil {
		res.Err = err
	}
	return res
}

// centered returns the grid re-expressed in a frame at its center, and the pose of that frame in
// the camera frame.
func centered(grid *voxel.Grid, aabbMin r3.Vector, shape voxel.Dims) (*voxel.Grid, spatialmath.Pose) {
	half := r3.Vector{X: float64(shape[0]), Y: float64(shape[1]), Z: float64(shape[2])}.Mul(grid.Pitch / 2)
	local := &voxel.Grid{
		Lattice: voxel.Lattice{Pitch: grid.Pitch, Origin: half.Mul(-1), Dims: shape},
		Labels:  grid.Labels,
	}
	return local, spatialmath.NewPoseFromPoint(aabbMin.Add(half))
}

func coverage(points []r3.Vector, grid *voxel.Grid, instanceID int32) (float64, error) {
	hit, err := voxel.VoxelizeHard(points, grid.Lattice, coverageThreshold)
	if err != nil {
		return 0, err
	}
	id := uint8(instanceID)
	total := grid.Count(id)
	if total == 0 {
		return 0, nil
	}
	covered := lo.CountBy(lo.Range(len(hit)), func(i int) bool { return hit[i] && grid.Labels[i] == id })
	return float64(covered) / float64(total), nil
}
