package pipeline

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/poserefine/registration"
	"go.viam.com/poserefine/ros"
	"go.viam.com/poserefine/voxel"
)

// Refinement is the outcome of RefinePoses.
type Refinement struct {
	// Poses is the input array with every successfully refined pose replaced.
	Poses   ros.ObjectPoseArray
	Results []registration.InstanceResult
	// Losses holds the summed loss of the active instances after each step.
	Losses []float64
}

// Failed returns the results that carry an error.
func (r *Refinement) Failed() []registration.InstanceResult {
	return lo.Filter(r.Results, func(res registration.InstanceResult, _ int) bool { return res.Err != nil })
}

// RefinePoses refines every pose of the array against its target grid, keeping it out of its
// no-entry grid. An instance without a target grid, without model data, or that fails during
// refinement keeps its input pose and reports the failure in its result. A missing no-entry grid
// means no region is forbidden. Errors are returned for malformed grid messages and cancellation.
func (p *Pipeline) RefinePoses(
	ctx context.Context,
	poses ros.ObjectPoseArray,
	grids ros.VoxelGridArray,
	noEntry ros.VoxelGridArray,
) (*Refinement, error) {
	targets, err := grids.ByInstance()
	if err != nil {
		return nil, errors.Wrap(err, "bad target grids")
	}
	forbidden, err := noEntry.ByInstance()
	if err != nil {
		return nil, errors.Wrap(err, "bad no-entry grids")
	}

	results := make([]registration.InstanceResult, len(poses.Poses))
	var inputs []registration.InstanceInput
	var slots []int
	for i, obj := range poses.Poses {
		initial := obj.Pose.ToPose()
		results[i] = registration.InstanceResult{
			InstanceID: obj.InstanceID,
			ClassID:    obj.ClassID,
			Initial:    initial,
			Pose:       initial,
		}
		in, err := p.refinementInput(ctx, obj, targets, forbidden)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			results[i].Err = err
			p.logger.Warnw("skipping instance", "instance", obj.InstanceID, "class", obj.ClassID, "error", err)
			continue
		}
		inputs = append(inputs, in)
		slots = append(slots, i)
	}

	out := &Refinement{Poses: poses, Results: results}
	out.Poses.Poses = append([]ros.ObjectPose(nil), poses.Poses...)
	if len(inputs) == 0 {
		return out, nil
	}

	refiner, err := registration.NewCollisionRefiner(inputs, p.cfg.Refinement.RefinerConfig(), p.logger.Sublogger("refiner"))
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out.Losses = make([]float64, 0, p.cfg.Refinement.Iterations)
	for it := 0; it < p.cfg.Refinement.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := refiner.Step(); err != nil {
			return nil, err
		}
		out.Losses = append(out.Losses, refiner.LastLoss())
	}

	for j, res := range refiner.Results() {
		i := slots[j]
		if res.Err != nil {
			// keep the input pose
			results[i].Err = res.Err
			continue
		}
		results[i].Pose = res.Pose
		out.Poses.Poses[i].Pose = ros.PoseFromSpatial(res.Pose)
	}
	p.logger.Infow("refined poses",
		"instances", len(poses.Poses),
		"refined", len(poses.Poses)-len(out.Failed()),
		"iterations", p.cfg.Refinement.Iterations,
		"elapsed", time.Since(start),
	)
	return out, nil
}

func (p *Pipeline) refinementInput(
	ctx context.Context,
	obj ros.ObjectPose,
	targets, forbidden map[int32]*voxel.FloatGrid,
) (registration.InstanceInput, error) {
	target, ok := targets[obj.InstanceID]
	if !ok {
		return registration.InstanceInput{}, registration.NewDegenerateInputError(obj.InstanceID, "no target grid")
	}
	noEntry, ok := forbidden[obj.InstanceID]
	if !ok {
		var err error
		if noEntry, err = voxel.NewFloatGrid(target.Lattice); err != nil {
			return registration.InstanceInput{}, err
		}
	}
	sdf, err := p.models.SDF(ctx, obj.ClassID)
	if err != nil {
		return registration.InstanceInput{}, err
	}
	return registration.InstanceInput{
		InstanceID: obj.InstanceID,
		ClassID:    obj.ClassID,
		Pose:       obj.Pose.ToPose(),
		Points:     sdf.Points,
		SDF:        sdf.Distances,
		Target:     target,
		NoEntry:    noEntry,
	}, nil
}
