package registration

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/poserefine/logging"
	"go.viam.com/poserefine/spatialmath"
	"go.viam.com/poserefine/voxel"
)

// Defaults of the single instance registration.
const (
	DefaultInstanceAlpha    = 0.1
	DefaultTranslationScale = 0.1
	DefaultConnectivity     = 2
)

// InstanceConfig configures an InstanceRegistration. Zero values take the defaults.
type InstanceConfig struct {
	Alpha            float64
	TranslationScale float64
	Connectivity     int
	// WarmStart is the initial pose. Nil starts from the identity.
	WarmStart *spatialmath.Pose
}

func (cfg InstanceConfig) withDefaults() InstanceConfig {
	if cfg.Alpha == 0 {
		cfg.Alpha = DefaultInstanceAlpha
	}
	if cfg.TranslationScale == 0 {
		cfg.TranslationScale = DefaultTranslationScale
	}
	if cfg.Connectivity == 0 {
		cfg.Connectivity = DefaultConnectivity
	}
	return cfg
}

// InstanceRegistration estimates the rigid transform that moves a source point set onto the voxels
// of one instance in a labeled occupancy grid. The loss rewards the share of the instance's voxels
// covered by the moved points and penalizes the share of the points' occupancy that falls on
// background, free space or other instances. Unknown voxels are neither.
//
// An InstanceRegistration is driven by a single caller and is not safe for concurrent use.
type InstanceRegistration struct {
	logger       logging.Logger
	instanceID   int32
	source       []r3.Vector
	lattice      voxel.Lattice
	connectivity int

	targetMask  []float64
	penaltyMask []float64
	targetCount float64

	params    [spatialmath.ParamCount]float64
	adam      *Adam
	iteration int
	err       error
}

// NewInstanceRegistration returns a registration of source against the voxels of target labeled
// instanceID.
func NewInstanceRegistration(
	source []r3.Vector,
	target *voxel.Grid,
	instanceID int32,
	cfg InstanceConfig,
	logger logging.Logger,
) (*InstanceRegistration, error) {
	cfg = cfg.withDefaults()
	if instanceID < 1 || instanceID > voxel.MaxInstanceID {
		return nil, errors.Errorf("instance id must be in [1, %d], got %d", voxel.MaxInstanceID, instanceID)
	}
	if target == nil {
		return nil, errors.New("target grid is required")
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if cfg.Connectivity < 1 {
		return nil, errors.Errorf("connectivity must be at least 1, got %d", cfg.Connectivity)
	}
	if len(source) == 0 {
		return nil, NewDegenerateInputError(instanceID, "empty source point set")
	}
	adam, err := NewAdam(spatialmath.ParamCount, cfg.Alpha, PoseScale(cfg.TranslationScale))
	if err != nil {
		return nil, err
	}

	id := uint8(instanceID)
	targetMask := target.Indicator(func(label uint8) bool { return label == id })
	penaltyMask := target.Indicator(func(label uint8) bool { return label != id && label != voxel.LabelUnknown })
	targetCount := targetMask.Sum()
	if targetCount == 0 {
		return nil, NewDegenerateInputError(instanceID, "target grid has no voxels of the instance")
	}

	start := spatialmath.NewZeroPose()
	if cfg.WarmStart != nil {
		start = *cfg.WarmStart
	}
	if !start.IsFinite() {
		return nil, errors.Errorf("warm start %v is not finite", start)
	}

	return &InstanceRegistration{
		logger:       logger,
		instanceID:   instanceID,
		source:       source,
		lattice:      target.Lattice,
		connectivity: cfg.Connectivity,
		targetMask:   targetMask.Values,
		penaltyMask:  penaltyMask.Values,
		targetCount:  targetCount,
		params:       start.Params(),
		adam:         adam,
		iteration:    -1,
	}, nil
}

// Iteration returns the index of the last completed step, -1 before the first one.
func (r *InstanceRegistration) Iteration() int {
	return r.iteration
}

// Pose returns the current estimate.
func (r *InstanceRegistration) Pose() spatialmath.Pose {
	return spatialmath.PoseFromParams(r.params[:])
}

// Transform returns the current estimate as a 4x4 homogeneous transform.
func (r *InstanceRegistration) Transform() *mat.Dense {
	return r.Pose().Matrix()
}

// Err returns the error that stopped the registration, if any.
func (r *InstanceRegistration) Err() error {
	return r.err
}

// Evaluate returns the loss at the current estimate without stepping.
func (r *InstanceRegistration) Evaluate() (Loss, error) {
	loss, _, err := r.forward(false)
	return loss, err
}

// Step runs one optimization step. A DegenerateInputError leaves the state untouched. A
// NumericDivergenceError restores the last finite estimate and every later call returns it again.
func (r *InstanceRegistration) Step() error {
	if r.err != nil {
		return r.err
	}
	r.iteration++
	loss, grads, err := r.forward(true)
	if err != nil {
		r.iteration--
		return err
	}
	if !loss.isFinite() {
		return r.diverged()
	}

	prev := r.params
	if err := r.adam.Update(r.params[:], grads[:]); err != nil {
		r.iteration--
		return err
	}
	if !allFinite(r.params[:]) {
		r.params = prev
		return r.diverged()
	}

	q := r.params
	r.logger.Debugw("registration step",
		"instance", r.instanceID,
		"iteration", r.iteration,
		"loss", loss.Loss,
		"reward", loss.Reward,
		"penalty", loss.Penalty,
		"quaternion", q[:4],
		"translation", q[4:],
	)
	return nil
}

func (r *InstanceRegistration) diverged() error {
	r.err = &NumericDivergenceError{InstanceID: r.instanceID, Iteration: r.iteration}
	r.logger.Warnw("registration diverged", "instance", r.instanceID, "iteration", r.iteration)
	return r.err
}

func (r *InstanceRegistration) forward(withGrad bool) (Loss, [spatialmath.ParamCount]float64, error) {
	var grads [spatialmath.ParamCount]float64
	pose := r.Pose()
	occ, err := voxel.Voxelize(pose.Transform(r.source), r.lattice, r.connectivity)
	if err != nil {
		return Loss{}, grads, err
	}
	mass := occ.Mass()
	if mass == 0 {
		return Loss{}, grads, NewDegenerateInputError(r.instanceID, "source has no occupancy inside the target grid")
	}
	reward := occ.Dot(r.targetMask) / r.targetCount
	penalty := occ.Dot(r.penaltyMask) / mass
	loss := newLoss(reward, penalty)
	if !withGrad || !loss.isFinite() {
		return loss, grads, nil
	}

	dv := make([]float64, len(occ.Values))
	addRatioGradient(dv, r.penaltyMask, penalty, mass, 1)
	for i, t := range r.targetMask {
		dv[i] -= t / r.targetCount
	}
	pointGrads, err := occ.Backward(dv)
	if err != nil {
		return Loss{}, grads, err
	}
	return loss, poseGradient(pose.Orientation, r.source, pointGrads), nil
}

// Sequence returns the transforms of the next n steps, preceded by the current one.
func (r *InstanceRegistration) Sequence(n int) *TransformSequence {
	return &TransformSequence{reg: r, remaining: n}
}
