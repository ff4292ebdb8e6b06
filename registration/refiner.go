package registration

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gorgonia.org/tensor"

	"go.viam.com/poserefine/logging"
	"go.viam.com/poserefine/spatialmath"
	"go.viam.com/poserefine/voxel"
)

// Defaults of the collision aware refinement.
const (
	DefaultRefinerAlpha      = 0.01
	DefaultRefinerIterations = 200
	DefaultSDFThreshold      = 2.0
	DefaultReportEvery       = 10
)

// RefinerConfig configures a CollisionRefiner. Zero values take the defaults.
type RefinerConfig struct {
	Alpha            float64
	TranslationScale float64
	// Threshold is the width in voxels over which the pseudo occupancy of a point fades out past
	// its signed distance.
	Threshold float64
	// ReportEvery is the number of iterations between progress logs.
	ReportEvery int
}

func (cfg RefinerConfig) withDefaults() RefinerConfig {
	if cfg.Alpha == 0 {
		cfg.Alpha = DefaultRefinerAlpha
	}
	if cfg.TranslationScale == 0 {
		cfg.TranslationScale = DefaultTranslationScale
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultSDFThreshold
	}
	if cfg.ReportEvery == 0 {
		cfg.ReportEvery = DefaultReportEvery
	}
	return cfg
}

// InstanceInput is one object to refine: its CAD points with their signed distances in the
// object frame, its current pose in the grid frame and its target and no-entry grids, which must
// share a lattice.
type InstanceInput struct {
	InstanceID int32
	ClassID    int
	Pose       spatialmath.Pose
	Points     []r3.Vector
	SDF        []float64
	Target     *voxel.FloatGrid
	NoEntry    *voxel.FloatGrid
}

// InstanceResult is the outcome of one instance. A failed instance carries its last valid pose.
type InstanceResult struct {
	InstanceID int32            `json:"instance_id"`
	ClassID    int              `json:"class_id"`
	Initial    spatialmath.Pose `json:"initial"`
	Pose       spatialmath.Pose `json:"pose"`
	Err        error            `json:"-"`
}

// Evaluation is the loss of one instance at the current parameters.
type Evaluation struct {
	InstanceID int32
	Loss
	Err error
}

type arenaSpan struct {
	offset, length int
}

// CollisionRefiner refines the poses of every instance of a scene together. Each instance is
// pulled into its target grid and pushed out of its no-entry grid, which holds free space and the
// space of the other instances. The losses are summed and all poses are updated in lockstep by a
// single Adam optimizer over an (instances x 7) parameter tensor.
//
// An instance that fails validation, runs out of occupancy or diverges is excluded from further
// updates without affecting the others.
type CollisionRefiner struct {
	logger logging.Logger
	cfg    RefinerConfig

	inputs []InstanceInput
	points []r3.Vector
	sdf    []float64
	spans  []arenaSpan

	params *tensor.Dense
	grads  *tensor.Dense
	adam   *Adam

	active    []bool
	errs      []error
	iteration int
	lastLoss  float64
	started   time.Time
}

// NewCollisionRefiner validates the inputs and returns a refiner over them. Only configuration
// errors are returned; invalid instances are excluded and reported by Results and Err.
func NewCollisionRefiner(inputs []InstanceInput, cfg RefinerConfig, logger logging.Logger) (*CollisionRefiner, error) {
	cfg = cfg.withDefaults()
	if !(cfg.Threshold > 0) {
		return nil, errors.Errorf("threshold must be positive, got %v", cfg.Threshold)
	}
	if cfg.ReportEvery < 0 {
		return nil, errors.Errorf("report interval must not be negative, got %d", cfg.ReportEvery)
	}
	n := len(inputs)
	if n == 0 {
		return nil, errors.New("no instances to refine")
	}
	adam, err := NewAdam(n*spatialmath.ParamCount, cfg.Alpha, PoseScale(cfg.TranslationScale))
	if err != nil {
		return nil, err
	}

	r := &CollisionRefiner{
		logger:    logger,
		cfg:       cfg,
		inputs:    inputs,
		spans:     make([]arenaSpan, n),
		adam:      adam,
		active:    make([]bool, n),
		errs:      make([]error, n),
		iteration: -1,
	}

	total := 0
	for _, in := range inputs {
		total += len(in.Points)
	}
	r.points = make([]r3.Vector, 0, total)
	r.sdf = make([]float64, 0, total)
	backing := make([]float64, n*spatialmath.ParamCount)
	for i, in := range inputs {
		params := in.Pose.Params()
		copy(backing[i*spatialmath.ParamCount:], params[:])

		// Excluded instances keep an empty span so later spans stay aligned.
		r.spans[i] = arenaSpan{offset: len(r.points)}
		if err := validateInput(in); err != nil {
			r.errs[i] = err
			logger.Warnw("excluding instance from refinement", "instance", in.InstanceID, "error", err)
			continue
		}
		r.spans[i].length = len(in.Points)
		r.points = append(r.points, in.Points...)
		r.sdf = append(r.sdf, in.SDF...)
		r.active[i] = true
	}
	r.params = tensor.New(tensor.WithShape(n, spatialmath.ParamCount), tensor.WithBacking(backing))
	r.grads = tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(n, spatialmath.ParamCount))
	return r, nil
}

func validateInput(in InstanceInput) error {
	if in.Target == nil || in.NoEntry == nil {
		return NewDegenerateInputError(in.InstanceID, "missing target or no-entry grid")
	}
	if err := in.Target.Check(); err != nil {
		return errors.Wrapf(err, "target grid of instance %d", in.InstanceID)
	}
	if err := in.NoEntry.Check(); err != nil {
		return errors.Wrapf(err, "no-entry grid of instance %d", in.InstanceID)
	}
	if field := in.Target.Lattice.Mismatch(in.NoEntry.Lattice); field != "" {
		return &GridMismatchError{InstanceID: in.InstanceID, Field: field}
	}
	if len(in.Points) == 0 {
		return NewDegenerateInputError(in.InstanceID, "empty point set")
	}
	if len(in.SDF) != len(in.Points) {
		return NewDegenerateInputError(in.InstanceID, "%d points but %d signed distances", len(in.Points), len(in.SDF))
	}
	if !in.Pose.IsFinite() {
		return NewDegenerateInputError(in.InstanceID, "initial pose %v is not finite", in.Pose)
	}
	return nil
}

// Len returns the number of instances, including excluded ones.
func (r *CollisionRefiner) Len() int {
	return len(r.inputs)
}

// Iteration returns the index of the last completed step, -1 before the first one.
func (r *CollisionRefiner) Iteration() int {
	return r.iteration
}

// Active reports whether instance i is still being refined.
func (r *CollisionRefiner) Active(i int) bool {
	return r.active[i]
}

// Parameters returns a copy of the (instances x 7) parameter tensor.
func (r *CollisionRefiner) Parameters() *tensor.Dense {
	return r.params.Clone().(*tensor.Dense)
}

func (r *CollisionRefiner) row(data []float64, i int) []float64 {
	return data[i*spatialmath.ParamCount : (i+1)*spatialmath.ParamCount]
}

func (r *CollisionRefiner) pose(i int) spatialmath.Pose {
	return spatialmath.PoseFromParams(r.row(r.params.Data().([]float64), i))
}

// forward computes the loss of instance i and, when grad is not nil, writes its parameter
// gradient into grad.
func (r *CollisionRefiner) forward(i int, grad []float64) (Loss, error) {
	in := r.inputs[i]
	span := r.spans[i]
	source := r.points[span.offset : span.offset+span.length]
	pose := r.pose(i)

	occ, err := voxel.VoxelizeSDF(pose.Transform(source), r.sdf[span.offset:span.offset+span.length], in.Target.Lattice, r.cfg.Threshold)
	if err != nil {
		return Loss{}, err
	}
	mass := occ.Mass()
	if mass == 0 {
		return Loss{}, NewDegenerateInputError(in.InstanceID, "no occupancy inside the grid")
	}
	reward := occ.Dot(in.Target.Values) / mass
	penalty := occ.Dot(in.NoEntry.Values) / mass
	loss := newLoss(reward, penalty)
	if grad == nil || !loss.isFinite() {
		return loss, nil
	}

	dv := make([]float64, len(occ.Values))
	addRatioGradient(dv, in.NoEntry.Values, penalty, mass, 1)
	addRatioGradient(dv, in.Target.Values, reward, mass, -1)
	pointGrads, err := occ.Backward(dv)
	if err != nil {
		return Loss{}, err
	}
	g := poseGradient(pose.Orientation, source, pointGrads)
	copy(grad, g[:])
	return loss, nil
}

type instanceError struct {
	index int
	err   error
}

func (r *CollisionRefiner) exclude(i int, err error) {
	r.active[i] = false
	r.errs[i] = err
	r.logger.Warnw("excluding instance from refinement",
		"instance", r.inputs[i].InstanceID, "iteration", r.iteration, "error", err)
}

// Step runs one optimization step over every active instance. Instance failures exclude the
// instance and are reported by Results; the returned error is for internal failures only.
func (r *CollisionRefiner) Step() error {
	if r.started.IsZero() {
		r.started = time.Now()
	}
	r.iteration++

	grads := r.grads.Data().([]float64)
	clear(grads)
	total := 0.0
	var failed []instanceError
	for i := range r.inputs {
		if !r.active[i] {
			continue
		}
		loss, err := r.forward(i, r.row(grads, i))
		switch {
		case err != nil && (IsDegenerateInput(err) || IsGridMismatch(err)):
			failed = append(failed, instanceError{i, err})
			continue
		case err != nil:
			r.iteration--
			return err
		case !loss.isFinite():
			failed = append(failed, instanceError{i, &NumericDivergenceError{InstanceID: r.inputs[i].InstanceID, Iteration: r.iteration}})
			continue
		}
		total += loss.Loss
	}

	// Exclusions are applied once the step can no longer fail.
	active := append([]bool(nil), r.active...)
	for _, f := range failed {
		active[f.index] = false
	}
	params := r.params.Data().([]float64)
	prev := append([]float64(nil), params...)
	if err := r.adam.UpdateMasked(params, grads, spatialmath.ParamCount, active); err != nil {
		r.iteration--
		return err
	}
	for _, f := range failed {
		r.exclude(f.index, f.err)
	}
	r.lastLoss = total
	for i := range r.inputs {
		if r.active[i] && !allFinite(r.row(params, i)) {
			copy(r.row(params, i), r.row(prev, i))
			r.exclude(i, &NumericDivergenceError{InstanceID: r.inputs[i].InstanceID, Iteration: r.iteration})
		}
	}

	if r.cfg.ReportEvery > 0 && r.iteration%r.cfg.ReportEvery == 0 {
		r.logger.Infow("refinement progress",
			"iteration", r.iteration,
			"elapsed", time.Since(r.started),
			"loss", total,
			"active", r.activeCount(),
		)
	}
	return nil
}

// LastLoss returns the summed loss of the active instances at the last step.
func (r *CollisionRefiner) LastLoss() float64 {
	return r.lastLoss
}

func (r *CollisionRefiner) activeCount() int {
	n := 0
	for _, a := range r.active {
		if a {
			n++
		}
	}
	return n
}

// Run steps iterations times and returns the combined instance failures.
func (r *CollisionRefiner) Run(iterations int) error {
	for it := 0; it < iterations; it++ {
		if err := r.Step(); err != nil {
			return err
		}
	}
	r.logger.Debugw("refinement done", "iterations", iterations, "loss", r.lastLoss, "elapsed", time.Since(r.started))
	return r.Err()
}

// Evaluate returns the loss of every instance at the current parameters. Excluded instances carry
// the error that excluded them.
func (r *CollisionRefiner) Evaluate() []Evaluation {
	out := make([]Evaluation, len(r.inputs))
	for i, in := range r.inputs {
		out[i].InstanceID = in.InstanceID
		if !r.active[i] {
			out[i].Err = r.errs[i]
			continue
		}
		out[i].Loss, out[i].Err = r.forward(i, nil)
	}
	return out
}

// Results returns the current pose of every instance.
func (r *CollisionRefiner) Results() []InstanceResult {
	out := make([]InstanceResult, len(r.inputs))
	for i, in := range r.inputs {
		out[i] = InstanceResult{
			InstanceID: in.InstanceID,
			ClassID:    in.ClassID,
			Initial:    in.Pose,
			Pose:       r.pose(i),
			Err:        r.errs[i],
		}
	}
	return out
}

// Err combines the errors of every excluded instance.
func (r *CollisionRefiner) Err() error {
	var err error
	for _, e := range r.errs {
		err = multierr.Append(err, e)
	}
	return err
}
