// Package registration implements the pose optimizers: a single instance registration against a
// labeled occupancy grid and a batched, collision aware refinement against signed distance
// fields.
package registration

import (
	"math"

	"github.com/pkg/errors"
)

// Default Adam hyperparameters.
const (
	DefaultBeta1 = 0.9
	DefaultBeta2 = 0.999
	DefaultEps   = 1e-8
)

// Adam is the Adam optimizer over a flat parameter vector. Scale multiplies the step size per
// parameter and is applied cyclically, so a scale of length 7 covers any number of stacked poses.
type Adam struct {
	Alpha float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	scale []float64
	m     []float64
	v     []float64
	t     int
}

// NewAdam returns an Adam optimizer for size parameters.
func NewAdam(size int, alpha float64, scale []float64) (*Adam, error) {
	if !(alpha > 0) {
		return nil, errors.Errorf("alpha must be positive, got %v", alpha)
	}
	if len(scale) == 0 {
		scale = []float64{1}
	}
	return &Adam{
		Alpha: alpha,
		Beta1: DefaultBeta1,
		Beta2: DefaultBeta2,
		Eps:   DefaultEps,
		scale: scale,
		m:     make([]float64, size),
		v:     make([]float64, size),
	}, nil
}

// PoseScale returns the per parameter scale of a pose vector, 1 for the quaternion and
// translationScale for the translation.
func PoseScale(translationScale float64) []float64 {
	return []float64{1, 1, 1, 1, translationScale, translationScale, translationScale}
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int {
	return a.t
}

func (a *Adam) rate() float64 {
	t := float64(a.t)
	return a.Alpha * math.Sqrt(1-math.Pow(a.Beta2, t)) / (1 - math.Pow(a.Beta1, t))
}

// Update applies one step to every parameter.
func (a *Adam) Update(params, grads []float64) error {
	return a.UpdateMasked(params, grads, len(params), nil)
}

// UpdateMasked applies one step to the parameters of the active rows only, params being laid out
// as rows of stride values. A nil active updates every row. Inactive rows keep their values and
// moments.
func (a *Adam) UpdateMasked(params, grads []float64, stride int, active []bool) error {
	if len(params) != len(a.m) || len(grads) != len(a.m) {
		return errors.Errorf("expected %d parameters and gradients, got %d and %d", len(a.m), len(params), len(grads))
	}
	if stride <= 0 || len(params)%stride != 0 {
		return errors.Errorf("stride %d does not divide %d parameters", stride, len(params))
	}
	if active != nil && len(active) != len(params)/stride {
		return errors.Errorf("expected %d row flags, got %d", len(params)/stride, len(active))
	}
	a.t++
	lr := a.rate()
	for i := range params {
		if active != nil && !active[i/stride] {
			continue
		}
		g := grads[i]
		a.m[i] += (1 - a.Beta1) * (g - a.m[i])
		a.v[i] += (1 - a.Beta2) * (g*g - a.v[i])
		params[i] -= lr * a.scale[i%len(a.scale)] * a.m[i] / (math.Sqrt(a.v[i]) + a.Eps)
	}
	return nil
}
