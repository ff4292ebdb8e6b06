package registration

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/poserefine/spatialmath"
)

// Loss is the value of the registration objective, penalty minus reward.
type Loss struct {
	Loss    float64 `json:"loss"`
	Reward  float64 `json:"reward"`
	Penalty float64 `json:"penalty"`
}

func newLoss(reward, penalty float64) Loss {
	return Loss{Loss: penalty - reward, Reward: reward, Penalty: penalty}
}

func (l Loss) isFinite() bool {
	return finite(l.Loss) && finite(l.Reward) && finite(l.Penalty)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if !finite(v) {
			return false
		}
	}
	return true
}

// addRatioGradient adds sign times the gradient of sum(mask*v)/sum(v) with respect to each voxel
// value v to dv.
func addRatioGradient(dv, mask []float64, ratio, mass, sign float64) {
	for i := range dv {
		dv[i] += sign * (mask[i] - ratio) / mass
	}
}

// poseGradient chains per point gradients of the moved points R*p+t into gradients of the seven
// pose parameters.
func poseGradient(q quat.Number, source, pointGrads []r3.Vector) [spatialmath.ParamCount]float64 {
	var dR spatialmath.Matrix3
	var dt r3.Vector
	for i, g := range pointGrads {
		if g == (r3.Vector{}) {
			continue
		}
		dt = dt.Add(g)
		gv := [3]float64{g.X, g.Y, g.Z}
		pv := [3]float64{source[i].X, source[i].Y, source[i].Z}
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				dR[a][b] += gv[a] * pv[b]
			}
		}
	}
	dq := spatialmath.RotationGradToQuat(q, dR)
	return [spatialmath.ParamCount]float64{dq.Real, dq.Imag, dq.Jmag, dq.Kmag, dt.X, dt.Y, dt.Z}
}
