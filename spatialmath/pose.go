package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// ParamCount is the length of a pose parameter vector: w, x, y, z, tx, ty, tz.
const ParamCount = 7

// Pose is a rigid transform made of an orientation quaternion and a translation. The quaternion
// is the live optimization variable and is not kept normalized.
type Pose struct {
	Orientation quat.Number `json:"orientation"`
	Translation r3.Vector   `json:"translation"`
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return Pose{Orientation: quat.Number{Real: 1}}
}

// NewPose returns a pose from a quaternion and a translation.
func NewPose(q quat.Number, t r3.Vector) Pose {
	return Pose{Orientation: q, Translation: t}
}

// NewPoseFromPoint returns a pure translation.
func NewPoseFromPoint(t r3.Vector) Pose {
	return Pose{Orientation: quat.Number{Real: 1}, Translation: t}
}

// TransformFrom builds the 4x4 homogeneous transform for q and t.
func TransformFrom(q quat.Number, t r3.Vector) *mat.Dense {
	r := QuatToRotation(q)
	return mat.NewDense(4, 4, []float64{
		r[0][0], r[0][1], r[0][2], t.X,
		r[1][0], r[1][1], r[1][2], t.Y,
		r[2][0], r[2][1], r[2][2], t.Z,
		0, 0, 0, 1,
	})
}

// Matrix returns the 4x4 homogeneous transform of the pose.
func (p Pose) Matrix() *mat.Dense {
	return TransformFrom(p.Orientation, p.Translation)
}

// Rotation returns the rotation block of the pose.
func (p Pose) Rotation() Matrix3 {
	return QuatToRotation(p.Orientation)
}

// Inverse returns the pose undoing p.
func (p Pose) Inverse() Pose {
	rt := p.Rotation().Transpose()
	return Pose{
		Orientation: quat.Conj(p.Orientation),
		Translation: rt.Apply(p.Translation).Mul(-1),
	}
}

// Compose returns the pose applying b first and then a.
func Compose(a, b Pose) Pose {
	return Pose{
		Orientation: quat.Mul(a.Orientation, b.Orientation),
		Translation: a.Rotation().Apply(b.Translation).Add(a.Translation),
	}
}

// TransformPoint applies the pose to a single point.
func (p Pose) TransformPoint(pt r3.Vector) r3.Vector {
	return p.Rotation().Apply(pt).Add(p.Translation)
}

// Transform applies the pose to every point, returning a new slice.
func (p Pose) Transform(points []r3.Vector) []r3.Vector {
	r := p.Rotation()
	out := make([]r3.Vector, len(points))
	for i, pt := range points {
		out[i] = r.Apply(pt).Add(p.Translation)
	}
	return out
}

// Params writes the pose as w, x, y, z, tx, ty, tz.
func (p Pose) Params() [ParamCount]float64 {
	return [ParamCount]float64{
		p.Orientation.Real, p.Orientation.Imag, p.Orientation.Jmag, p.Orientation.Kmag,
		p.Translation.X, p.Translation.Y, p.Translation.Z,
	}
}

// PoseFromParams reads a pose from the first ParamCount values of params.
func PoseFromParams(params []float64) Pose {
	return Pose{
		Orientation: quat.Number{Real: params[0], Imag: params[1], Jmag: params[2], Kmag: params[3]},
		Translation: r3.Vector{X: params[4], Y: params[5], Z: params[6]},
	}
}

// PoseFromMatrix reads a pose from a 4x4 homogeneous transform.
func PoseFromMatrix(m mat.Matrix) (Pose, error) {
	if rows, cols := m.Dims(); rows != 4 || cols != 4 {
		return Pose{}, errors.Errorf("expected a 4x4 transform, got %dx%d", rows, cols)
	}
	var r Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m.At(i, j)
		}
	}
	return Pose{
		Orientation: RotationToQuat(r),
		Translation: r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)},
	}, nil
}

// IsFinite reports whether every parameter of the pose is finite.
func (p Pose) IsFinite() bool {
	for _, v := range p.Params() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// PoseAlmostEqual compares the transforms of two poses, so q and -q or a scaled q are equal.
func PoseAlmostEqual(a, b Pose, epsilon float64) bool {
	return mat.EqualApprox(a.Matrix(), b.Matrix(), epsilon)
}

func (p Pose) String() string {
	return fmt.Sprintf("{q: [%.4f %.4f %.4f %.4f] t: [%.4f %.4f %.4f]}",
		p.Orientation.Real, p.Orientation.Imag, p.Orientation.Jmag, p.Orientation.Kmag,
		p.Translation.X, p.Translation.Y, p.Translation.Z)
}
