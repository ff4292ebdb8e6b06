// Package spatialmath defines rigid transforms and the closed-form rotation derivatives used by
// the pose optimizers.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Matrix3 is a row-major 3x3 matrix.
type Matrix3 [3][3]float64

// Identity3 returns the 3x3 identity.
func Identity3() Matrix3 {
	return Matrix3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Apply returns m*v.
func (m Matrix3) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Mul returns m*o.
func (m Matrix3) Mul(o Matrix3) Matrix3 {
	var out Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += m[i][k] * o[k][j]
			}
		}
	}
	return out
}

// Transpose returns mᵀ.
func (m Matrix3) Transpose() Matrix3 {
	var out Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[j][i] = m[i][j]
		}
	}
	return out
}

// quatScale returns 2/|q|², or 0 for the zero quaternion so that it maps to the identity.
func quatScale(q quat.Number) (s, n float64) {
	n = q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag
	if n == 0 {
		return 0, 0
	}
	return 2 / n, n
}

// quatBasis returns B(q) where R = I + s*B.
func quatBasis(q quat.Number) Matrix3 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Matrix3{
		{-(y*y + z*z), x*y - w*z, x*z + w*y},
		{x*y + w*z, -(x*x + z*z), y*z - w*x},
		{x*z - w*y, y*z + w*x, -(x*x + y*y)},
	}
}

// QuatToRotation converts a quaternion to a rotation matrix. The quaternion does not need to be
// normalized; R = I + (2/|q|²) B(q), which is orthonormal for every nonzero q.
func QuatToRotation(q quat.Number) Matrix3 {
	s, _ := quatScale(q)
	b := quatBasis(q)
	r := Identity3()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] += s * b[i][j]
		}
	}
	return r
}

// QuatRotationJacobian returns ∂R/∂q for each quaternion component, ordered w, x, y, z.
func QuatRotationJacobian(q quat.Number) [4]Matrix3 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	s, n := quatScale(q)
	var jac [4]Matrix3
	if n == 0 {
		return jac
	}

	dB := [4]Matrix3{
		{{0, -z, y}, {z, 0, -x}, {-y, x, 0}},
		{{0, y, z}, {y, -2 * x, -w}, {z, w, -2 * x}},
		{{-2 * y, x, w}, {x, 0, z}, {-w, z, -2 * y}},
		{{-2 * z, -w, x}, {w, -2 * z, y}, {x, y, 0}},
	}
	b := quatBasis(q)
	comps := [4]float64{w, x, y, z}
	for k := 0; k < 4; k++ {
		ds := -s * 2 * comps[k] / n
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				jac[k][i][j] = s*dB[k][i][j] + b[i][j]*ds
			}
		}
	}
	return jac
}

// RotationGradToQuat chains a gradient with respect to the rotation matrix into a gradient with
// respect to the quaternion components.
func RotationGradToQuat(q quat.Number, dR Matrix3) quat.Number {
	jac := QuatRotationJacobian(q)
	var out [4]float64
	for k := 0; k < 4; k++ {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				out[k] += dR[i][j] * jac[k][i][j]
			}
		}
	}
	return quat.Number{Real: out[0], Imag: out[1], Jmag: out[2], Kmag: out[3]}
}

// RotationToQuat extracts a unit quaternion with a non-negative real part from a rotation matrix.
func RotationToQuat(r Matrix3) quat.Number {
	trace := r[0][0] + r[1][1] + r[2][2]
	var q quat.Number
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{
			Real: 0.25 / s,
			Imag: (r[2][1] - r[1][2]) * s,
			Jmag: (r[0][2] - r[2][0]) * s,
			Kmag: (r[1][0] - r[0][1]) * s,
		}
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := 2 * math.Sqrt(1+r[0][0]-r[1][1]-r[2][2])
		q = quat.Number{
			Real: (r[2][1] - r[1][2]) / s,
			Imag: 0.25 * s,
			Jmag: (r[0][1] + r[1][0]) / s,
			Kmag: (r[0][2] + r[2][0]) / s,
		}
	case r[1][1] > r[2][2]:
		s := 2 * math.Sqrt(1+r[1][1]-r[0][0]-r[2][2])
		q = quat.Number{
			Real: (r[0][2] - r[2][0]) / s,
			Imag: (r[0][1] + r[1][0]) / s,
			Jmag: 0.25 * s,
			Kmag: (r[1][2] + r[2][1]) / s,
		}
	default:
		s := 2 * math.Sqrt(1+r[2][2]-r[0][0]-r[1][1])
		q = quat.Number{
			Real: (r[1][0] - r[0][1]) / s,
			Imag: (r[0][2] + r[2][0]) / s,
			Jmag: (r[1][2] + r[2][1]) / s,
			Kmag: 0.25 * s,
		}
	}
	q = quat.Scale(1/quat.Abs(q), q)
	if q.Real < 0 {
		q = Flip(q)
	}
	return q
}
