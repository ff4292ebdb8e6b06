package spatialmath

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

func randomPose(rnd *rand.Rand) Pose {
	q := quat.Number{
		Real: rnd.NormFloat64(),
		Imag: rnd.NormFloat64(),
		Jmag: rnd.NormFloat64(),
		Kmag: rnd.NormFloat64(),
	}
	// near-unit, as during optimization
	q = quat.Scale((0.9+0.2*rnd.Float64())/quat.Abs(q), q)
	t := r3.Vector{X: rnd.Float64()*2 - 1, Y: rnd.Float64()*2 - 1, Z: rnd.Float64()*2 - 1}
	return NewPose(q, t)
}

func TestTransformInverseIsIdentity(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	identity := mat.NewDiagDense(4, []float64{1, 1, 1, 1})
	for i := 0; i < 100; i++ {
		p := randomPose(rnd)
		inv := p.Inverse()

		var prod mat.Dense
		prod.Mul(TransformFrom(p.Orientation, p.Translation), TransformFrom(inv.Orientation, inv.Translation))
		test.That(t, mat.EqualApprox(&prod, identity, 1e-9), test.ShouldBeTrue)

		prod.Mul(inv.Matrix(), p.Matrix())
		test.That(t, mat.EqualApprox(&prod, identity, 1e-9), test.ShouldBeTrue)
	}
}

func TestTransformLayout(t *testing.T) {
	// 90 degrees about z
	q := quat.Number{Real: math.Cos(math.Pi / 4), Kmag: math.Sin(math.Pi / 4)}
	m := TransformFrom(q, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, m.At(0, 0), test.ShouldAlmostEqual, 0)
	test.That(t, m.At(0, 1), test.ShouldAlmostEqual, -1)
	test.That(t, m.At(1, 0), test.ShouldAlmostEqual, 1)
	test.That(t, m.At(2, 2), test.ShouldAlmostEqual, 1)
	test.That(t, m.At(0, 3), test.ShouldEqual, 1.)
	test.That(t, m.At(1, 3), test.ShouldEqual, 2.)
	test.That(t, m.At(2, 3), test.ShouldEqual, 3.)
	test.That(t, m.At(3, 3), test.ShouldEqual, 1.)

	p := NewPose(q, r3.Vector{X: 1, Y: 2, Z: 3}).TransformPoint(r3.Vector{X: 1})
	test.That(t, p.X, test.ShouldAlmostEqual, 1)
	test.That(t, p.Y, test.ShouldAlmostEqual, 3)
	test.That(t, p.Z, test.ShouldAlmostEqual, 3)
}

func TestNonUnitQuaternion(t *testing.T) {
	q := quat.Number{Real: 0.3, Imag: -0.2, Jmag: 0.5, Kmag: 0.1}
	scaled := quat.Scale(3.7, q)
	test.That(t, PoseAlmostEqual(NewPose(q, r3.Vector{}), NewPose(scaled, r3.Vector{}), 1e-12), test.ShouldBeTrue)
	test.That(t, PoseAlmostEqual(NewPose(q, r3.Vector{}), NewPose(Flip(q), r3.Vector{}), 1e-12), test.ShouldBeTrue)

	r := QuatToRotation(q)
	var rrt mat.Dense
	rm := mat.NewDense(3, 3, []float64{r[0][0], r[0][1], r[0][2], r[1][0], r[1][1], r[1][2], r[2][0], r[2][1], r[2][2]})
	rrt.Mul(rm, rm.T())
	test.That(t, mat.EqualApprox(&rrt, mat.NewDiagDense(3, []float64{1, 1, 1}), 1e-12), test.ShouldBeTrue)

	test.That(t, QuatToRotation(quat.Number{}), test.ShouldResemble, Identity3())
}

func TestQuatRotationJacobian(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	const h = 1e-6
	for trial := 0; trial < 20; trial++ {
		q := randomPose(rnd).Orientation
		jac := QuatRotationJacobian(q)
		comps := []float64{q.Real, q.Imag, q.Jmag, q.Kmag}
		for k := 0; k < 4; k++ {
			plus := append([]float64(nil), comps...)
			minus := append([]float64(nil), comps...)
			plus[k] += h
			minus[k] -= h
			rp := QuatToRotation(quat.Number{Real: plus[0], Imag: plus[1], Jmag: plus[2], Kmag: plus[3]})
			rm := QuatToRotation(quat.Number{Real: minus[0], Imag: minus[1], Jmag: minus[2], Kmag: minus[3]})
			for i := 0; i < 3; i++ {
				for j := 0; j < 3; j++ {
					numeric := (rp[i][j] - rm[i][j]) / (2 * h)
					test.That(t, jac[k][i][j], test.ShouldAlmostEqual, numeric, 1e-6)
				}
			}
		}
	}
}

func TestRotationGradToQuat(t *testing.T) {
	// f(q) = a . R(q) b
	a := r3.Vector{X: 0.2, Y: -1, Z: 0.4}
	b := r3.Vector{X: 1.5, Y: 0.3, Z: -0.7}
	f := func(q quat.Number) float64 { return a.Dot(QuatToRotation(q).Apply(b)) }

	var dR Matrix3
	av := [3]float64{a.X, a.Y, a.Z}
	bv := [3]float64{b.X, b.Y, b.Z}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dR[i][j] = av[i] * bv[j]
		}
	}
	q := quat.Number{Real: 0.9, Imag: 0.1, Jmag: -0.3, Kmag: 0.2}
	grad := RotationGradToQuat(q, dR)

	const h = 1e-6
	numeric := (f(quat.Add(q, quat.Number{Jmag: h})) - f(quat.Sub(q, quat.Number{Jmag: h}))) / (2 * h)
	test.That(t, grad.Jmag, test.ShouldAlmostEqual, numeric, 1e-6)
	numeric = (f(quat.Add(q, quat.Number{Real: h})) - f(quat.Sub(q, quat.Number{Real: h}))) / (2 * h)
	test.That(t, grad.Real, test.ShouldAlmostEqual, numeric, 1e-6)
}

func TestPoseFromMatrix(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		p := randomPose(rnd)
		back, err := PoseFromMatrix(p.Matrix())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, PoseAlmostEqual(p, back, 1e-9), test.ShouldBeTrue)
		test.That(t, quat.Abs(back.Orientation), test.ShouldAlmostEqual, 1)
		test.That(t, back.Orientation.Real, test.ShouldBeGreaterThanOrEqualTo, 0.0)
	}

	_, err := PoseFromMatrix(mat.NewDense(3, 3, nil))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestComposeAndParams(t *testing.T) {
	rnd := rand.New(rand.NewSource(5))
	a := randomPose(rnd)
	b := randomPose(rnd)
	pt := r3.Vector{X: 0.1, Y: 0.2, Z: 0.3}

	composed := Compose(a, b).TransformPoint(pt)
	chained := a.TransformPoint(b.TransformPoint(pt))
	test.That(t, composed.Sub(chained).Norm(), test.ShouldBeLessThan, 1e-9)

	params := a.Params()
	test.That(t, PoseFromParams(params[:]), test.ShouldResemble, a)
	test.That(t, a.IsFinite(), test.ShouldBeTrue)
	test.That(t, NewPoseFromPoint(r3.Vector{X: math.NaN()}).IsFinite(), test.ShouldBeFalse)
}

func TestAngleBetween(t *testing.T) {
	q45x := quat.Number{Real: math.Cos(math.Pi / 8), Imag: math.Sin(math.Pi / 8)}
	test.That(t, AngleBetween(NewZeroPose().Orientation, q45x), test.ShouldAlmostEqual, math.Pi/4)
	test.That(t, AngleBetween(q45x, Flip(q45x)), test.ShouldAlmostEqual, 0)

	aa := QuatToR4AA(q45x)
	test.That(t, aa.Theta, test.ShouldAlmostEqual, math.Pi/4)
	test.That(t, aa.RX, test.ShouldAlmostEqual, 1)
	test.That(t, aa.ToR3().X, test.ShouldAlmostEqual, math.Pi/4)
}
