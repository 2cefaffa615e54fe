package spatial

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDegenerate is returned for quaternions or vectors that cannot be
// normalized: zero length, NaN or infinite components.
var ErrDegenerate = errors.New("degenerate rotation")

const (
	// normEpsilon is the smallest quaternion magnitude accepted for normalization.
	normEpsilon = 1e-12
	// unitTolerance leaves quaternions that are already unit length untouched
	// so repeated normalization does not perturb stored samples.
	unitTolerance = 1e-12
)

// Normalize returns q scaled to unit length.
func Normalize(q quat.Number) (quat.Number, error) {
	if !FiniteQuat(q) {
		return quat.Number{}, ErrDegenerate
	}
	n := quat.Abs(q)
	if n < normEpsilon {
		return quat.Number{}, ErrDegenerate
	}
	if math.Abs(n-1) <= unitTolerance {
		return q, nil
	}
	return quat.Scale(1/n, q), nil
}

// Axis identifies one of the three coordinate axes.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "X"
	case AxisY:
		return "Y"
	case AxisZ:
		return "Z"
	}
	return "?"
}

// Component returns the a-th component of v.
func Component(v r3.Vec, a Axis) float64 {
	switch a {
	case AxisX:
		return v.X
	case AxisY:
		return v.Y
	default:
		return v.Z
	}
}

// Unit returns the unit vector along a.
func (a Axis) Unit() r3.Vec {
	switch a {
	case AxisX:
		return r3.Vec{X: 1}
	case AxisY:
		return r3.Vec{Y: 1}
	default:
		return r3.Vec{Z: 1}
	}
}

// EulerOrder lists the axes in the order their rotations are applied. For
// ZXY the Z rotation is applied first, then X, then Y, each about the fixed
// parent axes.
type EulerOrder [3]Axis

var (
	OrderXYZ = EulerOrder{AxisX, AxisY, AxisZ}
	OrderXZY = EulerOrder{AxisX, AxisZ, AxisY}
	OrderYXZ = EulerOrder{AxisY, AxisX, AxisZ}
	OrderYZX = EulerOrder{AxisY, AxisZ, AxisX}
	OrderZXY = EulerOrder{AxisZ, AxisX, AxisY}
	OrderZYX = EulerOrder{AxisZ, AxisY, AxisX}
)

func (o EulerOrder) String() string {
	return o[0].String() + o[1].String() + o[2].String()
}

// Valid reports whether o names each axis exactly once.
func (o EulerOrder) Valid() bool {
	var seen [3]bool
	for _, a := range o {
		if a < AxisX || a > AxisZ || seen[a] {
			return false
		}
		seen[a] = true
	}
	return true
}

// Euler holds rotation angles in degrees about the X, Y and Z axes.
type Euler struct {
	X, Y, Z float64
}

func (e Euler) angle(a Axis) float64 {
	return Component(r3.Vec{X: e.X, Y: e.Y, Z: e.Z}, a)
}

func (e *Euler) set(a Axis, deg float64) {
	switch a {
	case AxisX:
		e.X = deg
	case AxisY:
		e.Y = deg
	default:
		e.Z = deg
	}
}

// FromEuler converts Euler angles applied in order o into a unit quaternion.
func FromEuler(e Euler, o EulerOrder) quat.Number {
	q := Identity
	for _, a := range o {
		q = quat.Mul(AxisAngle(a.Unit(), e.angle(a)*math.Pi/180), q)
	}
	return q
}

// gimbalCos is the cosine of the middle angle below which the outer two
// axes are treated as aligned.
const gimbalCos = 1e-8

// ToEuler decomposes the unit quaternion q into Euler angles for order o.
// At gimbal lock the angle of the first applied axis is set to zero.
func ToEuler(q quat.Number, o EulerOrder) Euler {
	m := r3.Rotation(q).Mat()
	// With rotations applied in order o, R = R(o[2]) R(o[1]) R(o[0]).
	i, j, k := int(o[2]), int(o[1]), int(o[0])
	s := 1.0
	if (j-i+3)%3 != 1 {
		s = -1
	}

	// Row i of R holds the sine of the middle angle in column k and its
	// cosine spread over the other two columns.
	sb := s * m.At(i, k)
	cb := math.Hypot(m.At(i, i), m.At(i, j))
	beta := math.Atan2(sb, cb)

	var alpha, gamma float64
	if cb > gimbalCos {
		alpha = math.Atan2(-s*m.At(j, k), m.At(k, k))
		gamma = math.Atan2(-s*m.At(i, j), m.At(i, i))
	} else {
		alpha = math.Atan2(s*m.At(k, j), m.At(j, j))
		gamma = 0
	}

	var e Euler
	e.set(o[2], alpha*180/math.Pi)
	e.set(o[1], beta*180/math.Pi)
	e.set(o[0], gamma*180/math.Pi)
	return e
}

// Matrix is a row-major 4x4 homogeneous transform, translation in the last
// column (T[3], T[7], T[11]).
type Matrix [16]float64

// FromMatrix extracts position and rotation from a rigid transform. The 3x3
// block is assumed orthonormal; the recovered quaternion is renormalized.
func FromMatrix(t Matrix) (r3.Vec, quat.Number, error) {
	for _, v := range t {
		if !finite(v) {
			return r3.Vec{}, quat.Number{}, ErrDegenerate
		}
	}
	pos := r3.Vec{X: t[3], Y: t[7], Z: t[11]}
	m00, m01, m02 := t[0], t[1], t[2]
	m10, m11, m12 := t[4], t[5], t[6]
	m20, m21, m22 := t[8], t[9], t[10]

	var q quat.Number
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	q, err := Normalize(q)
	if err != nil {
		return r3.Vec{}, quat.Number{}, err
	}
	return pos, q, nil
}

// ToMatrix builds the rigid transform for position p and unit rotation q.
func ToMatrix(p r3.Vec, q quat.Number) Matrix {
	m := r3.Rotation(q).Mat()
	return Matrix{
		m.At(0, 0), m.At(0, 1), m.At(0, 2), p.X,
		m.At(1, 0), m.At(1, 1), m.At(1, 2), p.Y,
		m.At(2, 0), m.At(2, 1), m.At(2, 2), p.Z,
		0, 0, 0, 1,
	}
}
