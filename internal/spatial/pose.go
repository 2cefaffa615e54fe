// Package spatial holds the vector and quaternion primitives shared by the
// capture pipeline. Vectors are gonum r3.Vec values and rotations are unit
// quaternions (quat.Number, Real = w).
package spatial

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Identity is the identity rotation.
var Identity = quat.Number{Real: 1}

// Pose is a single motion sample: a position, an orientation and the time it
// was captured. Poses are values and are never modified in place.
type Pose struct {
	Position  r3.Vec
	Rotation  quat.Number
	Timestamp int64 // unix nanos
}

// NewPose builds a pose from raw components. The rotation is taken as given;
// callers that accept external input should go through Normalize first.
func NewPose(position r3.Vec, rotation quat.Number, timestamp int64) Pose {
	return Pose{Position: position, Rotation: rotation, Timestamp: timestamp}
}

// IdentityPose returns a pose at the origin with no rotation.
func IdentityPose(timestamp int64) Pose {
	return Pose{Rotation: Identity, Timestamp: timestamp}
}

// Finite reports whether every component of v is a finite number.
func Finite(v r3.Vec) bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

// FiniteQuat reports whether every component of q is a finite number.
func FiniteQuat(q quat.Number) bool {
	return !quat.IsNaN(q) && !quat.IsInf(q)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Rotate applies the rotation q to v. q must be a unit quaternion.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	return r3.Rotation(q).Rotate(v)
}

// Compose returns the rotation that applies b first and then a.
func Compose(a, b quat.Number) quat.Number {
	return quat.Mul(a, b)
}

// Inverse returns the inverse of the unit quaternion q.
func Inverse(q quat.Number) quat.Number {
	return quat.Conj(q)
}

// AxisAngle returns the rotation of angle radians about axis. A zero axis
// yields the identity.
func AxisAngle(axis r3.Vec, angle float64) quat.Number {
	if r3.Norm2(axis) == 0 {
		return Identity
	}
	return quat.Number(r3.NewRotation(angle, axis))
}

// Canonical flips the sign of q so that its scalar part is non-negative.
// q and -q describe the same rotation; comparisons should use this form.
func Canonical(q quat.Number) quat.Number {
	if q.Real < 0 || (q.Real == 0 && firstNonZero(q) < 0) {
		return quat.Scale(-1, q)
	}
	return q
}

func firstNonZero(q quat.Number) float64 {
	for _, v := range [...]float64{q.Imag, q.Jmag, q.Kmag} {
		if v != 0 {
			return v
		}
	}
	return 0
}

// Forward, Up and Right return the local axes of q expressed in the parent
// frame, in the engine's left-handed convention (Z forward, Y up, X right).
func Forward(q quat.Number) r3.Vec { return Rotate(q, r3.Vec{Z: 1}) }

// Up returns the local Y axis of q.
func Up(q quat.Number) r3.Vec { return Rotate(q, r3.Vec{Y: 1}) }

// Right returns the local X axis of q.
func Right(q quat.Number) r3.Vec { return Rotate(q, r3.Vec{X: 1}) }
