package frame

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.capture/internal/engine"
	"github.com/banshee-data/motion.capture/internal/spatial"
)

// Sample is a host pose in the external frame. The three encodings describe
// the same information; Euler angles use the convention's rotation order.
type Sample interface {
	decode(order spatial.EulerOrder) (spatial.Pose, error)
}

// QuatSample carries the rotation as a quaternion.
type QuatSample struct {
	Position  r3.Vec
	Rotation  quat.Number
	Timestamp int64
}

// EulerSample carries the rotation as Euler angles in degrees.
type EulerSample struct {
	Position  r3.Vec
	Angles    spatial.Euler
	Timestamp int64
}

// MatrixSample carries a row-major rigid transform.
type MatrixSample struct {
	Transform spatial.Matrix
	Timestamp int64
}

func (s QuatSample) decode(spatial.EulerOrder) (spatial.Pose, error) {
	return spatial.NewPose(s.Position, s.Rotation, s.Timestamp), nil
}

func (s EulerSample) decode(order spatial.EulerOrder) (spatial.Pose, error) {
	if !spatial.Finite(r3.Vec{X: s.Angles.X, Y: s.Angles.Y, Z: s.Angles.Z}) {
		return spatial.Pose{}, spatial.ErrDegenerate
	}
	return spatial.NewPose(s.Position, spatial.FromEuler(s.Angles, order), s.Timestamp), nil
}

func (s MatrixSample) decode(spatial.EulerOrder) (spatial.Pose, error) {
	pos, q, err := spatial.FromMatrix(s.Transform)
	if err != nil {
		return spatial.Pose{}, err
	}
	return spatial.NewPose(pos, q, s.Timestamp), nil
}

// Decode turns a host sample into an external-frame pose.
func (c *Converter) Decode(s Sample) (spatial.Pose, error) {
	if s == nil {
		return spatial.Pose{}, engine.ErrInvalidParameter.At("decode", -1)
	}
	p, err := s.decode(c.conv.EulerOrder)
	if err != nil {
		return spatial.Pose{}, engine.ErrInvalidParameter.Wrap(err).At("decode", -1)
	}
	return p, nil
}

// SampleToEngine decodes s and converts it to the native frame.
func (c *Converter) SampleToEngine(s Sample, d DeviceType) (spatial.Pose, error) {
	p, err := c.Decode(s)
	if err != nil {
		return spatial.Pose{}, err
	}
	return c.ToEngine(p, d)
}

// EulerOf returns the Euler angles of an external-frame rotation in the
// convention's order.
func (c *Converter) EulerOf(q quat.Number) spatial.Euler {
	return spatial.ToEuler(q, c.conv.EulerOrder)
}

// MatrixOf returns the rigid transform of an external-frame pose.
func (c *Converter) MatrixOf(p spatial.Pose) spatial.Matrix {
	return spatial.ToMatrix(p.Position, p.Rotation)
}
