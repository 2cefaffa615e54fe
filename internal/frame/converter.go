package frame

import (
	"fmt"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.capture/internal/engine"
	"github.com/banshee-data/motion.capture/internal/spatial"
)

// Spec names the external frame of incoming poses. Runtime is the runtime
// that tracks the devices now; TargetRuntime is the runtime the engine's
// gesture data was recorded with.
type Spec struct {
	Convention    string
	Runtime       Runtime
	TargetRuntime Runtime
}

// IdentitySpec is the native convention with no runtime correction.
func IdentitySpec() Spec {
	return Spec{Convention: ConventionNative, Runtime: RuntimeOpenXR, TargetRuntime: RuntimeOpenXR}
}

// Converter maps poses between one external frame and the native frame. It
// is immutable and safe for concurrent use.
type Converter struct {
	spec       Spec
	conv       Convention
	det        float64
	correction quat.Number
	corrected  bool // correction differs from identity
	identity   bool // native convention, no scale
}

// NewConverter resolves spec into a Converter. Unknown conventions or runtime
// pairs are configuration errors.
func NewConverter(spec Spec) (*Converter, error) {
	conv, ok := LookupConvention(spec.Convention)
	if !ok {
		return nil, engine.ErrUnknownRuntime.Wrap(fmt.Errorf("unknown convention %q", spec.Convention)).At("resolve", -1)
	}
	return NewConverterFor(conv, spec.Runtime, spec.TargetRuntime)
}

// NewConverterFor builds a Converter for a custom convention.
func NewConverterFor(conv Convention, runtime, target Runtime) (*Converter, error) {
	if !conv.valid() {
		return nil, engine.ErrInvalidParameter.Wrap(fmt.Errorf("convention %q is not a signed axis permutation with positive scale", conv.Name)).At("resolve", -1)
	}
	corr, ok := ControllerCorrection(runtime, target)
	if !ok {
		return nil, engine.ErrUnknownRuntime.Wrap(fmt.Errorf("no controller correction from %q to %q", runtime, target)).At("resolve", -1)
	}
	return &Converter{
		spec:       Spec{Convention: conv.Name, Runtime: runtime, TargetRuntime: target},
		conv:       conv,
		det:        conv.Determinant(),
		correction: corr,
		corrected:  corr != spatial.Identity,
		identity:   conv.identity(),
	}, nil
}

// Spec returns the frame spec the converter was built from.
func (c *Converter) Spec() Spec { return c.spec }

// Convention returns the external convention.
func (c *Converter) Convention() Convention { return c.conv }

// ToEngine converts a pose from the external frame to the native frame.
func (c *Converter) ToEngine(p spatial.Pose, d DeviceType) (spatial.Pose, error) {
	if !spatial.Finite(p.Position) {
		return spatial.Pose{}, engine.ErrInvalidParameter.At("to_engine", -1)
	}
	q, err := spatial.Normalize(p.Rotation)
	if err != nil {
		return spatial.Pose{}, engine.ErrInvalidParameter.Wrap(err).At("to_engine", -1)
	}
	out := spatial.Pose{
		Position:  c.PositionToEngine(p.Position),
		Rotation:  c.basisToEngine(q),
		Timestamp: p.Timestamp,
	}
	if d == DeviceController && c.corrected {
		out.Rotation = quat.Mul(out.Rotation, c.correction)
	}
	return out, nil
}

// FromEngine converts a native pose back to the external frame. It is the
// inverse of ToEngine for the same device type.
func (c *Converter) FromEngine(p spatial.Pose, d DeviceType) (spatial.Pose, error) {
	if !spatial.Finite(p.Position) {
		return spatial.Pose{}, engine.ErrInvalidParameter.At("from_engine", -1)
	}
	q, err := spatial.Normalize(p.Rotation)
	if err != nil {
		return spatial.Pose{}, engine.ErrInvalidParameter.Wrap(err).At("from_engine", -1)
	}
	if d == DeviceController && c.corrected {
		q = quat.Mul(q, quat.Conj(c.correction))
	}
	return spatial.Pose{
		Position:  c.PositionFromEngine(p.Position),
		Rotation:  c.basisFromEngine(q),
		Timestamp: p.Timestamp,
	}, nil
}

// PositionToEngine maps an external position into native metres.
func (c *Converter) PositionToEngine(v r3.Vec) r3.Vec {
	if c.identity {
		return v
	}
	return r3.Scale(c.conv.Scale, c.permute(v))
}

// PositionFromEngine maps a native position into external units.
func (c *Converter) PositionFromEngine(v r3.Vec) r3.Vec {
	if c.identity {
		return v
	}
	return r3.Scale(1/c.conv.Scale, c.unpermute(v))
}

// DirectionFromEngine maps a native direction vector without scaling.
func (c *Converter) DirectionFromEngine(v r3.Vec) r3.Vec {
	if c.identity {
		return v
	}
	return c.unpermute(v)
}

// ScaleFromEngine maps a native length into external units.
func (c *Converter) ScaleFromEngine(s float64) float64 {
	return s / c.conv.Scale
}

// permute applies the signed permutation M: native_i = sign_i * ext[from_i].
func (c *Converter) permute(v r3.Vec) r3.Vec {
	var out [3]float64
	for i, a := range c.conv.Axes {
		out[i] = a.Sign * spatial.Component(v, a.From)
	}
	return r3.Vec{X: out[0], Y: out[1], Z: out[2]}
}

// unpermute applies the transpose of M.
func (c *Converter) unpermute(v r3.Vec) r3.Vec {
	in := [3]float64{v.X, v.Y, v.Z}
	var out [3]float64
	for i, a := range c.conv.Axes {
		out[a.From] = a.Sign * in[i]
	}
	return r3.Vec{X: out[0], Y: out[1], Z: out[2]}
}

// basisToEngine conjugates q by the basis change. For a signed permutation M
// the rotation axis maps to det(M)·M·axis while the angle is unchanged.
func (c *Converter) basisToEngine(q quat.Number) quat.Number {
	if c.identity {
		return q
	}
	v := r3.Scale(c.det, c.permute(r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}))
	return quat.Number{Real: q.Real, Imag: v.X, Jmag: v.Y, Kmag: v.Z}
}

func (c *Converter) basisFromEngine(q quat.Number) quat.Number {
	if c.identity {
		return q
	}
	v := r3.Scale(c.det, c.unpermute(r3.Vec{X: q.Imag, Y: q.Jmag, Z: q.Kmag}))
	return quat.Number{Real: q.Real, Imag: v.X, Jmag: v.Y, Kmag: v.Z}
}

// ResultFromEngine maps the spatial fields of a stroke result into the
// external frame.
func (c *Converter) ResultFromEngine(r engine.StrokeResult) engine.StrokeResult {
	r.Position = c.PositionFromEngine(r.Position)
	r.Scale = c.ScaleFromEngine(r.Scale)
	r.Primary = c.DirectionFromEngine(r.Primary)
	r.Secondary = c.DirectionFromEngine(r.Secondary)
	r.Tertiary = c.DirectionFromEngine(r.Tertiary)
	return r
}
