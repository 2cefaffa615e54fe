// Package frame converts poses between the engine's native coordinate frame
// and the conventions used by external tracking runtimes.
//
// The native frame is left-handed with X right, Y up and Z forward, measured
// in metres. A Convention describes an external frame as a signed axis
// permutation plus a unit scale; a Runtime selects the controller correction
// applied on top of the basis change.
package frame

import (
	"sort"

	"github.com/banshee-data/motion.capture/internal/spatial"
)

// AxisSource says which external axis, with which sign, feeds one native axis.
type AxisSource struct {
	From spatial.Axis
	Sign float64 // +1 or -1
}

// Convention describes an external coordinate frame.
type Convention struct {
	Name string
	// Axes[i] produces native axis i from the external vector.
	Axes [3]AxisSource
	// Scale converts external units to metres.
	Scale float64
	// EulerOrder is the order in which the convention applies Euler angles.
	EulerOrder spatial.EulerOrder
	// RightHanded is informational; handedness follows from Axes.
	RightHanded bool
}

var (
	plusX  = AxisSource{From: spatial.AxisX, Sign: 1}
	plusY  = AxisSource{From: spatial.AxisY, Sign: 1}
	plusZ  = AxisSource{From: spatial.AxisZ, Sign: 1}
	minusY = AxisSource{From: spatial.AxisY, Sign: -1}
	minusZ = AxisSource{From: spatial.AxisZ, Sign: -1}
)

const ConventionNative = "native"

// conventions is the fixed set of supported external frames.
var conventions = map[string]Convention{
	ConventionNative: {
		Name:       ConventionNative,
		Axes:       [3]AxisSource{plusX, plusY, plusZ},
		Scale:      1,
		EulerOrder: spatial.OrderZXY,
	},
	// Left-handed, Y up, Z forward, metres.
	"unity": {
		Name:       "unity",
		Axes:       [3]AxisSource{plusX, plusY, plusZ},
		Scale:      1,
		EulerOrder: spatial.OrderZXY,
	},
	// Left-handed, X forward, Y right, Z up, centimetres. Rotators apply
	// roll, pitch, then yaw.
	"unreal": {
		Name:       "unreal",
		Axes:       [3]AxisSource{plusY, plusZ, plusX},
		Scale:      0.01,
		EulerOrder: spatial.OrderXYZ,
	},
	// Right-handed, Y up, -Z forward, metres.
	"openxr": {
		Name:        "openxr",
		Axes:        [3]AxisSource{plusX, plusY, minusZ},
		Scale:       1,
		EulerOrder:  spatial.OrderYXZ,
		RightHanded: true,
	},
	"steamvr": {
		Name:        "steamvr",
		Axes:        [3]AxisSource{plusX, plusY, minusZ},
		Scale:       1,
		EulerOrder:  spatial.OrderYXZ,
		RightHanded: true,
	},
	// Right-handed, X forward, Y left, Z up, metres (REP 103).
	"ros": {
		Name:        "ros",
		Axes:        [3]AxisSource{minusY, plusZ, plusX},
		Scale:       1,
		EulerOrder:  spatial.OrderXYZ,
		RightHanded: true,
	},
}

// LookupConvention returns the named convention.
func LookupConvention(name string) (Convention, bool) {
	c, ok := conventions[name]
	return c, ok
}

// ConventionNames lists the supported conventions in sorted order.
func ConventionNames() []string {
	names := make([]string, 0, len(conventions))
	for n := range conventions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Determinant returns +1 when the convention has the native handedness and
// -1 when converting flips it.
func (c Convention) Determinant() float64 {
	d := c.Axes[0].Sign * c.Axes[1].Sign * c.Axes[2].Sign
	if permutationParity(c.Axes[0].From, c.Axes[1].From, c.Axes[2].From) < 0 {
		d = -d
	}
	return d
}

func permutationParity(a, b, c spatial.Axis) float64 {
	// Even permutations of (X, Y, Z) are the cyclic ones.
	if (int(b)-int(a)+3)%3 == 1 && (int(c)-int(b)+3)%3 == 1 {
		return 1
	}
	return -1
}

// valid reports whether the axes form a signed permutation and the scale is
// usable.
func (c Convention) valid() bool {
	var seen [3]bool
	for _, a := range c.Axes {
		if a.From < spatial.AxisX || a.From > spatial.AxisZ || seen[a.From] {
			return false
		}
		if a.Sign != 1 && a.Sign != -1 {
			return false
		}
		seen[a.From] = true
	}
	return c.Scale > 0 && c.EulerOrder.Valid()
}

// identity reports whether the convention is the native frame.
func (c Convention) identity() bool {
	return c.Axes == [3]AxisSource{plusX, plusY, plusZ} && c.Scale == 1
}
