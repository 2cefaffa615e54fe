package frame

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.capture/internal/spatial"
)

// Runtime identifies the XR runtime that produced controller poses.
type Runtime string

const (
	RuntimeOpenXR  Runtime = "openxr"
	RuntimeSteamVR Runtime = "steamvr"
	RuntimeOculus  Runtime = "oculus"
	RuntimeWMR     Runtime = "wmr"
)

// DeviceType selects whether the controller correction applies.
type DeviceType int

const (
	DeviceHeadset DeviceType = iota
	DeviceController
)

func (d DeviceType) String() string {
	switch d {
	case DeviceHeadset:
		return "headset"
	case DeviceController:
		return "controller"
	}
	return "unknown"
}

// ParseDeviceType accepts "headset"/"hmd" and "controller"/"hand".
func ParseDeviceType(s string) (DeviceType, bool) {
	switch s {
	case "headset", "hmd":
		return DeviceHeadset, true
	case "controller", "hand", "":
		return DeviceController, true
	}
	return DeviceController, false
}

type runtimePair struct {
	from, to Runtime
}

// pitch is a rotation about the native X (right) axis.
func pitch(deg float64) quat.Number {
	return spatial.AxisAngle(r3.Vec{X: 1}, deg*math.Pi/180)
}

// controllerCorrections maps (source runtime, target runtime) to the local
// rotation that re-aims a source controller's forward axis to the target's.
// Grip forward relative to OpenXR: oculus +40, steamvr +45, wmr +30 degrees
// of pitch.
var controllerCorrections = map[runtimePair]quat.Number{
	{RuntimeOpenXR, RuntimeOpenXR}:   spatial.Identity,
	{RuntimeOpenXR, RuntimeOculus}:   pitch(-40),
	{RuntimeOpenXR, RuntimeSteamVR}:  pitch(-45),
	{RuntimeOpenXR, RuntimeWMR}:      pitch(-30),
	{RuntimeOculus, RuntimeOpenXR}:   pitch(40),
	{RuntimeOculus, RuntimeOculus}:   spatial.Identity,
	{RuntimeOculus, RuntimeSteamVR}:  pitch(-5),
	{RuntimeOculus, RuntimeWMR}:      pitch(10),
	{RuntimeSteamVR, RuntimeOpenXR}:  pitch(45),
	{RuntimeSteamVR, RuntimeOculus}:  pitch(5),
	{RuntimeSteamVR, RuntimeSteamVR}: spatial.Identity,
	{RuntimeSteamVR, RuntimeWMR}:     pitch(15),
	{RuntimeWMR, RuntimeOpenXR}:      pitch(30),
	{RuntimeWMR, RuntimeOculus}:      pitch(-10),
	{RuntimeWMR, RuntimeSteamVR}:     pitch(-15),
	{RuntimeWMR, RuntimeWMR}:         spatial.Identity,
}

// ControllerCorrection returns the correction for controllers tracked by
// from when the engine expects to poses. Unknown pairs yield the identity and
// ok=false; callers must treat that as a configuration error.
func ControllerCorrection(from, to Runtime) (q quat.Number, ok bool) {
	q, ok = controllerCorrections[runtimePair{from, to}]
	if !ok {
		return spatial.Identity, false
	}
	return q, true
}

// KnownRuntime reports whether r appears in the correction table.
func KnownRuntime(r Runtime) bool {
	_, ok := controllerCorrections[runtimePair{r, r}]
	return ok
}

// Runtimes lists the known runtimes in sorted order.
func Runtimes() []Runtime {
	var out []Runtime
	for p := range controllerCorrections {
		if p.from == p.to {
			out = append(out, p.from)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
