// Package engine defines the contract of the gesture-classification engine
// the capture layer drives, together with the status codes and error
// taxonomy shared by every capture package.
//
// The engine itself is external. Synchronous Handle methods must be called
// from one goroutine at a time; the async load, save and train calls run on
// engine-owned goroutines and report back through JobCallbacks.
package engine

import (
	"context"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.capture/internal/spatial"
)

// Identify is the record target that asks for classification when the stroke
// ends instead of recording a training sample.
const Identify = -1

// StrokeResult is the engine's answer to a finished classify-mode stroke, or
// an acknowledgement of a recorded sample. GestureID is negative when the
// stroke could not be identified.
type StrokeResult struct {
	Part       int
	GestureID  int
	Similarity float64
	Position   r3.Vec
	Scale      float64
	Primary    r3.Vec
	Secondary  r3.Vec
	Tertiary   r3.Vec
}

// Identified reports whether the result names a gesture.
func (r StrokeResult) Identified() bool { return r.GestureID >= 0 }

// CombinationResult is built from a complete set of per-part results.
type CombinationResult struct {
	CombinationID    int
	PartGestures     []int     // gesture assigned to each part, indexed like the request
	Similarity       float64   // overall similarity
	PartSimilarities []float64 // per part similarity
	Probabilities    []float64 // per combination probability, may be empty
}

// JobKind names one kind of asynchronous engine operation.
type JobKind string

const (
	JobLoad  JobKind = "load"
	JobSave  JobKind = "save"
	JobTrain JobKind = "train"
)

// JobKinds lists every async job kind.
var JobKinds = []JobKind{JobLoad, JobSave, JobTrain}

// JobCallbacks receive progress of an async job. The engine may invoke them
// from its own goroutines. Finish is called exactly once per started job,
// including after a cancellation request.
type JobCallbacks struct {
	Progress func(percent float64)
	Finish   func(code Status)
}

// Engine opens sessions on the classification engine.
type Engine interface {
	Open(ctx context.Context) (Handle, error)
}

// Handle is an open engine session. It is released with Close.
type Handle interface {
	BeginStroke(part int, reference spatial.Pose, target int) error
	AppendStrokeSample(part int, sample spatial.Pose) error
	EndStroke(part int) (StrokeResult, error)
	CancelStroke(part int) error

	IdentifyCombination(parts []StrokeResult) (CombinationResult, error)
	ContinuousIdentify(part int, reference spatial.Pose, window []spatial.Pose) (StrokeResult, error)

	BeginAsyncLoad(source string, cb JobCallbacks) error
	BeginAsyncSave(dest string, cb JobCallbacks) error
	BeginAsyncTrain(cb JobCallbacks) error
	Cancel(kind JobKind) error
	IsRunning(kind JobKind) bool

	Close() error
}
