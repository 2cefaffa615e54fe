// Package stroke implements the per-part stroke lifecycle: a part is Idle
// until a stroke starts, Recording while samples arrive, and Idle again once
// the stroke ends or is cancelled.
package stroke

import (
	"github.com/banshee-data/motion.capture/internal/engine"
	"github.com/banshee-data/motion.capture/internal/monitoring"
	"github.com/banshee-data/motion.capture/internal/spatial"
)

// State represents the lifecycle state of a part.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

// Completed describes a stroke handed to the engine by End.
type Completed struct {
	Part    int
	Target  int // engine.Identify for classify mode
	Samples []spatial.Pose
	Result  engine.StrokeResult
}

// Recorded reports whether the stroke was recorded as a training sample.
func (c Completed) Recorded() bool { return c.Target >= 0 }

// Tracker drives one part's stroke against an engine handle. Every sample
// is forwarded in arrival order and also kept in an append-only buffer.
//
// A Tracker is not safe for concurrent use; the owning coordinator
// serializes access.
type Tracker struct {
	part   int
	handle engine.Handle

	state     State
	target    int
	reference spatial.Pose
	samples   []spatial.Pose
}

// NewTracker creates an idle tracker for part.
func NewTracker(part int, h engine.Handle) *Tracker {
	return &Tracker{part: part, handle: h, state: StateIdle, target: engine.Identify}
}

// Part returns the part index.
func (t *Tracker) Part() int { return t.part }

// State returns the current lifecycle state.
func (t *Tracker) State() State { return t.state }

// Recording reports whether a stroke is in progress.
func (t *Tracker) Recording() bool { return t.state == StateRecording }

// Target returns the record target of the current or last stroke.
func (t *Tracker) Target() int { return t.target }

// SampleCount returns the number of buffered samples.
func (t *Tracker) SampleCount() int { return len(t.samples) }

// Samples returns a copy of the buffered samples.
func (t *Tracker) Samples() []spatial.Pose {
	return append([]spatial.Pose(nil), t.samples...)
}

// Start begins a stroke. target is a gesture id to record the stroke as a
// training sample, or engine.Identify to classify it when it ends.
func (t *Tracker) Start(reference spatial.Pose, target int) error {
	if t.state == StateRecording {
		return engine.ErrAlreadyStarted.At("start", t.part)
	}
	if target < engine.Identify {
		return engine.ErrInvalidParameter.At("start", t.part)
	}
	if err := t.handle.BeginStroke(t.part, reference, target); err != nil {
		return engine.AsEngineError("start", t.part, err)
	}
	t.state = StateRecording
	t.target = target
	t.reference = reference
	t.samples = t.samples[:0]
	return nil
}

// Continue appends a sample to the stroke in progress.
func (t *Tracker) Continue(sample spatial.Pose) error {
	if t.state != StateRecording {
		return engine.ErrNotStarted.At("contd", t.part)
	}
	if err := t.handle.AppendStrokeSample(t.part, sample); err != nil {
		return engine.AsEngineError("contd", t.part, err)
	}
	t.samples = append(t.samples, sample)
	return nil
}

// End hands the stroke to the engine. The part returns to Idle and its
// buffer is cleared whether or not the engine succeeds.
func (t *Tracker) End() (Completed, error) {
	if t.state != StateRecording {
		return Completed{}, engine.ErrNotStarted.At("end", t.part)
	}
	done := Completed{Part: t.part, Target: t.target, Samples: t.Samples()}
	t.reset()

	res, err := t.handle.EndStroke(t.part)
	if err != nil {
		monitoring.Logf("[StrokeTracker] part %d end failed after %d samples: %v", t.part, len(done.Samples), err)
		return done, engine.AsEngineError("end", t.part, err)
	}
	res.Part = t.part
	done.Result = res
	return done, nil
}

// Cancel discards the stroke in progress. Cancelling an idle part is a
// sequencing error.
func (t *Tracker) Cancel() error {
	if t.state != StateRecording {
		return engine.ErrNotStarted.At("cancel", t.part)
	}
	n := len(t.samples)
	t.reset()
	if err := t.handle.CancelStroke(t.part); err != nil {
		return engine.AsEngineError("cancel", t.part, err)
	}
	monitoring.Logf("[StrokeTracker] part %d cancelled, discarded %d samples", t.part, n)
	return nil
}

func (t *Tracker) reset() {
	t.state = StateIdle
	t.samples = nil
}
