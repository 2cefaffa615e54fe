// Package enginetest provides an in-memory engine double that records every
// call it receives, for use in tests of the capture packages.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/motion.capture/internal/engine"
	"github.com/banshee-data/motion.capture/internal/spatial"
)

// Call is one recorded invocation.
type Call struct {
	Op     string
	Part   int
	Target int
	Pose   spatial.Pose
	Window []spatial.Pose
	Parts  []engine.StrokeResult
	Kind   engine.JobKind
	Source string
}

// Engine is a scripted engine.Engine. Hooks left nil fall back to simple
// defaults: EndStroke identifies gesture 0 (or echoes the record target),
// IdentifyCombination returns combination 0 with the parts' gestures.
type Engine struct {
	// OnEnd computes the result of EndStroke from the recorded samples.
	OnEnd func(part, target int, samples []spatial.Pose) (engine.StrokeResult, error)
	// OnCombine computes the result of IdentifyCombination.
	OnCombine func(parts []engine.StrokeResult) (engine.CombinationResult, error)
	// OnContinuous computes the result of ContinuousIdentify.
	OnContinuous func(part int, window []spatial.Pose) (engine.StrokeResult, error)
	// BeginErr, when set, is returned by BeginStroke.
	BeginErr error
	// AsyncErr, when set, is returned by the BeginAsync calls.
	AsyncErr error
	// OpenErr, when set, is returned by Open.
	OpenErr error

	mu         sync.Mutex
	calls      []Call
	strokes    map[int]*stroke
	jobs       map[engine.JobKind]engine.JobCallbacks
	cancels    map[engine.JobKind]int
	violations []string
	opened     int
	closed     int
}

type stroke struct {
	target  int
	samples []spatial.Pose
}

// New returns an Engine with default behaviour.
func New() *Engine {
	return &Engine{
		strokes: make(map[int]*stroke),
		jobs:    make(map[engine.JobKind]engine.JobCallbacks),
		cancels: make(map[engine.JobKind]int),
	}
}

// Open implements engine.Engine. The double hands out itself as the handle.
func (e *Engine) Open(ctx context.Context) (engine.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.OpenErr != nil {
		return nil, e.OpenErr
	}
	e.mu.Lock()
	e.opened++
	e.mu.Unlock()
	return e, nil
}

func (e *Engine) record(c Call) {
	e.calls = append(e.calls, c)
}

func (e *Engine) violate(format string, args ...interface{}) {
	e.violations = append(e.violations, fmt.Sprintf(format, args...))
}

func (e *Engine) BeginStroke(part int, reference spatial.Pose, target int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: "begin", Part: part, Target: target, Pose: reference})
	if e.BeginErr != nil {
		return e.BeginErr
	}
	if _, ok := e.strokes[part]; ok {
		e.violate("begin on part %d while stroke active", part)
	}
	e.strokes[part] = &stroke{target: target}
	return nil
}

func (e *Engine) AppendStrokeSample(part int, sample spatial.Pose) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: "append", Part: part, Pose: sample})
	s, ok := e.strokes[part]
	if !ok {
		e.violate("append on idle part %d", part)
		return engine.Failure("append", engine.StatusEngineFailure)
	}
	s.samples = append(s.samples, sample)
	return nil
}

func (e *Engine) EndStroke(part int) (engine.StrokeResult, error) {
	e.mu.Lock()
	e.record(Call{Op: "end", Part: part})
	s, ok := e.strokes[part]
	delete(e.strokes, part)
	hook := e.OnEnd
	e.mu.Unlock()

	if !ok {
		e.mu.Lock()
		e.violate("end on idle part %d", part)
		e.mu.Unlock()
		return engine.StrokeResult{}, engine.Failure("end", engine.StatusEngineFailure)
	}
	if hook != nil {
		return hook(part, s.target, s.samples)
	}
	res := engine.StrokeResult{Part: part, GestureID: 0, Similarity: 1, Scale: 1}
	if s.target >= 0 {
		res.GestureID = s.target
	}
	return res, nil
}

func (e *Engine) CancelStroke(part int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: "cancel", Part: part})
	if _, ok := e.strokes[part]; !ok {
		e.violate("cancel on idle part %d", part)
	}
	delete(e.strokes, part)
	return nil
}

func (e *Engine) IdentifyCombination(parts []engine.StrokeResult) (engine.CombinationResult, error) {
	e.mu.Lock()
	cp := append([]engine.StrokeResult(nil), parts...)
	e.record(Call{Op: "combine", Part: -1, Parts: cp})
	hook := e.OnCombine
	e.mu.Unlock()

	if hook != nil {
		return hook(cp)
	}
	res := engine.CombinationResult{CombinationID: 0, Similarity: 1}
	for _, p := range cp {
		res.PartGestures = append(res.PartGestures, p.GestureID)
		res.PartSimilarities = append(res.PartSimilarities, p.Similarity)
	}
	return res, nil
}

func (e *Engine) ContinuousIdentify(part int, reference spatial.Pose, window []spatial.Pose) (engine.StrokeResult, error) {
	e.mu.Lock()
	w := append([]spatial.Pose(nil), window...)
	e.record(Call{Op: "continuous", Part: part, Pose: reference, Window: w})
	hook := e.OnContinuous
	e.mu.Unlock()

	if hook != nil {
		return hook(part, w)
	}
	return engine.StrokeResult{Part: part, GestureID: 0, Similarity: 1, Scale: 1}, nil
}

func (e *Engine) beginAsync(kind engine.JobKind, source string, cb engine.JobCallbacks) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: "async", Part: -1, Kind: kind, Source: source})
	if e.AsyncErr != nil {
		return e.AsyncErr
	}
	if _, ok := e.jobs[kind]; ok {
		e.violate("async %s started while running", kind)
	}
	e.jobs[kind] = cb
	return nil
}

func (e *Engine) BeginAsyncLoad(source string, cb engine.JobCallbacks) error {
	return e.beginAsync(engine.JobLoad, source, cb)
}

func (e *Engine) BeginAsyncSave(dest string, cb engine.JobCallbacks) error {
	return e.beginAsync(engine.JobSave, dest, cb)
}

func (e *Engine) BeginAsyncTrain(cb engine.JobCallbacks) error {
	return e.beginAsync(engine.JobTrain, "", cb)
}

// Cancel records the request; the job keeps running until the test calls
// Finish for it.
func (e *Engine) Cancel(kind engine.JobKind) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(Call{Op: "cancel_job", Part: -1, Kind: kind})
	e.cancels[kind]++
	return nil
}

func (e *Engine) IsRunning(kind engine.JobKind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.jobs[kind]
	return ok
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

// Progress reports progress for a running job, as the engine's worker would.
func (e *Engine) Progress(kind engine.JobKind, percent float64) {
	e.mu.Lock()
	cb, ok := e.jobs[kind]
	e.mu.Unlock()
	if ok && cb.Progress != nil {
		cb.Progress(percent)
	}
}

// Finish completes a running job with code.
func (e *Engine) Finish(kind engine.JobKind, code engine.Status) {
	e.mu.Lock()
	cb, ok := e.jobs[kind]
	delete(e.jobs, kind)
	e.mu.Unlock()
	if ok && cb.Finish != nil {
		cb.Finish(code)
	}
}

// Calls returns a copy of the recorded calls.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// CallsOf returns the recorded calls with the given op.
func (e *Engine) CallsOf(op string) []Call {
	var out []Call
	for _, c := range e.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Violations lists calls that arrived while the engine-side state forbade
// them.
func (e *Engine) Violations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.violations...)
}

// CancelRequests returns how many times Cancel was called for kind.
func (e *Engine) CancelRequests(kind engine.JobKind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancels[kind]
}

// Sessions returns the number of Open and Close calls seen.
func (e *Engine) Sessions() (opened, closed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened, e.closed
}

var (
	_ engine.Engine = (*Engine)(nil)
	_ engine.Handle = (*Engine)(nil)
)
