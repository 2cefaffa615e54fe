// Package jobs tracks the engine's asynchronous load, save and train
// operations. At most one job of each kind runs at a time; progress and
// completion arrive from engine worker goroutines.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/motion.capture/internal/engine"
	"github.com/banshee-data/motion.capture/internal/monitoring"
	"github.com/banshee-data/motion.capture/internal/timeutil"
)

// State is the lifecycle state of one job kind.
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
)

// Snapshot is a point-in-time copy of a job kind's state.
type Snapshot struct {
	Kind       engine.JobKind
	Source     string // database path for load and save
	State      State
	Progress   float64       // percent complete, 0..100
	Result     engine.Status // result of the last finished run
	JobID      string        // identifier of the current or last run
	StartedAt  time.Time
	FinishedAt time.Time
}

// EventType names a job transition delivered to handlers.
type EventType string

const (
	EventStarted    EventType = "started"
	EventProgress   EventType = "progress"
	EventCancelling EventType = "cancelling"
	EventFinished   EventType = "finished"
)

// Event is delivered to handlers after the tracker state has been updated.
type Event struct {
	Type     EventType
	Snapshot Snapshot
}

// Handler observes job events. Handlers run on whichever goroutine caused
// the transition, outside the tracker lock, one event at a time and in the
// order the transitions happened. A handler must not call back into the
// tracker.
type Handler func(Event)

type job struct {
	snap      Snapshot
	done      chan struct{} // closed when the current run returns to Idle
	requested bool          // a cancel request for the current run is in flight
}

// Tracker holds one job slot per kind.
type Tracker struct {
	mu       sync.Mutex
	emitMu   sync.Mutex // held while handlers run; acquired after mu
	clock    timeutil.Clock
	jobs     map[engine.JobKind]*job
	handlers []Handler
}

// NewTracker returns a tracker with every kind Idle. A nil clock uses the
// wall clock.
func NewTracker(clock timeutil.Clock) *Tracker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	t := &Tracker{clock: clock, jobs: make(map[engine.JobKind]*job, len(engine.JobKinds))}
	for _, k := range engine.JobKinds {
		t.jobs[k] = newIdle(k)
	}
	return t
}

func newIdle(kind engine.JobKind) *job {
	done := make(chan struct{})
	close(done)
	return &job{snap: Snapshot{Kind: kind, State: StateIdle}, done: done}
}

func (t *Tracker) slot(op string, kind engine.JobKind) (*job, error) {
	j, ok := t.jobs[kind]
	if !ok {
		return nil, engine.ErrInvalidParameter.At(op, -1)
	}
	return j, nil
}

// OnEvent registers h for every subsequent job event.
func (t *Tracker) OnEvent(h Handler) {
	if h == nil {
		return
	}
	t.mu.Lock()
	t.handlers = append(t.handlers, h)
	t.mu.Unlock()
}

// emitLocked delivers an event for a transition made under t.mu and
// releases t.mu. Taking emitMu before releasing mu keeps delivery in
// transition order.
func (t *Tracker) emitLocked(typ EventType, snap Snapshot) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	hs := append([]Handler(nil), t.handlers...)
	t.mu.Unlock()
	for _, h := range hs {
		h(Event{Type: typ, Snapshot: snap})
	}
}

// Start moves kind from Idle to Running and calls begin with callbacks bound
// to the new run. source is informational and carried in snapshots. It
// fails with engine.ErrBusy, without calling begin, when a job of the same
// kind is Running or Cancelling. If begin fails the kind returns to Idle
// with the failure's status as its result.
func (t *Tracker) Start(kind engine.JobKind, source string, begin func(engine.JobCallbacks) error) (string, error) {
	op := "start_" + string(kind)

	t.mu.Lock()
	j, err := t.slot(op, kind)
	if err != nil {
		t.mu.Unlock()
		return "", err
	}
	if j.snap.State != StateIdle {
		t.mu.Unlock()
		return "", engine.ErrBusy.At(op, -1)
	}
	id := uuid.New().String()
	j.snap = Snapshot{
		Kind:      kind,
		Source:    source,
		State:     StateRunning,
		JobID:     id,
		StartedAt: t.clock.Now(),
	}
	j.done = make(chan struct{})
	j.requested = false
	monitoring.Logf("[JobTracker] %s job %s started", kind, id)
	t.emitLocked(EventStarted, j.snap)

	cb := engine.JobCallbacks{
		Progress: func(pct float64) { t.progress(kind, id, pct) },
		Finish:   func(code engine.Status) { t.finish(kind, id, code) },
	}
	if err := begin(cb); err != nil {
		err = engine.AsEngineError(op, -1, err)
		monitoring.Logf("[JobTracker] %s job %s failed to start: %v", kind, id, err)
		t.finish(kind, id, engine.StatusOf(err))
		return id, err
	}
	return id, nil
}

func (t *Tracker) progress(kind engine.JobKind, id string, pct float64) {
	t.mu.Lock()
	j := t.jobs[kind]
	if j.snap.JobID != id || j.snap.State == StateIdle {
		t.mu.Unlock()
		return
	}
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	j.snap.Progress = pct
	t.emitLocked(EventProgress, j.snap)
}

// finish returns the run to Idle. Reports for a run that already finished
// are ignored.
func (t *Tracker) finish(kind engine.JobKind, id string, code engine.Status) {
	t.mu.Lock()
	j := t.jobs[kind]
	if j.snap.JobID != id || j.snap.State == StateIdle {
		t.mu.Unlock()
		monitoring.Logf("[JobTracker] ignoring stale finish for %s job %s", kind, id)
		return
	}
	j.snap.State = StateIdle
	j.snap.Result = code
	if code == engine.StatusOK {
		j.snap.Progress = 100
	}
	j.snap.FinishedAt = t.clock.Now()
	j.requested = false
	close(j.done)
	monitoring.Logf("[JobTracker] %s job %s finished: %s", kind, id, code)
	t.emitLocked(EventFinished, j.snap)
}

// Cancel requests cancellation of the running job of kind. The engine is
// asked first; once it accepts, the kind moves to Cancelling and reaches
// Idle only when the engine reports completion. A refused request leaves
// the job Running. Cancelling an Idle kind fails with engine.ErrNotStarted;
// a repeated request while one is in flight or Cancelling is a no-op.
func (t *Tracker) Cancel(kind engine.JobKind, cancel func() error) error {
	op := "cancel_" + string(kind)

	t.mu.Lock()
	j, err := t.slot(op, kind)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	switch j.snap.State {
	case StateIdle:
		t.mu.Unlock()
		return engine.ErrNotStarted.At(op, -1)
	case StateCancelling:
		t.mu.Unlock()
		return nil
	}
	if j.requested {
		t.mu.Unlock()
		return nil
	}
	j.requested = true
	id := j.snap.JobID
	t.mu.Unlock()

	err = cancel()

	t.mu.Lock()
	if j.snap.JobID != id || j.snap.State != StateRunning {
		// The run finished while the request was in flight.
		t.mu.Unlock()
		if err != nil {
			return engine.AsEngineError(op, -1, err)
		}
		return nil
	}
	j.requested = false
	if err != nil {
		t.mu.Unlock()
		return engine.AsEngineError(op, -1, err)
	}
	j.snap.State = StateCancelling
	monitoring.Logf("[JobTracker] %s job %s cancellation requested", kind, id)
	t.emitLocked(EventCancelling, j.snap)
	return nil
}

// Snapshot returns the current state of kind.
func (t *Tracker) Snapshot(kind engine.JobKind) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[kind]; ok {
		return j.snap
	}
	return Snapshot{Kind: kind, State: StateIdle}
}

// Running reports whether kind is Running or Cancelling.
func (t *Tracker) Running(kind engine.JobKind) bool {
	return t.Snapshot(kind).State != StateIdle
}

// Wait blocks until kind is Idle or ctx is done. There is no internal
// timeout; a job the engine never finishes keeps Wait blocked until ctx
// expires.
func (t *Tracker) Wait(ctx context.Context, kind engine.JobKind) (Snapshot, error) {
	t.mu.Lock()
	j, err := t.slot("wait", kind)
	if err != nil {
		t.mu.Unlock()
		return Snapshot{}, err
	}
	done := j.done
	t.mu.Unlock()

	select {
	case <-done:
		return t.Snapshot(kind), nil
	case <-ctx.Done():
		return t.Snapshot(kind), ctx.Err()
	}
}
