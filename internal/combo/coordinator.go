// Package combo gates multi-part gesture identification. Each part has its
// own stroke tracker; a combined identification is requested only once every
// enabled part has finished a classify-mode stroke.
package combo

import (
	"sync"

	"github.com/banshee-data/motion.capture/internal/engine"
	"github.com/banshee-data/motion.capture/internal/monitoring"
	"github.com/banshee-data/motion.capture/internal/spatial"
	"github.com/banshee-data/motion.capture/internal/stroke"
)

// OutcomeState describes what happened when a part's stroke ended.
type OutcomeState string

const (
	OutcomeNone       OutcomeState = ""
	OutcomeRecorded   OutcomeState = "recorded"   // training sample stored
	OutcomeWaiting    OutcomeState = "waiting"    // other enabled parts still outstanding
	OutcomeIdentified OutcomeState = "identified" // combination resolved
	OutcomeFailed     OutcomeState = "failed"     // stroke or combination failed
	OutcomeAbandoned  OutcomeState = "abandoned"  // pending attempt dropped
)

// Outcome is the result of ending a stroke, and later the resolution of the
// combination attempt the stroke took part in.
type Outcome struct {
	State       OutcomeState
	Stroke      stroke.Completed
	Combination *engine.CombinationResult
	Combined    bool // a combined identification was issued for this attempt
	Err         error
}

type slot struct {
	tracker *stroke.Tracker
	enabled bool
	pending *engine.StrokeResult
	outcome Outcome
}

// Coordinator owns one stroke tracker per part and the pending per-part
// results of the current combination attempt. It is safe for concurrent use;
// engine calls are serialized under its lock.
type Coordinator struct {
	mu     sync.Mutex
	handle engine.Handle
	slots  []*slot
}

// NewCoordinator creates a coordinator for n parts, all enabled.
func NewCoordinator(h engine.Handle, n int) *Coordinator {
	c := &Coordinator{handle: h, slots: make([]*slot, n)}
	for i := range c.slots {
		c.slots[i] = &slot{tracker: stroke.NewTracker(i, h), enabled: true}
	}
	return c
}

// Parts returns the number of parts.
func (c *Coordinator) Parts() int { return len(c.slots) }

func (c *Coordinator) slot(op string, part int) (*slot, error) {
	if part < 0 || part >= len(c.slots) {
		return nil, engine.ErrInvalidPart.At(op, part)
	}
	return c.slots[part], nil
}

func (c *Coordinator) enabledSlot(op string, part int) (*slot, error) {
	s, err := c.slot(op, part)
	if err != nil {
		return nil, err
	}
	if !s.enabled {
		return nil, engine.ErrInvalidPart.At(op, part)
	}
	return s, nil
}

// SetEnabled enables or disables a part. Disabling cancels any stroke in
// progress and drops the part's pending result; disabled parts are never
// waited upon.
func (c *Coordinator) SetEnabled(part int, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.slot("set_enabled", part)
	if err != nil {
		return err
	}
	if !enabled && s.tracker.Recording() {
		if err := s.tracker.Cancel(); err != nil {
			monitoring.Logf("[Combination] part %d cancel on disable: %v", part, err)
		}
	}
	if !enabled {
		s.pending = nil
	}
	s.enabled = enabled
	return nil
}

// Enabled reports whether part participates in combinations.
func (c *Coordinator) Enabled(part int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.slot("enabled", part)
	return err == nil && s.enabled
}

// Start begins a stroke on part. See stroke.Tracker.Start.
func (c *Coordinator) Start(part int, reference spatial.Pose, target int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.enabledSlot("start", part)
	if err != nil {
		return err
	}
	return s.tracker.Start(reference, target)
}

// Continue appends a sample to part's stroke.
func (c *Coordinator) Continue(part int, sample spatial.Pose) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.enabledSlot("contd", part)
	if err != nil {
		return err
	}
	return s.tracker.Continue(sample)
}

// Cancel discards part's stroke in progress.
func (c *Coordinator) Cancel(part int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.slot("cancel", part)
	if err != nil {
		return err
	}
	return s.tracker.Cancel()
}

// Recording reports whether part has a stroke in progress.
func (c *Coordinator) Recording(part int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.slot("recording", part)
	return err == nil && s.tracker.Recording()
}

// SampleCount returns the number of samples buffered for part.
func (c *Coordinator) SampleCount(part int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.slot("sample_count", part)
	if err != nil {
		return 0
	}
	return s.tracker.SampleCount()
}

// End finishes part's stroke. Record-mode strokes resolve immediately.
// Classify-mode strokes are held until every enabled part has a result; the
// last one triggers exactly one combined identification.
func (c *Coordinator) End(part int) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.slot("end", part)
	if err != nil {
		return Outcome{}, err
	}
	done, err := s.tracker.End()
	if err != nil {
		if engine.KindOf(err) == engine.KindSequencing {
			return Outcome{}, err
		}
		if !done.Recorded() {
			c.abandonLocked()
		}
		s.outcome = Outcome{State: OutcomeFailed, Stroke: done, Err: err}
		return s.outcome, err
	}

	if done.Recorded() {
		s.outcome = Outcome{State: OutcomeRecorded, Stroke: done}
		return s.outcome, nil
	}

	if s.pending != nil {
		monitoring.Logf("[Combination] part %d finished again before combination resolved; replacing result", part)
	}
	res := done.Result
	s.pending = &res
	s.outcome = Outcome{State: OutcomeWaiting, Stroke: done}

	if !c.readyLocked() {
		return s.outcome, nil
	}
	combined, err := c.identifyLocked()
	out := s.outcome
	if err != nil {
		return out, err
	}
	out.Combination = &combined
	return out, nil
}

// Identify requests the combined identification explicitly. It fails with
// engine.ErrNotReady while any enabled part lacks a result.
func (c *Coordinator) Identify() (engine.CombinationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.readyLocked() {
		return engine.CombinationResult{}, engine.ErrNotReady.At("identify", -1)
	}
	return c.identifyLocked()
}

// Pending returns the parts holding a result for the current attempt.
func (c *Coordinator) Pending() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var parts []int
	for i, s := range c.slots {
		if s.pending != nil {
			parts = append(parts, i)
		}
	}
	return parts
}

// Outcome returns the latest outcome for part.
func (c *Coordinator) Outcome(part int) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.slot("outcome", part)
	if err != nil {
		return Outcome{}
	}
	return s.outcome
}

// Abandon drops the pending attempt. Parts still recording are unaffected.
func (c *Coordinator) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandonLocked()
}

func (c *Coordinator) abandonLocked() {
	for _, s := range c.slots {
		if s.pending != nil {
			s.pending = nil
			s.outcome.State = OutcomeAbandoned
		}
	}
}

func (c *Coordinator) readyLocked() bool {
	found := false
	for _, s := range c.slots {
		if !s.enabled {
			continue
		}
		if s.pending == nil {
			return false
		}
		found = true
	}
	return found
}

// identifyLocked issues the combined call with every enabled part's result
// in part order. Pending state is cleared before the call so that a failure
// leaves nothing behind; the outcome is recorded for every participant.
func (c *Coordinator) identifyLocked() (engine.CombinationResult, error) {
	var (
		set          []engine.StrokeResult
		participants []*slot
	)
	for _, s := range c.slots {
		if !s.enabled || s.pending == nil {
			continue
		}
		set = append(set, *s.pending)
		participants = append(participants, s)
		s.pending = nil
	}

	res, err := c.handle.IdentifyCombination(set)
	if err != nil {
		err = engine.AsEngineError("identify_combination", -1, err)
		monitoring.Logf("[Combination] identification over %d parts failed: %v", len(set), err)
		for _, s := range participants {
			s.outcome.Combined = true
			s.outcome.State = OutcomeFailed
			s.outcome.Combination = nil
			s.outcome.Err = err
		}
		return engine.CombinationResult{}, err
	}

	for _, s := range participants {
		r := res
		s.outcome.Combined = true
		s.outcome.State = OutcomeIdentified
		s.outcome.Combination = &r
		s.outcome.Err = nil
	}
	return res, nil
}
