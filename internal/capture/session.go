// Package capture is the host-facing surface of the motion capture layer.
// A Session converts host poses into the engine's native frame, drives the
// per-part stroke trackers and the combination gate, runs continuous
// identification and tracks async database jobs.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/motion.capture/internal/combo"
	"github.com/banshee-data/motion.capture/internal/config"
	"github.com/banshee-data/motion.capture/internal/continuous"
	"github.com/banshee-data/motion.capture/internal/engine"
	"github.com/banshee-data/motion.capture/internal/frame"
	"github.com/banshee-data/motion.capture/internal/jobs"
	"github.com/banshee-data/motion.capture/internal/journal"
	"github.com/banshee-data/motion.capture/internal/monitoring"
	"github.com/banshee-data/motion.capture/internal/timeutil"
)

// ErrClosed is returned by every operation on a closed session.
var ErrClosed = errors.New("capture session closed")

// Journal receives stroke, combination and job outcomes. *journal.Journal
// satisfies it.
type Journal interface {
	RecordStroke(ctx context.Context, e journal.StrokeEntry) error
	RecordCombination(ctx context.Context, e journal.CombinationEntry) error
	RecordJob(ctx context.Context, e journal.JobEntry) error
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used for stamping samples and journal entries.
func WithClock(c timeutil.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithJournal records outcomes to j.
func WithJournal(j Journal) Option {
	return func(s *Session) { s.journal = j }
}

// WithSessionID overrides the generated session identifier.
func WithSessionID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Part describes one configured part.
type Part struct {
	Name    string
	Device  frame.DeviceType
	Enabled bool
}

// Outcome is the host-frame view of a finished stroke.
type Outcome struct {
	State       combo.OutcomeState
	Result      engine.StrokeResult // host frame
	Samples     int
	Combination *engine.CombinationResult
	Err         error
}

// Session is one capture session against an engine handle. Synchronous
// engine calls are serialized by the session lock; async job callbacks are
// handled by the job tracker and may arrive on any goroutine.
type Session struct {
	mu      sync.Mutex
	id      string
	handle  engine.Handle
	conv    *frame.Converter
	parts   []Part
	coord   *combo.Coordinator
	loops   []*continuous.Loop
	jobs    *jobs.Tracker
	clock   timeutil.Clock
	journal Journal
	owned   *journal.Journal // opened from journal_path; closed with the session
	closed  bool
}

// Open creates a session from cfg. A nil cfg uses the defaults. When the
// config sets journal_path and no WithJournal option is given, the journal
// at that path is opened and closed with the session. When the config names
// a gesture database, its load is started before Open returns.
func Open(ctx context.Context, eng engine.Engine, cfg *config.CaptureConfig, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultCaptureConfig()
	}
	conv, err := frame.NewConverter(cfg.FrameSpec())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, engine.ErrInvalidParameter.Wrap(err).At("open", -1)
	}

	s := &Session{
		conv:  conv,
		clock: timeutil.RealClock{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if s.id == "" {
		s.id = journal.NewSessionID()
	}

	for _, p := range cfg.GetParts() {
		s.parts = append(s.parts, Part{Name: p.Name, Device: p.GetDevice(), Enabled: p.GetEnabled()})
	}

	if path := cfg.GetJournalPath(); path != "" && s.journal == nil {
		j, err := journal.Open(path)
		if err != nil {
			return nil, fmt.Errorf("session journal: %w", err)
		}
		s.journal, s.owned = j, j
	}

	h, err := eng.Open(ctx)
	if err != nil {
		s.closeJournal()
		return nil, engine.AsEngineError("open", -1, err)
	}
	s.handle = h
	fail := func(err error) (*Session, error) {
		h.Close()
		s.closeJournal()
		return nil, err
	}

	s.coord = combo.NewCoordinator(h, len(s.parts))
	for i, p := range s.parts {
		if !p.Enabled {
			if err := s.coord.SetEnabled(i, false); err != nil {
				return fail(err)
			}
		}
		loop, err := continuous.New(i, h, cfg.ContinuousConfig(), s.clock)
		if err != nil {
			return fail(err)
		}
		s.loops = append(s.loops, loop)
	}

	s.jobs = jobs.NewTracker(s.clock)
	if s.journal != nil {
		s.jobs.OnEvent(s.journalJob)
	}

	monitoring.Logf("[Session] %s opened: convention=%s runtime=%s target=%s parts=%d",
		s.id, cfg.GetConvention(), cfg.GetRuntime(), cfg.GetTargetRuntime(), len(s.parts))

	if db := cfg.GetGestureDatabase(); db != "" {
		if _, err := s.LoadAsync(db); err != nil {
			return fail(fmt.Errorf("initial gesture database load: %w", err))
		}
	}
	return s, nil
}

// ID returns the session identifier used in journal entries.
func (s *Session) ID() string { return s.id }

// Converter returns the session's frame converter.
func (s *Session) Converter() *frame.Converter { return s.conv }

// Parts returns the configured parts.
func (s *Session) Parts() []Part {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Part(nil), s.parts...)
}

// lock acquires the session lock unless the session is closed. On error
// the lock is not held.
func (s *Session) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// lockPart is lock plus a range check on part.
func (s *Session) lockPart(op string, part int) error {
	if err := s.lock(); err != nil {
		return err
	}
	if part < 0 || part >= len(s.parts) {
		s.mu.Unlock()
		return engine.ErrInvalidPart.At(op, part)
	}
	return nil
}

// Close cancels strokes in progress, requests cancellation of running jobs
// and releases the engine handle and any journal the session opened. Jobs
// are not waited for; use WaitJob before Close to reach quiescence.
func (s *Session) Close() error {
	if err := s.lock(); err != nil {
		return err
	}
	s.closed = true
	for i := range s.parts {
		if s.coord.Recording(i) {
			if err := s.coord.Cancel(i); err != nil {
				monitoring.Logf("[Session] %s cancel part %d on close: %v", s.id, i, err)
			}
		}
	}
	s.mu.Unlock()

	for _, kind := range engine.JobKinds {
		if !s.jobs.Running(kind) {
			continue
		}
		if err := s.jobs.Cancel(kind, s.cancelFunc(kind)); err != nil {
			monitoring.Logf("[Session] %s cancel %s job on close: %v", s.id, kind, err)
		}
	}

	monitoring.Logf("[Session] %s closed", s.id)
	err := s.handle.Close()
	s.closeJournal()
	return err
}

func (s *Session) closeJournal() {
	if s.owned == nil {
		return
	}
	if err := s.owned.Close(); err != nil {
		monitoring.Logf("[Session] %s close journal: %v", s.id, err)
	}
	s.owned = nil
}

// SetPartEnabled enables or disables part for combinations.
func (s *Session) SetPartEnabled(part int, enabled bool) error {
	if err := s.lockPart("set_enabled", part); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if err := s.coord.SetEnabled(part, enabled); err != nil {
		return err
	}
	s.parts[part].Enabled = enabled
	return nil
}

// StartStroke begins a stroke on part. reference is the headset pose the
// stroke is measured against; target is a gesture id to record a training
// sample for, or engine.Identify.
func (s *Session) StartStroke(part int, reference frame.Sample, target int) error {
	if err := s.lockPart("start", part); err != nil {
		return err
	}
	defer s.mu.Unlock()

	ref, err := s.conv.SampleToEngine(reference, frame.DeviceHeadset)
	if err != nil {
		return engine.AsEngineError("start", part, err)
	}
	return s.coord.Start(part, ref, target)
}

// ContinueStroke appends one sample to part's stroke.
func (s *Session) ContinueStroke(part int, sample frame.Sample) error {
	if err := s.lockPart("contd", part); err != nil {
		return err
	}
	defer s.mu.Unlock()

	p, err := s.conv.SampleToEngine(sample, s.parts[part].Device)
	if err != nil {
		return engine.AsEngineError("contd", part, err)
	}
	if p.Timestamp == 0 {
		p.Timestamp = timeutil.NowNanos(s.clock)
	}
	return s.coord.Continue(part, p)
}

// EndStroke finishes part's stroke. See combo.Coordinator.End for the
// waiting and combination rules.
func (s *Session) EndStroke(part int) (Outcome, error) {
	if err := s.lockPart("end", part); err != nil {
		return Outcome{}, err
	}
	out, err := s.coord.End(part)
	s.mu.Unlock()

	if out.State != combo.OutcomeNone {
		s.journalStroke(part, out)
	}
	if out.Combined {
		s.journalCombination(out.Combination, out.Err)
	}
	return s.hostOutcome(out), err
}

// CancelStroke discards part's stroke in progress. Cancelling a part that is
// not recording fails with engine.ErrNotStarted.
func (s *Session) CancelStroke(part int) error {
	if err := s.lockPart("cancel", part); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.coord.Cancel(part)
}

// IsRecording reports whether part has a stroke in progress.
func (s *Session) IsRecording(part int) bool {
	if err := s.lockPart("recording", part); err != nil {
		return false
	}
	defer s.mu.Unlock()
	return s.coord.Recording(part)
}

// SampleCount returns the number of samples buffered for part's stroke.
func (s *Session) SampleCount(part int) int {
	if err := s.lockPart("sample_count", part); err != nil {
		return 0
	}
	defer s.mu.Unlock()
	return s.coord.SampleCount(part)
}

// Identify explicitly requests the combined identification of the pending
// attempt. It fails with engine.ErrNotReady while an enabled part has not
// finished.
func (s *Session) Identify() (engine.CombinationResult, error) {
	if err := s.lock(); err != nil {
		return engine.CombinationResult{}, err
	}
	res, err := s.coord.Identify()
	s.mu.Unlock()

	if engine.KindOf(err) != engine.KindNotReady {
		if err != nil {
			s.journalCombination(nil, err)
		} else {
			s.journalCombination(&res, nil)
		}
	}
	return res, err
}

// PartOutcome returns the latest outcome for part, including the resolution
// of a combination it was waiting on.
func (s *Session) PartOutcome(part int) Outcome {
	if err := s.lockPart("outcome", part); err != nil {
		return Outcome{}
	}
	defer s.mu.Unlock()
	return s.hostOutcome(s.coord.Outcome(part))
}

// Feed pushes one sample for part into its continuous identification loop.
// When the loop's period has elapsed the engine is asked to classify the
// window and the smoothed result is returned in the host frame.
func (s *Session) Feed(part int, sample, reference frame.Sample) (continuous.Result, bool, error) {
	if err := s.lockPart("continuous", part); err != nil {
		return continuous.Result{}, false, err
	}
	defer s.mu.Unlock()

	p, err := s.conv.SampleToEngine(sample, s.parts[part].Device)
	if err != nil {
		return continuous.Result{}, false, engine.AsEngineError("continuous", part, err)
	}
	ref, err := s.conv.SampleToEngine(reference, frame.DeviceHeadset)
	if err != nil {
		return continuous.Result{}, false, engine.AsEngineError("continuous", part, err)
	}
	res, ok, err := s.loops[part].Feed(p, ref)
	if err != nil || !ok {
		return continuous.Result{}, ok, err
	}
	return s.hostContinuous(res), true, nil
}

// ContinuousResult returns part's latest smoothed continuous result.
func (s *Session) ContinuousResult(part int) (continuous.Result, bool) {
	if err := s.lockPart("continuous_result", part); err != nil {
		return continuous.Result{}, false
	}
	defer s.mu.Unlock()
	res, ok := s.loops[part].Latest()
	if !ok {
		return continuous.Result{}, false
	}
	return s.hostContinuous(res), true
}

// ResetContinuous clears part's continuous window and result.
func (s *Session) ResetContinuous(part int) error {
	if err := s.lockPart("continuous_reset", part); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.loops[part].Reset()
	return nil
}

// LoadAsync starts loading a gesture database. It returns the job id, or
// engine.ErrBusy while another load runs.
func (s *Session) LoadAsync(source string) (string, error) {
	return s.startJob(engine.JobLoad, source, func(cb engine.JobCallbacks) error {
		return s.handle.BeginAsyncLoad(source, cb)
	})
}

// SaveAsync starts saving the gesture database to dest.
func (s *Session) SaveAsync(dest string) (string, error) {
	return s.startJob(engine.JobSave, dest, func(cb engine.JobCallbacks) error {
		return s.handle.BeginAsyncSave(dest, cb)
	})
}

// TrainAsync starts training on the recorded samples.
func (s *Session) TrainAsync() (string, error) {
	return s.startJob(engine.JobTrain, "", func(cb engine.JobCallbacks) error {
		return s.handle.BeginAsyncTrain(cb)
	})
}

func (s *Session) startJob(kind engine.JobKind, source string, begin func(engine.JobCallbacks) error) (string, error) {
	if err := s.lock(); err != nil {
		return "", err
	}
	s.mu.Unlock()

	return s.jobs.Start(kind, source, func(cb engine.JobCallbacks) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return begin(cb)
	})
}

// CancelJob requests cancellation of the running job of kind. The job stays
// Cancelling until the engine reports completion; use WaitJob to observe
// the return to Idle.
func (s *Session) CancelJob(kind engine.JobKind) error {
	if err := s.lock(); err != nil {
		return err
	}
	s.mu.Unlock()
	return s.jobs.Cancel(kind, s.cancelFunc(kind))
}

func (s *Session) cancelFunc(kind engine.JobKind) func() error {
	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.handle.Cancel(kind)
	}
}

// JobState returns a snapshot of the job slot for kind.
func (s *Session) JobState(kind engine.JobKind) jobs.Snapshot {
	return s.jobs.Snapshot(kind)
}

// WaitJob blocks until kind is Idle or ctx is done.
func (s *Session) WaitJob(ctx context.Context, kind engine.JobKind) (jobs.Snapshot, error) {
	return s.jobs.Wait(ctx, kind)
}

// OnJob registers h for job events. Handlers run on the goroutine that
// reported the transition, which may be an engine worker; an engine that
// finishes synchronously inside a Begin call runs them under the session
// lock, so handlers must not call back into the session.
func (s *Session) OnJob(h jobs.Handler) {
	s.jobs.OnEvent(h)
}

func (s *Session) hostOutcome(out combo.Outcome) Outcome {
	res := Outcome{
		State:       out.State,
		Samples:     len(out.Stroke.Samples),
		Combination: out.Combination,
		Err:         out.Err,
	}
	if out.State != combo.OutcomeNone {
		res.Result = s.conv.ResultFromEngine(out.Stroke.Result)
	}
	return res
}

func (s *Session) hostContinuous(r continuous.Result) continuous.Result {
	r.StrokeResult = s.conv.ResultFromEngine(r.StrokeResult)
	r.Raw = s.conv.ResultFromEngine(r.Raw)
	return r
}

func (s *Session) journalStroke(part int, out combo.Outcome) {
	if s.journal == nil {
		return
	}
	e := journal.StrokeEntry{
		SessionID:   s.id,
		Part:        part,
		Target:      out.Stroke.Target,
		SampleCount: len(out.Stroke.Samples),
		GestureID:   out.Stroke.Result.GestureID,
		Similarity:  out.Stroke.Result.Similarity,
		RecordedAt:  s.clock.Now(),
	}
	if out.State == combo.OutcomeFailed && !out.Combined {
		e.Status = int(engine.StatusOf(out.Err))
		e.GestureID = -1
	}
	if err := s.journal.RecordStroke(context.Background(), e); err != nil {
		monitoring.Logf("[Session] %s journal stroke: %v", s.id, err)
	}
}

func (s *Session) journalCombination(res *engine.CombinationResult, cerr error) {
	if s.journal == nil {
		return
	}
	e := journal.CombinationEntry{SessionID: s.id, CombinationID: -1, RecordedAt: s.clock.Now()}
	if res != nil {
		e.CombinationID = res.CombinationID
		e.PartGestures = res.PartGestures
		e.Similarity = res.Similarity
	}
	if cerr != nil {
		e.Status = int(engine.StatusOf(cerr))
	}
	if err := s.journal.RecordCombination(context.Background(), e); err != nil {
		monitoring.Logf("[Session] %s journal combination: %v", s.id, err)
	}
}

// journalJob records job transitions other than progress ticks.
func (s *Session) journalJob(ev jobs.Event) {
	if ev.Type == jobs.EventProgress {
		return
	}
	snap := ev.Snapshot
	e := journal.JobEntry{
		JobID:      snap.JobID,
		SessionID:  s.id,
		Kind:       string(snap.Kind),
		Source:     snap.Source,
		State:      string(snap.State),
		Result:     int(snap.Result),
		Progress:   snap.Progress,
		StartedAt:  snap.StartedAt,
		FinishedAt: snap.FinishedAt,
	}
	if err := s.journal.RecordJob(context.Background(), e); err != nil {
		monitoring.Logf("[Session] %s journal %s job: %v", s.id, snap.Kind, err)
	}
}
