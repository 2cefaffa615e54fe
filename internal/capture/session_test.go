package capture

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.capture/internal/combo"
	"github.com/banshee-data/motion.capture/internal/config"
	"github.com/banshee-data/motion.capture/internal/engine"
	"github.com/banshee-data/motion.capture/internal/engine/enginetest"
	"github.com/banshee-data/motion.capture/internal/frame"
	"github.com/banshee-data/motion.capture/internal/jobs"
	"github.com/banshee-data/motion.capture/internal/journal"
	"github.com/banshee-data/motion.capture/internal/monitoring"
	"github.com/banshee-data/motion.capture/internal/spatial"
	"github.com/banshee-data/motion.capture/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func ptr[T any](v T) *T { return &v }

func headset() frame.Sample {
	return frame.QuatSample{Position: r3.Vec{Y: 1.7}, Rotation: spatial.Identity}
}

func hand(i int) frame.Sample {
	return frame.QuatSample{
		Position:  r3.Vec{X: float64(i), Y: 1, Z: 0.5},
		Rotation:  spatial.AxisAngle(r3.Vec{Y: 1}, 0.1*float64(i)),
		Timestamp: int64(i+1) * int64(10*time.Millisecond),
	}
}

func openSession(t *testing.T, eng *enginetest.Engine, cfg *config.CaptureConfig, opts ...Option) *Session {
	t.Helper()
	s, err := Open(context.Background(), eng, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestTwoPartScenario(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	eng.OnEnd = func(part, target int, samples []spatial.Pose) (engine.StrokeResult, error) {
		return engine.StrokeResult{Part: part, GestureID: 20 + part, Similarity: 0.8, Scale: 1}, nil
	}
	s := openSession(t, eng, nil)

	require.NoError(t, s.StartStroke(0, headset(), engine.Identify))
	for i := 0; i < 5; i++ {
		require.NoError(t, s.ContinueStroke(0, hand(i)))
	}
	out, err := s.EndStroke(0)
	require.NoError(t, err)
	assert.Equal(t, combo.OutcomeWaiting, out.State)
	assert.Equal(t, 5, out.Samples)

	require.NoError(t, s.StartStroke(1, headset(), engine.Identify))
	for i := 0; i < 5; i++ {
		require.NoError(t, s.ContinueStroke(1, hand(i)))
	}
	out, err = s.EndStroke(1)
	require.NoError(t, err)
	assert.Equal(t, combo.OutcomeIdentified, out.State)
	require.NotNil(t, out.Combination)

	calls := eng.CallsOf("combine")
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Parts, 2)
	assert.Equal(t, 20, calls[0].Parts[0].GestureID)
	assert.Equal(t, 21, calls[0].Parts[1].GestureID)

	assert.Equal(t, combo.OutcomeIdentified, s.PartOutcome(0).State)
	assert.Empty(t, eng.Violations())
}

func TestSamplesForwardedInOrder(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	s := openSession(t, eng, nil)

	require.NoError(t, s.StartStroke(1, headset(), engine.Identify))
	for i := 0; i < 20; i++ {
		require.NoError(t, s.ContinueStroke(1, hand(i)))
	}
	appends := eng.CallsOf("append")
	require.Len(t, appends, 20)
	for i, c := range appends {
		assert.Equal(t, 1, c.Part)
		assert.InDelta(t, float64(i), c.Pose.Position.X, 1e-12)
	}
}

func TestCancelBeforeCompletion(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	s := openSession(t, eng, nil)

	require.NoError(t, s.StartStroke(0, headset(), engine.Identify))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.ContinueStroke(0, hand(i)))
	}
	assert.Equal(t, 3, s.SampleCount(0))

	require.NoError(t, s.CancelStroke(0))
	assert.False(t, s.IsRecording(0))
	assert.Equal(t, 0, s.SampleCount(0))

	assert.ErrorIs(t, s.CancelStroke(0), engine.ErrNotStarted)
	assert.ErrorIs(t, s.ContinueStroke(0, hand(4)), engine.ErrNotStarted)
}

func TestBusyLoad(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	s := openSession(t, eng, nil)

	id, err := s.LoadAsync("gestures.dat")
	require.NoError(t, err)
	assert.Equal(t, jobs.StateRunning, s.JobState(engine.JobLoad).State)

	_, err = s.LoadAsync("other.dat")
	assert.ErrorIs(t, err, engine.ErrBusy)
	assert.Len(t, eng.CallsOf("async"), 1)

	eng.Progress(engine.JobLoad, 50)
	eng.Finish(engine.JobLoad, engine.StatusOK)

	snap, err := s.WaitJob(context.Background(), engine.JobLoad)
	require.NoError(t, err)
	assert.Equal(t, id, snap.JobID)
	assert.Equal(t, jobs.StateIdle, snap.State)
	assert.Equal(t, engine.StatusOK, snap.Result)
}

func TestCancelJob(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	s := openSession(t, eng, nil)

	var events []jobs.EventType
	s.OnJob(func(e jobs.Event) { events = append(events, e.Type) })

	_, err := s.TrainAsync()
	require.NoError(t, err)
	require.NoError(t, s.CancelJob(engine.JobTrain))
	assert.Equal(t, jobs.StateCancelling, s.JobState(engine.JobTrain).State)
	assert.Equal(t, 1, eng.CancelRequests(engine.JobTrain))

	eng.Finish(engine.JobTrain, engine.Status(-30))
	assert.Equal(t, jobs.StateIdle, s.JobState(engine.JobTrain).State)
	assert.Equal(t, []jobs.EventType{jobs.EventStarted, jobs.EventCancelling, jobs.EventFinished}, events)
}

// ---------------------------------------------------------------------------
// Frame conversion
// ---------------------------------------------------------------------------

func unrealConfig() *config.CaptureConfig {
	cfg := config.EmptyCaptureConfig()
	cfg.Convention = ptr("unreal")
	cfg.Runtime = ptr("steamvr")
	cfg.TargetRuntime = ptr("openxr")
	return cfg
}

func TestPosesConvertedToNativeFrame(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	s := openSession(t, eng, unrealConfig())

	require.NoError(t, s.StartStroke(0, headset(), engine.Identify))
	host := frame.QuatSample{Position: r3.Vec{X: 300, Y: 100, Z: 200}, Rotation: spatial.Identity, Timestamp: 5}
	require.NoError(t, s.ContinueStroke(0, host))

	appends := eng.CallsOf("append")
	require.Len(t, appends, 1)
	got := appends[0].Pose.Position
	assert.InDelta(t, 1, got.X, 1e-9)
	assert.InDelta(t, 2, got.Y, 1e-9)
	assert.InDelta(t, 3, got.Z, 1e-9)

	want, err := s.Converter().SampleToEngine(host, frame.DeviceController)
	require.NoError(t, err)
	assert.Equal(t, want, appends[0].Pose)

	ref, err := s.Converter().SampleToEngine(headset(), frame.DeviceHeadset)
	require.NoError(t, err)
	assert.Equal(t, ref, eng.CallsOf("begin")[0].Pose, "references use the headset device type")
}

func TestResultsConvertedToHostFrame(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	eng.OnEnd = func(part, target int, samples []spatial.Pose) (engine.StrokeResult, error) {
		return engine.StrokeResult{
			Part:     part,
			Position: r3.Vec{X: 1, Y: 2, Z: 3},
			Scale:    0.5,
			Primary:  r3.Vec{Z: 1},
		}, nil
	}
	cfg := unrealConfig()
	cfg.Parts = []config.PartConfig{{Name: "solo"}}
	s := openSession(t, eng, cfg)

	require.NoError(t, s.StartStroke(0, headset(), engine.Identify))
	require.NoError(t, s.ContinueStroke(0, hand(0)))
	out, err := s.EndStroke(0)
	require.NoError(t, err)

	assert.InDelta(t, 300, out.Result.Position.X, 1e-9)
	assert.InDelta(t, 100, out.Result.Position.Y, 1e-9)
	assert.InDelta(t, 200, out.Result.Position.Z, 1e-9)
	assert.InDelta(t, 50, out.Result.Scale, 1e-9)
	assert.InDelta(t, 1, out.Result.Primary.X, 1e-12, "native forward is unreal X")
}

func TestInvalidSampleNeverReachesEngine(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	s := openSession(t, eng, nil)

	require.NoError(t, s.StartStroke(0, headset(), engine.Identify))
	bad := frame.QuatSample{Position: r3.Vec{X: math.NaN()}, Rotation: spatial.Identity}
	assert.ErrorIs(t, s.ContinueStroke(0, bad), engine.ErrInvalidParameter)

	zero := frame.QuatSample{Rotation: spatial.Identity}
	zero.Rotation.Real = 0
	assert.ErrorIs(t, s.ContinueStroke(0, zero), engine.ErrInvalidParameter)
	assert.Empty(t, eng.CallsOf("append"))
	assert.True(t, s.IsRecording(0))
}

// ---------------------------------------------------------------------------
// Continuous identification
// ---------------------------------------------------------------------------

func TestFeedContinuous(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	eng.OnContinuous = func(part int, window []spatial.Pose) (engine.StrokeResult, error) {
		return engine.StrokeResult{Part: part, GestureID: 9, Similarity: 0.6, Position: r3.Vec{X: 1}}, nil
	}
	s := openSession(t, eng, unrealConfig())

	var produced int
	for i := 0; i < 30; i++ {
		_, ok, err := s.Feed(1, hand(i), headset())
		require.NoError(t, err)
		if ok {
			produced++
		}
	}
	assert.Equal(t, 2, produced)

	res, ok := s.ContinuousResult(1)
	require.True(t, ok)
	assert.Equal(t, 9, res.GestureID)
	assert.InDelta(t, 100, res.Position.Y, 1e-9, "native X is unreal Y in centimetres")

	_, ok = s.ContinuousResult(0)
	assert.False(t, ok)

	require.NoError(t, s.ResetContinuous(1))
	_, ok = s.ContinuousResult(1)
	assert.False(t, ok)
}

func TestFeedStampsFromClock(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	clock := timeutil.NewMockClock(time.Unix(50, 0))
	s := openSession(t, eng, nil, WithClock(clock))

	sample := frame.QuatSample{Rotation: spatial.Identity}
	_, ok, err := s.Feed(0, sample, headset())
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(200 * time.Millisecond)
	res, ok, err := s.Feed(0, sample, headset())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, clock.Now().UnixNano(), res.At)
}

// ---------------------------------------------------------------------------
// Configuration and lifecycle
// ---------------------------------------------------------------------------

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	cfg := config.EmptyCaptureConfig()
	cfg.Runtime = ptr("psvr")
	_, err := Open(context.Background(), enginetest.New(), cfg)
	assert.ErrorIs(t, err, engine.ErrUnknownRuntime)

	cfg = config.EmptyCaptureConfig()
	cfg.ContinuousSmoothing = ptr(0)
	_, err = Open(context.Background(), enginetest.New(), cfg)
	assert.ErrorIs(t, err, engine.ErrInvalidParameter)

	eng := enginetest.New()
	eng.OpenErr = errors.New("no license")
	_, err = Open(context.Background(), eng, nil)
	assert.Equal(t, engine.KindEngine, engine.KindOf(err))
}

func TestDisabledPartFromConfig(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	cfg := config.EmptyCaptureConfig()
	cfg.Parts = []config.PartConfig{
		{Name: "left"},
		{Name: "right", Enabled: ptr(false)},
		{Name: "head", Device: ptr("headset")},
	}
	s := openSession(t, eng, cfg)

	parts := s.Parts()
	require.Len(t, parts, 3)
	assert.False(t, parts[1].Enabled)
	assert.Equal(t, frame.DeviceHeadset, parts[2].Device)

	assert.ErrorIs(t, s.StartStroke(1, headset(), engine.Identify), engine.ErrInvalidPart)

	for _, part := range []int{0, 2} {
		require.NoError(t, s.StartStroke(part, headset(), engine.Identify))
		_, err := s.EndStroke(part)
		require.NoError(t, err)
	}
	assert.Len(t, eng.CallsOf("combine"), 1)

	require.NoError(t, s.SetPartEnabled(1, true))
	assert.True(t, s.Parts()[1].Enabled)
}

func TestIdentifyExplicit(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	s := openSession(t, eng, nil)

	_, err := s.Identify()
	assert.ErrorIs(t, err, engine.ErrNotReady)

	require.NoError(t, s.StartStroke(0, headset(), engine.Identify))
	_, err = s.EndStroke(0)
	require.NoError(t, err)
	require.NoError(t, s.SetPartEnabled(1, false))

	res, err := s.Identify()
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.PartGestures)
}

func TestInvalidPart(t *testing.T) {
	t.Parallel()
	s := openSession(t, enginetest.New(), nil)

	for _, part := range []int{-1, 2} {
		assert.ErrorIs(t, s.StartStroke(part, headset(), engine.Identify), engine.ErrInvalidPart)
		assert.ErrorIs(t, s.ContinueStroke(part, hand(0)), engine.ErrInvalidPart)
		_, err := s.EndStroke(part)
		assert.ErrorIs(t, err, engine.ErrInvalidPart)
		_, _, err = s.Feed(part, hand(0), headset())
		assert.ErrorIs(t, err, engine.ErrInvalidPart)
		assert.False(t, s.IsRecording(part))
	}
}

func TestInitialDatabaseLoad(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	cfg := config.EmptyCaptureConfig()
	cfg.GestureDatabase = ptr("/data/gestures.dat")
	s := openSession(t, eng, cfg)

	calls := eng.CallsOf("async")
	require.Len(t, calls, 1)
	assert.Equal(t, "/data/gestures.dat", calls[0].Source)
	assert.Equal(t, jobs.StateRunning, s.JobState(engine.JobLoad).State)
	eng.Finish(engine.JobLoad, engine.StatusOK)
}

func TestClose(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	s, err := Open(context.Background(), eng, nil)
	require.NoError(t, err)

	require.NoError(t, s.StartStroke(0, headset(), engine.Identify))
	_, err = s.SaveAsync("out.dat")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Len(t, eng.CallsOf("cancel"), 1, "recording stroke cancelled")
	assert.Equal(t, 1, eng.CancelRequests(engine.JobSave))
	_, closed := eng.Sessions()
	assert.Equal(t, 1, closed)

	assert.ErrorIs(t, s.StartStroke(0, headset(), engine.Identify), ErrClosed)
	_, err = s.LoadAsync("x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Close(), ErrClosed)
	eng.Finish(engine.JobSave, engine.StatusOK)
}

// ---------------------------------------------------------------------------
// Journal
// ---------------------------------------------------------------------------

func TestJournalRecordsOutcomes(t *testing.T) {
	t.Parallel()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	eng := enginetest.New()
	s := openSession(t, eng, nil, WithJournal(j), WithSessionID("session-1"))
	assert.Equal(t, "session-1", s.ID())

	require.NoError(t, s.StartStroke(0, headset(), 4))
	_, err = s.EndStroke(0)
	require.NoError(t, err)

	for part := 0; part < 2; part++ {
		require.NoError(t, s.StartStroke(part, headset(), engine.Identify))
		require.NoError(t, s.ContinueStroke(part, hand(part)))
		_, err = s.EndStroke(part)
		require.NoError(t, err)
	}

	_, err = s.LoadAsync("gestures.dat")
	require.NoError(t, err)
	eng.Finish(engine.JobLoad, engine.StatusOK)

	ctx := context.Background()
	strokes, err := j.Strokes(ctx, "session-1", 0)
	require.NoError(t, err)
	assert.Len(t, strokes, 3)

	combos, err := j.Combinations(ctx, "session-1", 0)
	require.NoError(t, err)
	require.Len(t, combos, 1)
	assert.Equal(t, []int{0, 0}, combos[0].PartGestures)

	runs, err := j.Jobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "load", runs[0].Kind)
	assert.Equal(t, "gestures.dat", runs[0].Source)
	assert.Equal(t, "idle", runs[0].State)
	assert.False(t, runs[0].FinishedAt.IsZero())
}

func TestJournalFromConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "capture.db")
	cfg := config.EmptyCaptureConfig()
	cfg.Parts = []config.PartConfig{{Name: "solo"}}
	cfg.JournalPath = ptr(path)

	s, err := Open(context.Background(), enginetest.New(), cfg)
	require.NoError(t, err)
	require.NoError(t, s.StartStroke(0, headset(), engine.Identify))
	require.NoError(t, s.ContinueStroke(0, hand(0)))
	_, err = s.EndStroke(0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()
	strokes, err := j.Strokes(context.Background(), s.ID(), 0)
	require.NoError(t, err)
	require.Len(t, strokes, 1)
	assert.Equal(t, 1, strokes[0].SampleCount)
}

func TestJournalOptionOverridesConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := config.EmptyCaptureConfig()
	cfg.JournalPath = ptr(filepath.Join(dir, "unused.db"))

	openSession(t, enginetest.New(), cfg, WithJournal(failingJournal{}))
	_, err := os.Stat(filepath.Join(dir, "unused.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestJournalOpenFailure(t *testing.T) {
	t.Parallel()
	eng := enginetest.New()
	cfg := config.EmptyCaptureConfig()
	cfg.JournalPath = ptr(filepath.Join(t.TempDir(), "missing", "dir", "capture.db"))

	_, err := Open(context.Background(), eng, cfg)
	assert.ErrorContains(t, err, "session journal")
	opened, _ := eng.Sessions()
	assert.Zero(t, opened)
}

type failingJournal struct{}

func (failingJournal) RecordStroke(context.Context, journal.StrokeEntry) error {
	return errors.New("disk full")
}
func (failingJournal) RecordCombination(context.Context, journal.CombinationEntry) error {
	return errors.New("disk full")
}
func (failingJournal) RecordJob(context.Context, journal.JobEntry) error {
	return errors.New("disk full")
}

func TestJournalFailureDoesNotFailStroke(t *testing.T) {
	t.Parallel()
	cfg := config.EmptyCaptureConfig()
	cfg.Parts = []config.PartConfig{{Name: "solo"}}
	s := openSession(t, enginetest.New(), cfg, WithJournal(failingJournal{}))

	require.NoError(t, s.StartStroke(0, headset(), engine.Identify))
	out, err := s.EndStroke(0)
	require.NoError(t, err)
	assert.Equal(t, combo.OutcomeIdentified, out.State)
}
