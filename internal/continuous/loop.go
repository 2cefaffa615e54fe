// Package continuous runs gesture identification over a rolling window of
// recent samples without explicit stroke boundaries.
package continuous

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/motion.capture/internal/engine"
	"github.com/banshee-data/motion.capture/internal/monitoring"
	"github.com/banshee-data/motion.capture/internal/spatial"
	"github.com/banshee-data/motion.capture/internal/timeutil"
)

// Config controls the rolling window and the smoothing applied to raw
// results.
type Config struct {
	Window    time.Duration // span of samples handed to the engine
	Period    time.Duration // minimum time between identifications
	Smoothing int           // number of raw results that vote
}

// DefaultConfig returns a 1s window identified every 100ms, smoothed over
// the last three results.
func DefaultConfig() Config {
	return Config{Window: time.Second, Period: 100 * time.Millisecond, Smoothing: 3}
}

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	if c.Window <= 0 || c.Period <= 0 || c.Smoothing < 1 {
		return engine.ErrInvalidParameter.At("continuous_config", -1)
	}
	return nil
}

// Result is a smoothed identification.
type Result struct {
	engine.StrokeResult
	Raw   engine.StrokeResult // latest unsmoothed engine result
	Votes int                 // raw results agreeing with GestureID
	At    int64               // timestamp of the newest sample in the window
}

// Loop holds the rolling window for one part. It is safe for concurrent
// use; identification happens synchronously inside Feed.
type Loop struct {
	mu      sync.Mutex
	part    int
	handle  engine.Handle
	cfg     Config
	clock   timeutil.Clock
	window  []spatial.Pose
	mark    int64 // time of the last identification, or of the first sample
	history []engine.StrokeResult
	latest  Result
	has     bool
}

// New creates a loop for part. A nil clock uses the wall clock.
func New(part int, h engine.Handle, cfg Config, clock timeutil.Clock) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Loop{part: part, handle: h, cfg: cfg, clock: clock}, nil
}

// Part returns the part index.
func (l *Loop) Part() int { return l.part }

// Feed appends sample to the window and, once Period has elapsed since the
// previous identification, asks the engine to classify the window. The bool
// reports whether a new result was produced. Samples with a zero timestamp
// are stamped from the loop's clock.
func (l *Loop) Feed(sample, reference spatial.Pose) (Result, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sample.Timestamp == 0 {
		sample.Timestamp = timeutil.NowNanos(l.clock)
	}
	if n := len(l.window); n > 0 && sample.Timestamp < l.window[n-1].Timestamp {
		monitoring.Logf("[ContinuousLoop] part %d timestamp went backwards (%d < %d); restarting window",
			l.part, sample.Timestamp, l.window[n-1].Timestamp)
		l.window = l.window[:0]
	}
	if len(l.window) == 0 {
		l.mark = sample.Timestamp
	}
	l.window = append(l.window, sample)
	l.trim(sample.Timestamp)

	if sample.Timestamp-l.mark < l.cfg.Period.Nanoseconds() {
		return Result{}, false, nil
	}
	l.mark = sample.Timestamp

	window := append([]spatial.Pose(nil), l.window...)
	raw, err := l.handle.ContinuousIdentify(l.part, reference, window)
	if err != nil {
		return Result{}, false, engine.AsEngineError("continuous", l.part, err)
	}
	raw.Part = l.part

	l.history = append(l.history, raw)
	if len(l.history) > l.cfg.Smoothing {
		l.history = l.history[len(l.history)-l.cfg.Smoothing:]
	}
	l.latest = smooth(l.history)
	l.latest.At = sample.Timestamp
	l.has = true
	return l.latest, true, nil
}

// trim drops samples that fell out of the window ending at now.
func (l *Loop) trim(now int64) {
	cutoff := now - l.cfg.Window.Nanoseconds()
	i := 0
	for i < len(l.window) && l.window[i].Timestamp < cutoff {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

// Latest returns the most recent smoothed result, if any.
func (l *Loop) Latest() (Result, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest, l.has
}

// WindowLen returns the number of samples currently in the window.
func (l *Loop) WindowLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.window)
}

// Reset clears the window, the vote history and the latest result.
func (l *Loop) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window = nil
	l.history = nil
	l.latest = Result{}
	l.has = false
	l.mark = 0
}

// smooth picks the most frequent gesture id in history, preferring the most
// recent on ties, and averages the similarities of the votes it received.
// Failed raw results (negative id) take part in the vote like any other.
func smooth(history []engine.StrokeResult) Result {
	latest := history[len(history)-1]
	counts := make(map[int]int, len(history))
	for _, r := range history {
		counts[r.GestureID]++
	}

	winner, best := latest.GestureID, counts[latest.GestureID]
	for i := len(history) - 1; i >= 0; i-- {
		id := history[i].GestureID
		if counts[id] > best {
			winner, best = id, counts[id]
		}
	}

	var sims []float64
	var pick engine.StrokeResult
	found := false
	for i := len(history) - 1; i >= 0; i-- {
		r := history[i]
		if r.GestureID != winner {
			continue
		}
		sims = append(sims, r.Similarity)
		if !found {
			pick, found = r, true
		}
	}

	pick.Similarity = stat.Mean(sims, nil)
	return Result{StrokeResult: pick, Raw: latest, Votes: best}
}
