// Package journal persists stroke, combination and async job outcomes in a
// SQLite database so capture sessions can be reviewed after the fact.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Journal is a handle on the journal database.
type Journal struct {
	db *sql.DB
}

// StrokeEntry is one finished stroke.
type StrokeEntry struct {
	ID          string
	SessionID   string
	Part        int
	Target      int // record target, or -1 for identification
	SampleCount int
	GestureID   int
	Similarity  float64
	Status      int // engine status; zero on success
	RecordedAt  time.Time
}

// CombinationEntry is one resolved combination attempt.
type CombinationEntry struct {
	ID            string
	SessionID     string
	CombinationID int
	PartGestures  []int
	Similarity    float64
	Status        int
	RecordedAt    time.Time
}

// JobEntry is one async job run. Entries are upserted by JobID as the job
// progresses.
type JobEntry struct {
	JobID      string
	SessionID  string
	Kind       string
	Source     string
	State      string
	Result     int
	Progress   float64
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
}

// Open opens (creating if needed) the journal at path and migrates it to
// the latest schema.
func Open(path string) (*Journal, error) {
	j, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := j.MigrateUp(); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

// OpenDB opens the journal database without touching its schema, for
// migration tooling.
func OpenDB(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One connection keeps sqlite locking simple.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// NewSessionID returns a fresh identifier for grouping entries.
func NewSessionID() string {
	return uuid.New().String()
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixNano()
	}
	return t.UnixNano()
}

// RecordStroke inserts e, assigning an ID when it has none.
func (j *Journal) RecordStroke(ctx context.Context, e StrokeEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO strokes (stroke_id, session_id, part, target, sample_count, gesture_id, similarity, status, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Part, e.Target, e.SampleCount, e.GestureID, e.Similarity, e.Status, nanos(e.RecordedAt))
	if err != nil {
		return fmt.Errorf("failed to record stroke: %w", err)
	}
	return nil
}

// RecordCombination inserts e, assigning an ID when it has none.
func (j *Journal) RecordCombination(ctx context.Context, e CombinationEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	gestures, err := json.Marshal(e.PartGestures)
	if err != nil {
		return fmt.Errorf("failed to encode part gestures: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO combinations (combination_row_id, session_id, combination_id, part_gestures, similarity, status, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.CombinationID, string(gestures), e.Similarity, e.Status, nanos(e.RecordedAt))
	if err != nil {
		return fmt.Errorf("failed to record combination: %w", err)
	}
	return nil
}

// RecordJob inserts or updates the row for e.JobID.
func (j *Journal) RecordJob(ctx context.Context, e JobEntry) error {
	if e.JobID == "" {
		return fmt.Errorf("job entry has no job id")
	}
	var finished sql.NullInt64
	if !e.FinishedAt.IsZero() {
		finished = sql.NullInt64{Int64: e.FinishedAt.UnixNano(), Valid: true}
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, session_id, kind, source, state, result, progress, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			state = excluded.state,
			result = excluded.result,
			progress = excluded.progress,
			finished_at = excluded.finished_at`,
		e.JobID, e.SessionID, e.Kind, e.Source, e.State, e.Result, e.Progress, nanos(e.StartedAt), finished)
	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

// Strokes returns the newest strokes first. An empty sessionID matches every
// session; limit <= 0 returns all rows.
func (j *Journal) Strokes(ctx context.Context, sessionID string, limit int) ([]StrokeEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT stroke_id, session_id, part, target, sample_count, gesture_id, similarity, status, recorded_at
		FROM strokes
		WHERE (? = '' OR session_id = ?)
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?`, sessionID, sessionID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query strokes: %w", err)
	}
	defer rows.Close()

	var out []StrokeEntry
	for rows.Next() {
		var e StrokeEntry
		var at int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Part, &e.Target, &e.SampleCount, &e.GestureID, &e.Similarity, &e.Status, &at); err != nil {
			return nil, fmt.Errorf("failed to scan stroke: %w", err)
		}
		e.RecordedAt = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Combinations returns the newest combinations first.
func (j *Journal) Combinations(ctx context.Context, sessionID string, limit int) ([]CombinationEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT combination_row_id, session_id, combination_id, part_gestures, similarity, status, recorded_at
		FROM combinations
		WHERE (? = '' OR session_id = ?)
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?`, sessionID, sessionID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query combinations: %w", err)
	}
	defer rows.Close()

	var out []CombinationEntry
	for rows.Next() {
		var e CombinationEntry
		var gestures string
		var at int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.CombinationID, &gestures, &e.Similarity, &e.Status, &at); err != nil {
			return nil, fmt.Errorf("failed to scan combination: %w", err)
		}
		if err := json.Unmarshal([]byte(gestures), &e.PartGestures); err != nil {
			return nil, fmt.Errorf("failed to decode part gestures: %w", err)
		}
		e.RecordedAt = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Jobs returns the newest job runs first.
func (j *Journal) Jobs(ctx context.Context, limit int) ([]JobEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT job_id, session_id, kind, source, state, result, progress, started_at, finished_at
		FROM jobs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var out []JobEntry
	for rows.Next() {
		var e JobEntry
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&e.JobID, &e.SessionID, &e.Kind, &e.Source, &e.State, &e.Result, &e.Progress, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		e.StartedAt = time.Unix(0, started)
		if finished.Valid {
			e.FinishedAt = time.Unix(0, finished.Int64)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
