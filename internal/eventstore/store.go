package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-facesync/internal/config"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is the history record of one sequence generation.
type Run struct {
	ID           string
	Fixture      string
	State        string
	Text         string
	Status       string
	FrameCount   int
	ChannelCount int
	DurationMS   int
	OutOfBounds  int
	OutputPath   string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Event represents a timeline entry attached to a run.
type Event struct {
	ID        int64
	RunID     string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Store wraps a SQLite-backed run history.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the run store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

// Timestamps are stored as unix nanoseconds.
func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    fixture TEXT,
    state TEXT,
    text TEXT,
    status TEXT NOT NULL,
    frame_count INTEGER NOT NULL DEFAULT 0,
    channel_count INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    out_of_bounds INTEGER NOT NULL DEFAULT 0,
    output_path TEXT,
    error TEXT,
    started_at INTEGER NOT NULL,
    finished_at INTEGER
);
CREATE TABLE IF NOT EXISTS run_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    event_type TEXT,
    payload BLOB,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_run_events_run_created ON run_events(run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// BeginRun records a run in the running state.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if s.disabled() {
		return nil
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.clock().UTC()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, fixture, state, text, status, started_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		run.ID, run.Fixture, run.State, run.Text, run.Status, run.StartedAt.UnixNano())
	return err
}

// FinishRun stores the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	if s.disabled() {
		return nil
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = s.clock().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET fixture = ?, state = ?, status = ?, frame_count = ?, channel_count = ?,
		 duration_ms = ?, out_of_bounds = ?, output_path = ?, error = ?, finished_at = ?
		 WHERE run_id = ?`,
		run.Fixture, run.State, run.Status, run.FrameCount, run.ChannelCount,
		run.DurationMS, run.OutOfBounds, run.OutputPath, run.Error, run.FinishedAt.UnixNano(), run.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, run.ID)
	}
	return nil
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.disabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events(run_id, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?)`,
		evt.RunID, evt.Type, evt.Payload, evt.CreatedAt.UnixNano())
	return err
}

const runColumns = `run_id, fixture, state, text, status, frame_count, channel_count, duration_ms,
	out_of_bounds, output_path, error, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r                                    Run
		fixture, state, text, output, errMsg sql.NullString
		started                              int64
		finished                             sql.NullInt64
	)
	if err := row.Scan(&r.ID, &fixture, &state, &text, &r.Status, &r.FrameCount, &r.ChannelCount,
		&r.DurationMS, &r.OutOfBounds, &output, &errMsg, &started, &finished); err != nil {
		return Run{}, err
	}
	r.Fixture = fixture.String
	r.State = state.String
	r.Text = text.String
	r.OutputPath = output.String
	r.Error = errMsg.String
	r.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		r.FinishedAt = time.Unix(0, finished.Int64).UTC()
	}
	return r, nil
}

// GetRun looks up a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	if s.disabled() {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListRunEvents retrieves up to limit events for a run ordered ascending by time.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, event_type, payload, created_at
		 FROM run_events WHERE run_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM run_events WHERE created_at < ?`, cutoff.UnixNano()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.UnixNano()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Ensure supplies a no-op store when persistence disabled.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
