package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/ragserve/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id           TEXT PRIMARY KEY,
    trace_id     TEXT NOT NULL,
    question     TEXT NOT NULL,
    want_sources INTEGER NOT NULL,
    status       TEXT NOT NULL,
    result       TEXT,
    error        TEXT NOT NULL DEFAULT '',
    duration_ms  INTEGER,
    created_at   DATETIME NOT NULL,
    started_at   DATETIME,
    finished_at  DATETIME
)`

const createJobsStatusIndex = `CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status, created_at)`

const createQueryLogTable = `
CREATE TABLE IF NOT EXISTS query_log (
    id         TEXT PRIMARY KEY,
    trace_id   TEXT NOT NULL,
    question   TEXT NOT NULL,
    outcome    TEXT NOT NULL,
    answer     TEXT NOT NULL DEFAULT '',
    error      TEXT NOT NULL DEFAULT '',
    job_id     TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
)`

const createQueryLogTraceIndex = `CREATE INDEX IF NOT EXISTS idx_query_log_trace ON query_log (trace_id)`

const jobColumns = `id, trace_id, question, want_sources, status, result, error, duration_ms, created_at, started_at, finished_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range []struct{ name, sql string }{
		{"set WAL mode", "PRAGMA journal_mode=WAL"},
		{"set busy timeout", "PRAGMA busy_timeout = 5000"},
		{"create jobs table", createJobsTable},
		{"create jobs index", createJobsStatusIndex},
		{"create query_log table", createQueryLogTable},
		{"create query_log index", createQueryLogTraceIndex},
	} {
		if _, err := db.Exec(stmt.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", stmt.name, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	result, err := encodeResult(j.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.TraceID, j.Question, j.WantSources, j.Status, result, j.Error,
		j.DurationMS, j.CreatedAt, j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// TransitionJob moves a job to tr.To. The status check and the write happen in
// one statement, so concurrent writers cannot both succeed from the same state.
// Moving to running stamps started_at; moving to a terminal status stamps
// finished_at and records the result or error.
func (s *SQLiteStore) TransitionJob(ctx context.Context, id string, tr Transition) error {
	from := sourcesOf(tr.To)
	if len(from) == 0 {
		return fmt.Errorf("%w: no status may move to %q", ErrInvalidTransition, tr.To)
	}

	now := time.Now().UTC()
	var startedAt, finishedAt *time.Time
	if tr.To == model.StatusRunning {
		startedAt = &now
	}
	if model.IsTerminal(tr.To) {
		finishedAt = &now
	}

	result, err := encodeResult(tr.Result)
	if err != nil {
		return err
	}

	args := []any{tr.To, startedAt, finishedAt, result, tr.Error, tr.DurationMS, id}
	for _, st := range from {
		args = append(args, st)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = COALESCE(?, started_at), finished_at = ?,
			result = ?, error = ?, duration_ms = ?
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, tr.To)
}

// ListJobsByStatus returns up to limit jobs in the given status, oldest first.
func (s *SQLiteStore) ListJobsByStatus(ctx context.Context, status string, limit int) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// ResetInterrupted returns jobs left running by a previous process to pending
// so they can be picked up again. It must only be called before any worker
// starts. Returns the number of jobs reset.
func (s *SQLiteStore) ResetInterrupted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = NULL WHERE status = ?`,
		model.StatusPending, model.StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteFinishedBefore removes terminal jobs that finished before cutoff.
func (s *SQLiteStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?) AND finished_at < ?`,
		model.StatusCompleted, model.StatusFailed, cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// GetJobStats returns job counts by status and the mean duration of finished jobs.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{CountByStatus: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		stats.CountByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job counts: %w", err)
	}
	rows.Close()

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(duration_ms) FROM jobs WHERE duration_ms IS NOT NULL`,
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	stats.AvgDurationMS = avg.Float64
	return stats, nil
}

// InsertQueryLog appends an audit record.
func (s *SQLiteStore) InsertQueryLog(ctx context.Context, e *model.QueryLogEntry) error {
	if e.ID == "" {
		e.ID = model.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_log (id, trace_id, question, outcome, answer, error, job_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TraceID, e.Question, e.Outcome, e.Answer, e.Error, e.JobID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert query log: %w", err)
	}
	return nil
}

// GetQueryLog returns the audit records for a trace in insertion order.
func (s *SQLiteStore) GetQueryLog(ctx context.Context, traceID string) ([]model.QueryLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trace_id, question, outcome, answer, error, job_id, created_at
		FROM query_log WHERE trace_id = ? ORDER BY id ASC`, traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("get query log: %w", err)
	}
	defer rows.Close()

	var entries []model.QueryLogEntry
	for rows.Next() {
		var e model.QueryLogEntry
		if err := rows.Scan(&e.ID, &e.TraceID, &e.Question, &e.Outcome, &e.Answer, &e.Error, &e.JobID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan query log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query log: %w", err)
	}
	return entries, nil
}

// dsn adds a per-connection busy timeout to a file path. PRAGMA statements
// run through db.Exec only reach one pooled connection.
func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*model.Job, error) {
	j := &model.Job{}
	var result sql.NullString
	if err := r.Scan(
		&j.ID, &j.TraceID, &j.Question, &j.WantSources, &j.Status, &result, &j.Error,
		&j.DurationMS, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	); err != nil {
		return nil, err
	}
	if result.Valid && result.String != "" {
		var a model.Answer
		if err := json.Unmarshal([]byte(result.String), &a); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		j.Result = &a
	}
	return j, nil
}

func encodeResult(a *model.Answer) (any, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}

// sourcesOf lists every status that may legally move to the given status.
func sourcesOf(to string) []string {
	var from []string
	for _, st := range []string{model.StatusPending, model.StatusRunning, model.StatusCompleted, model.StatusFailed} {
		if model.ValidTransition(st, to) {
			from = append(from, st)
		}
	}
	return from
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
