// Package sqldb is the SQL-backed run ledger, parameterized by dialect so the
// same store serves SQLite and PostgreSQL.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/accordly/case-insight/internal/domain"
	"github.com/accordly/case-insight/internal/ledger/dialect"
)

// Store is a SQL implementation of domain.RunLedger and domain.CallRecorder.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ domain.RunLedger = (*Store)(nil)
var _ domain.CallRecorder = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc/sqlite returns SQLITE_BUSY to concurrent writers and applies
	// pragmas per connection. A single pooled connection avoids both.
	if d.Name() == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store (convenience function for local use and tests)
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema() error {
	ts := s.dialect.TimestampType()

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS analysis_runs (
id TEXT PRIMARY KEY,
subject_id TEXT NOT NULL,
status TEXT NOT NULL,
current_stage TEXT,
failure_stage TEXT,
failure_reason TEXT,
created_at %[1]s NOT NULL,
completed_at %[1]s
)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS stage_outputs (
run_id TEXT NOT NULL,
stage_id TEXT NOT NULL,
ordinal INTEGER NOT NULL,
output TEXT NOT NULL,
created_at %[1]s NOT NULL,
updated_at %[1]s NOT NULL,
PRIMARY KEY (run_id, stage_id),
FOREIGN KEY (run_id) REFERENCES analysis_runs(id) ON DELETE CASCADE
)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS reasoning_calls (
id TEXT PRIMARY KEY,
run_id TEXT NOT NULL,
stage_id TEXT NOT NULL,
model TEXT NOT NULL,
request_bytes INTEGER NOT NULL DEFAULT 0,
response_bytes INTEGER NOT NULL DEFAULT 0,
duration_ms INTEGER NOT NULL DEFAULT 0,
status_code INTEGER,
error TEXT,
created_at %[1]s NOT NULL
)`, ts),
		// At most one non-completed run may exist per subject. Concurrent
		// creation races are settled here, not by in-process locking.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_active_subject ON analysis_runs(subject_id) WHERE status != 'completed'`,
		`CREATE INDEX IF NOT EXISTS idx_runs_subject ON analysis_runs(subject_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stage_outputs_run ON stage_outputs(run_id, ordinal)`,
		`CREATE INDEX IF NOT EXISTS idx_reasoning_calls_run ON reasoning_calls(run_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	// Run migrations for existing databases - add columns that may not exist
	return s.runMigrations()
}

func (s *Store) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"analysis_runs", "failure_reason", "ALTER TABLE analysis_runs ADD COLUMN failure_reason TEXT"},
		{"reasoning_calls", "status_code", "ALTER TABLE reasoning_calls ADD COLUMN status_code INTEGER"},
	}

	for _, m := range migrations {
		exists, err := s.columnExists(m.table, m.column)
		if err != nil {
			return fmt.Errorf("failed to check column %s.%s: %w", m.table, m.column, err)
		}
		if !exists {
			if _, err := s.db.Exec(s.dialect.Rebind(m.ddl)); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
			}
		}
	}

	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	var count int
	query := s.dialect.ColumnExistsQuery()
	err := s.db.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetOrCreateRun returns the active run for subjectID, creating a pending one
// when no pending, running, or failed run exists. The insert is an
// insert-or-ignore against the partial unique index: under concurrent callers
// exactly one insert survives and every caller reads back the surviving row.
func (s *Store) GetOrCreateRun(ctx context.Context, subjectID string) (*domain.AnalysisRun, bool, error) {
	candidateID := "run_" + uuid.New().String()

	// Two attempts: the read-back can miss only when the surviving run
	// completes between our insert and our read.
	for attempt := 0; attempt < 2; attempt++ {
		run, created, err := s.getOrCreateRunOnce(ctx, subjectID, candidateID)
		if err == nil {
			return run, !created, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, err
		}
	}
	return nil, false, domain.ErrPersistence(fmt.Sprintf("failed to create run for subject %s", subjectID))
}

func (s *Store) getOrCreateRunOnce(ctx context.Context, subjectID, candidateID string) (*domain.AnalysisRun, bool, error) {
	createdAt := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, domain.ErrPersistence(fmt.Sprintf("failed to begin transaction: %v", err))
	}
	defer tx.Rollback()

	insert := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO analysis_runs (id, subject_id, status, created_at)
	VALUES (?, ?, ?, ?)
	%s`, s.dialect.UpsertClause("", nil)))

	if _, err := tx.ExecContext(ctx, insert, candidateID, subjectID, string(domain.RunStatusPending), createdAt); err != nil {
		return nil, false, domain.ErrPersistence(fmt.Sprintf("failed to create run: %v", err))
	}

	query := s.dialect.Rebind(`SELECT id, subject_id, status, current_stage, failure_stage, failure_reason, created_at, completed_at
	FROM analysis_runs
	WHERE subject_id = ? AND status != 'completed'
	LIMIT 1`)

	run, err := scanRun(tx.QueryRowContext(ctx, query, subjectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	if err != nil {
		return nil, false, domain.ErrPersistence(fmt.Sprintf("failed to read back run: %v", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, false, domain.ErrPersistence(fmt.Sprintf("failed to commit run creation: %v", err))
	}

	created := run.ID == candidateID
	if created {
		run.StageOutputs = domain.StageOutputs{}
		return run, true, nil
	}

	outputs, err := s.getStageOutputs(ctx, run.ID)
	if err != nil {
		return nil, false, err
	}
	run.StageOutputs = outputs
	return run, false, nil
}

// SetCurrentStage marks the run running at stageID. Failure fields from a
// previous attempt are cleared once the run is live again.
func (s *Store) SetCurrentStage(ctx context.Context, runID, stageID string) error {
	query := s.dialect.Rebind(`UPDATE analysis_runs
	SET status = ?, current_stage = ?, failure_stage = NULL, failure_reason = NULL
	WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, string(domain.RunStatusRunning), stageID, runID)
	if err != nil {
		return domain.ErrPersistence(fmt.Sprintf("failed to set current stage: %v", err)).WithStage(stageID)
	}
	return s.requireRow(result, runID)
}

// RecordStageOutput upserts the output for stageID. Outputs for earlier stages
// are never touched; re-recording the same stage overwrites in place.
func (s *Store) RecordStageOutput(ctx context.Context, runID, stageID string, ordinal int, output json.RawMessage) error {
	upsert := s.dialect.UpsertClause("run_id, stage_id", []string{"ordinal", "output", "updated_at"})
	query := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO stage_outputs (run_id, stage_id, ordinal, output, created_at, updated_at)
	VALUES (?, ?, ?, ?, %[1]s, %[1]s)
	%[2]s`, s.dialect.CurrentTimestamp(), upsert))

	if _, err := s.db.ExecContext(ctx, query, runID, stageID, ordinal, string(output)); err != nil {
		return domain.ErrPersistence(fmt.Sprintf("failed to record stage output: %v", err)).WithStage(stageID)
	}
	return nil
}

// Complete marks the run completed. Completed runs no longer hold the
// subject's active slot, so a later request starts a fresh run.
func (s *Store) Complete(ctx context.Context, runID string) error {
	query := s.dialect.Rebind(`UPDATE analysis_runs SET status = ?, completed_at = ? WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, string(domain.RunStatusCompleted), time.Now().UTC(), runID)
	if err != nil {
		return domain.ErrPersistence(fmt.Sprintf("failed to complete run: %v", err))
	}
	return s.requireRow(result, runID)
}

// Fail marks the run failed at stageID. The run keeps the subject's active
// slot and its outputs, so the next request resumes it.
func (s *Store) Fail(ctx context.Context, runID, stageID, reason string) error {
	query := s.dialect.Rebind(`UPDATE analysis_runs SET status = ?, failure_stage = ?, failure_reason = ? WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query, string(domain.RunStatusFailed), stageID, reason, runID)
	if err != nil {
		return domain.ErrPersistence(fmt.Sprintf("failed to mark run failed: %v", err)).WithStage(stageID)
	}
	return s.requireRow(result, runID)
}

// GetRun returns a run with its stage outputs loaded.
func (s *Store) GetRun(ctx context.Context, runID string) (*domain.AnalysisRun, error) {
	query := s.dialect.Rebind(`SELECT id, subject_id, status, current_stage, failure_stage, failure_reason, created_at, completed_at
	FROM analysis_runs WHERE id = ?`)

	run, err := scanRun(s.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound(fmt.Sprintf("run %s not found", runID))
	}
	if err != nil {
		return nil, domain.ErrPersistence(fmt.Sprintf("failed to get run: %v", err))
	}

	outputs, err := s.getStageOutputs(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.StageOutputs = outputs

	return run, nil
}

// ListRunsBySubject returns the subject's runs, newest first. Stage outputs
// are not loaded; use GetRun for a single run's full state.
func (s *Store) ListRunsBySubject(ctx context.Context, subjectID string) ([]*domain.AnalysisRun, error) {
	query := s.dialect.Rebind(`SELECT id, subject_id, status, current_stage, failure_stage, failure_reason, created_at, completed_at
	FROM analysis_runs WHERE subject_id = ?
	ORDER BY created_at DESC`)

	rows, err := s.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, domain.ErrPersistence(fmt.Sprintf("failed to query runs: %v", err))
	}
	defer rows.Close()

	var runs []*domain.AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, domain.ErrPersistence(fmt.Sprintf("failed to scan run: %v", err))
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrPersistence(fmt.Sprintf("failed to iterate runs: %v", err))
	}

	return runs, nil
}

func (s *Store) getStageOutputs(ctx context.Context, runID string) (domain.StageOutputs, error) {
	query := s.dialect.Rebind(`SELECT stage_id, output FROM stage_outputs WHERE run_id = ? ORDER BY ordinal ASC`)

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, domain.ErrPersistence(fmt.Sprintf("failed to query stage outputs: %v", err))
	}
	defer rows.Close()

	outputs := domain.StageOutputs{}
	for rows.Next() {
		var stageID, output string
		if err := rows.Scan(&stageID, &output); err != nil {
			return nil, domain.ErrPersistence(fmt.Sprintf("failed to scan stage output: %v", err))
		}
		outputs[stageID] = json.RawMessage(output)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrPersistence(fmt.Sprintf("failed to iterate stage outputs: %v", err))
	}

	return outputs, nil
}

// RecordCall persists a reasoning-call audit record.
func (s *Store) RecordCall(ctx context.Context, call *domain.ReasoningCall) error {
	if call == nil {
		return nil
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}

	query := s.dialect.Rebind(`INSERT INTO reasoning_calls (
	id, run_id, stage_id, model, request_bytes, response_bytes, duration_ms, status_code, error, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		call.ID, call.RunID, call.Stage, call.Model,
		call.RequestBytes, call.ResponseBytes, call.DurationMs,
		call.StatusCode, call.Error, call.CreatedAt,
	)
	if err != nil {
		return domain.ErrPersistence(fmt.Sprintf("failed to record reasoning call: %v", err)).WithStage(call.Stage)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) requireRow(result sql.Result, runID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return domain.ErrPersistence(fmt.Sprintf("failed to get rows affected: %v", err))
	}
	if rows == 0 {
		return domain.ErrNotFound(fmt.Sprintf("run %s not found", runID))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.AnalysisRun, error) {
	var run domain.AnalysisRun
	var currentStage, failureStage, failureReason sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID, &run.SubjectID, &run.Status,
		&currentStage, &failureStage, &failureReason,
		&run.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if currentStage.Valid {
		run.CurrentStage = currentStage.String
	}
	if failureStage.Valid {
		run.FailureStage = failureStage.String
	}
	if failureReason.Valid {
		run.FailureReason = failureReason.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}

	return &run, nil
}
