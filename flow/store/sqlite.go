package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// A single-file database with zero setup, suited to development, local
// workflows that need persistence, and prototyping before moving to a
// shared database. WAL mode allows concurrent reads while a run is writing.
//
// Schema:
//   - execution_steps: per-node outputs in completion order
//   - executions: terminal record per run
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store.
//
// path is the database file location; ":memory:" gives an in-memory database
// whose data is lost on Close, useful in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time; keep the single connection
	// alive so ":memory:" databases persist across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stepsTable := `
		CREATE TABLE IF NOT EXISTS execution_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			output TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (execution_id, step)
		)
	`
	if _, err := s.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create execution_steps table: %w", err)
	}

	executionsTable := `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			results TEXT,
			execution_time REAL NOT NULL DEFAULT 0,
			error_code TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, executionsTable); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}

	idx := `CREATE INDEX IF NOT EXISTS idx_steps_execution ON execution_steps (execution_id)`
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("failed to create step index: %w", err)
	}
	return nil
}

// SaveStep persists one node output as JSON.
func (s *SQLiteStore) SaveStep(ctx context.Context, executionID string, step int, nodeID string, output any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal step output: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_steps (execution_id, step, node_id, output)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (execution_id, step) DO UPDATE SET node_id = excluded.node_id, output = excluded.output
	`, executionID, step, nodeID, string(data))
	if err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadSteps returns the run's steps ordered by step number.
func (s *SQLiteStore) LoadSteps(ctx context.Context, executionID string) ([]StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT step, node_id, output FROM execution_steps
		WHERE execution_id = ? ORDER BY step
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []StepRecord
	for rows.Next() {
		var rec StepRecord
		var outputJSON string
		if err := rows.Scan(&rec.Step, &rec.NodeID, &outputJSON); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		if err := json.Unmarshal([]byte(outputJSON), &rec.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step output: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// SaveExecution upserts the run's terminal record.
func (s *SQLiteStore) SaveExecution(ctx context.Context, rec ExecutionRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	results, err := json.Marshal(rec.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (execution_id, workflow_id, status, results, execution_time, error_code, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			status = excluded.status,
			results = excluded.results,
			execution_time = excluded.execution_time,
			error_code = excluded.error_code,
			error_message = excluded.error_message
	`, rec.ExecutionID, rec.WorkflowID, rec.Status, string(results), rec.ExecutionTime, rec.ErrorCode, rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// LoadExecution returns the run's terminal record.
func (s *SQLiteStore) LoadExecution(ctx context.Context, executionID string) (ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ExecutionRecord{}, fmt.Errorf("store is closed")
	}

	var rec ExecutionRecord
	var resultsJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT execution_id, workflow_id, status, results, execution_time, error_code, error_message
		FROM executions WHERE execution_id = ?
	`, executionID).Scan(&rec.ExecutionID, &rec.WorkflowID, &rec.Status, &resultsJSON,
		&rec.ExecutionTime, &rec.ErrorCode, &rec.ErrorMessage)
	if err == sql.ErrNoRows {
		return ExecutionRecord{}, ErrNotFound
	}
	if err != nil {
		return ExecutionRecord{}, fmt.Errorf("failed to load execution: %w", err)
	}

	if resultsJSON.Valid && resultsJSON.String != "" {
		if err := json.Unmarshal([]byte(resultsJSON.String), &rec.Results); err != nil {
			return ExecutionRecord{}, fmt.Errorf("failed to unmarshal results: %w", err)
		}
	}
	return rec, nil
}

// Close releases the database connection. Further calls fail.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
