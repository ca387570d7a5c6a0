package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL implementation of Store for shared deployments
// where several engine instances record runs against the same database.
//
// The DSN must enable parseTime, e.g.
//
//	user:pass@tcp(localhost:3306)/fluxline?parseTime=true
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// MySQLConfig controls connection pooling.
type MySQLConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultMySQLConfig returns pooling defaults suited to a single engine
// process talking to a nearby database.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// NewMySQLStore connects to MySQL with default pooling and migrates the schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	return NewMySQLStoreWithConfig(dsn, DefaultMySQLConfig())
}

// NewMySQLStoreWithConfig connects with explicit pool settings.
func NewMySQLStoreWithConfig(dsn string, cfg MySQLConfig) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stepsTable := `
		CREATE TABLE IF NOT EXISTS execution_steps (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			execution_id VARCHAR(191) NOT NULL,
			step INT NOT NULL,
			node_id VARCHAR(191) NOT NULL,
			output JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_execution_step (execution_id, step),
			KEY idx_execution (execution_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`
	if _, err := s.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create execution_steps table: %w", err)
	}

	executionsTable := `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id VARCHAR(191) PRIMARY KEY,
			workflow_id VARCHAR(191) NOT NULL DEFAULT '',
			status VARCHAR(32) NOT NULL,
			results JSON,
			execution_time DOUBLE NOT NULL DEFAULT 0,
			error_code VARCHAR(64) NOT NULL DEFAULT '',
			error_message TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`
	if _, err := s.db.ExecContext(ctx, executionsTable); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}
	return nil
}

// SaveStep persists one node output as JSON.
func (s *MySQLStore) SaveStep(ctx context.Context, executionID string, step int, nodeID string, output any) error {
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
		ON DUPLICATE KEY UPDATE node_id = VALUES(node_id), output = VALUES(output)
	`, executionID, step, nodeID, string(data))
	if err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadSteps returns the run's steps ordered by step number.
func (s *MySQLStore) LoadSteps(ctx context.Context, executionID string) ([]StepRecord, error) {
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
func (s *MySQLStore) SaveExecution(ctx context.Context, rec ExecutionRecord) error {
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
		ON DUPLICATE KEY UPDATE
			workflow_id = VALUES(workflow_id),
			status = VALUES(status),
			results = VALUES(results),
			execution_time = VALUES(execution_time),
			error_code = VALUES(error_code),
			error_message = VALUES(error_message)
	`, rec.ExecutionID, rec.WorkflowID, rec.Status, string(results), rec.ExecutionTime, rec.ErrorCode, rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// LoadExecution returns the run's terminal record.
func (s *MySQLStore) LoadExecution(ctx context.Context, executionID string) (ExecutionRecord, error) {
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

// Close releases the connection pool. Further calls fail.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
