package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// Designed for deployments where many workers run generations concurrently
// and step history must survive process restarts.
//
// Schema:
//   - workflow_steps: Step-by-step execution history (state stored as JSON)
type MySQLStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The DSN format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// parseTime is forced on so TIMESTAMP columns scan into time.Time.
//
// Never hardcode credentials; read the DSN from configuration:
//
//	st, err := store.NewMySQLStore[story.WorkflowState](cfg.Storage.MySQLDSN)
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore[S]{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return m, nil
}

func (m *MySQLStore[S]) createTables(ctx context.Context) error {
	stepsTable := `
		CREATE TABLE IF NOT EXISTS workflow_steps (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			state JSON NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			INDEX idx_run_id (run_id),
			UNIQUE KEY unique_run_step (run_id, step)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create workflow_steps table: %w", err)
	}
	return nil
}

func (m *MySQLStore[S]) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// SaveStep persists a workflow execution step, replacing an existing record
// for the same runID and step.
func (m *MySQLStore[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO workflow_steps (run_id, step, node_id, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			node_id = VALUES(node_id),
			state = VALUES(state),
			created_at = VALUES(created_at)
	`
	if _, err := m.db.ExecContext(ctx, query, runID, step, nodeID, stateJSON, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest retrieves the most recent step for a run.
func (m *MySQLStore[S]) LoadLatest(ctx context.Context, runID string) (state S, step int, err error) {
	if err := m.checkOpen(); err != nil {
		return state, 0, err
	}

	query := `
		SELECT step, state
		FROM workflow_steps
		WHERE run_id = ?
		ORDER BY step DESC
		LIMIT 1
	`

	var stateJSON []byte
	err = m.db.QueryRowContext(ctx, query, runID).Scan(&step, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return state, 0, ErrNotFound
	}
	if err != nil {
		return state, 0, fmt.Errorf("failed to load latest step: %w", err)
	}

	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return state, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, step, nil
}

// ListSteps returns every step of a run ordered by step number.
func (m *MySQLStore[S]) ListSteps(ctx context.Context, runID string) ([]StepRecord[S], error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT step, node_id, state, created_at
		FROM workflow_steps
		WHERE run_id = ?
		ORDER BY step ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	return scanSteps[S](rows)
}

// Ping verifies the database is reachable.
func (m *MySQLStore[S]) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

// Close closes the connection pool. Further calls return ErrClosed.
func (m *MySQLStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
