package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[S].
//
// It stores workflow steps in a single-file database using the pure-Go
// modernc.org/sqlite driver, so no cgo toolchain is needed.
//
// Features:
//   - Single file database (e.g., "./storyflow.db") or ":memory:"
//   - Auto-migration on first use
//   - WAL mode for concurrent reads
//
// Schema:
//   - workflow_steps: Step-by-step execution history
type SQLiteStore[S any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// Example:
//
//	st, err := store.NewSQLiteStore[story.WorkflowState]("./storyflow.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time; a single connection also keeps
	// ":memory:" databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore[S]{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[S]) createTables(ctx context.Context) error {
	stepsTable := `
		CREATE TABLE IF NOT EXISTS workflow_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(run_id, step)
		)
	`
	if _, err := s.db.ExecContext(ctx, stepsTable); err != nil {
		return fmt.Errorf("failed to create workflow_steps table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_steps_run_step ON workflow_steps(run_id, step)"); err != nil {
		return fmt.Errorf("failed to create idx_steps_run_step: %w", err)
	}
	return nil
}

func (s *SQLiteStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveStep persists a workflow execution step, replacing an existing record
// for the same runID and step.
func (s *SQLiteStore[S]) SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
		INSERT INTO workflow_steps (run_id, step, node_id, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step) DO UPDATE SET
			node_id = excluded.node_id,
			state = excluded.state,
			created_at = excluded.created_at
	`
	if _, err := s.db.ExecContext(ctx, query, runID, step, nodeID, string(stateJSON), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadLatest retrieves the most recent step for a run.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, runID string) (state S, step int, err error) {
	if err := s.checkOpen(); err != nil {
		return state, 0, err
	}

	query := `
		SELECT step, state
		FROM workflow_steps
		WHERE run_id = ?
		ORDER BY step DESC
		LIMIT 1
	`

	var stateJSON string
	err = s.db.QueryRowContext(ctx, query, runID).Scan(&step, &stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return state, 0, ErrNotFound
	}
	if err != nil {
		return state, 0, fmt.Errorf("failed to load latest step: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return state, 0, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, step, nil
}

// ListSteps returns every step of a run ordered by step number.
func (s *SQLiteStore[S]) ListSteps(ctx context.Context, runID string) ([]StepRecord[S], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
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

// Close closes the database connection. Further calls return ErrClosed.
func (s *SQLiteStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database location the store was opened with.
func (s *SQLiteStore[S]) Path() string {
	return s.path
}

// stepScanner is satisfied by *sql.Rows.
type stepScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanSteps[S any](rows stepScanner) ([]StepRecord[S], error) {
	var records []StepRecord[S]
	for rows.Next() {
		var (
			rec       StepRecord[S]
			stateJSON []byte
		)
		if err := rows.Scan(&rec.Step, &rec.NodeID, &stateJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := json.Unmarshal(stateJSON, &rec.State); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step %d: %w", rec.Step, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records, nil
}
