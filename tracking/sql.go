package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/dshills/storyflow-go/story"
)

// ErrClosed is returned by SQLSink after Close.
var ErrClosed = errors.New("tracking sink is closed")

// dialect holds the statements that differ between SQLite and MySQL.
type dialect struct {
	name        string
	createTable string
	upsert      string
}

var sqliteDialect = dialect{
	name: "sqlite",
	createTable: `
		CREATE TABLE IF NOT EXISTS generation_attempts (
			generation_id TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			status TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			quality_score INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NULL,
			PRIMARY KEY (generation_id, attempt_number)
		)
	`,
	upsert: `
		INSERT INTO generation_attempts
			(generation_id, attempt_number, status, prompt, model, error, quality_score, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(generation_id, attempt_number) DO UPDATE SET
			status = excluded.status,
			prompt = excluded.prompt,
			model = excluded.model,
			error = excluded.error,
			quality_score = excluded.quality_score,
			created_at = excluded.created_at,
			completed_at = excluded.completed_at
	`,
}

var mysqlDialect = dialect{
	name: "mysql",
	createTable: `
		CREATE TABLE IF NOT EXISTS generation_attempts (
			generation_id VARCHAR(255) NOT NULL,
			attempt_number INT NOT NULL,
			status VARCHAR(32) NOT NULL,
			prompt MEDIUMTEXT NOT NULL,
			model VARCHAR(255) NOT NULL DEFAULT '',
			error TEXT NOT NULL,
			quality_score INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP(6) NOT NULL,
			completed_at TIMESTAMP(6) NULL,
			PRIMARY KEY (generation_id, attempt_number)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`,
	upsert: `
		INSERT INTO generation_attempts
			(generation_id, attempt_number, status, prompt, model, error, quality_score, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			prompt = VALUES(prompt),
			model = VALUES(model),
			error = VALUES(error),
			quality_score = VALUES(quality_score),
			created_at = VALUES(created_at),
			completed_at = VALUES(completed_at)
	`,
}

// SQLSink stores tracking records in a relational table,
// generation_attempts, keyed by (generation_id, attempt_number).
type SQLSink struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
	closed  bool
}

// NewSQLiteSink opens (or creates) a SQLite database at path. ":memory:"
// keeps the table for the lifetime of the sink.
func NewSQLiteSink(path string) (*SQLSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure SQLite: %w", err)
	}
	return newSQLSink(db, sqliteDialect)
}

// NewMySQLSink connects to MySQL. parseTime is forced on.
func NewMySQLSink(dsn string) (*SQLSink, error) {
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
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}
	return newSQLSink(db, mysqlDialect)
}

func newSQLSink(db *sql.DB, d dialect) (*SQLSink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, d.createTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create generation_attempts table: %w", err)
	}
	return &SQLSink{db: db, dialect: d}, nil
}

func (s *SQLSink) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// CreateRecord writes rec, replacing any record with the same key.
func (s *SQLSink) CreateRecord(ctx context.Context, rec story.TrackingRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.write(ctx, s.db, stamp(rec, time.Now()))
}

// UpdateRecord merges rec into the stored record inside one transaction.
func (s *SQLSink) UpdateRecord(ctx context.Context, rec story.TrackingRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := s.get(ctx, tx, rec.GenerationID, rec.AttemptNumber)
	switch {
	case err == nil:
		rec = merge(prev, rec)
	case !errors.Is(err, ErrNotFound):
		return err
	}
	if err := s.write(ctx, tx, stamp(rec, time.Now())); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tracking update: %w", err)
	}
	return nil
}

// Get returns one attempt record.
func (s *SQLSink) Get(ctx context.Context, generationID string, attempt int) (story.TrackingRecord, error) {
	if err := s.checkOpen(); err != nil {
		return story.TrackingRecord{}, err
	}
	return s.get(ctx, s.db, generationID, attempt)
}

// List returns every record of a generation ordered by attempt number.
func (s *SQLSink) List(ctx context.Context, generationID string) ([]story.TrackingRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE generation_id = ?
		ORDER BY attempt_number ASC
	`, generationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracking records: %w", err)
	}
	defer rows.Close()

	var out []story.TrackingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracking records: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Close closes the database. Further calls return ErrClosed.
func (s *SQLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Dialect reports "sqlite" or "mysql".
func (s *SQLSink) Dialect() string {
	return s.dialect.name
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const selectColumns = `
	SELECT generation_id, attempt_number, status, prompt, model, error, quality_score, created_at, completed_at
	FROM generation_attempts
`

func (s *SQLSink) write(ctx context.Context, db execer, rec story.TrackingRecord) error {
	var completed sql.NullTime
	if rec.CompletedAt != nil {
		completed = sql.NullTime{Time: *rec.CompletedAt, Valid: true}
	}
	if _, err := db.ExecContext(ctx, s.dialect.upsert,
		rec.GenerationID, rec.AttemptNumber, rec.Status, rec.Prompt, rec.Model, rec.Error,
		rec.QualityScore, rec.CreatedAt, completed,
	); err != nil {
		return fmt.Errorf("failed to write tracking record: %w", err)
	}
	return nil
}

func (s *SQLSink) get(ctx context.Context, db queryRower, generationID string, attempt int) (story.TrackingRecord, error) {
	row := db.QueryRowContext(ctx, selectColumns+`
		WHERE generation_id = ? AND attempt_number = ?
	`, generationID, attempt)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return story.TrackingRecord{}, ErrNotFound
	}
	return rec, err
}

func scanRecord(row rowScanner) (story.TrackingRecord, error) {
	var (
		rec       story.TrackingRecord
		completed sql.NullTime
	)
	err := row.Scan(&rec.GenerationID, &rec.AttemptNumber, &rec.Status, &rec.Prompt, &rec.Model,
		&rec.Error, &rec.QualityScore, &rec.CreatedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("failed to scan tracking record: %w", err)
	}
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}
