// Package store persists per-step workflow state for audit and inspection.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run ID does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by database-backed stores after Close.
var ErrClosed = errors.New("store is closed")

// Store provides persistence for workflow state.
//
// The engine calls SaveStep after every node so the full trajectory of a
// run (validation verdict, each attempt, each assessment, the selection) can
// be inspected after it finishes.
//
// Implementations:
//   - MemStore: in-process maps, for tests and single-process use
//   - SQLiteStore: single-file database (modernc.org/sqlite)
//   - MySQLStore: shared relational store (go-sql-driver/mysql)
//
// Type parameter S is the state type to persist (must be JSON-serializable
// for the database stores).
type Store[S any] interface {
	// SaveStep persists the state after a node execution step.
	// Saving the same runID + step again replaces the earlier record.
	SaveStep(ctx context.Context, runID string, step int, nodeID string, state S) error

	// LoadLatest retrieves the highest-numbered step for a run.
	// Returns ErrNotFound if runID has no steps.
	LoadLatest(ctx context.Context, runID string) (state S, step int, err error)

	// ListSteps returns every step of a run ordered by step number.
	// Returns ErrNotFound if runID has no steps.
	ListSteps(ctx context.Context, runID string) ([]StepRecord[S], error)
}

// StepRecord represents a single execution step in the workflow history.
type StepRecord[S any] struct {
	// Step is the sequential step number (1-indexed).
	Step int

	// NodeID identifies which node produced this state.
	NodeID string

	// State is the workflow state after this step completed.
	State S

	// CreatedAt is when the step was persisted.
	CreatedAt time.Time
}
