// Package tracking provides sinks for attempt-level generation progress.
//
// Every sink implements story.Tracker. Records are keyed by generation ID and
// attempt number; UpdateRecord merges into the record CreateRecord wrote, so
// a sink always holds the latest known status of every attempt.
//
// Implementations:
//   - MemorySink: in-process maps, for tests and single-process use
//   - SQLSink: SQLite (modernc.org/sqlite) or MySQL (go-sql-driver/mysql)
//   - RedisSink: JSON snapshots with TTL (redis/go-redis/v9)
package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/storyflow-go/story"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("tracking record not found")

// ErrInvalidRecord is returned for records without a generation ID or with a
// non-positive attempt number.
var ErrInvalidRecord = errors.New("tracking record needs a generation ID and attempt number")

// Sink is a story.Tracker that can also be read back.
type Sink interface {
	story.Tracker

	// Get returns one attempt record.
	Get(ctx context.Context, generationID string, attempt int) (story.TrackingRecord, error)

	// List returns every attempt record of a generation ordered by attempt.
	// Returns ErrNotFound if the generation has no records.
	List(ctx context.Context, generationID string) ([]story.TrackingRecord, error)
}

func checkRecord(rec story.TrackingRecord) error {
	if rec.GenerationID == "" || rec.AttemptNumber < 1 {
		return ErrInvalidRecord
	}
	return nil
}

// merge overlays the non-zero fields of update onto prev.
func merge(prev, update story.TrackingRecord) story.TrackingRecord {
	out := prev
	out.GenerationID = update.GenerationID
	out.AttemptNumber = update.AttemptNumber
	if update.Status != "" {
		out.Status = update.Status
	}
	if update.Prompt != "" {
		out.Prompt = update.Prompt
	}
	if update.Model != "" {
		out.Model = update.Model
	}
	if update.Error != "" {
		out.Error = update.Error
	}
	if update.QualityScore != 0 {
		out.QualityScore = update.QualityScore
	}
	if !update.CreatedAt.IsZero() && out.CreatedAt.IsZero() {
		out.CreatedAt = update.CreatedAt
	}
	if update.CompletedAt != nil {
		done := *update.CompletedAt
		out.CompletedAt = &done
	}
	return out
}

// stamp fills CreatedAt for records created without one.
func stamp(rec story.TrackingRecord, now time.Time) story.TrackingRecord {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.CompletedAt != nil {
		done := rec.CompletedAt.UTC()
		rec.CompletedAt = &done
	}
	return rec
}
