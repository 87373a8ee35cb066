package story

import (
	"context"
	"time"
)

// Tracking statuses written by the workflow.
const (
	TrackStarted   = "started"
	TrackGenerated = "generated"
	TrackAssessed  = "assessed"
	TrackFailed    = "failed"
)

// TrackingRecord is an attempt-level progress snapshot keyed by generation ID
// and attempt number.
type TrackingRecord struct {
	GenerationID  string     `json:"generation_id"`
	AttemptNumber int        `json:"attempt_number"`
	Status        string     `json:"status"`
	Prompt        string     `json:"prompt,omitempty"`
	Model         string     `json:"model,omitempty"`
	Error         string     `json:"error,omitempty"`
	QualityScore  int        `json:"quality_score,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Tracker persists attempt progress outside the workflow. Write failures
// are reported as warning events and never fail the workflow.
type Tracker interface {
	CreateRecord(ctx context.Context, rec TrackingRecord) error
	UpdateRecord(ctx context.Context, rec TrackingRecord) error
}
