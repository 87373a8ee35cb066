package emit

// Levels carried in Event.Meta["level"]. Events without a level are info.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event represents an observability event emitted during workflow execution.
//
// Events cover:
//   - Node execution start/end and routing decisions (from the engine)
//   - Stage outcomes such as validation verdicts and assessment scores
//   - Degraded paths: parse fallbacks, retries, tracking write failures
type Event struct {
	// RunID identifies the workflow execution that emitted this event.
	// Storyflow uses the generation ID.
	RunID string

	// Step is the sequential step number in the workflow (1-indexed).
	// Zero for workflow-level events.
	Step int

	// NodeID identifies which node or stage emitted this event.
	// Empty string for workflow-level events.
	NodeID string

	// Msg is a snake_case event name, e.g. "node_start", "assessment_parse_fallback".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "level": debug, info, warn or error
	//   - "duration_ms": Execution duration in milliseconds
	//   - "error": Error details
	//   - "attempt": Generation attempt number
	//   - "model", "tokens_in", "tokens_out", "cost_usd": LLM call details
	Meta map[string]interface{}
}

// Level returns the event's level, defaulting to LevelInfo.
func (e Event) Level() string {
	if lvl, ok := e.Meta["level"].(string); ok && lvl != "" {
		return lvl
	}
	if _, hasErr := e.Meta["error"]; hasErr {
		return LevelError
	}
	return LevelInfo
}
