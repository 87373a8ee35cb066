package story

import "fmt"

// Decision explains a regeneration verdict.
type Decision struct {
	Regenerate bool
	Reason     string
}

// ShouldRegenerate decides, after an assessment stage, whether another
// generation attempt runs. The checks run in a fixed order; budget checks
// come first so the loop terminates whatever the assessor returns.
func ShouldRegenerate(state WorkflowState, cfg Config) Decision {
	if state.CurrentAttempt >= cfg.MaxAttempts {
		return Decision{Reason: fmt.Sprintf("attempt budget exhausted (%d/%d)", state.CurrentAttempt, cfg.MaxAttempts)}
	}
	if len(state.Attempts) >= cfg.MaxAttempts {
		return Decision{Reason: fmt.Sprintf("attempt ledger full (%d recorded)", len(state.Attempts))}
	}

	current := state.CurrentAssessment()
	if current == nil {
		return Decision{Regenerate: true, Reason: fmt.Sprintf("no assessment for attempt %d", state.CurrentAttempt)}
	}
	if float64(current.OverallScore) >= cfg.QualityThreshold {
		return Decision{Reason: fmt.Sprintf("score %d meets threshold %.1f", current.OverallScore, cfg.QualityThreshold)}
	}
	return Decision{Regenerate: true, Reason: fmt.Sprintf("score %d below threshold %.1f", current.OverallScore, cfg.QualityThreshold)}
}
