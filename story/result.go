package story

import (
	"strings"

	"github.com/dshills/storyflow-go/graph"
)

// ErrorKind classifies an unsuccessful Result.
type ErrorKind string

const (
	ErrorKindRejected ErrorKind = "rejected"
	ErrorKindFailed   ErrorKind = "failed"
)

// Generic user-facing failure messages. Details stay in State.
const (
	msgGenerationFailed = "We could not create a story this time. Please try again."
	msgNoValidAttempts  = "We could not create a good story for this request. Please try again."
)

// Result is the caller-facing outcome of one workflow run.
//
// When Success is true the story fields are set. Otherwise ErrorKind and
// Message are set, and ValidationResult is non-nil for rejections. State is
// the final workflow state in both cases.
type Result struct {
	Success               bool                   `json:"success"`
	Content               string                 `json:"content,omitempty"`
	Title                 string                 `json:"title,omitempty"`
	SelectedAttemptNumber int                    `json:"selected_attempt_number,omitempty"`
	QualityScore          int                    `json:"quality_score,omitempty"`
	QualityMetadata       map[string]interface{} `json:"quality_metadata,omitempty"`
	AllAttempts           []GenerationAttempt    `json:"all_attempts,omitempty"`

	ErrorKind        ErrorKind         `json:"error_kind,omitempty"`
	Message          string            `json:"message,omitempty"`
	ValidationResult *ValidationResult `json:"validation_result,omitempty"`

	State WorkflowState `json:"-"`
}

// newResult builds the Result for a terminal state.
func newResult(state WorkflowState, costs *graph.CostTracker) Result {
	switch state.Status {
	case StatusRejected:
		return Result{
			ErrorKind:        ErrorKindRejected,
			Message:          rejectionMessage(state.ValidationResult),
			ValidationResult: state.ValidationResult,
			State:            state,
		}
	case StatusSuccess:
		best := state.BestStory()
		if best == nil {
			break
		}
		res := Result{
			Success:               true,
			Content:               best.Content,
			Title:                 best.Title,
			SelectedAttemptNumber: best.AttemptNumber,
			QualityMetadata:       qualityMetadata(state, best, costs),
			AllAttempts:           state.Attempts,
			State:                 state,
		}
		if best.Assessment != nil {
			res.QualityScore = best.Assessment.OverallScore
		}
		return res
	}

	msg := msgGenerationFailed
	if strings.HasPrefix(state.FatalError, ErrNoValidAttempts.Error()) {
		msg = msgNoValidAttempts
	}
	return Result{
		ErrorKind:        ErrorKindFailed,
		Message:          msg,
		ValidationResult: state.ValidationResult,
		AllAttempts:      state.Attempts,
		State:            state,
	}
}

func rejectionMessage(v *ValidationResult) string {
	if v == nil {
		return "The request was not approved."
	}
	msg := v.Reasoning
	if msg == "" {
		msg = defaultReasoning(*v)
	}
	if len(v.DetectedIssues) > 0 {
		msg += " Issues: " + strings.Join(v.DetectedIssues, "; ") + "."
	}
	return msg
}

func qualityMetadata(state WorkflowState, best *GenerationAttempt, costs *graph.CostTracker) map[string]interface{} {
	meta := map[string]interface{}{
		"attempts_made":       len(state.Attempts),
		"all_scores":          state.AllScores,
		"selection_reason":    state.SelectionReason,
		"model_used":          best.ModelUsed,
		"temperature":         best.Temperature,
		"expected_word_count": state.ExpectedWordCount,
		"word_count":          len(strings.Fields(best.Content)),
		"total_duration_ms":   state.TotalDuration.Milliseconds(),
	}
	if qa := best.Assessment; qa != nil {
		meta["dimension_scores"] = map[string]int{
			"theme_adherence":       qa.ThemeAdherence,
			"age_appropriateness":   qa.AgeAppropriateness,
			"moral_clarity":         qa.MoralClarity,
			"narrative_coherence":   qa.NarrativeCoherence,
			"character_consistency": qa.CharacterConsistency,
			"engagement":            qa.Engagement,
			"language_quality":      qa.LanguageQuality,
		}
		meta["feedback"] = qa.Feedback
		if len(qa.Suggestions) > 0 {
			meta["suggestions"] = qa.Suggestions
		}
	}
	if costs != nil {
		in, out := costs.GetTokenUsage()
		meta["cost_usd"] = costs.GetTotalCost()
		meta["input_tokens"] = in
		meta["output_tokens"] = out
	}
	return meta
}
