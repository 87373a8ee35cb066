// Package story implements the bedtime-story generation workflow: request
// validation, content safety classification, candidate generation under a
// temperature schedule, LLM-plus-heuristic quality scoring, bounded
// regeneration, and best-candidate selection.
package story

import (
	"slices"
	"time"

	"github.com/dshills/storyflow-go/graph/model"
)

// StoryType selects which characters a story features.
type StoryType string

const (
	StoryTypeChild    StoryType = "child"
	StoryTypeHero     StoryType = "hero"
	StoryTypeCombined StoryType = "combined"
)

// Status is the workflow state-machine cursor.
type Status string

const (
	StatusValidating Status = "VALIDATING"
	StatusRejected   Status = "REJECTED"
	StatusGenerating Status = "GENERATING"
	StatusAssessing  Status = "ASSESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further stage may run.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusSuccess || s == StatusFailed
}

// Recommendation is the safety classifier's verdict.
type Recommendation string

const (
	RecommendationApproved Recommendation = "approved"
	RecommendationRejected Recommendation = "rejected"
)

// ChildContext describes the child the story is written for.
type ChildContext struct {
	Name        string   `json:"name" validate:"required"`
	AgeCategory string   `json:"age_category" validate:"required"`
	Gender      string   `json:"gender,omitempty"`
	Interests   []string `json:"interests,omitempty"`
}

// HeroContext describes the optional hero character.
type HeroContext struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
}

// ValidationResult is the outcome of the content safety check. It is never
// modified after the classifier returns it.
type ValidationResult struct {
	IsSafe                bool           `json:"is_safe"`
	IsAgeAppropriate      bool           `json:"is_age_appropriate"`
	HasLicensedCharacters bool           `json:"has_licensed_characters"`
	DetectedIssues        []string       `json:"detected_issues,omitempty"`
	Reasoning             string         `json:"reasoning"`
	Recommendation        Recommendation `json:"recommendation"`
	Timestamp             time.Time      `json:"timestamp"`
}

// Rejected reports whether the request must not proceed to generation.
func (v ValidationResult) Rejected() bool {
	return v.Recommendation == RecommendationRejected
}

// QualityAssessment is the scored evaluation of one attempt.
//
// OverallScore is always the weighted sum of the seven dimensions; the value
// proposed by the model is kept in ModelOverallScore for diagnostics only.
type QualityAssessment struct {
	AttemptNumber        int       `json:"attempt_number"`
	OverallScore         int       `json:"overall_score"`
	ThemeAdherence       int       `json:"theme_adherence"`
	AgeAppropriateness   int       `json:"age_appropriateness"`
	MoralClarity         int       `json:"moral_clarity"`
	NarrativeCoherence   int       `json:"narrative_coherence"`
	CharacterConsistency int       `json:"character_consistency"`
	Engagement           int       `json:"engagement"`
	LanguageQuality      int       `json:"language_quality"`
	ModelOverallScore    int       `json:"model_overall_score,omitempty"`
	Feedback             string    `json:"feedback"`
	Suggestions          []string  `json:"suggestions,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// GenerationAttempt records one generation call, successful or not.
type GenerationAttempt struct {
	AttemptNumber         int                `json:"attempt_number"`
	Content               string             `json:"content"`
	Title                 string             `json:"title"`
	ModelUsed             string             `json:"model_used"`
	Temperature           float64            `json:"temperature"`
	Prompt                string             `json:"prompt,omitempty"`
	GenerationTimeSeconds float64            `json:"generation_time_seconds"`
	Error                 string             `json:"error,omitempty"`
	Usage                 model.Usage        `json:"usage"`
	Assessment            *QualityAssessment `json:"assessment,omitempty"`
}

// Valid reports whether the attempt produced usable content.
func (a GenerationAttempt) Valid() bool {
	return a.Error == "" && a.Content != ""
}

// WorkflowState is the record threaded through every stage of one generation.
// Each Run owns its own instance.
type WorkflowState struct {
	GenerationID       string    `json:"generation_id"`
	UserID             string    `json:"user_id,omitempty"`
	StoryType          StoryType `json:"story_type"`
	Language           string    `json:"language"`
	Moral              string    `json:"moral"`
	Theme              string    `json:"theme,omitempty"`
	StoryLengthMinutes int       `json:"story_length_minutes"`
	ExpectedWordCount  int       `json:"expected_word_count"`

	Child ChildContext `json:"child"`
	Hero  *HeroContext `json:"hero,omitempty"`

	OriginalPrompt string `json:"original_prompt"`
	CurrentPrompt  string `json:"current_prompt,omitempty"`
	// RequestText is the caller-supplied text the keyword scan runs over.
	// Fixed template wording is never part of it.
	RequestText string `json:"request_text,omitempty"`

	CurrentAttempt int                 `json:"current_attempt"`
	Attempts       []GenerationAttempt `json:"attempts,omitempty"`

	Assessments []QualityAssessment `json:"assessments,omitempty"`
	AllScores   []int               `json:"all_scores,omitempty"`

	ValidationResult      *ValidationResult `json:"validation_result,omitempty"`
	SelectedAttemptNumber int               `json:"selected_attempt_number,omitempty"`
	SelectionReason       string            `json:"selection_reason,omitempty"`

	Status Status `json:"status"`

	ErrorMessages      []string      `json:"error_messages,omitempty"`
	FatalError         string        `json:"fatal_error,omitempty"`
	ValidationDuration time.Duration `json:"validation_duration"`
	GenerationDuration time.Duration `json:"generation_duration"`
	AssessmentDuration time.Duration `json:"assessment_duration"`
	TotalDuration      time.Duration `json:"total_duration"`

	LLMCalls []LLMCall `json:"llm_calls,omitempty"`
}

// LLMCall is the token usage of one stage call.
type LLMCall struct {
	Stage string `json:"stage"`
	model.Usage
}

// BestStory returns a pointer into Attempts for the selected attempt, or nil
// before selection.
func (s *WorkflowState) BestStory() *GenerationAttempt {
	if s.SelectedAttemptNumber == 0 {
		return nil
	}
	return s.attempt(s.SelectedAttemptNumber)
}

// attempt returns a pointer to the attempt with the given number.
func (s *WorkflowState) attempt(n int) *GenerationAttempt {
	for i := range s.Attempts {
		if s.Attempts[i].AttemptNumber == n {
			return &s.Attempts[i]
		}
	}
	return nil
}

// CurrentAssessment returns the assessment of the current attempt, if any.
func (s *WorkflowState) CurrentAssessment() *QualityAssessment {
	for i := len(s.Assessments) - 1; i >= 0; i-- {
		if s.Assessments[i].AttemptNumber == s.CurrentAttempt {
			return &s.Assessments[i]
		}
	}
	return nil
}

// ReduceWorkflowState merges a stage's delta into the accumulated state.
//
// Merge rules:
//   - A terminal prev is returned unchanged.
//   - Non-zero scalars in delta overwrite; CurrentAttempt only moves forward.
//   - Attempts are upserted by AttemptNumber.
//   - Assessments are appended, attached to their attempt, and their overall
//     score is appended to AllScores.
//   - ErrorMessages and LLMCalls are appended.
//   - GenerationDuration and AssessmentDuration accumulate across attempts.
//
// Slices are copied so prev is never mutated.
func ReduceWorkflowState(prev, delta WorkflowState) WorkflowState {
	if prev.Status.Terminal() {
		return prev
	}

	next := prev
	next.Attempts = slices.Clone(prev.Attempts)
	next.Assessments = slices.Clone(prev.Assessments)
	next.AllScores = slices.Clone(prev.AllScores)
	next.ErrorMessages = slices.Clone(prev.ErrorMessages)
	next.LLMCalls = slices.Clone(prev.LLMCalls)

	setString(&next.GenerationID, delta.GenerationID)
	setString(&next.UserID, delta.UserID)
	setString(&next.Language, delta.Language)
	setString(&next.Moral, delta.Moral)
	setString(&next.Theme, delta.Theme)
	setString(&next.OriginalPrompt, delta.OriginalPrompt)
	setString(&next.CurrentPrompt, delta.CurrentPrompt)
	setString(&next.RequestText, delta.RequestText)
	setString(&next.SelectionReason, delta.SelectionReason)
	setString(&next.FatalError, delta.FatalError)
	if delta.StoryType != "" {
		next.StoryType = delta.StoryType
	}
	if delta.StoryLengthMinutes > 0 {
		next.StoryLengthMinutes = delta.StoryLengthMinutes
	}
	if delta.ExpectedWordCount > 0 {
		next.ExpectedWordCount = delta.ExpectedWordCount
	}
	if delta.Child.Name != "" {
		next.Child = delta.Child
	}
	if delta.Hero != nil {
		next.Hero = delta.Hero
	}
	if delta.CurrentAttempt > next.CurrentAttempt {
		next.CurrentAttempt = delta.CurrentAttempt
	}
	if delta.ValidationResult != nil {
		next.ValidationResult = delta.ValidationResult
	}
	if delta.SelectedAttemptNumber > 0 {
		next.SelectedAttemptNumber = delta.SelectedAttemptNumber
	}
	if delta.Status != "" {
		next.Status = delta.Status
	}

	for _, a := range delta.Attempts {
		if existing := next.attempt(a.AttemptNumber); existing != nil {
			if a.Assessment == nil {
				a.Assessment = existing.Assessment
			}
			*existing = a
			continue
		}
		next.Attempts = append(next.Attempts, a)
	}

	for _, qa := range delta.Assessments {
		next.Assessments = append(next.Assessments, qa)
		next.AllScores = append(next.AllScores, qa.OverallScore)
		if a := next.attempt(qa.AttemptNumber); a != nil {
			attached := qa
			attached.Suggestions = slices.Clone(qa.Suggestions)
			a.Assessment = &attached
		}
	}

	next.ErrorMessages = append(next.ErrorMessages, delta.ErrorMessages...)
	next.LLMCalls = append(next.LLMCalls, delta.LLMCalls...)

	if delta.ValidationDuration > 0 {
		next.ValidationDuration = delta.ValidationDuration
	}
	next.GenerationDuration += delta.GenerationDuration
	next.AssessmentDuration += delta.AssessmentDuration
	if delta.TotalDuration > 0 {
		next.TotalDuration = delta.TotalDuration
	}
	return next
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
