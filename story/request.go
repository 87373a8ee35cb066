package story

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest is wrapped by Request.Validate failures.
var ErrInvalidRequest = errors.New("invalid generation request")

// Request is one caller's ask for a story.
//
// OriginalPrompt may be supplied pre-rendered; when empty the orchestrator's
// PromptRenderer builds it from the remaining fields.
type Request struct {
	GenerationID       string       `json:"generation_id,omitempty"`
	UserID             string       `json:"user_id,omitempty"`
	StoryType          StoryType    `json:"story_type" validate:"required,oneof=child hero combined"`
	Language           string       `json:"language" validate:"required"`
	Moral              string       `json:"moral" validate:"required"`
	Theme              string       `json:"theme,omitempty"`
	StoryLengthMinutes int          `json:"story_length_minutes" validate:"min=1,max=60"`
	Child              ChildContext `json:"child"`
	Hero               *HeroContext `json:"hero,omitempty" validate:"required_unless=StoryType child"`
	OriginalPrompt     string       `json:"original_prompt,omitempty"`
	PriorStory         *PriorStory  `json:"prior_story,omitempty"`
}

// PriorStory is optional continuation context for the prompt renderer.
type PriorStory struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Validate checks field constraints and the story type / hero coupling.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, describeValidation(err))
	}
	return nil
}

// NewWorkflowState builds the initial state for a validated request.
func NewWorkflowState(r Request, cfg Config) WorkflowState {
	s := WorkflowState{
		GenerationID:       r.GenerationID,
		UserID:             r.UserID,
		StoryType:          r.StoryType,
		Language:           r.Language,
		Moral:              r.Moral,
		Theme:              r.Theme,
		StoryLengthMinutes: r.StoryLengthMinutes,
		ExpectedWordCount:  r.StoryLengthMinutes * cfg.ReadingSpeedWPM,
		Child:              r.Child,
		OriginalPrompt:     r.OriginalPrompt,
		CurrentPrompt:      r.OriginalPrompt,
		RequestText:        r.CallerText(),
		Status:             StatusValidating,
	}
	if r.StoryType != StoryTypeChild && r.Hero != nil {
		hero := *r.Hero
		s.Hero = &hero
	}
	return s
}

// CallerText joins every free-text field the caller controls, one per line.
// A pre-rendered OriginalPrompt is included since the caller wrote it.
func (r Request) CallerText() string {
	parts := []string{r.Moral, r.Theme}
	parts = append(parts, r.Child.Interests...)
	if r.StoryType != StoryTypeChild && r.Hero != nil {
		parts = append(parts, r.Hero.Name, r.Hero.Description)
	}
	if r.PriorStory != nil {
		parts = append(parts, r.PriorStory.Title, r.PriorStory.Summary)
	}
	parts = append(parts, r.OriginalPrompt)

	var b strings.Builder
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			b.WriteString(p)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
