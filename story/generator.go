package story

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/storyflow-go/graph/model"
)

// Generator produces one candidate story per attempt.
//
// It calls the model directly through model.ChatModel. It holds no reference
// to an orchestrator, so a generation stage cannot start a nested workflow.
type Generator struct {
	llm model.ChatModel
	cfg Config
	now func() time.Time
}

// NewGenerator creates a Generator.
func NewGenerator(llm model.ChatModel, cfg Config) *Generator {
	return &Generator{llm: llm, cfg: cfg, now: time.Now}
}

// Generate runs one generation call. Failures are recorded in the returned
// attempt's Error field with empty Content; Generate never fails otherwise.
func (g *Generator) Generate(ctx context.Context, state WorkflowState, attemptNumber int) GenerationAttempt {
	prompt := BuildAttemptPrompt(state, attemptNumber)
	temperature := TemperatureFor(g.cfg.TemperatureSchedule, attemptNumber)

	attempt := GenerationAttempt{
		AttemptNumber: attemptNumber,
		Temperature:   temperature,
		Prompt:        prompt,
		ModelUsed:     g.cfg.GenerationModel,
	}

	start := g.now()
	out, err := g.llm.Chat(ctx, model.Prompt(generationSystemPrompt(state.Language), prompt), model.ChatOptions{
		Model:       g.cfg.GenerationModel,
		Temperature: temperature,
		MaxTokens:   g.cfg.GenerationMaxTokens,
	})
	attempt.GenerationTimeSeconds = g.now().Sub(start).Seconds()

	if err == nil && strings.TrimSpace(out.Text) == "" {
		err = errors.New("model returned an empty story")
	}
	if err != nil {
		attempt.Error = err.Error()
		return attempt
	}

	if out.Model != "" {
		attempt.ModelUsed = out.Model
	}
	attempt.Usage = out.Usage
	attempt.Title, attempt.Content = ExtractTitle(out.Text)
	return attempt
}

// TemperatureFor returns the schedule slot for a 1-based attempt number.
// Attempts past the end reuse the last slot.
func TemperatureFor(schedule []float64, attemptNumber int) float64 {
	if len(schedule) == 0 {
		return 0.8
	}
	idx := attemptNumber - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

// BuildAttemptPrompt returns the original prompt for attempt 1 and the
// original prompt plus a feedback block from the previous assessment after.
func BuildAttemptPrompt(state WorkflowState, attemptNumber int) string {
	if attemptNumber <= 1 {
		return state.OriginalPrompt
	}
	prev := previousAssessment(state, attemptNumber)
	if prev == nil {
		return state.OriginalPrompt
	}
	return state.OriginalPrompt + feedbackBlock(*prev, state.Language)
}

// previousAssessment prefers the assessment of the immediately preceding
// attempt and falls back to the latest one recorded.
func previousAssessment(state WorkflowState, attemptNumber int) *QualityAssessment {
	var latest *QualityAssessment
	for i := range state.Assessments {
		qa := &state.Assessments[i]
		if qa.AttemptNumber >= attemptNumber {
			continue
		}
		if qa.AttemptNumber == attemptNumber-1 {
			return qa
		}
		if latest == nil || qa.AttemptNumber > latest.AttemptNumber {
			latest = qa
		}
	}
	return latest
}

func feedbackBlock(qa QualityAssessment, language string) string {
	var b strings.Builder
	if canonicalLanguage(language) == "es" {
		fmt.Fprintf(&b, "\n\n---\nCOMENTARIOS DEL INTENTO ANTERIOR (puntuación %d/10):\n", qa.OverallScore)
		if qa.Feedback != "" {
			b.WriteString(qa.Feedback + "\n")
		}
		if len(qa.Suggestions) > 0 {
			b.WriteString("Mejoras necesarias:\n")
			for _, s := range qa.Suggestions {
				b.WriteString("- " + s + "\n")
			}
		}
		b.WriteString("Escribe una versión nueva y mejorada de la historia que resuelva estos puntos.")
		return b.String()
	}

	fmt.Fprintf(&b, "\n\n---\nFEEDBACK FROM THE PREVIOUS ATTEMPT (score %d/10):\n", qa.OverallScore)
	if qa.Feedback != "" {
		b.WriteString(qa.Feedback + "\n")
	}
	if len(qa.Suggestions) > 0 {
		b.WriteString("Improvements needed:\n")
		for _, s := range qa.Suggestions {
			b.WriteString("- " + s + "\n")
		}
	}
	b.WriteString("Write a new, improved version of the story that addresses these points.")
	return b.String()
}

// ExtractTitle splits a model reply into title and body. The title is the
// first non-empty line with markdown heading markers, bold markers and a
// "Title:" label removed. A single-line reply has no title.
func ExtractTitle(text string) (title, content string) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	first := -1
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			first = i
			break
		}
	}
	if first < 0 {
		return "", ""
	}

	body := strings.TrimSpace(strings.Join(lines[first+1:], "\n"))
	if body == "" {
		return "", strings.TrimSpace(lines[first])
	}
	return cleanTitle(lines[first]), body
}

func cleanTitle(line string) string {
	t := strings.TrimSpace(line)
	t = strings.TrimLeft(t, "#")
	t = strings.TrimSpace(t)
	t = strings.Trim(t, "*_")
	for _, label := range []string{"title:", "título:", "titulo:"} {
		if len(t) >= len(label) && strings.EqualFold(t[:len(label)], label) {
			t = t[len(label):]
			break
		}
	}
	t = strings.TrimSpace(strings.Trim(strings.TrimSpace(t), "*_"))
	return strings.Trim(t, `"“”`)
}

func generationSystemPrompt(language string) string {
	if canonicalLanguage(language) == "es" {
		return "Eres un escritor de cuentos infantiles para dormir. Escribe el título en la primera línea y después la historia."
	}
	return "You are a children's bedtime story writer. Put the story title on the first line, then the story."
}
