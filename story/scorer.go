package story

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/storyflow-go/graph/emit"
	"github.com/dshills/storyflow-go/graph/model"
)

// Dimension weights in hundredths. They sum to 100.
var dimensionWeights = [7]int{20, 17, 17, 17, 11, 10, 8}

// dimensionKeys are the response field names in weight order.
var dimensionKeys = [7]string{
	"theme_adherence",
	"age_appropriateness",
	"moral_clarity",
	"narrative_coherence",
	"character_consistency",
	"engagement",
	"language_quality",
}

const neutralScore = 5

// dimensions returns the seven scores in weight order.
func (qa QualityAssessment) dimensions() [7]int {
	return [7]int{
		qa.ThemeAdherence,
		qa.AgeAppropriateness,
		qa.MoralClarity,
		qa.NarrativeCoherence,
		qa.CharacterConsistency,
		qa.Engagement,
		qa.LanguageQuality,
	}
}

func (qa *QualityAssessment) setDimensions(d [7]int) {
	qa.ThemeAdherence = d[0]
	qa.AgeAppropriateness = d[1]
	qa.MoralClarity = d[2]
	qa.NarrativeCoherence = d[3]
	qa.CharacterConsistency = d[4]
	qa.Engagement = d[5]
	qa.LanguageQuality = d[6]
}

// WeightedOverall computes round(Σ weight·score) clamped to [1,10]. Scores
// are clamped first. Halves round up.
func WeightedOverall(qa QualityAssessment) int {
	total := 0
	for i, s := range qa.dimensions() {
		total += dimensionWeights[i] * clampScore(s)
	}
	return clampScore((total + 50) / 100)
}

func clampScore(s int) int {
	switch {
	case s < 1:
		return 1
	case s > 10:
		return 10
	}
	return s
}

// AssessInput is everything the scorer needs about one candidate.
type AssessInput struct {
	AttemptNumber     int
	Content           string
	Title             string
	AgeCategory       string
	Moral             string
	Theme             string
	Language          string
	ExpectedWordCount int
}

// Scorer rates candidates with one LLM call plus the theme keyword guard.
type Scorer struct {
	llm     model.ChatModel
	cfg     Config
	emitter emit.Emitter
	now     func() time.Time
}

// NewScorer creates a Scorer. emitter may be nil.
func NewScorer(llm model.ChatModel, cfg Config, emitter emit.Emitter) *Scorer {
	return &Scorer{llm: llm, cfg: cfg, emitter: emitter, now: time.Now}
}

// Assess scores one candidate. An error means the model could not be
// reached; malformed replies never produce an error.
func (s *Scorer) Assess(ctx context.Context, in AssessInput) (QualityAssessment, model.Usage, error) {
	if strings.TrimSpace(in.Content) == "" {
		return QualityAssessment{}, model.Usage{}, errors.New("cannot assess empty content")
	}

	out, err := s.llm.Chat(ctx, model.Prompt(scoringSystemPrompt, buildScoringPrompt(in)), model.ChatOptions{
		Model:       s.cfg.ScoringModel,
		Temperature: s.cfg.ScoringTemperature,
		MaxTokens:   s.cfg.ScoringMaxTokens,
	})
	if err != nil {
		return QualityAssessment{}, model.Usage{}, fmt.Errorf("quality scoring call failed: %w", err)
	}

	qa, method := ParseAssessment(out.Text)
	if method != parsedJSON {
		emitWarn(ctx, s.emitter, "assessment", "assessment_parse_fallback", map[string]interface{}{
			"attempt": in.AttemptNumber,
			"method":  method,
		})
	}

	qa.AttemptNumber = in.AttemptNumber
	qa.Timestamp = s.now()
	qa = FinalizeAssessment(qa, in.Content, in.Theme, in.Language)
	return qa, out.Usage, nil
}

// ParseAssessment recovers scores from a model reply through the fallback
// chain fenced JSON, brace-matched JSON, per-field regex, neutral defaults.
// The returned assessment is not yet clamped or weighted.
func ParseAssessment(text string) (QualityAssessment, string) {
	var (
		dims    [7]int
		found   [7]bool
		qa      QualityAssessment
		method  = parsedDefaults
		anyJSON bool
	)

	if doc, ok := ExtractJSON(text); ok {
		anyJSON = true
		for i, key := range dimensionKeys {
			if v, ok := resultInt(lookup(doc, fieldPaths(key)...)); ok {
				dims[i], found[i] = v, true
			}
		}
		if v, ok := resultInt(lookup(doc, "overall_score", "overallScore", "overall", "scores.overall")); ok {
			qa.ModelOverallScore = v
		}
		qa.Feedback = strings.TrimSpace(lookup(doc, "feedback", "summary", "comments").String())
		qa.Suggestions = resultStrings(lookup(doc, "improvement_suggestions", "suggestions", "improvements", "improvementSuggestions"))
		method = parsedJSON
	}

	// Fields the JSON pass missed are recovered one by one.
	for i, key := range dimensionKeys {
		if found[i] {
			continue
		}
		if v, ok := regexInt(text, key); ok {
			dims[i], found[i] = v, true
			if !anyJSON {
				method = parsedRegex
			}
		}
	}
	if qa.ModelOverallScore == 0 {
		if v, ok := regexInt(text, "overall_score"); ok {
			qa.ModelOverallScore = v
		}
	}
	if qa.Feedback == "" {
		if fb, ok := regexString(text, "feedback"); ok {
			qa.Feedback = strings.TrimSpace(fb)
			if method == parsedDefaults {
				method = parsedRegex
			}
		}
	}
	if len(qa.Suggestions) == 0 {
		qa.Suggestions = regexStrings(text, "improvement_suggestions")
		if len(qa.Suggestions) == 0 {
			qa.Suggestions = regexStrings(text, "suggestions")
		}
	}

	for i := range dims {
		if !found[i] {
			dims[i] = neutralScore
		}
	}
	qa.setDimensions(dims)
	return qa, method
}

// FinalizeAssessment clamps every dimension, applies the theme keyword guard
// when the theme and language are known, and recomputes the overall score.
func FinalizeAssessment(qa QualityAssessment, content, theme, language string) QualityAssessment {
	d := qa.dimensions()
	for i := range d {
		d[i] = clampScore(d[i])
	}
	qa.setDimensions(d)

	if theme != "" {
		if matches, ok := CountThemeKeywords(content, theme, language); ok {
			capped := ApplyThemeGuard(qa.ThemeAdherence, matches)
			if capped < qa.ThemeAdherence {
				qa.Suggestions = append(qa.Suggestions, themeSuggestion(theme, language, matches))
				qa.ThemeAdherence = capped
			}
		}
	}

	qa.OverallScore = WeightedOverall(qa)
	return qa
}

// ApplyThemeGuard lowers a model theme score to the keyword-derived cap. It
// never raises a score.
func ApplyThemeGuard(modelScore, matches int) int {
	return min(modelScore, ThemeCap(matches))
}

func themeSuggestion(theme, language string, matches int) string {
	if canonicalLanguage(language) == "es" {
		return fmt.Sprintf("Integra el tema \"%s\" de forma más explícita en la historia (solo %d palabras clave del tema encontradas).", theme, matches)
	}
	return fmt.Sprintf("Weave the theme \"%s\" more explicitly into the story (only %d theme keywords found).", theme, matches)
}

const scoringSystemPrompt = `You are an expert evaluator of children's bedtime stories. ` +
	`You score stories strictly and honestly and answer only with JSON.`

func buildScoringPrompt(in AssessInput) string {
	var b strings.Builder
	b.WriteString("Evaluate the following bedtime story.\n\n")
	fmt.Fprintf(&b, "Target age category: %s\n", in.AgeCategory)
	fmt.Fprintf(&b, "Intended moral: %s\n", in.Moral)
	if in.Theme != "" {
		fmt.Fprintf(&b, "Intended theme: %s\n", in.Theme)
	}
	fmt.Fprintf(&b, "Language: %s\n", in.Language)
	if in.ExpectedWordCount > 0 {
		fmt.Fprintf(&b, "Expected length: about %d words (actual: %d words)\n", in.ExpectedWordCount, len(strings.Fields(in.Content)))
	}
	fmt.Fprintf(&b, "\nTitle: %s\n\n%s\n\n", in.Title, in.Content)

	b.WriteString(`Score each dimension with an integer from 1 to 10:
- theme_adherence: how clearly the story develops the intended theme
- age_appropriateness: vocabulary, length and content suit the age category
- moral_clarity: the moral is clear without being preachy
- narrative_coherence: the plot flows logically from beginning to end
- character_consistency: characters behave consistently
- engagement: the story holds a child's attention and calms toward sleep
- language_quality: grammar, rhythm and word choice

Rubric: 7 or higher = high quality, 5-6 = needs improvement, below 5 = significant issues.
If the story ends in incoherent, repetitive "word salad" text, score narrative_coherence and language_quality 3 or lower.

Respond with JSON only:
{"theme_adherence": 0, "age_appropriateness": 0, "moral_clarity": 0, "narrative_coherence": 0,
 "character_consistency": 0, "engagement": 0, "language_quality": 0, "overall_score": 0,
 "feedback": "one paragraph", "improvement_suggestions": ["..."]}`)
	return b.String()
}
