package story

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/storyflow-go/graph/emit"
	"github.com/dshills/storyflow-go/graph/model"
)

// SafetyClassifier screens a rendered prompt before any generation call.
//
// Two checks are merged: a deterministic licensed-character keyword scan and
// one LLM judgment. The request is rejected iff the prompt is unsafe or
// contains licensed characters. Age-inappropriateness alone is only reported.
type SafetyClassifier struct {
	llm     model.ChatModel
	cfg     Config
	emitter emit.Emitter
	now     func() time.Time
}

const issueCheckUnavailable = "safety check unavailable"

// NewSafetyClassifier creates a classifier. emitter may be nil.
func NewSafetyClassifier(llm model.ChatModel, cfg Config, emitter emit.Emitter) *SafetyClassifier {
	return &SafetyClassifier{llm: llm, cfg: cfg, emitter: emitter, now: time.Now}
}

// SafetyInput is what the classifier screens. The LLM sees Prompt; the
// keyword scan reads ScanText, falling back to Prompt when it is empty, so
// fixed template wording cannot trip it.
type SafetyInput struct {
	Prompt   string
	ScanText string
	Child    ChildContext
}

// Validate classifies in.Prompt for in.Child.
//
// A failed LLM call rejects the request: an unverified prompt never reaches
// generation. An unparseable reply approves it, so parser defects cannot
// block legitimate requests; the keyword scan still applies in both cases.
func (c *SafetyClassifier) Validate(ctx context.Context, in SafetyInput) (ValidationResult, model.Usage) {
	prompt, child := in.Prompt, in.Child
	scan := in.ScanText
	if strings.TrimSpace(scan) == "" {
		scan = prompt
	}
	keywordMatches := ScanLicensedCharacters(scan, child.Name)

	var (
		judgment ValidationResult
		usage    model.Usage
	)
	out, err := c.llm.Chat(ctx, model.Prompt(safetySystemPrompt, buildSafetyPrompt(prompt, child)), model.ChatOptions{
		Model:       c.cfg.SafetyModel,
		Temperature: c.cfg.SafetyTemperature,
		MaxTokens:   c.cfg.SafetyMaxTokens,
	})
	switch {
	case err != nil:
		emitWarn(ctx, c.emitter, "validate", "safety_check_failed", map[string]interface{}{"error": err.Error()})
		judgment = ValidationResult{
			IsSafe:           false,
			IsAgeAppropriate: false,
			DetectedIssues:   []string{issueCheckUnavailable},
			Reasoning:        "The safety check could not be completed, so the request was not approved.",
		}
	default:
		usage = out.Usage
		var perr error
		judgment, perr = ParseValidation(out.Text)
		if perr != nil {
			emitWarn(ctx, c.emitter, "validate", "safety_parse_fallback", map[string]interface{}{"error": perr.Error()})
			judgment = ValidationResult{
				IsSafe:           true,
				IsAgeAppropriate: true,
				Reasoning:        "Safety response could not be parsed; approved by default.",
			}
		}
	}

	result := MergeValidation(judgment, keywordMatches)
	result.Timestamp = c.now()

	if !result.IsAgeAppropriate && !result.Rejected() {
		emitWarn(ctx, c.emitter, "validate", "age_appropriateness_warning", map[string]interface{}{
			"age_category": child.AgeCategory,
			"issues":       result.DetectedIssues,
		})
	}
	return result, usage
}

// MergeValidation combines the LLM judgment with keyword matches and applies
// the decision rule. keywordMatches can only add licensed-character findings.
// When the keywords overturn an approving judgment, its reasoning no longer
// describes the outcome and is replaced.
func MergeValidation(judgment ValidationResult, keywordMatches []string) ValidationResult {
	result := judgment
	result.DetectedIssues = append([]string(nil), judgment.DetectedIssues...)
	if len(keywordMatches) > 0 {
		result.HasLicensedCharacters = true
		result.DetectedIssues = append(result.DetectedIssues, keywordMatches...)
	}
	result.Recommendation = Decide(result.IsSafe, result.HasLicensedCharacters)
	overturned := Decide(judgment.IsSafe, judgment.HasLicensedCharacters) != result.Recommendation
	if result.Reasoning == "" || overturned {
		result.Reasoning = defaultReasoning(result)
	}
	return result
}

// Decide is the safety gate: unsafe content or licensed characters reject.
func Decide(isSafe, hasLicensedCharacters bool) Recommendation {
	if !isSafe || hasLicensedCharacters {
		return RecommendationRejected
	}
	return RecommendationApproved
}

func defaultReasoning(v ValidationResult) string {
	switch {
	case !v.IsSafe:
		return "The request contains content that is not safe for children."
	case v.HasLicensedCharacters:
		return "The request references licensed characters, which cannot be used in generated stories."
	}
	return "The request is appropriate for a bedtime story."
}

// ParseValidation reads the safety verdict from a model reply. It returns
// ErrParse when no verdict field can be recovered.
func ParseValidation(text string) (ValidationResult, error) {
	if doc, found := ExtractJSON(text); found {
		if v, ok := parseValidationJSON(doc); ok {
			return v, nil
		}
	}

	safe, okSafe := regexBool(text, "is_safe")
	age, okAge := regexBool(text, "is_age_appropriate")
	licensed, okLicensed := regexBool(text, "has_licensed_characters")
	if !okSafe && !okAge && !okLicensed {
		return ValidationResult{}, ErrParse
	}
	v := ValidationResult{
		IsSafe:                safe || !okSafe,
		IsAgeAppropriate:      age || !okAge,
		HasLicensedCharacters: okLicensed && licensed,
		DetectedIssues:        regexStrings(text, "detected_issues"),
	}
	v.Reasoning, _ = regexString(text, "reasoning")
	return v, nil
}

func parseValidationJSON(doc string) (ValidationResult, bool) {
	safe, okSafe := ParseBool(lookup(doc, "is_safe", "isSafe", "safe"))
	age, okAge := ParseBool(lookup(doc, "is_age_appropriate", "isAgeAppropriate", "age_appropriate"))
	licensed, okLicensed := ParseBool(lookup(doc, "has_licensed_characters", "hasLicensedCharacters", "licensed_characters"))
	if !okSafe && !okAge && !okLicensed {
		return ValidationResult{}, false
	}
	return ValidationResult{
		IsSafe:                safe || !okSafe,
		IsAgeAppropriate:      age || !okAge,
		HasLicensedCharacters: okLicensed && licensed,
		DetectedIssues:        resultStrings(lookup(doc, "detected_issues", "detectedIssues", "issues")),
		Reasoning:             strings.TrimSpace(lookup(doc, "reasoning", "reason", "explanation").String()),
	}, true
}

const safetySystemPrompt = `You are a content safety reviewer for a children's bedtime story service. ` +
	`You answer only with JSON.`

func buildSafetyPrompt(prompt string, child ChildContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review this story request for a child in the age category %q.\n\n", child.AgeCategory)
	b.WriteString("Request:\n\"\"\"\n")
	b.WriteString(prompt)
	b.WriteString("\n\"\"\"\n\n")
	b.WriteString(`Decide:
- is_safe: false if it involves violence, fear, adult themes, self-harm or anything unsuitable for children
- is_age_appropriate: false if the themes or vocabulary do not suit the age category
- has_licensed_characters: true if it uses trademarked or copyrighted characters (Disney, Marvel, Pokemon, etc.)
- detected_issues: short descriptions of each problem
- recommendation: "approved" or "rejected"

Respond with JSON only:
{"is_safe": true, "is_age_appropriate": true, "has_licensed_characters": false, "detected_issues": [], "reasoning": "...", "recommendation": "approved"}`)
	return b.String()
}
