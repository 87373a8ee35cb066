package story

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/storyflow-go/graph/emit"
	"github.com/dshills/storyflow-go/graph/model"
)

func TestDecide_GatePrecedence(t *testing.T) {
	tests := []struct {
		name     string
		judgment ValidationResult
		want     Recommendation
	}{
		{"unsafe but age appropriate", ValidationResult{IsSafe: false, IsAgeAppropriate: true}, RecommendationRejected},
		{"age inappropriate alone", ValidationResult{IsSafe: true, IsAgeAppropriate: false}, RecommendationApproved},
		{"licensed", ValidationResult{IsSafe: true, IsAgeAppropriate: true, HasLicensedCharacters: true}, RecommendationRejected},
		{"clean", ValidationResult{IsSafe: true, IsAgeAppropriate: true}, RecommendationApproved},
		{"llm proposal is ignored", ValidationResult{IsSafe: true, IsAgeAppropriate: true, Recommendation: RecommendationRejected}, RecommendationApproved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeValidation(tt.judgment, nil).Recommendation; got != tt.want {
				t.Errorf("recommendation = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMergeValidation_KeywordsOnlyAdd(t *testing.T) {
	llmSaysLicensed := ValidationResult{IsSafe: true, IsAgeAppropriate: true, HasLicensedCharacters: true}
	if got := MergeValidation(llmSaysLicensed, nil); !got.HasLicensedCharacters {
		t.Error("an empty keyword scan cleared the LLM finding")
	}

	clean := ValidationResult{IsSafe: true, IsAgeAppropriate: true, DetectedIssues: []string{"minor"}}
	got := MergeValidation(clean, []string{"licensed character name: pikachu"})
	if !got.HasLicensedCharacters || got.Recommendation != RecommendationRejected {
		t.Errorf("keyword match ignored: %+v", got)
	}
	if len(got.DetectedIssues) != 2 || len(clean.DetectedIssues) != 1 {
		t.Errorf("issues = %v, input mutated = %v", got.DetectedIssues, clean.DetectedIssues)
	}
	if got.Reasoning == "" {
		t.Error("reasoning not filled")
	}

	approving := ValidationResult{IsSafe: true, IsAgeAppropriate: true, Reasoning: "A calm bedtime request."}
	got = MergeValidation(approving, []string{"licensed character name: pikachu"})
	if got.Reasoning == approving.Reasoning || !strings.Contains(got.Reasoning, "licensed characters") {
		t.Errorf("overturned verdict kept the approving reasoning: %q", got.Reasoning)
	}

	rejecting := ValidationResult{IsSafe: false, Reasoning: "Too frightening."}
	if got := MergeValidation(rejecting, []string{"licensed character name: pikachu"}); got.Reasoning != "Too frightening." {
		t.Errorf("agreeing verdict lost its reasoning: %q", got.Reasoning)
	}
}

func TestScanLicensedCharacters(t *testing.T) {
	tests := []struct {
		name      string
		prompt    string
		childName string
		want      bool
	}{
		{"phrase", "A story with Princess Elsa.", "Lucas", true},
		{"standalone name", "Lucas plays with Pikachu.", "Lucas", true},
		{"name inside another word", "The superb batmanesque hero", "Lucas", false},
		{"ambiguous without context", "Elsa plants a garden.", "Lucas", false},
		{"ambiguous with context", "Elsa from Frozen builds a snowman.", "Lucas", true},
		{"child named like a character", "Elsa visits her grandmother in the princess castle.", "Elsa", false},
		{"masked child still catches others", "Elsa meets Olaf.", "Elsa", true},
		{"diacritics folded", "Un cuento con Pokémon.", "Lucía", true},
		{"ordinary words", "Lucas drives toy cars to the park.", "Lucas", false},
		{"ordinary words with context", "Lucas watches the Cars movie with Lightning McQueen.", "Lucas", true},
		{"context inside a longer word", "Lucas is brave and loves movies.", "Lucas", false},
		{"context as a whole word", "Lucas is brave like the girl in the movie.", "Lucas", true},
		{"showing is not show", "Bluey keeps showing Lucas the stars.", "Lucas", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScanLicensedCharacters(tt.prompt, tt.childName)
			if (len(got) > 0) != tt.want {
				t.Errorf("ScanLicensedCharacters(%q) = %v, want match=%v", tt.prompt, got, tt.want)
			}
		})
	}
}

func TestParseValidation(t *testing.T) {
	t.Run("json with lenient booleans", func(t *testing.T) {
		v, err := ParseValidation("```json\n{\"is_safe\": \"yes\", \"is_age_appropriate\": 0, \"has_licensed_characters\": \"no\", \"detected_issues\": \"too long\", \"reasoning\": \"ok\"}\n```")
		if err != nil {
			t.Fatal(err)
		}
		if !v.IsSafe || v.IsAgeAppropriate || v.HasLicensedCharacters {
			t.Errorf("verdict = %+v", v)
		}
		if len(v.DetectedIssues) != 1 || v.DetectedIssues[0] != "too long" {
			t.Errorf("issues = %v", v.DetectedIssues)
		}
	})

	t.Run("missing fields default to safe", func(t *testing.T) {
		v, err := ParseValidation(`{"has_licensed_characters": true}`)
		if err != nil {
			t.Fatal(err)
		}
		if !v.IsSafe || !v.IsAgeAppropriate || !v.HasLicensedCharacters {
			t.Errorf("verdict = %+v", v)
		}
	})

	t.Run("regex fallback", func(t *testing.T) {
		v, err := ParseValidation(`is_safe: false, "detected_issues": ["scary monster"], "reasoning": "too scary",`)
		if err != nil {
			t.Fatal(err)
		}
		if v.IsSafe || v.Reasoning != "too scary" || len(v.DetectedIssues) != 1 {
			t.Errorf("verdict = %+v", v)
		}
	})

	t.Run("unparseable", func(t *testing.T) {
		if _, err := ParseValidation("Looks good to me!"); !errors.Is(err, ErrParse) {
			t.Errorf("err = %v, want ErrParse", err)
		}
	})
}

func TestSafetyClassifier_Validate(t *testing.T) {
	cfg := testConfig(3)
	child := ChildContext{Name: "Lucas", AgeCategory: "4-6"}

	t.Run("keyword scan overrides an approving model", func(t *testing.T) {
		mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: safeVerdict}}}
		v, _ := NewSafetyClassifier(mock, cfg, nil).Validate(context.Background(), SafetyInput{Prompt: "Lucas and princess Elsa", Child: child})
		if !v.Rejected() || !v.HasLicensedCharacters {
			t.Errorf("verdict = %+v", v)
		}
	})

	t.Run("keyword scan reads only the scan text", func(t *testing.T) {
		mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: safeVerdict}}}
		in := SafetyInput{
			Prompt:   "Lucas learns to be brave. Avoid anything from a movie.",
			ScanText: "learning to be brave",
			Child:    child,
		}
		v, _ := NewSafetyClassifier(mock, cfg, nil).Validate(context.Background(), in)
		if v.Rejected() {
			t.Errorf("fixed wording outside the scan text rejected the request: %+v", v)
		}
		call, _ := mock.LastCall()
		if !strings.Contains(call.Messages[len(call.Messages)-1].Content, in.Prompt) {
			t.Error("model did not see the full prompt")
		}
	})

	t.Run("call failure fails closed", func(t *testing.T) {
		emitter := emit.NewBufferedEmitter()
		mock := &model.MockChatModel{Err: errors.New("timeout")}
		ctx := WithGenerationID(context.Background(), "g")
		v, usage := NewSafetyClassifier(mock, cfg, emitter).Validate(ctx, SafetyInput{Prompt: "a calm story", Child: child})
		if !v.Rejected() || v.IsSafe {
			t.Errorf("verdict = %+v", v)
		}
		if usage.InputTokens != 0 {
			t.Errorf("usage = %+v", usage)
		}
		if len(emitter.GetHistoryWithFilter("g", emit.HistoryFilter{Level: emit.LevelWarn})) != 1 {
			t.Error("expected one warning")
		}
	})

	t.Run("unparseable reply approves", func(t *testing.T) {
		mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "sure!"}}}
		v, _ := NewSafetyClassifier(mock, cfg, nil).Validate(context.Background(), SafetyInput{Prompt: "a calm story", Child: child})
		if v.Rejected() {
			t.Errorf("verdict = %+v", v)
		}
	})

	t.Run("prompt carries age category and options", func(t *testing.T) {
		mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: safeVerdict, Usage: model.Usage{InputTokens: 3}}}}
		_, usage := NewSafetyClassifier(mock, cfg, nil).Validate(context.Background(), SafetyInput{Prompt: "a calm story", Child: child})
		call, _ := mock.LastCall()
		if call.Options.Model != testSafetyModel || call.Options.MaxTokens != cfg.SafetyMaxTokens {
			t.Errorf("options = %+v", call.Options)
		}
		if !strings.Contains(call.Messages[len(call.Messages)-1].Content, `"4-6"`) {
			t.Error("age category missing from prompt")
		}
		if usage.InputTokens != 3 {
			t.Errorf("usage = %+v", usage)
		}
	})
}
