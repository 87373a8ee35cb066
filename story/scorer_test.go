package story

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/dshills/storyflow-go/graph/emit"
	"github.com/dshills/storyflow-go/graph/model"
)

func qaWith(d [7]int) QualityAssessment {
	var qa QualityAssessment
	qa.setDimensions(d)
	return qa
}

func TestWeightedOverall(t *testing.T) {
	tests := []struct {
		name string
		dims [7]int
		want int
	}{
		{"all ones", [7]int{1, 1, 1, 1, 1, 1, 1}, 1},
		{"all tens", [7]int{10, 10, 10, 10, 10, 10, 10}, 10},
		{"uniform seven", [7]int{7, 7, 7, 7, 7, 7, 7}, 7},
		// 0.2*10 + 0.17*3*8 + 0.11*2 + 0.10*2 + 0.08*2 = 6.66
		{"theme dominates", [7]int{10, 8, 8, 8, 2, 2, 2}, 7},
		// 0.2*1 + 0.17*3*5 + 0.11*10 + 0.10*10 + 0.08*10 = 5.65
		{"style is secondary", [7]int{1, 5, 5, 5, 10, 10, 10}, 6},
		// 0.2*6 + 0.17*3*6 + 0.11*5 + 0.10*5 + 0.08*5 = 5.71
		{"rounds to nearest", [7]int{6, 6, 6, 6, 5, 5, 5}, 6},
		// clamps to {1, 1, 10, 10, 10, 1, 10}: 5.77
		{"out of range inputs are clamped", [7]int{0, -3, 15, 12, 11, 0, 20}, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WeightedOverall(qaWith(tt.dims)); got != tt.want {
				t.Errorf("WeightedOverall(%v) = %d, want %d", tt.dims, got, tt.want)
			}
		})
	}
}

func TestWeightedOverall_MatchesFloatFormula(t *testing.T) {
	weights := [7]float64{0.20, 0.17, 0.17, 0.17, 0.11, 0.10, 0.08}
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("weights sum to %v", sum)
	}

	for seed := 0; seed < 500; seed++ {
		var d [7]int
		var want float64
		for i := range d {
			d[i] = 1 + (seed*(i+3)+i*i)%10
			want += weights[i] * float64(d[i])
		}
		expected := int(math.Floor(want + 0.5 + 1e-9))
		if got := WeightedOverall(qaWith(d)); got != expected {
			t.Fatalf("dims %v: got %d, want %d (raw %.4f)", d, got, expected, want)
		}
	}
}

func TestWeightedOverall_IgnoresModelOverall(t *testing.T) {
	qa := qaWith([7]int{3, 3, 3, 3, 3, 3, 3})
	qa.ModelOverallScore = 10
	qa = FinalizeAssessment(qa, "story", "", "en")
	if qa.OverallScore != 3 {
		t.Errorf("overall = %d, want 3", qa.OverallScore)
	}
	if qa.ModelOverallScore != 10 {
		t.Errorf("model overall not preserved")
	}
}

func TestThemeGuard(t *testing.T) {
	t.Run("caps by match count", func(t *testing.T) {
		want := []int{1, 3, 5, 7, 9, 9}
		for matches, wantCap := range want {
			if got := ThemeCap(matches); got != wantCap {
				t.Errorf("ThemeCap(%d) = %d, want %d", matches, got, wantCap)
			}
		}
	})

	t.Run("never raises and is non-decreasing in matches", func(t *testing.T) {
		for score := 1; score <= 10; score++ {
			prev := 0
			for matches := 0; matches <= 6; matches++ {
				got := ApplyThemeGuard(score, matches)
				if got > score {
					t.Fatalf("guard raised %d to %d", score, got)
				}
				if got < prev {
					t.Fatalf("score %d: guard decreased from %d to %d at %d matches", score, prev, got, matches)
				}
				prev = got
			}
		}
	})
}

func TestFinalizeAssessment_Theme(t *testing.T) {
	base := qaWith([7]int{9, 8, 8, 8, 8, 8, 8})

	t.Run("lowers and suggests", func(t *testing.T) {
		qa := FinalizeAssessment(base, "The stars shone above the quiet town.", "space", "en")
		if qa.ThemeAdherence != 3 {
			t.Errorf("theme = %d, want 3 (one keyword)", qa.ThemeAdherence)
		}
		if len(qa.Suggestions) != 1 || !strings.Contains(qa.Suggestions[0], "space") {
			t.Errorf("suggestions = %v", qa.Suggestions)
		}
		if qa.OverallScore != WeightedOverall(qa) {
			t.Errorf("overall not recomputed after guard")
		}
	})

	t.Run("keeps a lower model score", func(t *testing.T) {
		low := qaWith([7]int{2, 8, 8, 8, 8, 8, 8})
		qa := FinalizeAssessment(low, "star moon planet rocket galaxy", "space", "en")
		if qa.ThemeAdherence != 2 || len(qa.Suggestions) != 0 {
			t.Errorf("theme = %d suggestions = %v", qa.ThemeAdherence, qa.Suggestions)
		}
	})

	t.Run("spanish diacritics", func(t *testing.T) {
		qa := FinalizeAssessment(base, "Era VALIENTE y no tenía miedo; su valentia era fuerte como un heroe.", "valentía", "es")
		// valiente, miedo, valentía, héroe, fuerte
		if qa.ThemeAdherence != 9 {
			t.Errorf("theme = %d, want 9", qa.ThemeAdherence)
		}
		if len(qa.Suggestions) != 0 {
			t.Errorf("unexpected suggestion %v", qa.Suggestions)
		}
	})

	t.Run("unknown theme is left alone", func(t *testing.T) {
		qa := FinalizeAssessment(base, "nothing relevant", "pirates", "en")
		if qa.ThemeAdherence != 9 {
			t.Errorf("theme = %d, want 9", qa.ThemeAdherence)
		}
	})

	t.Run("unknown language is left alone", func(t *testing.T) {
		qa := FinalizeAssessment(base, "nothing relevant", "space", "de")
		if qa.ThemeAdherence != 9 {
			t.Errorf("theme = %d, want 9", qa.ThemeAdherence)
		}
	})
}

func TestParseAssessment(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantMethod string
		wantTheme  int
		wantEngage int
		wantFB     string
	}{
		{
			name:       "fenced json",
			text:       "Here you go:\n```json\n{\"theme_adherence\": 8, \"engagement\": 6, \"feedback\": \"nice\"}\n```",
			wantMethod: parsedJSON, wantTheme: 8, wantEngage: 6, wantFB: "nice",
		},
		{
			name:       "brace matched with prose",
			text:       `My review {"scores": {"themeAdherence": "7/10", "engagement": 9.4}, "feedback": "uses {braces}"} end`,
			wantMethod: parsedJSON, wantTheme: 7, wantEngage: 9, wantFB: "uses {braces}",
		},
		{
			name:       "malformed json falls back per field",
			text:       `{"theme_adherence": 6, "engagement": 4, "feedback": "trailing comma",}`,
			wantMethod: parsedRegex, wantTheme: 6, wantEngage: 4, wantFB: "trailing comma",
		},
		{
			name:       "prose",
			text:       "Theme adherence: 3\nEngagement = 2\n",
			wantMethod: parsedRegex, wantTheme: 3, wantEngage: 2,
		},
		{
			name:       "nothing recoverable",
			text:       "I cannot score this.",
			wantMethod: parsedDefaults, wantTheme: neutralScore, wantEngage: neutralScore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qa, method := ParseAssessment(tt.text)
			if method != tt.wantMethod {
				t.Errorf("method = %s, want %s", method, tt.wantMethod)
			}
			if qa.ThemeAdherence != tt.wantTheme || qa.Engagement != tt.wantEngage {
				t.Errorf("theme=%d engagement=%d, want %d/%d", qa.ThemeAdherence, qa.Engagement, tt.wantTheme, tt.wantEngage)
			}
			if qa.Feedback != tt.wantFB {
				t.Errorf("feedback = %q, want %q", qa.Feedback, tt.wantFB)
			}
			if qa.MoralClarity != neutralScore {
				t.Errorf("missing field = %d, want default %d", qa.MoralClarity, neutralScore)
			}
		})
	}
}

func TestParseAssessment_JSONMissingFieldRecoveredByRegex(t *testing.T) {
	text := "```json\n{\"theme_adherence\": 8}\n```\nAlso moral_clarity: 2"
	qa, method := ParseAssessment(text)
	if method != parsedJSON {
		t.Errorf("method = %s", method)
	}
	if qa.ThemeAdherence != 8 || qa.MoralClarity != 2 {
		t.Errorf("theme=%d moral=%d", qa.ThemeAdherence, qa.MoralClarity)
	}
}

func TestScorer_Assess(t *testing.T) {
	cfg := testConfig(3)

	t.Run("scores and finalizes", func(t *testing.T) {
		mock := &model.MockChatModel{Responses: []model.ChatOut{{
			Text:  `{"theme_adherence": 12, "age_appropriateness": 8, "moral_clarity": 8, "narrative_coherence": 8, "character_consistency": 8, "engagement": 8, "language_quality": 8, "overall_score": 2}`,
			Usage: model.Usage{Model: testScoringModel, InputTokens: 10, OutputTokens: 5},
		}}}
		s := NewScorer(mock, cfg, nil)
		qa, usage, err := s.Assess(context.Background(), AssessInput{AttemptNumber: 2, Content: "A story.", Language: "en"})
		if err != nil {
			t.Fatal(err)
		}
		if qa.ThemeAdherence != 10 || qa.OverallScore != 8 || qa.AttemptNumber != 2 {
			t.Errorf("qa = %+v", qa)
		}
		if usage.InputTokens != 10 {
			t.Errorf("usage = %+v", usage)
		}
		call, _ := mock.LastCall()
		if call.Options.Model != testScoringModel || call.Options.Temperature != cfg.ScoringTemperature {
			t.Errorf("options = %+v", call.Options)
		}
		if !strings.Contains(call.Messages[len(call.Messages)-1].Content, "word salad") {
			t.Errorf("rubric lacks the word-salad instruction")
		}
	})

	t.Run("parse fallback warns", func(t *testing.T) {
		emitter := emit.NewBufferedEmitter()
		mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "no scores here"}}}
		s := NewScorer(mock, cfg, emitter)
		ctx := WithGenerationID(context.Background(), "gen-x")
		qa, _, err := s.Assess(ctx, AssessInput{AttemptNumber: 1, Content: "A story."})
		if err != nil {
			t.Fatal(err)
		}
		if qa.OverallScore != neutralScore {
			t.Errorf("overall = %d, want %d", qa.OverallScore, neutralScore)
		}
		events := emitter.GetHistoryWithFilter("gen-x", emit.HistoryFilter{Msg: "assessment_parse_fallback"})
		if len(events) != 1 {
			t.Errorf("fallback events = %d", len(events))
		}
	})

	t.Run("call failure is an error", func(t *testing.T) {
		mock := &model.MockChatModel{Err: errors.New("boom")}
		_, _, err := NewScorer(mock, cfg, nil).Assess(context.Background(), AssessInput{Content: "x"})
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("empty content is not sent", func(t *testing.T) {
		mock := &model.MockChatModel{}
		if _, _, err := NewScorer(mock, cfg, nil).Assess(context.Background(), AssessInput{}); err == nil {
			t.Fatal("expected error")
		}
		if mock.CallCount() != 0 {
			t.Error("empty content reached the model")
		}
	})
}
