package story

import (
	"testing"
	"time"

	"github.com/dshills/storyflow-go/graph/model"
)

func TestReduceWorkflowState(t *testing.T) {
	prev := WorkflowState{
		GenerationID:   "g",
		Status:         StatusGenerating,
		CurrentAttempt: 1,
		Attempts:       []GenerationAttempt{{AttemptNumber: 1, Content: "one"}},
		ErrorMessages:  []string{"first"},
	}

	t.Run("attempt then assessment", func(t *testing.T) {
		s := ReduceWorkflowState(prev, WorkflowState{
			CurrentAttempt:     2,
			Attempts:           []GenerationAttempt{{AttemptNumber: 2, Content: "two"}},
			GenerationDuration: time.Second,
			Status:             StatusAssessing,
			LLMCalls:           []LLMCall{{Stage: NodeGenerate, Usage: model.Usage{InputTokens: 1}}},
		})
		s = ReduceWorkflowState(s, WorkflowState{
			Assessments:        []QualityAssessment{{AttemptNumber: 2, OverallScore: 6}},
			AssessmentDuration: time.Second,
			ErrorMessages:      []string{"second"},
		})

		if s.CurrentAttempt != 2 || len(s.Attempts) != 2 || s.Status != StatusAssessing {
			t.Errorf("state = %+v", s)
		}
		if a := s.attempt(2); a == nil || a.Assessment == nil || a.Assessment.OverallScore != 6 {
			t.Errorf("assessment not attached: %+v", a)
		}
		if len(s.AllScores) != 1 || s.AllScores[0] != 6 {
			t.Errorf("all scores = %v", s.AllScores)
		}
		if len(s.ErrorMessages) != 2 || len(s.LLMCalls) != 1 {
			t.Errorf("errors=%v calls=%v", s.ErrorMessages, s.LLMCalls)
		}
		if s.GenerationDuration != time.Second || s.AssessmentDuration != time.Second {
			t.Errorf("durations gen=%v assess=%v", s.GenerationDuration, s.AssessmentDuration)
		}
	})

	t.Run("does not mutate prev", func(t *testing.T) {
		ReduceWorkflowState(prev, WorkflowState{
			Attempts:      []GenerationAttempt{{AttemptNumber: 1, Content: "replaced"}},
			ErrorMessages: []string{"x"},
		})
		if prev.Attempts[0].Content != "one" || len(prev.ErrorMessages) != 1 {
			t.Errorf("prev mutated: %+v", prev)
		}
	})

	t.Run("counter never moves backward", func(t *testing.T) {
		if s := ReduceWorkflowState(prev, WorkflowState{CurrentAttempt: 0}); s.CurrentAttempt != 1 {
			t.Errorf("current attempt = %d", s.CurrentAttempt)
		}
	})

	t.Run("upsert keeps existing assessment", func(t *testing.T) {
		s := ReduceWorkflowState(prev, WorkflowState{Assessments: []QualityAssessment{{AttemptNumber: 1, OverallScore: 9}}})
		s = ReduceWorkflowState(s, WorkflowState{Attempts: []GenerationAttempt{{AttemptNumber: 1, Content: "edited"}}})
		a := s.attempt(1)
		if a.Content != "edited" || a.Assessment == nil || a.Assessment.OverallScore != 9 {
			t.Errorf("attempt = %+v", a)
		}
	})

	t.Run("terminal state is frozen", func(t *testing.T) {
		done := prev
		done.Status = StatusSuccess
		s := ReduceWorkflowState(done, WorkflowState{Status: StatusFailed, ErrorMessages: []string{"late"}})
		if s.Status != StatusSuccess || len(s.ErrorMessages) != 1 {
			t.Errorf("terminal state changed: %+v", s)
		}
	})
}

func TestWorkflowState_BestStoryAliasesLedger(t *testing.T) {
	s := WorkflowState{
		Attempts:              []GenerationAttempt{{AttemptNumber: 1}, {AttemptNumber: 2}},
		SelectedAttemptNumber: 2,
	}
	if s.BestStory() != &s.Attempts[1] {
		t.Error("BestStory does not point into Attempts")
	}
	s.SelectedAttemptNumber = 0
	if s.BestStory() != nil {
		t.Error("BestStory before selection should be nil")
	}
}

func TestStatus_Terminal(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusValidating: false,
		StatusGenerating: false,
		StatusAssessing:  false,
		StatusRejected:   true,
		StatusSuccess:    true,
		StatusFailed:     true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v", status, got)
		}
	}
}
