package story

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dshills/storyflow-go/graph"
	"github.com/dshills/storyflow-go/graph/emit"
	"github.com/dshills/storyflow-go/graph/model"
)

// Graph node IDs.
const (
	NodeValidate = "validate"
	NodeGenerate = "generate"
	NodeAssess   = "assess"
	NodeSelect   = "select"
)

// CodeNoValidAttempts labels the select node error when every attempt failed.
const CodeNoValidAttempts = "no_valid_attempts"

// stages holds the collaborators shared by the workflow nodes.
type stages struct {
	cfg        Config
	classifier *SafetyClassifier
	generator  *Generator
	scorer     *Scorer
	tracker    Tracker
	emitter    emit.Emitter
	metrics    *Metrics
	now        func() time.Time
}

func (st *stages) validate(ctx context.Context, s WorkflowState) graph.NodeResult[WorkflowState] {
	start := st.now()
	sctx, cancel := st.stageContext(ctx)
	defer cancel()
	verdict, usage := st.classifier.Validate(sctx, SafetyInput{
		Prompt:   s.OriginalPrompt,
		ScanText: s.RequestText,
		Child:    s.Child,
	})

	delta := WorkflowState{
		ValidationResult:   &verdict,
		ValidationDuration: st.now().Sub(start),
		LLMCalls:           stageCall(NodeValidate, usage),
	}

	if verdict.Rejected() {
		delta.Status = StatusRejected
		st.metrics.rejected(rejectionReason(verdict))
		emitEvent(ctx, st.emitter, NodeValidate, "request_rejected", map[string]interface{}{
			"is_safe":                 verdict.IsSafe,
			"has_licensed_characters": verdict.HasLicensedCharacters,
			"issues":                  verdict.DetectedIssues,
		})
		return graph.NodeResult[WorkflowState]{Delta: delta, Route: graph.Stop()}
	}

	delta.Status = StatusGenerating
	return graph.NodeResult[WorkflowState]{Delta: delta, Route: graph.Goto(NodeGenerate)}
}

func (st *stages) generate(ctx context.Context, s WorkflowState) graph.NodeResult[WorkflowState] {
	n := s.CurrentAttempt + 1
	st.track(ctx, false, TrackingRecord{
		GenerationID:  s.GenerationID,
		AttemptNumber: n,
		Status:        TrackStarted,
		Prompt:        BuildAttemptPrompt(s, n),
		Model:         st.cfg.GenerationModel,
		CreatedAt:     st.now(),
	})

	start := st.now()
	gctx, cancel := st.stageContext(ctx)
	defer cancel()
	attempt := st.generator.Generate(gctx, s, n)
	elapsed := st.now().Sub(start)

	delta := WorkflowState{
		CurrentAttempt:     n,
		CurrentPrompt:      attempt.Prompt,
		Attempts:           []GenerationAttempt{attempt},
		GenerationDuration: elapsed,
		Status:             StatusAssessing,
		LLMCalls:           stageCall(NodeGenerate, attempt.Usage),
	}

	rec := TrackingRecord{
		GenerationID:  s.GenerationID,
		AttemptNumber: n,
		Status:        TrackGenerated,
		Prompt:        attempt.Prompt,
		Model:         attempt.ModelUsed,
	}
	if attempt.Error != "" {
		delta.ErrorMessages = []string{fmt.Sprintf("attempt %d: generation failed: %s", n, attempt.Error)}
		rec.Status = TrackFailed
		rec.Error = attempt.Error
		done := st.now()
		rec.CompletedAt = &done
		emitWarn(ctx, st.emitter, NodeGenerate, "generation_failed", map[string]interface{}{
			"attempt": n,
			"error":   attempt.Error,
		})
	} else {
		emitEvent(ctx, st.emitter, NodeGenerate, "attempt_generated", map[string]interface{}{
			"attempt":     n,
			"temperature": attempt.Temperature,
			"model":       attempt.ModelUsed,
			"title":       attempt.Title,
			"duration_ms": elapsed.Milliseconds(),
		})
	}
	st.track(ctx, true, rec)

	return graph.NodeResult[WorkflowState]{Delta: delta, Route: graph.Goto(NodeAssess)}
}

// assess scores the current attempt. Routing is left to the edges so the
// regeneration policy is evaluated on the merged state.
func (st *stages) assess(ctx context.Context, s WorkflowState) graph.NodeResult[WorkflowState] {
	var delta WorkflowState

	attempt := s.attempt(s.CurrentAttempt)
	switch {
	case attempt == nil || !attempt.Valid():
		emitEvent(ctx, st.emitter, NodeAssess, "assessment_skipped", map[string]interface{}{
			"attempt": s.CurrentAttempt,
		})
	default:
		start := st.now()
		actx, cancel := st.stageContext(ctx)
		defer cancel()
		qa, usage, err := st.scorer.Assess(actx, AssessInput{
			AttemptNumber:     attempt.AttemptNumber,
			Content:           attempt.Content,
			Title:             attempt.Title,
			AgeCategory:       s.Child.AgeCategory,
			Moral:             s.Moral,
			Theme:             s.Theme,
			Language:          s.Language,
			ExpectedWordCount: s.ExpectedWordCount,
		})
		delta.AssessmentDuration = st.now().Sub(start)
		delta.LLMCalls = stageCall(NodeAssess, usage)

		rec := TrackingRecord{
			GenerationID:  s.GenerationID,
			AttemptNumber: attempt.AttemptNumber,
			Status:        TrackAssessed,
			Prompt:        attempt.Prompt,
			Model:         attempt.ModelUsed,
		}
		if err != nil {
			delta.ErrorMessages = []string{fmt.Sprintf("attempt %d: assessment failed: %v", attempt.AttemptNumber, err)}
			rec.Error = err.Error()
			emitWarn(ctx, st.emitter, NodeAssess, "assessment_failed", map[string]interface{}{
				"attempt": attempt.AttemptNumber,
				"error":   err.Error(),
			})
		} else {
			delta.Assessments = []QualityAssessment{qa}
			rec.QualityScore = qa.OverallScore
			st.metrics.scoreObserved(qa.OverallScore)
			emitEvent(ctx, st.emitter, NodeAssess, "attempt_assessed", map[string]interface{}{
				"attempt":         qa.AttemptNumber,
				"overall_score":   qa.OverallScore,
				"theme_adherence": qa.ThemeAdherence,
				"model_overall":   qa.ModelOverallScore,
			})
		}
		done := st.now()
		rec.CompletedAt = &done
		st.track(ctx, true, rec)
	}

	decision := ShouldRegenerate(ReduceWorkflowState(s, delta), st.cfg)
	delta.Status = StatusAssessing
	if decision.Regenerate {
		delta.Status = StatusGenerating
	}
	emitEvent(ctx, st.emitter, NodeAssess, "regeneration_decision", map[string]interface{}{
		"attempt":    s.CurrentAttempt,
		"regenerate": decision.Regenerate,
		"reason":     decision.Reason,
	})
	return graph.NodeResult[WorkflowState]{Delta: delta}
}

func (st *stages) selectBest(ctx context.Context, s WorkflowState) graph.NodeResult[WorkflowState] {
	best, n, reason, err := SelectBestStory(s.Attempts)
	if err != nil {
		fatal := err.Error()
		if last := lastGenerationError(s.Attempts); last != "" {
			fatal += ": " + last
		}
		emitWarn(ctx, st.emitter, NodeSelect, "selection_failed", map[string]interface{}{
			"attempts": len(s.Attempts),
			"error":    fatal,
		})
		return graph.NodeResult[WorkflowState]{
			Delta: WorkflowState{
				Status:        StatusFailed,
				FatalError:    fatal,
				ErrorMessages: []string{fatal},
			},
			Route: graph.Stop(),
			Err: &graph.NodeError{
				Message: fatal,
				Code:    CodeNoValidAttempts,
				NodeID:  NodeSelect,
				Cause:   err,
			},
		}
	}

	meta := map[string]interface{}{
		"attempt": n,
		"reason":  reason,
	}
	if best.Assessment != nil {
		meta["overall_score"] = best.Assessment.OverallScore
	}
	emitEvent(ctx, st.emitter, NodeSelect, "story_selected", meta)

	return graph.NodeResult[WorkflowState]{
		Delta: WorkflowState{
			SelectedAttemptNumber: n,
			SelectionReason:       reason,
			Status:                StatusSuccess,
		},
		Route: graph.Stop(),
	}
}

// stageContext bounds one stage's model call by cfg.StageTimeout. An expired
// stage deadline surfaces as that call's error, so each stage handles it on
// its usual failure path.
func (st *stages) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if st.cfg.StageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, st.cfg.StageTimeout)
}

// track writes a tracking record. Writes are detached from cancellation so a
// record started before cancellation is still completed. Failures are
// reported and swallowed.
func (st *stages) track(ctx context.Context, update bool, rec TrackingRecord) {
	if st.tracker == nil {
		return
	}
	wctx := context.WithoutCancel(ctx)
	var err error
	if update {
		err = st.tracker.UpdateRecord(wctx, rec)
	} else {
		err = st.tracker.CreateRecord(wctx, rec)
	}
	if err != nil {
		emitWarn(ctx, st.emitter, "tracking", "tracking_write_failed", map[string]interface{}{
			"attempt": rec.AttemptNumber,
			"status":  rec.Status,
			"error":   err.Error(),
		})
	}
}

func stageCall(stage string, u model.Usage) []LLMCall {
	if u.Model == "" && u.InputTokens == 0 && u.OutputTokens == 0 {
		return nil
	}
	return []LLMCall{{Stage: stage, Usage: u}}
}

func rejectionReason(v ValidationResult) string {
	switch {
	case slices.Contains(v.DetectedIssues, issueCheckUnavailable):
		return "check_failed"
	case !v.IsSafe:
		return "unsafe"
	}
	return "licensed"
}

func lastGenerationError(attempts []GenerationAttempt) string {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Error != "" {
			return attempts[i].Error
		}
	}
	return ""
}
