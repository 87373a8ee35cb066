package story

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/storyflow-go/graph"
	"github.com/dshills/storyflow-go/graph/emit"
	"github.com/dshills/storyflow-go/graph/model"
	"github.com/dshills/storyflow-go/graph/store"
)

// Orchestrator runs the generation workflow on a graph.Engine:
//
//	validate --rejected--> stop
//	validate --approved--> generate -> assess
//	assess --ShouldRegenerate--> generate
//	assess --otherwise--> select -> stop
//
// One Orchestrator may serve concurrent Run calls; each call owns its state.
type Orchestrator struct {
	cfg      Config
	engine   *graph.Engine[WorkflowState]
	store    store.Store[WorkflowState]
	emitter  emit.Emitter
	renderer PromptRenderer
	metrics  *Metrics
	now      func() time.Time
}

type orchestratorOptions struct {
	store        store.Store[WorkflowState]
	emitter      emit.Emitter
	tracker      Tracker
	metrics      *Metrics
	graphMetrics *graph.PrometheusMetrics
	renderer     PromptRenderer
	safetyLLM    model.ChatModel
	scoringLLM   model.ChatModel
}

// Option configures an Orchestrator.
type Option func(*orchestratorOptions)

// WithStore persists every workflow step. Defaults to an in-memory store.
func WithStore(st store.Store[WorkflowState]) Option {
	return func(o *orchestratorOptions) { o.store = st }
}

// WithEmitter sets the event receiver for engine and stage events.
func WithEmitter(e emit.Emitter) Option {
	return func(o *orchestratorOptions) { o.emitter = e }
}

// WithTracker records attempt progress in an external sink.
func WithTracker(t Tracker) Option {
	return func(o *orchestratorOptions) { o.tracker = t }
}

// WithMetrics records workflow metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *orchestratorOptions) { o.metrics = m }
}

// WithGraphMetrics records engine step metrics.
func WithGraphMetrics(m *graph.PrometheusMetrics) Option {
	return func(o *orchestratorOptions) { o.graphMetrics = m }
}

// WithRenderer replaces the default TemplateRenderer.
func WithRenderer(r PromptRenderer) Option {
	return func(o *orchestratorOptions) { o.renderer = r }
}

// WithStageModels uses separate clients for the safety and scoring stages.
// A nil argument keeps the default client for that stage.
func WithStageModels(safety, scoring model.ChatModel) Option {
	return func(o *orchestratorOptions) {
		o.safetyLLM = safety
		o.scoringLLM = scoring
	}
}

// NewOrchestrator validates cfg and builds the workflow graph. llm serves
// every stage unless WithStageModels overrides it.
func NewOrchestrator(cfg Config, llm model.ChatModel, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if llm == nil {
		return nil, errors.New("story: chat model is required")
	}

	o := orchestratorOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.store == nil {
		o.store = store.NewMemStore[WorkflowState]()
	}
	if o.emitter == nil {
		o.emitter = emit.NewNullEmitter()
	}
	if o.renderer == nil {
		o.renderer = NewTemplateRenderer()
	}
	if o.safetyLLM == nil {
		o.safetyLLM = llm
	}
	if o.scoringLLM == nil {
		o.scoringLLM = llm
	}

	st := &stages{
		cfg:        cfg,
		classifier: NewSafetyClassifier(o.safetyLLM, cfg, o.emitter),
		generator:  NewGenerator(llm, cfg),
		scorer:     NewScorer(o.scoringLLM, cfg, o.emitter),
		tracker:    o.tracker,
		emitter:    o.emitter,
		metrics:    o.metrics,
		now:        time.Now,
	}

	engineOpts := []graph.Option{
		graph.WithMaxSteps(maxSteps(cfg)),
	}
	if o.graphMetrics != nil {
		engineOpts = append(engineOpts, graph.WithMetrics(o.graphMetrics))
	}
	engine := graph.New(ReduceWorkflowState, o.store, o.emitter, engineOpts...)
	if err := buildGraph(engine, st); err != nil {
		return nil, fmt.Errorf("build workflow graph: %w", err)
	}

	return &Orchestrator{
		cfg:      cfg,
		engine:   engine,
		store:    o.store,
		emitter:  o.emitter,
		renderer: o.renderer,
		metrics:  o.metrics,
		now:      time.Now,
	}, nil
}

// maxSteps bounds engine steps: validate, a generate/assess pair per
// attempt, select, plus slack.
func maxSteps(cfg Config) int {
	return 2*cfg.MaxAttempts + 4
}

// nodeBackstop is the engine-level node timeout. It exceeds the stage
// deadline so a stage that honors its context always finishes first and its
// delta is merged; the engine only cuts off a stage that ignores it.
func nodeBackstop(cfg Config) time.Duration {
	if cfg.StageTimeout <= 0 {
		return 0
	}
	return cfg.StageTimeout + max(cfg.StageTimeout/4, time.Second)
}

func buildGraph(e *graph.Engine[WorkflowState], st *stages) error {
	nodes := []struct {
		id string
		fn graph.NodeFunc[WorkflowState]
	}{
		{NodeValidate, st.validate},
		{NodeGenerate, st.generate},
		{NodeAssess, st.assess},
		{NodeSelect, st.selectBest},
	}
	policy := graph.NodePolicy{Timeout: nodeBackstop(st.cfg)}
	for _, n := range nodes {
		if err := e.AddWithPolicy(n.id, n.fn, policy); err != nil {
			return err
		}
	}
	if err := e.StartAt(NodeValidate); err != nil {
		return err
	}
	cfg := st.cfg
	if err := e.Connect(NodeAssess, NodeGenerate, func(s WorkflowState) bool {
		return ShouldRegenerate(s, cfg).Regenerate
	}); err != nil {
		return err
	}
	return e.Connect(NodeAssess, NodeSelect, nil)
}

// Run executes one workflow. It never panics and always returns a Result
// whose State is terminal.
func (o *Orchestrator) Run(ctx context.Context, req Request) (res Result) {
	start := o.now()
	if req.GenerationID == "" {
		req.GenerationID = uuid.NewString()
	}
	ctx = WithGenerationID(ctx, req.GenerationID)
	state := NewWorkflowState(req, o.cfg)

	defer func() {
		if r := recover(); r != nil {
			state = failState(state, fmt.Errorf("%w: %v", graph.ErrNodePanic, r))
			res = o.finish(ctx, state, start)
		}
	}()

	if err := req.Validate(); err != nil {
		emitWarn(ctx, o.emitter, "", "request_invalid", map[string]interface{}{"error": err.Error()})
		state = failState(state, err)
		res = o.finish(ctx, state, start)
		res.Message = err.Error()
		return res
	}

	if state.OriginalPrompt == "" {
		prompt, err := o.renderer.Render(ctx, PromptInputFromRequest(req, o.cfg))
		if err != nil {
			return o.finish(ctx, failState(state, err), start)
		}
		state.OriginalPrompt = prompt
		state.CurrentPrompt = prompt
	}

	emitEvent(ctx, o.emitter, "", "workflow_started", map[string]interface{}{
		"story_type":   string(req.StoryType),
		"language":     req.Language,
		"max_attempts": o.cfg.MaxAttempts,
		"threshold":    o.cfg.QualityThreshold,
	})

	final, err := o.engine.Run(ctx, req.GenerationID, state)
	state = final
	if err != nil {
		// A stage error has already been folded into the terminal state.
		var stageErr *graph.NodeError
		switch {
		case !state.Status.Terminal():
			state = failState(state, err)
		case !errors.As(err, &stageErr):
			emitWarn(ctx, o.emitter, "", "workflow_post_terminal_error", map[string]interface{}{"error": err.Error()})
		}
	}
	return o.finish(ctx, state, start)
}

// failState forces a non-terminal state to FAILED with err as the fatal error.
func failState(s WorkflowState, err error) WorkflowState {
	if s.Status.Terminal() {
		return s
	}
	s.Status = StatusFailed
	s.FatalError = err.Error()
	s.ErrorMessages = append(append([]string(nil), s.ErrorMessages...), err.Error())
	return s
}

func (o *Orchestrator) finish(ctx context.Context, state WorkflowState, start time.Time) Result {
	state.TotalDuration = o.now().Sub(start)

	costs := graph.NewCostTracker(state.GenerationID, "USD")
	for _, call := range state.LLMCalls {
		cost := costs.RecordLLMCall(call.Model, call.InputTokens, call.OutputTokens, call.Stage)
		o.metrics.llmUsage(call.Model, call.InputTokens, call.OutputTokens, cost)
	}

	res := newResult(state, costs)
	outcome := string(res.ErrorKind)
	if res.Success {
		outcome = "success"
	}
	o.metrics.workflowFinished(outcome, len(state.Attempts))

	meta := map[string]interface{}{
		"status":      string(state.Status),
		"attempts":    len(state.Attempts),
		"all_scores":  state.AllScores,
		"duration_ms": state.TotalDuration.Milliseconds(),
		"cost_usd":    costs.GetTotalCost(),
	}
	if state.SelectedAttemptNumber > 0 {
		meta["selected_attempt"] = state.SelectedAttemptNumber
	}
	if state.FatalError != "" {
		meta["fatal_error"] = state.FatalError
		meta["level"] = emit.LevelError
	}
	emitEvent(ctx, o.emitter, "", "workflow_completed", meta)
	return res
}

// Lookup returns the last persisted state of a generation.
func (o *Orchestrator) Lookup(ctx context.Context, generationID string) (WorkflowState, error) {
	s, _, err := o.store.LoadLatest(ctx, generationID)
	return s, err
}

// History returns every persisted step of a generation.
func (o *Orchestrator) History(ctx context.Context, generationID string) ([]store.StepRecord[WorkflowState], error) {
	return o.store.ListSteps(ctx, generationID)
}

// Config returns the orchestrator's configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}
