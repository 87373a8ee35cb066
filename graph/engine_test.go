package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/storyflow-go/graph/emit"
	"github.com/dshills/storyflow-go/graph/store"
)

func step(name string, route Next) Node[TestState] {
	return NodeFunc[TestState](func(ctx context.Context, s TestState) NodeResult[TestState] {
		return NodeResult[TestState]{
			Delta: TestState{Counter: 1, Trail: []string{name}},
			Route: route,
		}
	})
}

func trailEqual(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// TestEngine_Add verifies node registration rules.
func TestEngine_Add(t *testing.T) {
	engine := New(testReducer, store.NewMemStore[TestState](), nil)

	if err := engine.Add("", step("a", Stop())); err == nil {
		t.Error("expected error for empty node ID")
	}
	if err := engine.Add("a", nil); err == nil {
		t.Error("expected error for nil node")
	}
	if err := engine.Add("a", step("a", Stop())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := engine.Add("a", step("a", Stop()))
	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != CodeDuplicateNode {
		t.Errorf("expected DUPLICATE_NODE, got %v", err)
	}
}

// TestEngine_StartAt verifies the start node must exist.
func TestEngine_StartAt(t *testing.T) {
	engine := New(testReducer, store.NewMemStore[TestState](), nil)

	if err := engine.StartAt(""); err == nil {
		t.Error("expected error for empty start node")
	}

	err := engine.StartAt("missing")
	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != CodeNodeNotFound {
		t.Errorf("expected NODE_NOT_FOUND, got %v", err)
	}
}

// TestEngine_RunValidation verifies configuration errors surface from Run.
func TestEngine_RunValidation(t *testing.T) {
	tests := []struct {
		name   string
		engine func() *Engine[TestState]
		code   string
	}{
		{
			name: "missing reducer",
			engine: func() *Engine[TestState] {
				return New[TestState](nil, store.NewMemStore[TestState](), nil)
			},
			code: CodeMissingReducer,
		},
		{
			name: "missing store",
			engine: func() *Engine[TestState] {
				return New[TestState](testReducer, nil, nil)
			},
			code: CodeMissingStore,
		},
		{
			name: "missing start node",
			engine: func() *Engine[TestState] {
				return New(testReducer, store.NewMemStore[TestState](), nil)
			},
			code: CodeNoStartNode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initial := TestState{Value: "initial"}
			final, err := tt.engine().Run(context.Background(), "run", initial)

			var engineErr *EngineError
			if !errors.As(err, &engineErr) {
				t.Fatalf("expected EngineError, got %v", err)
			}
			if engineErr.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, engineErr.Code)
			}
			if final.Value != "initial" {
				t.Errorf("expected initial state back, got %+v", final)
			}
		})
	}
}

// TestEngine_Run verifies sequential execution, reducer merging and persistence.
func TestEngine_Run(t *testing.T) {
	st := store.NewMemStore[TestState]()
	emitter := emit.NewBufferedEmitter()
	engine := New(testReducer, st, emitter)

	_ = engine.Add("a", step("a", Goto("b")))
	_ = engine.Add("b", step("b", Next{}))
	_ = engine.Add("c", step("c", Stop()))
	_ = engine.Connect("b", "c", nil)
	_ = engine.StartAt("a")

	final, err := engine.Run(context.Background(), "run-001", TestState{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if final.Counter != 3 {
		t.Errorf("expected Counter = 3, got %d", final.Counter)
	}
	if !trailEqual(final.Trail, []string{"a", "b", "c"}) {
		t.Errorf("unexpected trail %v", final.Trail)
	}

	latest, latestStep, err := st.LoadLatest(context.Background(), "run-001")
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if latestStep != 3 || latest.Counter != 3 {
		t.Errorf("expected step 3 with Counter 3, got step %d state %+v", latestStep, latest)
	}

	steps, err := st.ListSteps(context.Background(), "run-001")
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	if len(steps) != 3 || steps[1].NodeID != "b" {
		t.Errorf("unexpected step history %+v", steps)
	}

	ends := emitter.GetHistoryWithFilter("run-001", emit.HistoryFilter{Msg: "node_end"})
	if len(ends) != 3 {
		t.Errorf("expected 3 node_end events, got %d", len(ends))
	}
	routes := emitter.GetHistoryWithFilter("run-001", emit.HistoryFilter{Msg: "routing_decision"})
	if len(routes) != 2 || routes[1].Meta["to"] != "c" {
		t.Errorf("unexpected routing events %+v", routes)
	}
}

// TestEngine_PredicateEvaluation verifies first-match edge routing in a loop.
func TestEngine_PredicateEvaluation(t *testing.T) {
	engine := New(testReducer, store.NewMemStore[TestState](), nil, WithMaxSteps(20))

	_ = engine.Add("work", step("work", Next{}))
	_ = engine.Add("done", step("done", Stop()))
	_ = engine.Connect("work", "work", func(s TestState) bool { return s.Counter < 3 })
	_ = engine.Connect("work", "done", nil)
	_ = engine.StartAt("work")

	final, err := engine.Run(context.Background(), "loop", TestState{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !trailEqual(final.Trail, []string{"work", "work", "work", "done"}) {
		t.Errorf("unexpected trail %v", final.Trail)
	}
}

// TestEngine_NoRoute verifies a node with no route and no matching edges fails.
func TestEngine_NoRoute(t *testing.T) {
	engine := New(testReducer, store.NewMemStore[TestState](), nil)
	_ = engine.Add("a", step("a", Next{}))
	_ = engine.Connect("a", "b", func(TestState) bool { return false })
	_ = engine.StartAt("a")

	final, err := engine.Run(context.Background(), "run", TestState{})

	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != CodeNoRoute {
		t.Fatalf("expected NO_ROUTE, got %v", err)
	}
	if final.Counter != 1 {
		t.Errorf("expected merged state from node a, got %+v", final)
	}
}

// TestEngine_MaxSteps verifies runaway loops are stopped.
func TestEngine_MaxSteps(t *testing.T) {
	engine := New(testReducer, store.NewMemStore[TestState](), nil, WithMaxSteps(5))
	_ = engine.Add("spin", step("spin", Goto("spin")))
	_ = engine.StartAt("spin")

	final, err := engine.Run(context.Background(), "run", TestState{})
	if !errors.Is(err, ErrMaxStepsExceeded) {
		t.Fatalf("expected ErrMaxStepsExceeded, got %v", err)
	}
	if final.Counter != 5 {
		t.Errorf("expected 5 executed steps, got %d", final.Counter)
	}
}

// TestEngine_NodeErrorKeepsDelta verifies a failing node's delta is merged before halting.
func TestEngine_NodeErrorKeepsDelta(t *testing.T) {
	emitter := emit.NewBufferedEmitter()
	st := store.NewMemStore[TestState]()
	engine := New(testReducer, st, emitter)

	boom := errors.New("boom")
	_ = engine.Add("fail", NodeFunc[TestState](func(ctx context.Context, s TestState) NodeResult[TestState] {
		return NodeResult[TestState]{Delta: TestState{Value: "recorded"}, Err: boom}
	}))
	_ = engine.StartAt("fail")

	final, err := engine.Run(context.Background(), "run", TestState{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if final.Value != "recorded" {
		t.Errorf("expected delta merged before error, got %+v", final)
	}

	errorsSeen := emitter.GetHistoryWithFilter("run", emit.HistoryFilter{Msg: "node_error"})
	if len(errorsSeen) != 1 || errorsSeen[0].Meta["error"] != "boom" {
		t.Errorf("expected one node_error event, got %+v", errorsSeen)
	}

	saved, step, err := st.LoadLatest(context.Background(), "run")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if step != 1 || saved.Value != "recorded" {
		t.Errorf("persisted step %d = %+v, want the merged delta", step, saved)
	}
}

// TestEngine_ContextCancellation verifies cancellation is checked between nodes.
func TestEngine_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := New(testReducer, store.NewMemStore[TestState](), nil)

	_ = engine.Add("first", NodeFunc[TestState](func(ctx context.Context, s TestState) NodeResult[TestState] {
		cancel()
		return NodeResult[TestState]{Delta: TestState{Trail: []string{"first"}}, Route: Goto("second")}
	}))
	_ = engine.Add("second", step("second", Stop()))
	_ = engine.StartAt("first")

	final, err := engine.Run(ctx, "run", TestState{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !trailEqual(final.Trail, []string{"first"}) {
		t.Errorf("second node should not run, trail %v", final.Trail)
	}
}

type failingStore struct {
	*store.MemStore[TestState]
}

func (f failingStore) SaveStep(context.Context, string, int, string, TestState) error {
	return errors.New("disk full")
}

// TestEngine_StoreError verifies persistence failures halt the run.
func TestEngine_StoreError(t *testing.T) {
	engine := New[TestState](testReducer, failingStore{store.NewMemStore[TestState]()}, nil)
	_ = engine.Add("a", step("a", Stop()))
	_ = engine.StartAt("a")

	_, err := engine.Run(context.Background(), "run", TestState{})
	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != CodeStoreError {
		t.Fatalf("expected STORE_ERROR, got %v", err)
	}
}
