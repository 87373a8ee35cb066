package graph

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dshills/storyflow-go/graph/emit"
	"github.com/dshills/storyflow-go/graph/store"
)

// Reducer merges a node's partial state update into the accumulated state.
// It must be deterministic: the same prev and delta always yield the same result.
type Reducer[S any] func(prev, delta S) S

// Engine orchestrates stateful workflow execution.
//
// The Engine:
//   - Manages workflow graph topology (nodes and edges)
//   - Executes nodes strictly in sequence
//   - Merges state updates via the reducer
//   - Persists state at each step via the store
//   - Emits observability events via the emitter
//   - Enforces MaxSteps and per-node timeouts
//   - Recovers node panics into EngineErrors
//
// An Engine is safe to share across concurrent Run calls once the graph has
// been built; each Run owns its own state value.
//
// Example:
//
//	reducer := func(prev, delta MyState) MyState {
//	    if delta.Query != "" {
//	        prev.Query = delta.Query
//	    }
//	    return prev
//	}
//
//	engine := New(reducer, store.NewMemStore[MyState](), emit.NewNullEmitter(), WithMaxSteps(20))
//	engine.Add("process", processNode)
//	engine.StartAt("process")
//
//	final, err := engine.Run(ctx, "run-001", MyState{Query: "hello"})
type Engine[S any] struct {
	mu sync.RWMutex

	reducer  Reducer[S]
	nodes    map[string]Node[S]
	policies map[string]NodePolicy
	edges    []Edge[S]

	startNode string

	store   store.Store[S]
	emitter emit.Emitter

	opts Options
}

// New creates a new Engine.
//
// Parameters:
//   - reducer: Function to merge partial state updates (required for Run)
//   - st: Persistence backend for step history (required for Run)
//   - emitter: Observability event receiver (optional, may be nil)
//   - opts: Functional options (WithMaxSteps, WithDefaultNodeTimeout, WithMetrics)
//
// Validation is deferred to Run so graphs can be assembled in any order.
func New[S any](reducer Reducer[S], st store.Store[S], emitter emit.Emitter, opts ...Option) *Engine[S] {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Engine[S]{
		reducer:  reducer,
		nodes:    make(map[string]Node[S]),
		policies: make(map[string]NodePolicy),
		store:    st,
		emitter:  emitter,
		opts:     o,
	}
}

// Add registers a node in the workflow graph.
//
// Returns error if nodeID is empty, node is nil, or the ID is already taken.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{
			Message: "duplicate node ID: " + nodeID,
			Code:    CodeDuplicateNode,
		}
	}

	e.nodes[nodeID] = node
	return nil
}

// AddWithPolicy registers a node together with its execution policy.
func (e *Engine[S]) AddWithPolicy(nodeID string, node Node[S], policy NodePolicy) error {
	if err := e.Add(nodeID, node); err != nil {
		return err
	}
	e.mu.Lock()
	e.policies[nodeID] = policy
	e.mu.Unlock()
	return nil
}

// StartAt sets the entry point for workflow execution.
// The node must have been registered via Add.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + nodeID,
			Code:    CodeNodeNotFound,
		}
	}

	e.startNode = nodeID
	return nil
}

// Connect creates an edge between two nodes.
//
// Node existence is not validated here so the graph can be built in any order.
//
// Example:
//
//	engine.Connect("assess", "generate", needsAnotherAttempt)
//	engine.Connect("assess", "select", nil)
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// Run executes the workflow from the start node until a node stops it or an
// error occurs.
//
// Workflow execution:
//  1. Validates engine configuration (reducer, store, start node)
//  2. Checks the context for cancellation before every node
//  3. Executes the node under its timeout, recovering panics
//  4. Merges the node's delta via the reducer
//  5. Persists the merged state
//  6. Follows routing (Stop, Goto, then edges)
//  7. Enforces MaxSteps
//
// Run always returns the last merged state, including when it returns an
// error, so callers can inspect what was recorded before the failure. A
// configuration error returns the initial state unchanged.
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	if err := e.validate(); err != nil {
		return initial, err
	}

	if e.opts.Metrics != nil {
		e.opts.Metrics.runStarted()
		defer e.opts.Metrics.runFinished()
	}

	currentState := initial
	currentNode := e.startNode
	step := 0

	for {
		step++

		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return currentState, &EngineError{
				Message: "workflow exceeded MaxSteps limit",
				Code:    CodeMaxStepsExceeded,
			}
		}

		if err := ctx.Err(); err != nil {
			return currentState, err
		}

		e.mu.RLock()
		nodeImpl, exists := e.nodes[currentNode]
		policy, hasPolicy := e.policies[currentNode]
		e.mu.RUnlock()

		if !exists {
			return currentState, &EngineError{
				Message: "node not found during execution: " + currentNode,
				Code:    CodeNodeNotFound,
			}
		}

		var policyPtr *NodePolicy
		if hasPolicy {
			policyPtr = &policy
		}

		e.emit(runID, step, currentNode, "node_start", nil)
		start := time.Now()

		result, execErr := executeNode(ctx, nodeImpl, currentNode, currentState, policyPtr, e.opts.DefaultNodeTimeout)
		elapsed := time.Since(start)

		if execErr == nil {
			currentState = e.reducer(currentState, result.Delta)
		}

		nodeErr := execErr
		if nodeErr == nil {
			nodeErr = result.Err
		}

		if nodeErr != nil {
			e.recordLatency(currentNode, elapsed, statusFor(nodeErr))
			if e.opts.Metrics != nil {
				e.opts.Metrics.IncrementNodeErrors(currentNode, statusFor(nodeErr))
			}
			e.emit(runID, step, currentNode, "node_error", map[string]interface{}{
				"error":       nodeErr.Error(),
				"duration_ms": elapsed.Milliseconds(),
			})
			// A node-reported error still merged its delta. Persist it so
			// the stored state matches the returned one.
			if execErr == nil {
				if err := e.store.SaveStep(ctx, runID, step, currentNode, currentState); err != nil {
					return currentState, &EngineError{
						Message: "failed to save step: " + err.Error(),
						Code:    CodeStoreError,
					}
				}
			}
			return currentState, nodeErr
		}

		e.recordLatency(currentNode, elapsed, "success")

		if err := e.store.SaveStep(ctx, runID, step, currentNode, currentState); err != nil {
			return currentState, &EngineError{
				Message: "failed to save step: " + err.Error(),
				Code:    CodeStoreError,
			}
		}

		e.emit(runID, step, currentNode, "node_end", map[string]interface{}{
			"duration_ms": elapsed.Milliseconds(),
		})

		if result.Route.Terminal {
			return currentState, nil
		}

		nextNode := result.Route.To
		if nextNode == "" {
			nextNode = e.evaluateEdges(currentNode, currentState)
		}
		if nextNode == "" {
			return currentState, &EngineError{
				Message: "no valid route from node: " + currentNode,
				Code:    CodeNoRoute,
			}
		}

		e.emit(runID, step, currentNode, "routing_decision", map[string]interface{}{
			"from": currentNode,
			"to":   nextNode,
		})
		currentNode = nextNode
	}
}

func (e *Engine[S]) validate() error {
	if e.reducer == nil {
		return &EngineError{Message: "reducer is required", Code: CodeMissingReducer}
	}
	if e.store == nil {
		return &EngineError{Message: "store is required", Code: CodeMissingStore}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.startNode == "" {
		return &EngineError{
			Message: "start node not set (call StartAt before Run)",
			Code:    CodeNoStartNode,
		}
	}
	if _, exists := e.nodes[e.startNode]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + e.startNode,
			Code:    CodeNodeNotFound,
		}
	}
	return nil
}

// evaluateEdges finds the first matching edge from the given node.
// Returns empty string if no edges match.
func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}

func (e *Engine[S]) emit(runID string, step int, nodeID, msg string, meta map[string]interface{}) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(emit.Event{
		RunID:  runID,
		Step:   step,
		NodeID: nodeID,
		Msg:    msg,
		Meta:   meta,
	})
}

func (e *Engine[S]) recordLatency(nodeID string, d time.Duration, status string) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordStepLatency(nodeID, d, status)
	}
}

func statusFor(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		switch ee.Code {
		case CodeNodeTimeout:
			return "timeout"
		case CodeNodePanic:
			return "panic"
		}
	}
	var ne *NodeError
	if errors.As(err, &ne) && ne.Code != "" {
		return ne.Code
	}
	return "error"
}
