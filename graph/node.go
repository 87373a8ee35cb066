package graph

import "context"

// Node is one stage of a workflow. It reads the current state and returns a
// partial update plus a routing decision.
type Node[S any] interface {
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult is what a node hands back to the engine.
type NodeResult[S any] struct {
	// Delta is merged into the run state with the engine's reducer.
	Delta S

	// Route picks the next node. The zero value defers to edges.
	Route Next

	// Err ends the run. Delta is merged before the run stops, so the final
	// state keeps whatever the node recorded.
	Err error
}

// Next is a routing decision. Terminal wins over To; when both are empty
// the engine evaluates the node's outgoing edges in the order they were
// connected.
type Next struct {
	To       string
	Terminal bool
}

// Stop ends the run after the current node.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto routes to nodeID.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// NodeFunc adapts a plain function to Node.
//
//	assess := graph.NodeFunc[story.WorkflowState](func(ctx context.Context, s story.WorkflowState) graph.NodeResult[story.WorkflowState] {
//	    return graph.NodeResult[story.WorkflowState]{Delta: scoreAttempt(ctx, s)}
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run calls f.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// NodeError is a structured failure a node can return in NodeResult.Err.
// Code feeds the node error metric.
type NodeError struct {
	Message string
	Code    string
	NodeID  string
	Cause   error
}

func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

func (e *NodeError) Unwrap() error {
	return e.Cause
}
