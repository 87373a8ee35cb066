package graph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// executeNode runs a node with timeout enforcement and panic capture.
//
// The timeout is chosen by getNodeTimeout. A panic inside the node is
// recovered and reported as an EngineError with CodeNodePanic; the returned
// result is then the zero value, so a panicking node contributes no delta.
//
// A non-nil error from executeNode is an engine-level fault. Errors the node
// reports itself stay in result.Err.
func executeNode[S any](
	ctx context.Context,
	node Node[S],
	nodeID string,
	state S,
	policy *NodePolicy,
	defaultTimeout time.Duration,
) (result NodeResult[S], err error) {
	timeout := getNodeTimeout(policy, defaultTimeout)

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = NodeResult[S]{}
			err = &EngineError{
				Message: fmt.Sprintf("node %s panicked: %v\n%s", nodeID, r, debug.Stack()),
				Code:    CodeNodePanic,
			}
		}
	}()

	result = node.Run(runCtx, state)

	// The parent context ending is cancellation, not a node timeout.
	if timeout > 0 && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return result, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Code:    CodeNodeTimeout,
		}
	}

	return result, nil
}
