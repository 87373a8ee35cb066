// Package graph provides the sequential state-graph engine that drives storyflow workflows.
package graph

import "errors"

// ErrMaxStepsExceeded indicates that the graph execution reached the maximum
// allowed step count without completing. EngineErrors carrying
// CodeMaxStepsExceeded match it via errors.Is.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrNodePanic indicates a node panicked while running. The engine recovers
// the panic and reports it as an EngineError with CodeNodePanic.
var ErrNodePanic = errors.New("node panicked")

// ErrNodeTimeout indicates a node exceeded its configured timeout.
var ErrNodeTimeout = errors.New("node exceeded timeout")

// Error codes carried by EngineError.
const (
	CodeMissingReducer   = "MISSING_REDUCER"
	CodeMissingStore     = "MISSING_STORE"
	CodeNoStartNode      = "NO_START_NODE"
	CodeNodeNotFound     = "NODE_NOT_FOUND"
	CodeDuplicateNode    = "DUPLICATE_NODE"
	CodeMaxStepsExceeded = "MAX_STEPS_EXCEEDED"
	CodeNoRoute          = "NO_ROUTE"
	CodeStoreError       = "STORE_ERROR"
	CodeNodeTimeout      = "NODE_TIMEOUT"
	CodeNodePanic        = "NODE_PANIC"
)

// EngineError represents an error from Engine operations.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Is maps engine error codes onto the package sentinels so callers can use
// errors.Is(err, graph.ErrMaxStepsExceeded) without inspecting Code.
func (e *EngineError) Is(target error) bool {
	switch target {
	case ErrMaxStepsExceeded:
		return e.Code == CodeMaxStepsExceeded
	case ErrNodePanic:
		return e.Code == CodeNodePanic
	case ErrNodeTimeout:
		return e.Code == CodeNodeTimeout
	}
	return false
}
