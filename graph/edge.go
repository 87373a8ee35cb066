package graph

// Edge represents a connection between two nodes in the workflow graph.
//
// Edges can be:
//   - Unconditional: Always traverse (When = nil).
//   - Conditional: Only traverse if the predicate returns true.
//
// Explicit routing returned by a node in NodeResult.Route overrides edges.
// Edges from the same node are evaluated in registration order and the first
// match wins.
//
// Type parameter S is the state type used for predicate evaluation.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID.
	To string

	// When is an optional predicate. Nil means unconditional.
	When Predicate[S]
}

// Predicate evaluates state to determine if an edge should be traversed.
// Predicates must be pure: deterministic and free of side effects.
type Predicate[S any] func(state S) bool
