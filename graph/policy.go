package graph

import "time"

// NodePolicy configures the execution behavior for a specific node.
//
// Policies are attached with Engine.AddWithPolicy. Fields left at their zero
// value fall back to the engine Options.
type NodePolicy struct {
	// Timeout is the maximum execution time allowed for this node.
	// If zero, Options.DefaultNodeTimeout is used.
	Timeout time.Duration
}

// getNodeTimeout determines the timeout duration for a node based on precedence:
//  1. NodePolicy.Timeout (per-node override)
//  2. defaultTimeout (engine-wide default)
//  3. 0 (no timeout)
func getNodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}
