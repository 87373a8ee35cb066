package graph

import "time"

// Options configures Engine execution behavior.
//
// Zero values are valid: no step limit, no default node timeout, no metrics.
type Options struct {
	// MaxSteps limits workflow execution to prevent infinite loops.
	// If 0, no limit is enforced.
	MaxSteps int

	// DefaultNodeTimeout bounds every node that has no NodePolicy.Timeout.
	// If 0, nodes run until they return or the parent context ends.
	DefaultNodeTimeout time.Duration

	// Metrics receives step latency and node error observations. May be nil.
	Metrics *PrometheusMetrics
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := graph.New(
//	    reducer, store, emitter,
//	    graph.WithMaxSteps(20),
//	    graph.WithDefaultNodeTimeout(90*time.Second),
//	)
type Option func(*Options)

// WithMaxSteps limits workflow execution to n node executions.
//
// Workflow loops (A → B → A) are supported. Size MaxSteps as
// nodes-per-iteration × max iterations plus fixed stages.
//
// When MaxSteps is exceeded, Run returns EngineError with code "MAX_STEPS_EXCEEDED".
func WithMaxSteps(n int) Option {
	return func(o *Options) {
		o.MaxSteps = n
	}
}

// WithDefaultNodeTimeout sets the engine-wide node timeout.
// A NodePolicy.Timeout registered via AddWithPolicy takes precedence.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.DefaultNodeTimeout = d
	}
}

// WithMetrics attaches a Prometheus collector to the engine.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}
