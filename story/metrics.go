package story

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes workflow-level Prometheus metrics, namespaced
// "storyflow_story_":
//
//   - workflows_total{outcome}: terminal outcomes (success, rejected, failed)
//   - attempts_per_workflow: generation stages used per workflow
//   - quality_score: weighted overall score of every assessment
//   - rejections_total{reason}: unsafe, licensed, check_failed
//   - llm_tokens_total{model,direction}: token usage by stage calls
//   - llm_cost_usd_total: estimated spend
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	workflows    *prometheus.CounterVec
	attempts     prometheus.Histogram
	qualityScore prometheus.Histogram
	rejections   *prometheus.CounterVec
	tokens       *prometheus.CounterVec
	cost         prometheus.Counter
}

// NewMetrics registers the workflow metrics with registry. A nil registry
// uses prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		workflows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storyflow",
			Subsystem: "story",
			Name:      "workflows_total",
			Help:      "Completed workflows by terminal outcome",
		}, []string{"outcome"}),
		attempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storyflow",
			Subsystem: "story",
			Name:      "attempts_per_workflow",
			Help:      "Generation attempts used per workflow",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),
		qualityScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storyflow",
			Subsystem: "story",
			Name:      "quality_score",
			Help:      "Weighted overall quality score per assessment",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storyflow",
			Subsystem: "story",
			Name:      "rejections_total",
			Help:      "Requests rejected by the safety gate",
		}, []string{"reason"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storyflow",
			Subsystem: "story",
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by workflow LLM calls",
		}, []string{"model", "direction"}),
		cost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "storyflow",
			Subsystem: "story",
			Name:      "llm_cost_usd_total",
			Help:      "Estimated LLM spend in USD",
		}),
	}
}

func (m *Metrics) workflowFinished(outcome string, attempts int) {
	if m == nil {
		return
	}
	m.workflows.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		m.attempts.Observe(float64(attempts))
	}
}

func (m *Metrics) scoreObserved(score int) {
	if m == nil {
		return
	}
	m.qualityScore.Observe(float64(score))
}

func (m *Metrics) rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) llmUsage(modelName string, in, out int, costUSD float64) {
	if m == nil {
		return
	}
	if modelName == "" {
		modelName = "unknown"
	}
	m.tokens.WithLabelValues(modelName, "input").Add(float64(in))
	m.tokens.WithLabelValues(modelName, "output").Add(float64(out))
	if costUSD > 0 {
		m.cost.Add(costUSD)
	}
}
