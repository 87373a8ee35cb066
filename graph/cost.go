package graph

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ModelPricing defines input and output token costs for LLM models.
// Prices are in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64 // Cost per 1M input tokens in USD
	OutputPer1M float64 // Cost per 1M output tokens in USD
}

// Static pricing map for the providers storyflow ships adapters for.
// Prices are in USD per 1M tokens and change over time; override with
// SetCustomPricing when a deployment has negotiated rates.
var defaultModelPricing = map[string]ModelPricing{
	// OpenAI
	"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-4.1":       {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-4.1-mini":  {InputPer1M: 0.40, OutputPer1M: 1.60},
	"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},

	// Anthropic
	"claude-3-5-sonnet": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-opus":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"claude-sonnet-4":   {InputPer1M: 3.00, OutputPer1M: 15.00},

	// Google
	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash": {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.0-flash": {InputPer1M: 0.10, OutputPer1M: 0.40},
}

// LLMCall represents a single LLM API invocation with token usage and cost.
type LLMCall struct {
	Model        string    // Model identifier (e.g., "gpt-4o", "claude-3-5-haiku")
	InputTokens  int       // Number of input tokens consumed
	OutputTokens int       // Number of output tokens generated
	CostUSD      float64   // Calculated cost in USD
	Timestamp    time.Time // When the call was recorded
	NodeID       string    // Node that made the call (optional)
}

// CostTracker tracks the cost of LLM calls made during one workflow run.
//
// Pricing lookups try the exact model name first, then the longest pricing
// key that prefixes it, so dated model versions ("gpt-4o-mini-2024-07-18")
// resolve to their family price. Unknown models are recorded at zero cost.
//
// Usage:
//
//	tracker := NewCostTracker("gen-123", "USD")
//	tracker.RecordLLMCall("gpt-4o-mini", 1200, 900, "generate")
//	total := tracker.GetTotalCost()
//
// Thread-safe: All methods use mutex protection for concurrent access.
type CostTracker struct {
	// RunID associates costs with a specific workflow execution
	RunID string

	// Currency is the cost unit (e.g., "USD")
	Currency string

	pricing      map[string]ModelPricing
	calls        []LLMCall
	totalCost    float64
	modelCosts   map[string]float64
	inputTokens  int64
	outputTokens int64

	mu sync.RWMutex
}

// NewCostTracker creates a new cost tracker with default pricing tables.
func NewCostTracker(runID, currency string) *CostTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for k, v := range defaultModelPricing {
		pricing[k] = v
	}
	return &CostTracker{
		RunID:      runID,
		Currency:   currency,
		pricing:    pricing,
		modelCosts: make(map[string]float64),
	}
}

// RecordLLMCall records a single LLM API invocation and returns its cost.
//
// Cost = (inputTokens × inputPrice + outputTokens × outputPrice) / 1M.
func (ct *CostTracker) RecordLLMCall(model string, inputTokens, outputTokens int, nodeID string) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	pricing := ct.lookup(model)
	inputCost := (float64(inputTokens) / 1_000_000.0) * pricing.InputPer1M
	outputCost := (float64(outputTokens) / 1_000_000.0) * pricing.OutputPer1M
	cost := inputCost + outputCost

	ct.calls = append(ct.calls, LLMCall{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
		NodeID:       nodeID,
	})

	ct.totalCost += cost
	ct.modelCosts[model] += cost
	ct.inputTokens += int64(inputTokens)
	ct.outputTokens += int64(outputTokens)

	return cost
}

// lookup must be called with ct.mu held.
func (ct *CostTracker) lookup(model string) ModelPricing {
	if p, ok := ct.pricing[model]; ok {
		return p
	}
	best := ""
	for key := range ct.pricing {
		if strings.HasPrefix(model, key) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return ModelPricing{}
	}
	return ct.pricing[best]
}

// GetTotalCost returns the cumulative cost across all recorded LLM calls.
func (ct *CostTracker) GetTotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.totalCost
}

// GetCostByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) GetCostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	costs := make(map[string]float64, len(ct.modelCosts))
	for model, cost := range ct.modelCosts {
		costs[model] = cost
	}
	return costs
}

// GetCallHistory returns all recorded LLM calls in chronological order.
func (ct *CostTracker) GetCallHistory() []LLMCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	calls := make([]LLMCall, len(ct.calls))
	copy(calls, ct.calls)
	return calls
}

// GetTokenUsage returns total input and output token counts.
func (ct *CostTracker) GetTokenUsage() (inputTokens, outputTokens int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.inputTokens, ct.outputTokens
}

// SetCustomPricing overrides pricing for a model. Only calls recorded after
// the override use the new price.
func (ct *CostTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// String returns a human-readable summary of cost tracking.
func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	return fmt.Sprintf(
		"CostTracker{RunID: %s, Calls: %d, TotalCost: $%.4f %s, InputTokens: %d, OutputTokens: %d}",
		ct.RunID,
		len(ct.calls),
		ct.totalCost,
		ct.Currency,
		ct.inputTokens,
		ct.outputTokens,
	)
}
