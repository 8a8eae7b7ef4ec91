// Package usage provides token and cost accounting per model tier. It is
// purely descriptive telemetry: nothing here ever influences routing or
// admission decisions.
package usage

import (
	"fmt"
	"sync"
)

// Tier identifies a compute/cost class of model.
type Tier string

const (
	// TierStreaming is the cheap single-pass model used for simple queries.
	TierStreaming Tier = "streaming"
	// TierStandard is the full tool-calling model.
	TierStandard Tier = "standard"
)

// Rates holds pricing for a tier in dollars per million tokens.
type Rates struct {
	InputPerMTok  float64 `yaml:"input_per_mtok" json:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" json:"output_per_mtok"`
}

// Cost computes the dollar cost of a single call at these rates.
func (r Rates) Cost(inputTokens, outputTokens int64) float64 {
	return (float64(inputTokens)*r.InputPerMTok + float64(outputTokens)*r.OutputPerMTok) / 1_000_000
}

// Totals aggregates usage for one tier.
type Totals struct {
	Requests     int64   `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Accountant tracks usage counters across requests, broken down by tier.
// It is an injected service with its own synchronization so tests can use
// isolated instances.
type Accountant struct {
	mu     sync.RWMutex
	rates  map[Tier]Rates
	totals map[Tier]*Totals
}

// DefaultRates returns placeholder pricing; deployments override via config.
func DefaultRates() map[Tier]Rates {
	return map[Tier]Rates{
		TierStreaming: {InputPerMTok: 0.25, OutputPerMTok: 1.25},
		TierStandard:  {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	}
}

// NewAccountant creates an accountant with the given per-tier rates.
// Unknown tiers are accounted at zero cost.
func NewAccountant(rates map[Tier]Rates) *Accountant {
	if rates == nil {
		rates = DefaultRates()
	}
	return &Accountant{
		rates:  rates,
		totals: make(map[Tier]*Totals),
	}
}

// Record adds one model call's token counts to the tier's running totals
// and returns the cost attributed to the call.
func (a *Accountant) Record(tier Tier, inputTokens, outputTokens int64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.totals[tier]
	if t == nil {
		t = &Totals{}
		a.totals[tier] = t
	}
	cost := a.rates[tier].Cost(inputTokens, outputTokens)
	t.Requests++
	t.InputTokens += inputTokens
	t.OutputTokens += outputTokens
	t.Cost += cost
	return cost
}

// SetRates replaces the pricing table. Accumulated totals keep their
// already-computed cost.
func (a *Accountant) SetRates(rates map[Tier]Rates) {
	if rates == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rates = rates
}

// Snapshot returns a copy of the per-tier totals.
func (a *Accountant) Snapshot() map[Tier]Totals {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[Tier]Totals, len(a.totals))
	for tier, t := range a.totals {
		out[tier] = *t
	}
	return out
}

// TotalCost returns the summed cost across all tiers.
func (a *Accountant) TotalCost() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var sum float64
	for _, t := range a.totals {
		sum += t.Cost
	}
	return sum
}

// Reset clears all counters, for tests.
func (a *Accountant) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totals = make(map[Tier]*Totals)
}

// FormatUSD formats a dollar amount for display.
func FormatUSD(amount float64) string {
	if amount <= 0 {
		return "$0.00"
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}
