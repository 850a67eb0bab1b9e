package governor

import "fmt"

// ModelPricing holds the billing rates for one model. Rates are per
// one million token units; cache multipliers scale the input rate for
// cache writes and reads.
type ModelPricing struct {
	InputRate            float64 `json:"input_rate"`
	OutputRate           float64 `json:"output_rate"`
	CacheWriteMultiplier float64 `json:"cache_write_multiplier"`
	CacheReadMultiplier  float64 `json:"cache_read_multiplier"`
}

// PricingTable maps model IDs to their rates. Loaded once at startup
// and read-only afterward.
type PricingTable map[string]ModelPricing

// DefaultPricingTable returns a starter table for common models.
func DefaultPricingTable() PricingTable {
	return PricingTable{
		"gpt-4o": {
			InputRate:            2.50,
			OutputRate:           10.00,
			CacheWriteMultiplier: 1.25,
			CacheReadMultiplier:  0.50,
		},
		"gpt-4o-mini": {
			InputRate:            0.15,
			OutputRate:           0.60,
			CacheWriteMultiplier: 1.25,
			CacheReadMultiplier:  0.50,
		},
		"claude-sonnet": {
			InputRate:            3.00,
			OutputRate:           15.00,
			CacheWriteMultiplier: 1.25,
			CacheReadMultiplier:  0.10,
		},
	}
}

const tokensPerRateUnit = 1_000_000

// PricingCalculator computes cache-aware monetary cost from a token
// breakdown.
type PricingCalculator struct {
	table PricingTable
}

// NewPricingCalculator creates a calculator over a loaded table.
func NewPricingCalculator(table PricingTable) *PricingCalculator {
	return &PricingCalculator{table: table}
}

// Validate checks that every listed model has a pricing entry. Run at
// startup; an unknown model is the calculator's only failure mode.
func (c *PricingCalculator) Validate(modelIDs []string) error {
	for _, id := range modelIDs {
		if _, ok := c.table[id]; !ok {
			return &ConfigurationError{Field: "pricing", Reason: fmt.Sprintf("no pricing entry for model %q", id)}
		}
	}
	return nil
}

// Cost computes the cost of one call.
//
//	cost = regular*inputRate + cacheWrite*inputRate*writeMult +
//	       cacheRead*inputRate*readMult + output*outputRate
func (c *PricingCalculator) Cost(breakdown TokenBreakdown, modelID string) (float64, error) {
	rates, ok := c.table[modelID]
	if !ok {
		return 0, &ConfigurationError{Field: "pricing", Reason: fmt.Sprintf("no pricing entry for model %q", modelID)}
	}

	cost := float64(breakdown.RegularInput) * rates.InputRate
	cost += float64(breakdown.CacheWrite) * rates.InputRate * rates.CacheWriteMultiplier
	cost += float64(breakdown.CacheRead) * rates.InputRate * rates.CacheReadMultiplier
	cost += float64(breakdown.Output) * rates.OutputRate
	return cost / tokensPerRateUnit, nil
}

// Rates exposes the entry for a model, primarily for reporting.
func (c *PricingCalculator) Rates(modelID string) (ModelPricing, bool) {
	rates, ok := c.table[modelID]
	return rates, ok
}
