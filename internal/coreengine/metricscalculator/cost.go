package metricscalculator

// ModelCost holds a model's per-million-token prices in USD.
type ModelCost struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Estimate prices a single call's token usage.
func (c ModelCost) Estimate(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1_000_000*c.InputPerMTok +
		float64(outputTokens)/1_000_000*c.OutputPerMTok
}

// NewCostEstimator builds a CostEstimator from a per-model price table.
// Models missing from the table are priced at zero.
func NewCostEstimator(pricing map[string]ModelCost) CostEstimator {
	return func(modelID string, inputTokens, outputTokens int64) float64 {
		cost, ok := pricing[modelID]
		if !ok {
			return 0
		}
		return cost.Estimate(inputTokens, outputTokens)
	}
}
