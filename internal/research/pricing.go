package research

import "github.com/mohammad-safakhou/deepscout/config"

// Pricing maps search models to per-query cost and complexity tiers to models.
// It is a pure policy table derived from configuration.
type Pricing struct {
	perQuery      map[string]float64
	baseModel     string
	advancedModel string
}

// NewPricing builds the pricing table from search config.
func NewPricing(cfg config.SearchConfig) Pricing {
	perQuery := make(map[string]float64, len(cfg.CostPerQuery))
	for model, cost := range cfg.CostPerQuery {
		perQuery[model] = cost
	}
	return Pricing{
		perQuery:      perQuery,
		baseModel:     cfg.BaseModel,
		advancedModel: cfg.AdvancedModel,
	}
}

// SuggestedModel picks the search model for a complexity tier.
// Only complex queries justify the deeper, costlier model.
func (p Pricing) SuggestedModel(c Complexity) string {
	if c == ComplexityComplex {
		return p.advancedModel
	}
	return p.baseModel
}

// QueryCost returns the per-search cost for a model. Unknown models cost zero.
func (p Pricing) QueryCost(model string) float64 {
	return p.perQuery[model]
}

// EstimateBatchCost estimates spend for a batch of searches with one model.
func (p Pricing) EstimateBatchCost(batchSize int, model string) float64 {
	if batchSize <= 0 {
		return 0
	}
	return float64(batchSize) * p.perQuery[model]
}
