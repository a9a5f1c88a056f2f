// Package cost estimates classifier spend from token usage for providers
// whose SDK responses carry no price.
package cost

import "strings"

// Rates holds per-provider pricing configuration.
type Rates struct {
	Gemini map[string]ModelRate `yaml:"gemini" mapstructure:"gemini"`
	OpenAI map[string]ModelRate `yaml:"openai" mapstructure:"openai"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input        float64 `yaml:"input" mapstructure:"input"`
	Output       float64 `yaml:"output" mapstructure:"output"`
	CacheReadMul float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Estimate computes the cost of one call. input includes cacheRead tokens,
// which are billed at the cached rate. Unknown providers and models cost 0.
func (c *Calculator) Estimate(provider, model string, input, output, cacheRead int64) float64 {
	rate, ok := c.rate(provider, model)
	if !ok {
		return 0
	}
	if cacheRead > input {
		cacheRead = input
	}

	inCost := (float64(input-cacheRead) / 1e6) * rate.Input
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul
	outCost := (float64(output) / 1e6) * rate.Output

	return inCost + crCost + outCost
}

// rate finds the rate for model, falling back to the longest configured
// name that prefixes it so dated snapshots ("gpt-4o-mini-2024-07-18")
// resolve to their family.
func (c *Calculator) rate(provider, model string) (ModelRate, bool) {
	var table map[string]ModelRate
	switch provider {
	case "gemini":
		table = c.rates.Gemini
	case "openai":
		table = c.rates.OpenAI
	}
	if r, ok := table[model]; ok {
		return r, true
	}

	best := ""
	for name := range table {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return table[best], true
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Gemini: map[string]ModelRate{
			"gemini-2.5-flash": {Input: 0.30, Output: 2.50, CacheReadMul: 0.25},
			"gemini-2.5-pro":   {Input: 1.25, Output: 10.00, CacheReadMul: 0.25},
			"gemini-2.0-flash": {Input: 0.10, Output: 0.40, CacheReadMul: 0.25},
		},
		OpenAI: map[string]ModelRate{
			"gpt-4o-mini":  {Input: 0.15, Output: 0.60, CacheReadMul: 0.5},
			"gpt-4o":       {Input: 2.50, Output: 10.00, CacheReadMul: 0.5},
			"gpt-4.1-mini": {Input: 0.40, Output: 1.60, CacheReadMul: 0.25},
		},
	}
}
