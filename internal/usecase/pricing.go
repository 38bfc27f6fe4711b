package usecase

import "NewsDesk/internal/ports"

// Rates are USD prices per one million tokens.
type Rates struct {
	Input  float64
	Output float64
}

// PriceTable maps model identifiers to their rates.
// Models missing from Rates are billed at the Default model's rates.
type PriceTable struct {
	Rates   map[string]Rates
	Default string
}

// RatesFor returns the rates for model, falling back to the default model.
func (p PriceTable) RatesFor(model string) Rates {
	if r, ok := p.Rates[model]; ok {
		return r
	}
	return p.Rates[p.Default]
}

// Cost computes (input/1e6)*input_rate + (output/1e6)*output_rate.
func (p PriceTable) Cost(model string, usage ports.TokenUsage) float64 {
	r := p.RatesFor(model)
	return float64(usage.InputTokens)/1_000_000*r.Input +
		float64(usage.OutputTokens)/1_000_000*r.Output
}
