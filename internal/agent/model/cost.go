package model

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64 `envconfig:"PRICING_INPUT_PER_M" yaml:"input_per_m"`
	OutputPerM float64 `envconfig:"PRICING_OUTPUT_PER_M" yaml:"output_per_m"`
}

// defaultPricing provides hardcoded USD pricing per 1M tokens (text tokens).
var defaultPricing = map[string]Pricing{
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"gpt-4o":                {InputPerM: 2.50, OutputPerM: 10.00},
	"gpt-4o-mini":           {InputPerM: 0.15, OutputPerM: 0.60},
}

// ResolvePricing returns explicit pricing when set, otherwise the table entry
// for the model, otherwise zero pricing.
func ResolvePricing(model string, explicit Pricing) Pricing {
	if explicit.InputPerM > 0 || explicit.OutputPerM > 0 {
		return explicit
	}
	if p, ok := defaultPricing[model]; ok {
		return p
	}
	return Pricing{}
}

// RateIn is the USD cost of one prompt token.
func (p Pricing) RateIn() float64 {
	return p.InputPerM / 1_000_000.0
}

// RateOut is the USD cost of one completion token.
func (p Pricing) RateOut() float64 {
	return p.OutputPerM / 1_000_000.0
}

// ComputeCost converts token counts to USD using per-token rates.
func ComputeCost(promptTokens, completionTokens int, p Pricing) (inputCost, outputCost, total float64) {
	inputCost = float64(promptTokens) * p.RateIn()
	outputCost = float64(completionTokens) * p.RateOut()
	total = inputCost + outputCost
	return
}
