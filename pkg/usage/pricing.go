package usage

// ModelPrice is a model's cost in dollars per million tokens, split by
// input/output since most providers price them differently.
type ModelPrice struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// PricingTable converts token counts into the dollar cost a Limit's
// limitValue is compared against.
type PricingTable map[string]ModelPrice

// DefaultPricing carries a representative set of list prices for the
// supported providers; an unlisted model costs nothing, so an unpriced
// model never trips a limit rather than failing closed.
var DefaultPricing = PricingTable{
	"gpt-4o":             {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":        {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"o1":                 {InputPerMillion: 15.00, OutputPerMillion: 60.00},
	"claude-3-5-sonnet":  {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-opus":      {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"claude-3-haiku":     {InputPerMillion: 0.25, OutputPerMillion: 1.25},
	"gemini-1.5-pro":     {InputPerMillion: 1.25, OutputPerMillion: 5.00},
	"gemini-1.5-flash":   {InputPerMillion: 0.075, OutputPerMillion: 0.30},
	"mistral-large":      {InputPerMillion: 2.00, OutputPerMillion: 6.00},
	"deepseek-chat":      {InputPerMillion: 0.27, OutputPerMillion: 1.10},
}

// Cost converts (tokensIn, tokensOut) for model into a dollar figure.
func (t PricingTable) Cost(model string, tokensIn, tokensOut int64) float64 {
	price, ok := t[model]
	if !ok {
		return 0
	}
	return float64(tokensIn)/1_000_000*price.InputPerMillion + float64(tokensOut)/1_000_000*price.OutputPerMillion
}
