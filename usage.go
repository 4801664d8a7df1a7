package aiflow

import "github.com/shopspring/decimal"

// Model identifies an OpenAI-compatible model. The constants below are
// the models this engine carries cost rates for; Cost reports
// ErrUnknownModel for any other value.
type Model string

const (
	ModelGPT41     Model = "gpt-4.1"
	ModelGPT41Mini Model = "gpt-4.1-mini"
	ModelGPT41Nano Model = "gpt-4.1-nano"
	ModelO3        Model = "o3"
	ModelO4Mini    Model = "o4-mini"
)

// DefaultModel is used when a GenerateConfig does not specify one.
const DefaultModel = ModelGPT41

type rate struct {
	input  decimal.Decimal
	cached decimal.Decimal
	output decimal.Decimal
}

// perMillion converts a USD-per-million-tokens rate into the
// USD-per-token decimal used internally.
func perMillion(v string) decimal.Decimal {
	return decimal.RequireFromString(v).Div(decimal.NewFromInt(1_000_000))
}

var rates = map[Model]rate{
	ModelGPT41:     {input: perMillion("2.0"), cached: perMillion("0.5"), output: perMillion("8.0")},
	ModelGPT41Mini: {input: perMillion("0.4"), cached: perMillion("0.1"), output: perMillion("1.6")},
	ModelGPT41Nano: {input: perMillion("0.1"), cached: perMillion("0.025"), output: perMillion("0.4")},
	ModelO3:        {input: perMillion("10.0"), cached: perMillion("2.5"), output: perMillion("40.0")},
	ModelO4Mini:    {input: perMillion("1.1"), cached: perMillion("0.275"), output: perMillion("4.4")},
}

// Usage carries per-turn token counts in high-precision decimal, as
// reported (after saturating subtraction) by a backend dialect.
type Usage struct {
	CachedInputTokens decimal.Decimal
	InputTokens       decimal.Decimal
	OutputTokens      decimal.Decimal
}

// saturatingSub mirrors Rust's saturating subtraction: it never
// returns a negative value, clamping to zero when the subtrahend exceeds
// the minuend (a cached-token misreport from the backend).
func saturatingSub(a, b int64) int64 {
	if b >= a {
		return 0
	}
	return a - b
}

// NewUsage builds a Usage from the raw counts a backend dialect reports,
// deriving InputTokens as promptTokens minus cachedTokens via saturating
// subtraction.
func NewUsage(promptTokens, cachedTokens, completionTokens int64) Usage {
	return Usage{
		CachedInputTokens: decimal.NewFromInt(cachedTokens),
		InputTokens:       decimal.NewFromInt(saturatingSub(promptTokens, cachedTokens)),
		OutputTokens:      decimal.NewFromInt(completionTokens),
	}
}

// Cost computes the USD cost of u at model's rates.
func Cost(model Model, u Usage) (decimal.Decimal, error) {
	r, ok := rates[model]
	if !ok {
		return decimal.Zero, ErrUnknownModel
	}
	cost := u.InputTokens.Mul(r.input).
		Add(u.CachedInputTokens.Mul(r.cached)).
		Add(u.OutputTokens.Mul(r.output))
	return cost, nil
}
