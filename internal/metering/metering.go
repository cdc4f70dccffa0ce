// Package metering turns token usage into an integer charge in minor units.
package metering

import (
	"github.com/router-for-me/ChatBilling/internal/settings"
	"github.com/shopspring/decimal"
)

var tokensPerUnit = decimal.NewFromInt(1000)

// Policy is the pricing configuration in effect for one call.
type Policy struct {
	RatePer1K       decimal.Decimal // Flat price per 1000 tokens.
	MinimumCharge   int64           // Floor applied to every completed call.
	MinimumBalance  int64           // Balance required before a call is attempted.
	PerModelPricing bool            // Use catalog prices when the model has them.
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		RatePer1K:       decimal.RequireFromString(settings.DefaultRatePer1KTokens),
		MinimumCharge:   settings.DefaultMinCharge,
		MinimumBalance:  settings.DefaultMinBalance,
		PerModelPricing: settings.DefaultPerModelPricing,
	}
}

// LoadPolicy builds a Policy from the settings snapshot, keeping defaults for
// missing or malformed values.
func LoadPolicy() Policy {
	policy := DefaultPolicy()
	if raw, ok := settings.DBConfigValue(settings.RatePer1KTokensKey); ok {
		if rate, okRate := settings.ParseNonNegativeDecimal(raw); okRate {
			policy.RatePer1K = rate
		}
	}
	if raw, ok := settings.DBConfigValue(settings.MinChargeKey); ok {
		if minCharge, okMin := settings.ParseNonNegativeInt(raw); okMin {
			policy.MinimumCharge = minCharge
		}
	}
	if raw, ok := settings.DBConfigValue(settings.MinBalanceKey); ok {
		if minBalance, okMin := settings.ParseNonNegativeInt(raw); okMin {
			policy.MinimumBalance = minBalance
		}
	}
	if raw, ok := settings.DBConfigValue(settings.PerModelPricingKey); ok {
		if enabled, okBool := settings.ParseBool(raw); okBool {
			policy.PerModelPricing = enabled
		}
	}
	return policy
}

// Pricing carries catalog prices per 1000 tokens. Zero values mean the model
// has no dedicated price.
type Pricing struct {
	Input  decimal.Decimal
	Output decimal.Decimal
}

// HasPrices reports whether either side carries a positive price.
func (p Pricing) HasPrices() bool {
	return p.Input.IsPositive() || p.Output.IsPositive()
}

// Meter computes charges under a fixed policy.
type Meter struct {
	policy Policy
}

// NewMeter constructs a Meter.
func NewMeter(policy Policy) Meter {
	return Meter{policy: policy}
}

// Policy returns the policy the meter charges with.
func (m Meter) Policy() Policy {
	return m.policy
}

// Cost returns max(ceil(raw), MinimumCharge) for the given token counts.
// Negative token counts are treated as zero.
func (m Meter) Cost(pricing Pricing, promptTokens, completionTokens int64) int64 {
	prompt := decimal.NewFromInt(clampTokens(promptTokens))
	completion := decimal.NewFromInt(clampTokens(completionTokens))

	var raw decimal.Decimal
	if m.policy.PerModelPricing && pricing.HasPrices() {
		raw = pricing.Input.Mul(prompt).Div(tokensPerUnit).
			Add(pricing.Output.Mul(completion).Div(tokensPerUnit))
	} else {
		raw = m.policy.RatePer1K.Mul(prompt.Add(completion)).Div(tokensPerUnit)
	}
	if raw.IsNegative() {
		raw = decimal.Zero
	}

	cost := raw.Ceil().IntPart()
	if cost < m.policy.MinimumCharge {
		return m.policy.MinimumCharge
	}
	return cost
}

func clampTokens(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
