// Package precision holds the pure numeric helpers shared by the strategy
// generator and the gateway boundary. All rounding floors: a quantity or
// price is never rounded up past what the exchange step allows.
package precision

import (
	"github.com/shopspring/decimal"
)

// FloorToStep floors value down to the nearest multiple of the exchange step
// string (e.g. "0.00010"). An empty or zero step returns the value unchanged.
func FloorToStep(value float64, step string) float64 {
	s, err := decimal.NewFromString(step)
	if err != nil || s.IsZero() {
		return value
	}
	v := decimal.NewFromFloat(value)
	out, _ := v.Div(s).Floor().Mul(s).Float64()
	return out
}

// FloorToDecimals truncates value to the given number of decimal places.
func FloorToDecimals(value float64, places int32) float64 {
	out, _ := decimal.NewFromFloat(value).Truncate(places).Float64()
	return out
}

// QuantityForQuote converts a quote-currency volume into a base-asset
// quantity at the given price, floored to the instrument's quantity step.
func QuantityForQuote(quote, price float64, qtyStep string) float64 {
	if price <= 0 {
		return 0
	}
	return FloorToStep(quote/price, qtyStep)
}

// FeeAdjustedQuantity shrinks a quantity by the fee rate and then floors to
// the quantity step. The fee is applied before the final precision floor so
// the floor is the last operation on the way out.
func FeeAdjustedQuantity(qty, feeRate float64, qtyStep string) float64 {
	return FloorToStep(qty*(1-feeRate), qtyStep)
}
