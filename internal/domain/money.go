package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places used when a price is rounded
// for display or simulation.
const PriceScale = 2

// PriceFromFloat converts a float64 amount received over the wire into a
// decimal. It rejects NaN and infinities; sign checks are left to callers.
func PriceFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("monetary values must be finite numbers")
	}
	return decimal.NewFromFloat(f), nil
}

// PriceToFloat converts a decimal price to float64 for JSON responses.
func PriceToFloat(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// RoundPrice rounds d to PriceScale decimal places (half away from zero).
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(PriceScale)
}

// WeightedAverage returns the volume-weighted average of two fills:
// (qtyA*priceA + qtyB*priceB) / (qtyA + qtyB). It returns zero when the
// combined quantity is zero.
func WeightedAverage(qtyA int64, priceA decimal.Decimal, qtyB int64, priceB decimal.Decimal) decimal.Decimal {
	a, b := decimal.NewFromInt(qtyA), decimal.NewFromInt(qtyB)
	total := a.Add(b)
	if total.IsZero() {
		return decimal.Zero
	}
	return priceA.Mul(a).Add(priceB.Mul(b)).Div(total)
}
