package pricing

import "github.com/shopspring/decimal"

// defaultBasePrice is used for symbols with neither a cached observation
// nor a fallback table entry.
var defaultBasePrice = decimal.NewFromInt(100)

// fallbackPrices holds approximate USD baselines keyed by canonical id.
var fallbackPrices = map[string]decimal.Decimal{
	"bitcoin":     decimal.NewFromInt(65000),
	"ethereum":    decimal.NewFromInt(3500),
	"binancecoin": decimal.NewFromInt(600),
	"solana":      decimal.NewFromInt(150),
	"litecoin":    decimal.NewFromInt(80),
	"ripple":      decimal.RequireFromString("0.60"),
	"cardano":     decimal.RequireFromString("0.45"),
	"dogecoin":    decimal.RequireFromString("0.15"),
}

// FallbackPrice returns the static baseline for a symbol, or 100 when the
// symbol is not in the table.
func FallbackPrice(symbol string) decimal.Decimal {
	if p, ok := fallbackPrices[canonicalID(symbol)]; ok {
		return p
	}
	return defaultBasePrice
}
