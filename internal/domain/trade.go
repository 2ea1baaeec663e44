package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide indicates whether a trade bought or sold shares.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

// ParseTradeSide accepts "buy"/"sell" in any case, surrounded by optional
// whitespace, and returns the normalized side. Anything else yields
// ErrInvalidTradeType.
func ParseTradeSide(s string) (TradeSide, error) {
	switch TradeSide(strings.ToUpper(strings.TrimSpace(s))) {
	case TradeSideBuy:
		return TradeSideBuy, nil
	case TradeSideSell:
		return TradeSideSell, nil
	}
	return "", ErrInvalidTradeType
}

// Trade is an immutable record of one executed buy or sell.
type Trade struct {
	TradeID    string
	OwnerID    string
	Symbol     string
	Side       TradeSide
	Quantity   int64
	Price      decimal.Decimal
	ExecutedAt time.Time
	Seq        uint64 // insertion order, breaks ExecutedAt ties
}
