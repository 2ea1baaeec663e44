package domain

import "github.com/shopspring/decimal"

// Holding represents a user's open position in a single symbol.
// A holding with zero quantity is never stored.
type Holding struct {
	OwnerID  string
	Symbol   string
	Quantity int64
	AvgPrice decimal.Decimal // volume-weighted average of buy fills
}

// Clone returns a copy of the holding so callers can mutate it without
// affecting stored state.
func (h *Holding) Clone() *Holding {
	c := *h
	return &c
}
