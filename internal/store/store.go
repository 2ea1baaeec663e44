package store

import (
	"context"

	"github.com/efreitasn/papertrade/internal/domain"
)

// Tx is the unit of work handed to Store.InTx. It is scoped to a single
// owner. Nothing written through a Tx is visible to other callers until the
// function passed to InTx returns nil; a non-nil return discards every write.
type Tx interface {
	// GetHolding returns a copy of the owner's holding for symbol, or
	// domain.ErrHoldingNotFound.
	GetHolding(symbol string) (*domain.Holding, error)
	// PutHolding creates or replaces the owner's holding for h.Symbol.
	PutHolding(h *domain.Holding) error
	// DeleteHolding removes the owner's holding for symbol.
	DeleteHolding(symbol string) error
	// AppendTrade inserts an immutable trade record. The store assigns the
	// record's insertion sequence.
	AppendTrade(t *domain.Trade) error
}

// Store is the persistent record store behind the ledger and the account
// endpoints. Implementations serialize InTx calls per owner.
type Store interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	// DeleteUser removes the user together with every holding and trade
	// record it owns.
	DeleteUser(ctx context.Context, id string) error

	// InTx runs fn atomically for an existing owner. It returns
	// domain.ErrUserNotFound without calling fn otherwise.
	InTx(ctx context.Context, ownerID string, fn func(tx Tx) error) error

	// ListHoldings returns the owner's holdings ordered by symbol.
	ListHoldings(ctx context.Context, ownerID string) ([]*domain.Holding, error)
	// ListTrades returns the owner's trades, most recent first.
	ListTrades(ctx context.Context, ownerID string) ([]*domain.Trade, error)
}
