package service

import (
	"context"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/store"
)

// PortfolioService serves read-only views of a user's account.
type PortfolioService struct {
	store store.Store
}

// NewPortfolioService creates a new PortfolioService.
func NewPortfolioService(st store.Store) *PortfolioService {
	return &PortfolioService{store: st}
}

// ListHoldings returns the user's open positions ordered by symbol.
func (s *PortfolioService) ListHoldings(ctx context.Context, userID string) ([]*domain.Holding, error) {
	return s.store.ListHoldings(ctx, userID)
}

// ListTradeHistory returns every trade of the user, most recent first.
func (s *PortfolioService) ListTradeHistory(ctx context.Context, userID string) ([]*domain.Trade, error) {
	return s.store.ListTrades(ctx, userID)
}
