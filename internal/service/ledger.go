package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/events"
	"github.com/efreitasn/papertrade/internal/metrics"
	"github.com/efreitasn/papertrade/internal/store"
	"github.com/google/uuid"
)

const defaultPublishTimeout = 5 * time.Second

// Rejection reasons recorded in trades_rejected_total.
const (
	rejectValidation   = "validation"
	rejectTradeType    = "invalid_trade_type"
	rejectInsufficient = "insufficient_shares"
	rejectInternal     = "internal"
)

// ExecuteTradeRequest represents the input for trade execution.
type ExecuteTradeRequest struct {
	OwnerID   string
	Symbol    string
	TradeType string
	Quantity  int64
	Price     float64
}

// LedgerService applies trades to holdings and records them.
type LedgerService struct {
	store     store.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	publishTimeout time.Duration
	pending        sync.WaitGroup
	now            func() time.Time
}

// NewLedgerService creates a new LedgerService. publisher may be events.Nop.
func NewLedgerService(st store.Store, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		store:          st,
		publisher:      publisher,
		metrics:        m,
		logger:         logger,
		publishTimeout: defaultPublishTimeout,
		now:            time.Now,
	}
}

// ExecuteTrade validates req and applies it atomically: the holding update
// and the trade record are committed together or not at all.
//
// BUY adds to (or opens) the holding and moves its average price to the
// volume-weighted average of all buys. SELL reduces the quantity and leaves
// the average untouched; selling the whole position removes it. Selling
// more than is held returns domain.ErrInsufficientShares.
func (s *LedgerService) ExecuteTrade(ctx context.Context, req ExecuteTradeRequest) (*domain.Trade, error) {
	trade, err := s.newTrade(req)
	if err != nil {
		s.reject(err)
		return nil, err
	}

	err = s.store.InTx(ctx, req.OwnerID, func(tx store.Tx) error {
		if err := applyTrade(tx, trade); err != nil {
			return err
		}
		return tx.AppendTrade(trade)
	})
	if err != nil {
		s.reject(err)
		return nil, err
	}

	s.metrics.TradeExecuted(string(trade.Side))
	s.publish(trade)
	return trade, nil
}

// newTrade validates the request and builds the trade record.
func (s *LedgerService) newTrade(req ExecuteTradeRequest) (*domain.Trade, error) {
	symbol, err := domain.NormalizeSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}

	side, err := domain.ParseTradeSide(req.TradeType)
	if err != nil {
		return nil, err
	}

	if req.Quantity <= 0 {
		return nil, &domain.ValidationError{Message: "quantity must be a positive integer"}
	}

	price, err := domain.PriceFromFloat(req.Price)
	if err != nil {
		return nil, &domain.ValidationError{Message: err.Error()}
	}
	if !price.IsPositive() {
		return nil, &domain.ValidationError{Message: "price must be greater than 0"}
	}

	return &domain.Trade{
		TradeID:    uuid.New().String(),
		OwnerID:    req.OwnerID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   req.Quantity,
		Price:      price,
		ExecutedAt: s.now().UTC(),
	}, nil
}

func applyTrade(tx store.Tx, t *domain.Trade) error {
	h, err := tx.GetHolding(t.Symbol)
	if err != nil && !errors.Is(err, domain.ErrHoldingNotFound) {
		return err
	}

	switch t.Side {
	case domain.TradeSideBuy:
		if h == nil {
			return tx.PutHolding(&domain.Holding{
				OwnerID:  t.OwnerID,
				Symbol:   t.Symbol,
				Quantity: t.Quantity,
				AvgPrice: t.Price,
			})
		}
		if h.Quantity > math.MaxInt64-t.Quantity {
			return &domain.ValidationError{Message: "quantity would exceed the maximum holding size"}
		}
		h.AvgPrice = domain.WeightedAverage(h.Quantity, h.AvgPrice, t.Quantity, t.Price)
		h.Quantity += t.Quantity
		return tx.PutHolding(h)

	case domain.TradeSideSell:
		if h == nil || h.Quantity < t.Quantity {
			return domain.ErrInsufficientShares
		}
		h.Quantity -= t.Quantity
		if h.Quantity == 0 {
			return tx.DeleteHolding(t.Symbol)
		}
		return tx.PutHolding(h)
	}
	return domain.ErrInvalidTradeType
}

func (s *LedgerService) reject(err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		s.metrics.TradeRejected(rejectValidation)
	case errors.Is(err, domain.ErrInvalidTradeType):
		s.metrics.TradeRejected(rejectTradeType)
	case errors.Is(err, domain.ErrInsufficientShares):
		s.metrics.TradeRejected(rejectInsufficient)
	default:
		s.metrics.TradeRejected(rejectInternal)
	}
}

// publish emits the trade.executed event in the background. Delivery
// failures are logged and never affect the committed trade.
func (s *LedgerService) publish(t *domain.Trade) {
	ev := events.NewTradeEvent(t)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
		defer cancel()
		if err := s.publisher.PublishTrade(ctx, ev); err != nil {
			s.logger.Warn("trade event publish failed",
				slog.String("trade_id", t.TradeID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until every in-flight event publication has finished.
func (s *LedgerService) Wait() {
	s.pending.Wait()
}
