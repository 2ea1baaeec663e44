package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/service"
)

// TradeHandler handles HTTP requests for trade execution and portfolio
// queries.
type TradeHandler struct {
	ledgerSvc    *service.LedgerService
	portfolioSvc *service.PortfolioService
	logger       *slog.Logger
}

// NewTradeHandler creates a new TradeHandler.
func NewTradeHandler(ledgerSvc *service.LedgerService, portfolioSvc *service.PortfolioService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		ledgerSvc:    ledgerSvc,
		portfolioSvc: portfolioSvc,
		logger:       logger,
	}
}

// tradeRequest is the JSON request body for POST /trade.
type tradeRequest struct {
	Symbol    string  `json:"symbol"`
	TradeType string  `json:"trade_type"`
	Quantity  int64   `json:"quantity"`
	Price     float64 `json:"price"`
}

// tradeResponse is the JSON representation of a trade record.
type tradeResponse struct {
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	TradeType string  `json:"trade_type"`
	Quantity  int64   `json:"quantity"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// executeTradeResponse is the JSON response for POST /trade.
type executeTradeResponse struct {
	Message string        `json:"message"`
	Trade   tradeResponse `json:"trade"`
}

// holdingResponse is a single position in GET /portfolio.
type holdingResponse struct {
	Symbol   string  `json:"symbol"`
	Quantity int64   `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}

func toTradeResponse(t *domain.Trade) tradeResponse {
	return tradeResponse{
		ID:        t.TradeID,
		Symbol:    t.Symbol,
		TradeType: string(t.Side),
		Quantity:  t.Quantity,
		Price:     domain.PriceToFloat(t.Price),
		Timestamp: formatTime(t.ExecutedAt),
	}
}

// ExecuteTrade handles POST /trade.
func (h *TradeHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := ParseJSON(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	u := userFromContext(r.Context())
	trade, err := h.ledgerSvc.ExecuteTrade(r.Context(), service.ExecuteTradeRequest{
		OwnerID:   u.ID,
		Symbol:    req.Symbol,
		TradeType: req.TradeType,
		Quantity:  req.Quantity,
		Price:     req.Price,
	})
	if err != nil {
		h.mapTradeError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, executeTradeResponse{
		Message: string(trade.Side) + " executed successfully",
		Trade:   toTradeResponse(trade),
	})
}

// Portfolio handles GET /portfolio.
func (h *TradeHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	holdings, err := h.portfolioSvc.ListHoldings(r.Context(), u.ID)
	if err != nil {
		writeInternalError(w, h.logger, err)
		return
	}

	resp := make([]holdingResponse, len(holdings))
	for i, hd := range holdings {
		resp[i] = holdingResponse{
			Symbol:   hd.Symbol,
			Quantity: hd.Quantity,
			AvgPrice: domain.PriceToFloat(hd.AvgPrice),
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// TradeHistory handles GET /trade-history. Trades are listed newest first.
func (h *TradeHandler) TradeHistory(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	trades, err := h.portfolioSvc.ListTradeHistory(r.Context(), u.ID)
	if err != nil {
		writeInternalError(w, h.logger, err)
		return
	}

	resp := make([]tradeResponse, len(trades))
	for i, t := range trades {
		resp[i] = toTradeResponse(t)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *TradeHandler) mapTradeError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrInsufficientShares):
		WriteError(w, http.StatusBadRequest, "insufficient_shares", "Not enough shares to sell")
	case errors.Is(err, domain.ErrInvalidTradeType):
		WriteError(w, http.StatusBadRequest, "invalid_trade_type", "trade_type must be BUY or SELL")
	case errors.Is(err, domain.ErrUserNotFound):
		// The account was deleted after the token was verified.
		WriteUnauthorized(w, "Could not validate credentials")
	default:
		writeInternalError(w, h.logger, err)
	}
}
