package handler

import (
	"net/http"
	"strings"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/ticker"
	"github.com/go-chi/chi/v5"
)

// PriceHandler serves one-shot price lookups.
type PriceHandler struct {
	prices ticker.PriceFeed
}

// NewPriceHandler creates a new PriceHandler.
func NewPriceHandler(prices ticker.PriceFeed) *PriceHandler {
	return &PriceHandler{prices: prices}
}

// priceResponse is the JSON response for GET /prices/{symbol}.
type priceResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// GetPrice handles GET /prices/{symbol}. It always answers with a price;
// when the upstream source is down the price is simulated.
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol, err := domain.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	price := h.prices.GetPrice(r.Context(), strings.ToLower(symbol))
	WriteJSON(w, http.StatusOK, priceResponse{
		Symbol: symbol,
		Price:  domain.PriceToFloat(price),
	})
}
