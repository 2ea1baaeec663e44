// Package pricing produces best-effort spot prices. The Oracle asks an
// external Source first and, when that fails, simulates a price around the
// last real observation (or a static baseline) so callers always get a
// usable number.
package pricing

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/metrics"
	"github.com/shopspring/decimal"
)

// maxDrift bounds the simulated perturbation to ±5% of the base price.
const maxDrift = 0.05

// Oracle returns a price for any symbol. It never fails.
type Oracle struct {
	source  Source
	cache   PriceCache
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	jitter func() float64 // uniform in [0, 1)
	now    func() time.Time
}

// NewOracle creates an Oracle. timeout bounds each upstream fetch.
func NewOracle(source Source, cache PriceCache, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Oracle {
	return &Oracle{
		source:  source,
		cache:   cache,
		timeout: timeout,
		logger:  logger,
		metrics: m,
		jitter:  rand.Float64,
		now:     time.Now,
	}
}

// GetPrice fetches the upstream price for symbol and records it in the
// cache. On any upstream failure it returns a simulated price within ±5% of
// the cached observation, the fallback table entry, or 100, rounded to two
// decimal places. Simulated prices are not cached.
func (o *Oracle) GetPrice(ctx context.Context, symbol string) decimal.Decimal {
	fetchCtx, cancel := context.WithTimeout(ctx, o.timeout)
	price, err := o.source.Fetch(fetchCtx, symbol)
	cancel()

	if err == nil {
		obs := Observation{Symbol: symbol, Price: price, ObservedAt: o.now()}
		if err := o.cache.Set(ctx, obs); err != nil {
			o.logger.Warn("price cache write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
		o.metrics.PriceFetch(metrics.PriceFetchOK)
		return price
	}

	o.logger.Debug("price source unavailable, simulating",
		slog.String("symbol", symbol),
		slog.String("error", err.Error()),
	)
	o.metrics.PriceFetch(metrics.PriceFetchFallback)
	return o.simulate(o.basePrice(ctx, symbol))
}

// basePrice returns the anchor for a simulated price.
func (o *Oracle) basePrice(ctx context.Context, symbol string) decimal.Decimal {
	obs, ok, err := o.cache.Get(ctx, symbol)
	if err != nil {
		o.logger.Warn("price cache read failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
	if err == nil && ok {
		return obs.Price
	}
	return FallbackPrice(symbol)
}

// simulate applies a uniform perturbation in [-5%, +5%) to base.
func (o *Oracle) simulate(base decimal.Decimal) decimal.Decimal {
	drift := (o.jitter()*2 - 1) * maxDrift
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(drift))
	return domain.RoundPrice(base.Mul(factor))
}
