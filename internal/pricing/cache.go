package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Observation is a price actually returned by the upstream source.
type Observation struct {
	Symbol     string
	Price      decimal.Decimal
	ObservedAt time.Time
}

// PriceCache stores the last observed upstream price per symbol. Entries
// never expire. Only real observations are written; simulated prices never
// are.
type PriceCache interface {
	Get(ctx context.Context, symbol string) (Observation, bool, error)
	Set(ctx context.Context, obs Observation) error
}

// Compile-time check to ensure MemoryCache implements PriceCache.
var _ PriceCache = (*MemoryCache)(nil)

// MemoryCache is a process-wide PriceCache keyed by canonical id.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Observation
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]Observation),
	}
}

func (c *MemoryCache) Get(_ context.Context, symbol string) (Observation, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obs, ok := c.entries[canonicalID(symbol)]
	return obs, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, obs Observation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	obs.Symbol = canonicalID(obs.Symbol)
	c.entries[obs.Symbol] = obs
	return nil
}
