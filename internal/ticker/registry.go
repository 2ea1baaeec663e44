// Package ticker streams periodic price, volume and change snapshots for a
// symbol. State is shared per symbol across every subscriber through a
// Registry, and each subscription runs its own Session loop.
package ticker

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Simulated volume bounds.
const (
	initialVolumeMin = 10000
	initialVolumeMax = 50000
	volumeStepMin    = -200
	volumeStepMax    = 300
)

var hundred = decimal.NewFromInt(100)

// PriceFeed supplies the current price of a symbol. It must not fail;
// pricing.Oracle satisfies it.
type PriceFeed interface {
	GetPrice(ctx context.Context, symbol string) decimal.Decimal
}

// Snapshot is one streamed observation.
type Snapshot struct {
	Symbol        string
	Price         decimal.Decimal
	Volume        int64
	ChangePercent decimal.Decimal
}

// symbolState is the mutable state of one symbol. mu guards reference and
// volume; ready flips once after the first initialization.
type symbolState struct {
	mu        sync.Mutex
	ready     atomic.Bool
	reference decimal.Decimal
	volume    int64
}

// Registry owns the per-symbol state. Entries are created on first use and
// live for the lifetime of the process.
type Registry struct {
	feed PriceFeed

	mu     sync.RWMutex
	states map[string]*symbolState // lowercase symbol → state

	intN func(n int) int // uniform in [0, n)
}

// NewRegistry creates an empty Registry reading prices from feed.
func NewRegistry(feed PriceFeed) *Registry {
	return &Registry{
		feed:   feed,
		states: make(map[string]*symbolState),
		intN:   rand.Intn,
	}
}

func (r *Registry) state(key string) *symbolState {
	r.mu.RLock()
	st, ok := r.states[key]
	r.mu.RUnlock()
	if ok {
		return st
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[key]; ok {
		return st
	}
	st = &symbolState{}
	r.states[key] = st
	return st
}

// Len returns the number of symbols with live state.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}

// Tick advances the symbol's state by one step and returns the resulting
// snapshot. Prices are fetched without holding the symbol lock; the
// read-modify-write of reference and volume happens under it.
func (r *Registry) Tick(ctx context.Context, symbol string) Snapshot {
	key := strings.ToLower(strings.TrimSpace(symbol))
	st := r.state(key)

	var seed decimal.Decimal
	if !st.ready.Load() {
		seed = r.feed.GetPrice(ctx, key)
	}
	current := r.feed.GetPrice(ctx, key)

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.ready.Load() {
		st.reference = seed
		st.volume = int64(initialVolumeMin + r.intN(initialVolumeMax-initialVolumeMin+1))
		st.ready.Store(true)
	}

	change := ChangePercent(current, st.reference)
	st.volume = max(0, st.volume+int64(volumeStepMin+r.intN(volumeStepMax-volumeStepMin+1)))
	st.reference = current

	return Snapshot{
		Symbol:        strings.ToUpper(key),
		Price:         current,
		Volume:        st.volume,
		ChangePercent: change,
	}
}

// ChangePercent returns (current - reference) / reference * 100 rounded to
// two decimal places, or 0 when reference is zero.
func ChangePercent(current, reference decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return current.Sub(reference).Div(reference).Mul(hundred).Round(2)
}
