package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/google/btree"
)

// Compile-time check to ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// tradeLess orders trades by executed_at ascending, then by insertion
// sequence, so Descend yields the most recent trade first.
func tradeLess(a, b *domain.Trade) bool {
	if !a.ExecutedAt.Equal(b.ExecutedAt) {
		return a.ExecutedAt.Before(b.ExecutedAt)
	}
	return a.Seq < b.Seq
}

// account holds one owner's ledger state. mu is held for the whole of an
// InTx call, which serializes trade execution per owner.
type account struct {
	mu       sync.Mutex
	deleted  bool
	holdings map[string]*domain.Holding // symbol → holding
	trades   *btree.BTreeG[*domain.Trade]
}

func newAccount() *account {
	const degree = 32
	return &account{
		holdings: make(map[string]*domain.Holding),
		trades:   btree.NewG[*domain.Trade](degree, tradeLess),
	}
}

// MemoryStore is a thread-safe in-memory Store. Users are indexed by ID
// and by lowercase email; ledger state is kept per owner.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*domain.User
	byEmail  map[string]string   // lowercase email → user ID
	accounts map[string]*account // owner ID → account
	seq      atomic.Uint64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*domain.User),
		byEmail:  make(map[string]string),
		accounts: make(map[string]*account),
	}
}

// CreateUser adds a user. It returns domain.ErrEmailAlreadyRegistered if
// the email (case-insensitive) is taken.
func (s *MemoryStore) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(u.Email)
	if _, exists := s.byEmail[key]; exists {
		return domain.ErrEmailAlreadyRegistered
	}
	c := *u
	s.users[u.ID] = &c
	s.byEmail[key] = u.ID
	return nil
}

// GetUser retrieves a user by ID. It returns domain.ErrUserNotFound if the
// user does not exist.
func (s *MemoryStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

// GetUserByEmail retrieves a user by email, ignoring case.
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	c := *s.users[id]
	return &c, nil
}

// DeleteUser removes the user and its account. An in-flight InTx for the
// owner finishes before the account is dropped.
func (s *MemoryStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	if acc, ok := s.accounts[id]; ok {
		acc.mu.Lock()
		acc.deleted = true
		acc.holdings = make(map[string]*domain.Holding)
		acc.trades.Clear(false)
		acc.mu.Unlock()
		delete(s.accounts, id)
	}
	delete(s.byEmail, strings.ToLower(u.Email))
	delete(s.users, id)
	return nil
}

// getOrCreateAccount returns the owner's account, creating it if needed.
// It returns domain.ErrUserNotFound when the owner does not exist.
func (s *MemoryStore) getOrCreateAccount(ownerID string) (*account, error) {
	s.mu.RLock()
	acc, ok := s.accounts[ownerID]
	s.mu.RUnlock()
	if ok {
		return acc, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[ownerID]; ok {
		return acc, nil
	}
	if _, ok := s.users[ownerID]; !ok {
		return nil, domain.ErrUserNotFound
	}
	acc = newAccount()
	s.accounts[ownerID] = acc
	return acc, nil
}

func (s *MemoryStore) getAccount(ownerID string) (*account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[ownerID]
	return acc, ok
}

// InTx runs fn against a staged view of the owner's account. Writes are
// applied only when fn returns nil. It returns domain.ErrUserNotFound if the
// owner does not exist or is deleted before the transaction starts.
func (s *MemoryStore) InTx(ctx context.Context, ownerID string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	acc, err := s.getOrCreateAccount(ownerID)
	if err != nil {
		return err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	// DeleteUser may have dropped the account while we waited for the lock.
	if acc.deleted {
		return domain.ErrUserNotFound
	}

	tx := &memoryTx{
		ownerID: ownerID,
		acc:     acc,
		staged:  make(map[string]*domain.Holding),
	}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit.
	for symbol, h := range tx.staged {
		if h == nil {
			delete(acc.holdings, symbol)
			continue
		}
		acc.holdings[symbol] = h
	}
	for _, t := range tx.trades {
		t.Seq = s.seq.Add(1)
		acc.trades.ReplaceOrInsert(t)
	}
	return nil
}

// ListHoldings returns copies of the owner's holdings ordered by symbol.
func (s *MemoryStore) ListHoldings(_ context.Context, ownerID string) ([]*domain.Holding, error) {
	acc, ok := s.getAccount(ownerID)
	if !ok {
		return []*domain.Holding{}, nil
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	result := make([]*domain.Holding, 0, len(acc.holdings))
	for _, h := range acc.holdings {
		result = append(result, h.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})
	return result, nil
}

// ListTrades returns copies of the owner's trades, most recent first.
func (s *MemoryStore) ListTrades(_ context.Context, ownerID string) ([]*domain.Trade, error) {
	acc, ok := s.getAccount(ownerID)
	if !ok {
		return []*domain.Trade{}, nil
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()

	result := make([]*domain.Trade, 0, acc.trades.Len())
	acc.trades.Descend(func(t *domain.Trade) bool {
		c := *t
		result = append(result, &c)
		return true
	})
	return result, nil
}

// memoryTx stages holding writes (nil marks a deletion) and appended trades
// until commit.
type memoryTx struct {
	ownerID string
	acc     *account
	staged  map[string]*domain.Holding
	trades  []*domain.Trade
}

func (tx *memoryTx) GetHolding(symbol string) (*domain.Holding, error) {
	if h, ok := tx.staged[symbol]; ok {
		if h == nil {
			return nil, domain.ErrHoldingNotFound
		}
		return h.Clone(), nil
	}
	h, ok := tx.acc.holdings[symbol]
	if !ok {
		return nil, domain.ErrHoldingNotFound
	}
	return h.Clone(), nil
}

func (tx *memoryTx) PutHolding(h *domain.Holding) error {
	c := h.Clone()
	c.OwnerID = tx.ownerID
	tx.staged[h.Symbol] = c
	return nil
}

func (tx *memoryTx) DeleteHolding(symbol string) error {
	tx.staged[symbol] = nil
	return nil
}

func (tx *memoryTx) AppendTrade(t *domain.Trade) error {
	c := *t
	c.OwnerID = tx.ownerID
	tx.trades = append(tx.trades, &c)
	return nil
}
