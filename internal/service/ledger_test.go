package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/events"
	"github.com/efreitasn/papertrade/internal/metrics"
	"github.com/efreitasn/papertrade/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

const testOwner = "owner-1"

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TradeEvent
	err    error
}

func (p *recordingPublisher) PublishTrade(_ context.Context, ev events.TradeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []events.TradeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.TradeEvent(nil), p.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newOwnerStore returns a MemoryStore holding the test owner's account.
func newOwnerStore() *store.MemoryStore {
	st := store.NewMemoryStore()
	err := st.CreateUser(context.Background(), &domain.User{
		ID:           testOwner,
		Email:        "owner@example.com",
		PasswordHash: "hash",
		CreatedAt:    time.Now(),
	})
	if err != nil {
		panic(err)
	}
	return st
}

func newTestLedger() (*LedgerService, *store.MemoryStore, *recordingPublisher) {
	st := newOwnerStore()
	pub := &recordingPublisher{}
	return NewLedgerService(st, pub, nil, discardLogger()), st, pub
}

func trade(symbol, side string, qty int64, price float64) ExecuteTradeRequest {
	return ExecuteTradeRequest{
		OwnerID:   testOwner,
		Symbol:    symbol,
		TradeType: side,
		Quantity:  qty,
		Price:     price,
	}
}

func mustHolding(t *testing.T, st store.Store, symbol string) *domain.Holding {
	t.Helper()
	holdings, err := st.ListHoldings(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("ListHoldings: %v", err)
	}
	for _, h := range holdings {
		if h.Symbol == symbol {
			return h
		}
	}
	t.Fatalf("no holding for %s", symbol)
	return nil
}

func assertNoHolding(t *testing.T, st store.Store, symbol string) {
	t.Helper()
	holdings, err := st.ListHoldings(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("ListHoldings: %v", err)
	}
	for _, h := range holdings {
		if h.Symbol == symbol {
			t.Fatalf("expected no holding for %s, got qty=%d", symbol, h.Quantity)
		}
	}
}

func assertDecimal(t *testing.T, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestExecuteTrade_WorkedExample(t *testing.T) {
	svc, st, _ := newTestLedger()
	ctx := context.Background()

	if _, err := svc.ExecuteTrade(ctx, trade("AAPL", "BUY", 10, 100)); err != nil {
		t.Fatalf("buy 10@100: %v", err)
	}
	h := mustHolding(t, st, "AAPL")
	if h.Quantity != 10 {
		t.Errorf("got quantity %d, want 10", h.Quantity)
	}
	assertDecimal(t, h.AvgPrice, "100")

	if _, err := svc.ExecuteTrade(ctx, trade("AAPL", "BUY", 10, 200)); err != nil {
		t.Fatalf("buy 10@200: %v", err)
	}
	h = mustHolding(t, st, "AAPL")
	if h.Quantity != 20 {
		t.Errorf("got quantity %d, want 20", h.Quantity)
	}
	assertDecimal(t, h.AvgPrice, "150")

	_, err := svc.ExecuteTrade(ctx, trade("AAPL", "SELL", 25, 180))
	if !errors.Is(err, domain.ErrInsufficientShares) {
		t.Fatalf("sell 25: got %v, want ErrInsufficientShares", err)
	}
	h = mustHolding(t, st, "AAPL")
	if h.Quantity != 20 {
		t.Errorf("after rejected sell: got quantity %d, want 20", h.Quantity)
	}
	assertDecimal(t, h.AvgPrice, "150")

	if _, err := svc.ExecuteTrade(ctx, trade("AAPL", "SELL", 20, 180)); err != nil {
		t.Fatalf("sell 20: %v", err)
	}
	assertNoHolding(t, st, "AAPL")

	trades, err := st.ListTrades(ctx, testOwner)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("got %d trades, want 3", len(trades))
	}
	wantSides := []domain.TradeSide{domain.TradeSideSell, domain.TradeSideBuy, domain.TradeSideBuy}
	for i, tr := range trades {
		if tr.Side != wantSides[i] {
			t.Errorf("trade %d: got side %s, want %s", i, tr.Side, wantSides[i])
		}
	}
}

func TestExecuteTrade_NormalizesInput(t *testing.T) {
	svc, st, _ := newTestLedger()

	tr, err := svc.ExecuteTrade(context.Background(), trade("  msft ", " buy", 3, 12.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Symbol != "MSFT" {
		t.Errorf("got symbol %q, want MSFT", tr.Symbol)
	}
	if tr.Side != domain.TradeSideBuy {
		t.Errorf("got side %q, want BUY", tr.Side)
	}
	if tr.TradeID == "" {
		t.Error("expected a trade id")
	}
	if tr.ExecutedAt.Location() != time.UTC {
		t.Errorf("expected UTC executed_at, got %v", tr.ExecutedAt.Location())
	}
	assertDecimal(t, tr.Price, "12.5")
	mustHolding(t, st, "MSFT")
}

func TestExecuteTrade_SellWithoutHolding(t *testing.T) {
	svc, st, _ := newTestLedger()

	_, err := svc.ExecuteTrade(context.Background(), trade("TSLA", "SELL", 1, 10))
	if !errors.Is(err, domain.ErrInsufficientShares) {
		t.Fatalf("got %v, want ErrInsufficientShares", err)
	}
	trades, _ := st.ListTrades(context.Background(), testOwner)
	if len(trades) != 0 {
		t.Errorf("got %d trades, want 0", len(trades))
	}
}

func TestExecuteTrade_PartialSellKeepsAverage(t *testing.T) {
	svc, st, _ := newTestLedger()
	ctx := context.Background()

	mustExecute(t, svc, trade("NVDA", "BUY", 3, 10))
	mustExecute(t, svc, trade("NVDA", "BUY", 1, 20))
	mustExecute(t, svc, trade("NVDA", "SELL", 2, 1000))

	h := mustHolding(t, st, "NVDA")
	if h.Quantity != 2 {
		t.Errorf("got quantity %d, want 2", h.Quantity)
	}
	assertDecimal(t, h.AvgPrice, "12.5")

	trades, _ := st.ListTrades(ctx, testOwner)
	if len(trades) != 3 {
		t.Errorf("got %d trades, want 3", len(trades))
	}
}

func TestExecuteTrade_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     ExecuteTradeRequest
		wantErr error
	}{
		{"invalid side", trade("AAPL", "HOLD", 1, 10), domain.ErrInvalidTradeType},
		{"empty side", trade("AAPL", "", 1, 10), domain.ErrInvalidTradeType},
		{"zero quantity", trade("AAPL", "BUY", 0, 10), nil},
		{"negative quantity", trade("AAPL", "BUY", -1, 10), nil},
		{"zero price", trade("AAPL", "BUY", 1, 0), nil},
		{"negative price", trade("AAPL", "SELL", 1, -5), nil},
		{"empty symbol", trade("  ", "BUY", 1, 10), nil},
		{"bad symbol", trade("AA PL", "BUY", 1, 10), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, pub := newTestLedger()

			_, err := svc.ExecuteTrade(context.Background(), tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got %v, want %v", err, tt.wantErr)
				}
			} else {
				var ve *domain.ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("got %v, want ValidationError", err)
				}
			}

			trades, _ := st.ListTrades(context.Background(), testOwner)
			if len(trades) != 0 {
				t.Errorf("got %d trades, want 0", len(trades))
			}
			svc.Wait()
			if n := len(pub.published()); n != 0 {
				t.Errorf("got %d events, want 0", n)
			}
		})
	}
}

func TestExecuteTrade_PublishesEvent(t *testing.T) {
	svc, _, pub := newTestLedger()

	tr := mustExecute(t, svc, trade("AAPL", "buy", 2, 99.5))
	svc.Wait()

	evs := pub.published()
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	if evs[0].Event != events.TradeExecuted {
		t.Errorf("got event %q, want %q", evs[0].Event, events.TradeExecuted)
	}
	if evs[0].Data.TradeID != tr.TradeID {
		t.Errorf("got trade id %q, want %q", evs[0].Data.TradeID, tr.TradeID)
	}
	if evs[0].Data.Side != "BUY" {
		t.Errorf("got side %q, want BUY", evs[0].Data.Side)
	}
}

func TestExecuteTrade_PublishFailureDoesNotFailTrade(t *testing.T) {
	st := newOwnerStore()
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := NewLedgerService(st, pub, nil, discardLogger())

	if _, err := svc.ExecuteTrade(context.Background(), trade("AAPL", "BUY", 1, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc.Wait()
	mustHolding(t, st, "AAPL")
}

func TestExecuteTrade_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := NewLedgerService(newOwnerStore(), events.Nop{}, m, discardLogger())
	ctx := context.Background()

	mustExecute(t, svc, trade("AAPL", "BUY", 5, 10))
	mustExecute(t, svc, trade("AAPL", "SELL", 1, 10))
	_, _ = svc.ExecuteTrade(ctx, trade("AAPL", "SELL", 100, 10))
	_, _ = svc.ExecuteTrade(ctx, trade("AAPL", "SWAP", 1, 10))
	_, _ = svc.ExecuteTrade(ctx, trade("AAPL", "BUY", 0, 10))

	checks := []struct {
		vec   *prometheus.CounterVec
		label string
		want  float64
	}{
		{m.TradesExecuted, "BUY", 1},
		{m.TradesExecuted, "SELL", 1},
		{m.TradesRejected, rejectInsufficient, 1},
		{m.TradesRejected, rejectTradeType, 1},
		{m.TradesRejected, rejectValidation, 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.vec.WithLabelValues(c.label)); got != c.want {
			t.Errorf("%s: got %v, want %v", c.label, got, c.want)
		}
	}
}

func TestExecuteTrade_CancelledContext(t *testing.T) {
	svc, st, _ := newTestLedger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.ExecuteTrade(ctx, trade("AAPL", "BUY", 1, 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	assertNoHolding(t, st, "AAPL")
}

func TestExecuteTrade_ConcurrentBuysAndSells(t *testing.T) {
	svc, st, _ := newTestLedger()
	mustExecute(t, svc, trade("AAPL", "BUY", 100, 10))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.ExecuteTrade(context.Background(), trade("AAPL", "BUY", 1, 10))
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.ExecuteTrade(context.Background(), trade("AAPL", "SELL", 1, 10))
		}()
	}
	wg.Wait()

	h := mustHolding(t, st, "AAPL")
	if h.Quantity != 100 {
		t.Errorf("got quantity %d, want 100", h.Quantity)
	}
	assertDecimal(t, h.AvgPrice, "10")

	trades, _ := st.ListTrades(context.Background(), testOwner)
	if len(trades) != 101 {
		t.Errorf("got %d trades, want 101", len(trades))
	}
}

func mustExecute(t *testing.T, svc *LedgerService, req ExecuteTradeRequest) *domain.Trade {
	t.Helper()
	tr, err := svc.ExecuteTrade(context.Background(), req)
	if err != nil {
		t.Fatalf("ExecuteTrade(%+v): %v", req, err)
	}
	return tr
}

func TestExecuteTrade_BuyOverflowRejected(t *testing.T) {
	svc, st, pub := newTestLedger()
	ctx := context.Background()

	mustExecute(t, svc, trade("AAPL", "BUY", math.MaxInt64, 1))

	_, err := svc.ExecuteTrade(ctx, trade("AAPL", "BUY", 1, 1))
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want ValidationError", err)
	}

	h := mustHolding(t, st, "AAPL")
	if h.Quantity != math.MaxInt64 {
		t.Errorf("got quantity %d, want %d", h.Quantity, int64(math.MaxInt64))
	}
	assertDecimal(t, h.AvgPrice, "1")

	trades, _ := st.ListTrades(ctx, testOwner)
	if len(trades) != 1 {
		t.Errorf("got %d trades, want 1", len(trades))
	}
	svc.Wait()
	if got := len(pub.published()); got != 1 {
		t.Errorf("got %d events, want 1", got)
	}
}

func TestExecuteTrade_DeletedOwner(t *testing.T) {
	svc, st, pub := newTestLedger()
	ctx := context.Background()

	mustExecute(t, svc, trade("AAPL", "BUY", 1, 10))
	if err := st.DeleteUser(ctx, testOwner); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	_, err := svc.ExecuteTrade(ctx, trade("AAPL", "BUY", 10, 100))
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("got %v, want ErrUserNotFound", err)
	}
	assertNoHolding(t, st, "AAPL")
	trades, _ := st.ListTrades(ctx, testOwner)
	if len(trades) != 0 {
		t.Errorf("got %d trades, want 0", len(trades))
	}
	svc.Wait()
	if got := len(pub.published()); got != 1 {
		t.Errorf("got %d events, want 1", got)
	}
}
