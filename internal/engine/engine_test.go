package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/locks"
	"fxCopyDesk/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// memStore is an in-memory stand-in for the sqlite repository. It implements
// the account, trade and ledger repositories plus UnitOfWork; InTx simply runs
// the function since there is no real transaction to join.
type memStore struct {
	mu       sync.Mutex
	accounts map[int64]*domain.TradingAccount
	trades   map[int64]*domain.Trade
	ledger   []*domain.CreditLedgerEntry
	nextID   int64

	// panicOnCreate makes the next CreateTrade panic, simulating a storage
	// fault mid-operation.
	panicOnCreate bool
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[int64]*domain.TradingAccount),
		trades:   make(map[int64]*domain.Trade),
	}
}

func (s *memStore) putAccount(a *domain.TradingAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
}

func (s *memStore) FindAccountByID(ctx context.Context, id int64) (*domain.TradingAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) UpdateAccount(ctx context.Context, acct *domain.TradingAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acct.ID]; !ok {
		return ports.ErrNotFound
	}
	cp := *acct
	s.accounts[acct.ID] = &cp
	return nil
}

func (s *memStore) AccountIDsWithOpenTrades(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, t := range s.trades {
		if t.Status == domain.StatusOpen && !seen[t.AccountID] {
			seen[t.AccountID] = true
			ids = append(ids, t.AccountID)
		}
	}
	return ids, nil
}

func (s *memStore) CreateTrade(ctx context.Context, t *domain.Trade) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOnCreate {
		s.panicOnCreate = false
		panic("storage fault")
	}
	s.nextID++
	t.ID = s.nextID
	cp := *t
	s.trades[t.ID] = &cp
	return t.ID, nil
}

func (s *memStore) UpdateTrade(ctx context.Context, t *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[t.ID]; !ok {
		return ports.ErrNotFound
	}
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *memStore) FindTradeByID(ctx context.Context, id int64) (*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) FindOpenByAccount(ctx context.Context, accountID int64) ([]*domain.Trade, error) {
	return s.filter(func(t *domain.Trade) bool {
		return t.AccountID == accountID && t.Status == domain.StatusOpen
	}), nil
}

func (s *memStore) FindPendingBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	return s.filter(func(t *domain.Trade) bool {
		return t.Symbol == symbol && t.Status == domain.StatusPending
	}), nil
}

func (s *memStore) FindPendingByAccount(ctx context.Context, accountID int64) ([]*domain.Trade, error) {
	return s.filter(func(t *domain.Trade) bool {
		return t.AccountID == accountID && t.Status == domain.StatusPending
	}), nil
}

func (s *memStore) CountActiveByAccount(ctx context.Context, accountID int64) (int, error) {
	return len(s.filter(func(t *domain.Trade) bool {
		return t.AccountID == accountID && !t.Status.IsTerminal()
	})), nil
}

func (s *memStore) ActiveSymbols(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var symbols []string
	for _, t := range s.trades {
		if !t.Status.IsTerminal() && !seen[t.Symbol] {
			seen[t.Symbol] = true
			symbols = append(symbols, t.Symbol)
		}
	}
	return symbols, nil
}

func (s *memStore) filter(keep func(*domain.Trade) bool) []*domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Trade
	for _, t := range s.trades {
		if keep(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

func (s *memStore) AppendEntry(ctx context.Context, e *domain.CreditLedgerEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	cp := *e
	s.ledger = append(s.ledger, &cp)
	return e.ID, nil
}

func (s *memStore) FindEntriesByAccount(ctx context.Context, accountID int64) ([]*domain.CreditLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CreditLedgerEntry
	for _, e := range s.ledger {
		if e.AccountID == accountID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) LedgerAccountIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, e := range s.ledger {
		if !seen[e.AccountID] {
			seen[e.AccountID] = true
			ids = append(ids, e.AccountID)
		}
	}
	return ids, nil
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// stubQuotes serves fixed quotes per symbol.
type stubQuotes struct {
	mu     sync.Mutex
	quotes map[string]*domain.Quote
}

func newStubQuotes() *stubQuotes {
	return &stubQuotes{quotes: make(map[string]*domain.Quote)}
}

func (s *stubQuotes) set(symbol string, bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = &domain.Quote{Symbol: symbol, Bid: bid, Ask: ask}
}

func (s *stubQuotes) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote for %s: %w", symbol, ports.ErrQuoteUnavailable)
	}
	cp := *q
	return &cp, nil
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *memStore, *stubQuotes) {
	t.Helper()
	store := newMemStore()
	quotes := newStubQuotes()
	eng, err := New(cfg, &mockLogger{}, quotes, store, store, store, store, locks.NewAccountLocker())
	require.NoError(t, err)
	return eng, store, quotes
}

func activeAccount(store *memStore, id int64, balance, credit float64) *domain.TradingAccount {
	acct := &domain.TradingAccount{
		ID:       id,
		Balance:  balance,
		Credit:   credit,
		Leverage: 100,
		Status:   domain.AccountActive,
	}
	store.putAccount(acct)
	return acct
}

func TestOpenTrade_Market(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{OpenCommissionPerLot: 10})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)
	quotes.set("BTCUSDT", 40000, 40010)

	trade, err := eng.OpenTrade(ctx, OpenRequest{
		AccountID: 1,
		Symbol:    "BTCUSDT",
		Side:      domain.Buy,
		Quantity:  0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, trade.Status)
	assert.Equal(t, 40010.0, trade.OpenPrice)
	assert.Equal(t, 200.05, trade.MarginUsed) // 0.5 * 1 * 40010 / 100
	assert.Equal(t, 5.0, trade.Commission)
	assert.False(t, trade.OpenTime.IsZero())

	// Commission is charged at open for a non-copy market order.
	acct, err := store.FindAccountByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 9995.0, acct.Balance)
}

func TestOpenTrade_Validation(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)
	quotes.set("BTCUSDT", 40000, 40010)

	tests := []struct {
		name string
		req  OpenRequest
	}{
		{"missing account", OpenRequest{Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1}},
		{"missing symbol", OpenRequest{AccountID: 1, Side: domain.Buy, Quantity: 0.1}},
		{"bad side", OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: "LONG", Quantity: 0.1}},
		{"below min lot", OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.001}},
		{"pending without trigger", OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, OrderType: domain.BuyLimit, Quantity: 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.OpenTrade(ctx, tt.req)
			assert.ErrorIs(t, err, ports.ErrValidation)
		})
	}
}

func TestOpenTrade_AccountChecks(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{})
	ctx := context.Background()
	quotes.set("BTCUSDT", 40000, 40010)

	req := OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1}

	store.putAccount(&domain.TradingAccount{ID: 1, Balance: 10000, Leverage: 100, Status: domain.AccountSuspended})
	_, err := eng.OpenTrade(ctx, req)
	assert.ErrorIs(t, err, ports.ErrAccountInactive)

	store.putAccount(&domain.TradingAccount{ID: 1, Balance: 0, Credit: 0, Leverage: 100, Status: domain.AccountActive})
	_, err = eng.OpenTrade(ctx, req)
	assert.ErrorIs(t, err, ports.ErrInsufficientEquity)

	store.putAccount(&domain.TradingAccount{ID: 1, Balance: 10000, Leverage: 100, Status: domain.AccountActive, MaxLotSize: 0.05})
	_, err = eng.OpenTrade(ctx, req)
	assert.ErrorIs(t, err, ports.ErrLotSizeCap)

	store.putAccount(&domain.TradingAccount{ID: 1, Balance: 10000, Leverage: 100, Status: domain.AccountActive, MaxOpenTrades: 1})
	_, err = eng.OpenTrade(ctx, req)
	require.NoError(t, err)
	_, err = eng.OpenTrade(ctx, req)
	assert.ErrorIs(t, err, ports.ErrOpenTradeCap)
}

func TestOpenTrade_InsufficientMargin(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)
	quotes.set("BTCUSDT", 40000, 40010)

	// 30 lots needs 12,003 margin against 10,000 free margin.
	_, err := eng.OpenTrade(ctx, OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 30})
	assert.ErrorIs(t, err, ports.ErrInsufficientMargin)
}

func TestOpenTrade_CopyParity(t *testing.T) {
	eng, store, _ := newTestEngine(t, Config{OpenCommissionPerLot: 10})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)

	// No quote set: a copy open must take the passed execution price instead.
	trade, err := eng.OpenTrade(ctx, OpenRequest{
		AccountID:      1,
		Symbol:         "BTCUSDT",
		Side:           domain.Buy,
		Quantity:       0.5,
		IsCopy:         true,
		ExecutionPrice: 40010,
	})
	require.NoError(t, err)
	assert.Equal(t, 40010.0, trade.OpenPrice)
	assert.Equal(t, 0.0, trade.Commission)
	assert.True(t, trade.IsCopy)

	acct, err := store.FindAccountByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, acct.Balance)
}

func TestOpenTrade_Pending(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{OpenCommissionPerLot: 10})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)
	quotes.set("BTCUSDT", 40000, 40010)

	trade, err := eng.OpenTrade(ctx, OpenRequest{
		AccountID:    1,
		Symbol:       "BTCUSDT",
		Side:         domain.Buy,
		OrderType:    domain.BuyLimit,
		Quantity:     0.5,
		PendingPrice: 39000,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, trade.Status)
	assert.Equal(t, 39000.0, trade.PendingPrice)
	assert.Equal(t, 0.0, trade.OpenPrice)
	assert.Equal(t, 0.0, trade.MarginUsed)

	// Commission is computed but not charged until the order triggers.
	acct, err := store.FindAccountByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5.0, trade.Commission)
	assert.Equal(t, 10000.0, acct.Balance)
}

func TestCloseTrade_Profit(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{OpenCommissionPerLot: 10})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)
	quotes.set("BTCUSDT", 40000, 40010)

	trade, err := eng.OpenTrade(ctx, OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.5})
	require.NoError(t, err)

	closed, err := eng.CloseTrade(ctx, CloseRequest{TradeID: trade.ID, PriceOverride: 41000})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, domain.ClosedByUser, closed.ClosedBy)
	assert.Equal(t, 41000.0, closed.ClosePrice)
	assert.Equal(t, 495.0, closed.RealizedPnl) // (41000-40010) * 0.5
	assert.False(t, closed.CloseTime.IsZero())

	acct, err := store.FindAccountByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10490.0, acct.Balance) // 9995 + 495
}

func TestCloseTrade_LossConsumesCredit(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{})
	ctx := context.Background()
	activeAccount(store, 1, 100, 400)
	quotes.set("BTCUSDT", 40000, 40010)

	trade, err := eng.OpenTrade(ctx, OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.01})
	require.NoError(t, err)

	// Loss of 150 against a balance of 100: balance floors at 0 and the
	// remaining 50 comes out of credit, recorded in the ledger.
	closed, err := eng.CloseTrade(ctx, CloseRequest{TradeID: trade.ID, PriceOverride: 25010})
	require.NoError(t, err)
	assert.Equal(t, -150.0, closed.RealizedPnl)

	acct, err := store.FindAccountByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, acct.Balance)
	assert.Equal(t, 350.0, acct.Credit)

	entries, err := store.FindEntriesByAccount(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LedgerTradeLoss, entries[0].Type)
	assert.Equal(t, -50.0, entries[0].Amount)
	assert.Equal(t, 400.0, entries[0].CreditBefore)
	assert.Equal(t, 350.0, entries[0].CreditAfter)
	assert.Equal(t, trade.ID, entries[0].TradeID)
}

func TestCloseTrade_CommissionOnClose(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{OpenCommissionPerLot: 10, CommissionOnClose: true})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)
	quotes.set("BTCUSDT", 40000, 40010)

	trade, err := eng.OpenTrade(ctx, OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.5})
	require.NoError(t, err)

	// Nothing deducted at open.
	acct, err := store.FindAccountByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, acct.Balance)

	// Flat close: realized PnL is just the folded-in commission.
	closed, err := eng.CloseTrade(ctx, CloseRequest{TradeID: trade.ID, PriceOverride: trade.OpenPrice})
	require.NoError(t, err)
	assert.Equal(t, -5.0, closed.RealizedPnl)

	acct, err = store.FindAccountByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 9995.0, acct.Balance)
}

func TestCloseTrade_CopySkipsAccount(t *testing.T) {
	eng, store, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	activeAccount(store, 1, 5000, 1000)

	trade, err := eng.OpenTrade(ctx, OpenRequest{
		AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1,
		IsCopy: true, ExecutionPrice: 40000,
	})
	require.NoError(t, err)

	closed, err := eng.CloseTrade(ctx, CloseRequest{TradeID: trade.ID, PriceOverride: 41000})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, 100.0, closed.RealizedPnl)

	// The credit/refill distribution owns copy PnL; balance and credit stay put.
	acct, err := store.FindAccountByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, acct.Balance)
	assert.Equal(t, 1000.0, acct.Credit)
}

func TestCloseTrade_StateErrors(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)
	quotes.set("BTCUSDT", 40000, 40010)

	_, err := eng.CloseTrade(ctx, CloseRequest{TradeID: 999})
	assert.ErrorIs(t, err, ports.ErrNotFound)

	trade, err := eng.OpenTrade(ctx, OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1})
	require.NoError(t, err)
	_, err = eng.CloseTrade(ctx, CloseRequest{TradeID: trade.ID, PriceOverride: 40000})
	require.NoError(t, err)
	_, err = eng.CloseTrade(ctx, CloseRequest{TradeID: trade.ID, PriceOverride: 40000})
	assert.ErrorIs(t, err, ports.ErrTradeTerminal)

	pending, err := eng.OpenTrade(ctx, OpenRequest{
		AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy,
		OrderType: domain.BuyLimit, Quantity: 0.1, PendingPrice: 39000,
	})
	require.NoError(t, err)
	_, err = eng.CloseTrade(ctx, CloseRequest{TradeID: pending.ID})
	assert.ErrorIs(t, err, ports.ErrTradeNotOpen)
}

func TestModifyTrade(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)
	quotes.set("BTCUSDT", 40000, 40010)

	trade, err := eng.OpenTrade(ctx, OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1})
	require.NoError(t, err)

	sl, tp := 39000.0, 42000.0
	modified, err := eng.ModifyTrade(ctx, ModifyRequest{TradeID: trade.ID, StopLoss: &sl, TakeProfit: &tp})
	require.NoError(t, err)
	assert.Equal(t, 39000.0, modified.StopLoss)
	assert.Equal(t, 42000.0, modified.TakeProfit)

	// Nil levels clear.
	modified, err = eng.ModifyTrade(ctx, ModifyRequest{TradeID: trade.ID})
	require.NoError(t, err)
	assert.Equal(t, 0.0, modified.StopLoss)
	assert.Equal(t, 0.0, modified.TakeProfit)

	_, err = eng.CloseTrade(ctx, CloseRequest{TradeID: trade.ID, PriceOverride: 40000})
	require.NoError(t, err)
	_, err = eng.ModifyTrade(ctx, ModifyRequest{TradeID: trade.ID, StopLoss: &sl})
	assert.ErrorIs(t, err, ports.ErrTradeNotOpen)
}

func TestCancelPending(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)
	quotes.set("BTCUSDT", 40000, 40010)

	pending, err := eng.OpenTrade(ctx, OpenRequest{
		AccountID: 1, Symbol: "BTCUSDT", Side: domain.Sell,
		OrderType: domain.SellStop, Quantity: 0.1, PendingPrice: 39000,
	})
	require.NoError(t, err)

	cancelled, err := eng.CancelPending(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, domain.ClosedByCancel, cancelled.ClosedBy)

	_, err = eng.CancelPending(ctx, pending.ID)
	assert.ErrorIs(t, err, ports.ErrTradeTerminal)

	open, err := eng.OpenTrade(ctx, OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1})
	require.NoError(t, err)
	_, err = eng.CancelPending(ctx, open.ID)
	assert.ErrorIs(t, err, ports.ErrTradeTerminal)
}

func TestProcessTick_Triggers(t *testing.T) {
	tests := []struct {
		name      string
		orderType domain.OrderType
		side      domain.OrderSide
		trigger   float64
		bid, ask  float64
		wantFire  bool
		wantPrice float64
	}{
		{"buy limit fires when ask falls to trigger", domain.BuyLimit, domain.Buy, 40020, 40000, 40010, true, 40010},
		{"buy limit holds above trigger", domain.BuyLimit, domain.Buy, 39000, 40000, 40010, false, 0},
		{"buy stop fires when ask rises to trigger", domain.BuyStop, domain.Buy, 40005, 40000, 40010, true, 40010},
		{"sell limit fires when bid rises to trigger", domain.SellLimit, domain.Sell, 39990, 40000, 40010, true, 40000},
		{"sell stop fires when bid falls to trigger", domain.SellStop, domain.Sell, 40005, 40000, 40010, true, 40000},
		{"sell stop holds above trigger", domain.SellStop, domain.Sell, 39990, 40000, 40010, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, store, quotes := newTestEngine(t, Config{OpenCommissionPerLot: 10})
			ctx := context.Background()
			activeAccount(store, 1, 10000, 0)
			quotes.set("BTCUSDT", tt.bid, tt.ask)

			pending, err := eng.OpenTrade(ctx, OpenRequest{
				AccountID: 1, Symbol: "BTCUSDT", Side: tt.side,
				OrderType: tt.orderType, Quantity: 0.1, PendingPrice: tt.trigger,
			})
			require.NoError(t, err)

			eng.ProcessTick(ctx, &domain.Quote{Symbol: "BTCUSDT", Bid: tt.bid, Ask: tt.ask})

			got, err := store.FindTradeByID(ctx, pending.ID)
			require.NoError(t, err)
			if !tt.wantFire {
				assert.Equal(t, domain.StatusPending, got.Status)
				return
			}
			assert.Equal(t, domain.StatusOpen, got.Status)
			assert.Equal(t, tt.wantPrice, got.OpenPrice)
			assert.Greater(t, got.MarginUsed, 0.0)

			// Commission is charged when the order fills.
			acct, err := store.FindAccountByID(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, 9999.0, acct.Balance)
		})
	}
}

func TestProcessTick_ProtectiveLevels(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)
	quotes.set("BTCUSDT", 40000, 40010)

	withSL, err := eng.OpenTrade(ctx, OpenRequest{
		AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1, StopLoss: 39900,
	})
	require.NoError(t, err)
	withTP, err := eng.OpenTrade(ctx, OpenRequest{
		AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1, TakeProfit: 40100,
	})
	require.NoError(t, err)

	// Bid drops through the stop-loss; the take-profit trade is unaffected.
	eng.ProcessTick(ctx, &domain.Quote{Symbol: "BTCUSDT", Bid: 39890, Ask: 39900})

	got, err := store.FindTradeByID(ctx, withSL.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, got.Status)
	assert.Equal(t, domain.ClosedByStopLoss, got.ClosedBy)
	assert.Equal(t, 39890.0, got.ClosePrice)

	got, err = store.FindTradeByID(ctx, withTP.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, got.Status)

	// Bid rallies through the take-profit.
	eng.ProcessTick(ctx, &domain.Quote{Symbol: "BTCUSDT", Bid: 40150, Ask: 40160})

	got, err = store.FindTradeByID(ctx, withTP.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, got.Status)
	assert.Equal(t, domain.ClosedByTakeProfit, got.ClosedBy)
}

func TestCheckStopOut(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{StopOutLevel: 20})
	ctx := context.Background()
	activeAccount(store, 1, 100, 0)
	quotes.set("BTCUSDT", 40000, 40010)

	trade, err := eng.OpenTrade(ctx, OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.02})
	require.NoError(t, err)

	// Healthy account: no sweep.
	triggered, err := eng.CheckStopOut(ctx, 1)
	require.NoError(t, err)
	assert.False(t, triggered)

	// Price collapse drives equity below zero.
	quotes.set("BTCUSDT", 34000, 34010)
	triggered, err = eng.CheckStopOut(ctx, 1)
	require.NoError(t, err)
	assert.True(t, triggered)

	got, err := store.FindTradeByID(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, got.Status)
	assert.Equal(t, domain.ClosedByStopOut, got.ClosedBy)
	assert.Equal(t, 34000.0, got.ClosePrice)

	// The loss exceeded the balance; the sweep floors it at zero.
	acct, err := store.FindAccountByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, acct.Balance)
}

func TestCheckStopOut_NoOpenMargin(t *testing.T) {
	eng, store, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	activeAccount(store, 1, 10, 0)

	triggered, err := eng.CheckStopOut(ctx, 1)
	require.NoError(t, err)
	assert.False(t, triggered)
}

func TestAccountSnapshot(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 500)
	quotes.set("BTCUSDT", 40000, 40010)

	_, err := eng.OpenTrade(ctx, OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1})
	require.NoError(t, err)

	// Bid moves up 100: floating = (40110 - 40010) * 0.1 = 10.
	quotes.set("BTCUSDT", 40110, 40120)
	snap, err := eng.AccountSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, snap.Balance)
	assert.Equal(t, 500.0, snap.Credit)
	assert.InDelta(t, 10.0, snap.FloatingPnl, 1e-9)
	assert.InDelta(t, 10510.0, snap.Equity, 1e-9)
	assert.InDelta(t, 40.01, snap.UsedMargin, 1e-9) // 0.1 * 40010 / 100
	assert.InDelta(t, 10469.99, snap.FreeMargin, 1e-9)
	assert.Greater(t, snap.MarginLevel, 100.0)
}

func TestTradeHooks(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)
	quotes.set("BTCUSDT", 40000, 40010)

	var opened, modified, closed, copyClosed []int64
	eng.OnTradeOpened(func(ctx context.Context, tr *domain.Trade) { opened = append(opened, tr.ID) })
	eng.OnTradeModified(func(ctx context.Context, tr *domain.Trade) { modified = append(modified, tr.ID) })
	eng.OnTradeClosed(func(ctx context.Context, tr *domain.Trade) { closed = append(closed, tr.ID) })
	eng.OnCopyTradeClosed(func(ctx context.Context, tr *domain.Trade) { copyClosed = append(copyClosed, tr.ID) })

	trade, err := eng.OpenTrade(ctx, OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1})
	require.NoError(t, err)

	sl := 39000.0
	_, err = eng.ModifyTrade(ctx, ModifyRequest{TradeID: trade.ID, StopLoss: &sl})
	require.NoError(t, err)
	_, err = eng.CloseTrade(ctx, CloseRequest{TradeID: trade.ID, PriceOverride: 40000})
	require.NoError(t, err)

	assert.Equal(t, []int64{trade.ID}, opened)
	assert.Equal(t, []int64{trade.ID}, modified)
	assert.Equal(t, []int64{trade.ID}, closed)

	// Copy trades never fire the replication hooks (that would loop); their
	// closes route to the copy-close hook so the PnL gets distributed.
	copyTrade, err := eng.OpenTrade(ctx, OpenRequest{
		AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1,
		IsCopy: true, ExecutionPrice: 40010,
	})
	require.NoError(t, err)
	_, err = eng.CloseTrade(ctx, CloseRequest{TradeID: copyTrade.ID, PriceOverride: 40000})
	require.NoError(t, err)
	assert.Equal(t, []int64{trade.ID}, opened)
	assert.Equal(t, []int64{trade.ID}, closed)
	assert.Equal(t, []int64{copyTrade.ID}, copyClosed)

	// Pending placement fires nothing until the trigger.
	_, err = eng.OpenTrade(ctx, OpenRequest{
		AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy,
		OrderType: domain.BuyStop, Quantity: 0.1, PendingPrice: 40500,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{trade.ID}, opened)
}

func TestDemoReset(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{})
	ctx := context.Background()
	activeAccount(store, 1, 50, 200)
	quotes.set("BTCUSDT", 40000, 40010)

	open, err := eng.OpenTrade(ctx, OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.01})
	require.NoError(t, err)
	pending, err := eng.OpenTrade(ctx, OpenRequest{
		AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy,
		OrderType: domain.BuyLimit, Quantity: 0.01, PendingPrice: 39000,
	})
	require.NoError(t, err)

	err = eng.DemoReset(ctx, 1, -1, 0)
	assert.ErrorIs(t, err, ports.ErrValidation)

	require.NoError(t, eng.DemoReset(ctx, 1, 10000, 1000))

	got, err := store.FindTradeByID(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, got.Status)
	assert.Equal(t, domain.ClosedByDemoReset, got.ClosedBy)
	assert.Equal(t, got.OpenPrice, got.ClosePrice)
	assert.Equal(t, 0.0, got.RealizedPnl)

	got, err = store.FindTradeByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, domain.ClosedByDemoReset, got.ClosedBy)

	acct, err := store.FindAccountByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, acct.Balance)
	assert.Equal(t, 1000.0, acct.Credit)

	entries, err := store.FindEntriesByAccount(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LedgerAdminCredit, entries[0].Type)
	assert.Equal(t, 800.0, entries[0].Amount)
	assert.Equal(t, 200.0, entries[0].CreditBefore)
	assert.Equal(t, 1000.0, entries[0].CreditAfter)
}

func TestOpenTrade_PendingRequiresQuote(t *testing.T) {
	eng, store, _ := newTestEngine(t, Config{})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)

	// No market data for the symbol: placement is refused, not deferred.
	_, err := eng.OpenTrade(ctx, OpenRequest{
		AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy,
		OrderType: domain.BuyLimit, Quantity: 0.1, PendingPrice: 39000,
	})
	assert.ErrorIs(t, err, ports.ErrQuoteUnavailable)
}

func TestProcessTick_TriggerCancelsWhenMarginGone(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{OpenCommissionPerLot: 10})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)
	quotes.set("BTCUSDT", 40000, 40010)

	pending, err := eng.OpenTrade(ctx, OpenRequest{
		AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy,
		OrderType: domain.BuyStop, Quantity: 0.5, PendingPrice: 40500,
	})
	require.NoError(t, err)

	// The funds that covered the order at placement are gone by trigger time:
	// the order is cancelled instead of opening into an uncoverable position.
	store.putAccount(&domain.TradingAccount{ID: 1, Balance: 10, Leverage: 100, Status: domain.AccountActive})
	eng.ProcessTick(ctx, &domain.Quote{Symbol: "BTCUSDT", Bid: 40500, Ask: 40510})

	got, err := store.FindTradeByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, domain.ClosedByCancel, got.ClosedBy)
	assert.False(t, got.CloseTime.IsZero())

	// No commission was charged for the fill that never happened.
	acct, err := store.FindAccountByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10.0, acct.Balance)
}

func TestOpenTrade_LockReleasedOnPanic(t *testing.T) {
	eng, store, quotes := newTestEngine(t, Config{})
	ctx := context.Background()
	activeAccount(store, 1, 10000, 0)
	quotes.set("BTCUSDT", 40000, 40010)

	store.panicOnCreate = true
	require.Panics(t, func() {
		_, _ = eng.OpenTrade(ctx, OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1})
	})

	// The panic unwound through the account lock; the account must not stay
	// wedged for every later operation.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := eng.OpenTrade(ctx, OpenRequest{AccountID: 1, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1})
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("account lock still held after panic")
	}
}
