// Package engine owns the trade lifecycle state machine: open, pending
// trigger, modify, close, cancel and the stop-out sweep.
package engine

import (
	"context"
	"fmt"

	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/locks"
	"fxCopyDesk/internal/ports"
	"fxCopyDesk/internal/pricing"
)

// TradeHook is invoked after a non-copy trade opens or closes. Hooks run
// outside the account lock and must not block; the wiring typically hands
// the event to a background worker.
type TradeHook func(ctx context.Context, trade *domain.Trade)

// Config holds the lifecycle engine's tunables.
type Config struct {
	SpreadValue          float64            // Spread added to the quoted price at execution
	SpreadType           pricing.SpreadType // ABSOLUTE price units or PERCENT of the bid/ask gap
	OpenCommissionPerLot float64            // Commission charged per lot
	CommissionOnClose    bool               // Fold commission into realized PnL at close instead of charging at open
	StopOutLevel         float64            // Margin level floor (percent) that triggers a stop-out sweep
}

// Engine is the Trade Lifecycle Manager.
type Engine struct {
	cfg      Config
	logger   ports.Logger
	quotes   ports.PricingGateway
	accounts ports.AccountRepository
	trades   ports.TradeRepository
	ledger   ports.LedgerRepository
	uow      ports.UnitOfWork
	locker   *locks.AccountLocker

	onOpened     TradeHook
	onClosed     TradeHook
	onModified   TradeHook
	onCopyClosed TradeHook
}

// New creates a lifecycle engine.
func New(cfg Config, logger ports.Logger, quotes ports.PricingGateway, accounts ports.AccountRepository,
	trades ports.TradeRepository, ledger ports.LedgerRepository, uow ports.UnitOfWork, locker *locks.AccountLocker) (*Engine, error) {
	if logger == nil || quotes == nil || accounts == nil || trades == nil || ledger == nil || uow == nil || locker == nil {
		return nil, fmt.Errorf("missing required dependencies for lifecycle engine")
	}
	if cfg.StopOutLevel <= 0 {
		cfg.StopOutLevel = 20
	}
	if cfg.SpreadType == "" {
		cfg.SpreadType = pricing.SpreadAbsolute
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		quotes:   quotes,
		accounts: accounts,
		trades:   trades,
		ledger:   ledger,
		uow:      uow,
		locker:   locker,
	}, nil
}

// OnTradeOpened registers the hook fired after a non-copy trade opens.
func (e *Engine) OnTradeOpened(hook TradeHook) { e.onOpened = hook }

// OnTradeClosed registers the hook fired after a non-copy trade closes.
func (e *Engine) OnTradeClosed(hook TradeHook) { e.onClosed = hook }

// OnTradeModified registers the hook fired after a non-copy trade's SL/TP
// changes.
func (e *Engine) OnTradeModified(hook TradeHook) { e.onModified = hook }

// OnCopyTradeClosed registers the hook fired after a copy trade closes. This
// is how follower-side closes (SL/TP, stop-out) reach the PnL distribution:
// the engine itself never touches a copy trade's wallet.
func (e *Engine) OnCopyTradeClosed(hook TradeHook) { e.onCopyClosed = hook }

// Snapshot is a point-in-time view of an account's derived funds.
// Equity is never persisted; it is always computed from balance, credit and
// the floating PnL of the account's open trades.
type Snapshot struct {
	Balance     float64
	Credit      float64
	FloatingPnl float64
	Equity      float64
	UsedMargin  float64
	FreeMargin  float64
	MarginLevel float64 // equity / usedMargin * 100; 0 when no margin is in use
}

// Trade loads a trade by ID, mapping a missing row to ports.ErrNotFound.
func (e *Engine) Trade(ctx context.Context, tradeID int64) (*domain.Trade, error) {
	t, err := e.trades.FindTradeByID(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade %d: %w", tradeID, err)
	}
	if t == nil {
		return nil, fmt.Errorf("trade %d: %w", tradeID, ports.ErrNotFound)
	}
	return t, nil
}

// AccountSnapshot computes the current snapshot for an account.
func (e *Engine) AccountSnapshot(ctx context.Context, accountID int64) (*Snapshot, error) {
	acct, err := e.accounts.FindAccountByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %d: %w", accountID, err)
	}
	if acct == nil {
		return nil, fmt.Errorf("account %d: %w", accountID, ports.ErrNotFound)
	}
	return e.snapshot(ctx, acct)
}

// snapshot derives equity, used margin and free margin for an account.
// Open trades whose symbol has no live quote contribute zero floating PnL;
// the miss is logged, not fatal.
func (e *Engine) snapshot(ctx context.Context, acct *domain.TradingAccount) (*Snapshot, error) {
	open, err := e.trades.FindOpenByAccount(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open trades for account %d: %w", acct.ID, err)
	}

	snap := &Snapshot{Balance: acct.Balance, Credit: acct.Credit}
	for _, t := range open {
		snap.UsedMargin += t.MarginUsed
		q, err := e.quotes.Quote(ctx, t.Symbol)
		if err != nil || !q.IsValid() {
			e.logger.Warn(ctx, "No quote for open trade, floating PnL treated as zero", map[string]interface{}{
				"tradeID": t.ID, "symbol": t.Symbol,
			})
			continue
		}
		snap.FloatingPnl += pricing.FloatingPNL(t, pricing.ClosePriceFromQuote(t.Side, q))
	}
	snap.Equity = snap.Balance + snap.Credit + snap.FloatingPnl
	snap.FreeMargin = snap.Equity - snap.UsedMargin
	if snap.UsedMargin > 0 {
		snap.MarginLevel = snap.Equity / snap.UsedMargin * 100
	}
	return snap, nil
}

// loadAccount fetches an account and asserts it exists.
func (e *Engine) loadAccount(ctx context.Context, id int64) (*domain.TradingAccount, error) {
	acct, err := e.accounts.FindAccountByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %d: %w", id, err)
	}
	if acct == nil {
		return nil, fmt.Errorf("account %d: %w", id, ports.ErrNotFound)
	}
	return acct, nil
}

func (e *Engine) fireOpened(ctx context.Context, t *domain.Trade) {
	if e.onOpened != nil && !t.IsCopy {
		e.onOpened(ctx, t)
	}
}

func (e *Engine) fireModified(ctx context.Context, t *domain.Trade) {
	if e.onModified != nil && !t.IsCopy {
		e.onModified(ctx, t)
	}
}

func (e *Engine) fireClosed(ctx context.Context, t *domain.Trade) {
	if t.IsCopy {
		if e.onCopyClosed != nil {
			e.onCopyClosed(ctx, t)
		}
		return
	}
	if e.onClosed != nil {
		e.onClosed(ctx, t)
	}
}
