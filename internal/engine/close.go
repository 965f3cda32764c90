package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/ports"
	"fxCopyDesk/internal/pricing"
)

// CloseRequest describes a trade close.
type CloseRequest struct {
	TradeID  int64
	ClosedBy domain.ClosedBy
	// PriceOverride, when positive, is used as the close price instead of a
	// fresh quote. Replication passes the master's close price; the stop-out
	// sweep passes the price it already fetched.
	PriceOverride float64
}

// CloseTrade terminates an OPEN trade and realizes its PnL.
//
// For non-copy trades the realized PnL is applied to the account balance; a
// loss exceeding the balance spills into credit (balance floors at 0 first,
// credit never goes below 0) and writes a TRADE_LOSS ledger entry. For copy
// trades the wallet mutation is skipped entirely: the credit/refill service
// owns the distribution.
func (e *Engine) CloseTrade(ctx context.Context, req CloseRequest) (*domain.Trade, error) {
	op := "CloseTrade"
	if req.ClosedBy == "" {
		req.ClosedBy = domain.ClosedByUser
	}

	trade, err := e.trades.FindTradeByID(ctx, req.TradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade %d: %w", req.TradeID, err)
	}
	if trade == nil {
		return nil, fmt.Errorf("trade %d: %w", req.TradeID, ports.ErrNotFound)
	}

	accountID := trade.AccountID
	trade, err = func() (*domain.Trade, error) {
		e.locker.Lock(accountID)
		defer e.locker.Unlock(accountID)
		return e.closeLocked(ctx, op, req, accountID)
	}()
	if err != nil {
		return nil, err
	}

	e.fireClosed(ctx, trade)
	return trade, nil
}

func (e *Engine) closeLocked(ctx context.Context, op string, req CloseRequest, accountID int64) (*domain.Trade, error) {
	trade, err := e.trades.FindTradeByID(ctx, req.TradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade %d: %w", req.TradeID, err)
	}
	if trade == nil {
		return nil, fmt.Errorf("trade %d: %w", req.TradeID, ports.ErrNotFound)
	}
	if trade.Status.IsTerminal() {
		return nil, fmt.Errorf("trade %d status %s: %w", trade.ID, trade.Status, ports.ErrTradeTerminal)
	}
	if trade.IsPending() {
		return nil, fmt.Errorf("trade %d is pending, cancel instead: %w", trade.ID, ports.ErrTradeNotOpen)
	}

	closePrice := req.PriceOverride
	if closePrice <= 0 {
		q, err := e.quotes.Quote(ctx, trade.Symbol)
		if err != nil {
			return nil, fmt.Errorf("cannot close without a live quote: %w", err)
		}
		closePrice = pricing.ClosePriceFromQuote(trade.Side, q)
	}

	pnl := pricing.PNL(trade.Side, trade.OpenPrice, closePrice, trade.Quantity, trade.ContractSize) - trade.Swap
	if e.cfg.CommissionOnClose {
		pnl -= trade.Commission
	}
	pnl = pricing.Round2(pnl)

	trade.ClosePrice = closePrice
	trade.RealizedPnl = pnl
	trade.Status = domain.StatusClosed
	trade.ClosedBy = req.ClosedBy
	trade.CloseTime = time.Now().UTC()

	err = e.uow.InTx(ctx, func(ctx context.Context) error {
		if err := e.trades.UpdateTrade(ctx, trade); err != nil {
			return err
		}
		if trade.IsCopy {
			// Distribution is owned by the credit/refill service.
			return nil
		}
		return e.applyPnlToAccount(ctx, trade, accountID, pnl)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist trade close for trade %d: %w", trade.ID, err)
	}

	e.logger.Info(ctx, op+": Trade closed", map[string]interface{}{
		"tradeID": trade.ID, "accountID": accountID, "closePrice": closePrice,
		"realizedPnl": pnl, "closedBy": trade.ClosedBy, "isCopy": trade.IsCopy,
	})
	return trade, nil
}

// applyPnlToAccount mutates balance (and credit for an overflowing loss) for
// a non-copy close. Runs inside the close transaction, under the account lock.
func (e *Engine) applyPnlToAccount(ctx context.Context, trade *domain.Trade, accountID int64, pnl float64) error {
	acct, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}

	newBalance := pricing.Round2(acct.Balance + pnl)
	if newBalance >= 0 {
		acct.Balance = newBalance
		return e.accounts.UpdateAccount(ctx, acct)
	}

	// Loss exceeds the balance: balance floors at 0, the remainder consumes
	// credit. Credit never goes below 0; anything beyond it is absorbed.
	overflow := -newBalance
	creditBefore := acct.Credit
	fromCredit := overflow
	if fromCredit > acct.Credit {
		fromCredit = acct.Credit
	}
	acct.Balance = 0
	acct.Credit = pricing.Round2(acct.Credit - fromCredit)
	if err := e.accounts.UpdateAccount(ctx, acct); err != nil {
		return err
	}

	entry := &domain.CreditLedgerEntry{
		EntryID:      uuid.NewString(),
		AccountID:    acct.ID,
		TradeID:      trade.ID,
		Type:         domain.LedgerTradeLoss,
		Amount:       -fromCredit,
		CreditBefore: creditBefore,
		CreditAfter:  acct.Credit,
		Description:  fmt.Sprintf("trade %d loss %.2f exceeded balance, %.2f taken from credit", trade.ID, -pnl, fromCredit),
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := e.ledger.AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to append credit ledger entry: %w", err)
	}
	return nil
}

// StopOutSweep force-closes every OPEN trade on an account at current market
// price with closedBy=STOP_OUT, then floors a still-negative balance at 0.
// Individual close failures are logged and skipped; the sweep always runs to
// completion.
func (e *Engine) StopOutSweep(ctx context.Context, accountID int64) error {
	op := "StopOutSweep"
	open, err := e.trades.FindOpenByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load open trades for account %d: %w", accountID, err)
	}
	e.logger.Warn(ctx, op+": Sweeping account", map[string]interface{}{"accountID": accountID, "openTrades": len(open)})

	for _, t := range open {
		var price float64
		if q, qerr := e.quotes.Quote(ctx, t.Symbol); qerr == nil && q.IsValid() {
			price = pricing.ClosePriceFromQuote(t.Side, q)
		}
		_, cerr := e.CloseTrade(ctx, CloseRequest{TradeID: t.ID, ClosedBy: domain.ClosedByStopOut, PriceOverride: price})
		if cerr != nil {
			// Partial failures are not fatal to the sweep.
			e.logger.Error(ctx, cerr, op+": Failed to close trade during sweep", map[string]interface{}{
				"tradeID": t.ID, "accountID": accountID,
			})
		}
	}

	e.locker.Lock(accountID)
	defer e.locker.Unlock(accountID)
	acct, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acct.Balance < 0 {
		e.logger.Warn(ctx, op+": Flooring negative balance", map[string]interface{}{
			"accountID": accountID, "balance": acct.Balance,
		})
		acct.Balance = 0
		if err := e.accounts.UpdateAccount(ctx, acct); err != nil {
			return fmt.Errorf("failed to floor balance for account %d: %w", accountID, err)
		}
	}
	return nil
}

// CheckStopOut evaluates an account's stop-out conditions and sweeps when
// equity <= 0, free margin < 0, or the margin level is at or below the floor.
func (e *Engine) CheckStopOut(ctx context.Context, accountID int64) (bool, error) {
	snap, err := e.AccountSnapshot(ctx, accountID)
	if err != nil {
		return false, err
	}
	if snap.UsedMargin == 0 {
		return false, nil
	}
	triggered := snap.Equity <= 0 || snap.FreeMargin < 0 || snap.MarginLevel <= e.cfg.StopOutLevel
	if !triggered {
		return false, nil
	}
	e.logger.Warn(ctx, "Stop-out triggered", map[string]interface{}{
		"accountID": accountID, "equity": snap.Equity, "freeMargin": snap.FreeMargin, "marginLevel": snap.MarginLevel,
	})
	return true, e.StopOutSweep(ctx, accountID)
}
