package engine

import (
	"context"
	"fmt"
	"time"

	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/pricing"
)

// ProcessTick reacts to a fresh quote for one symbol: it fires pending orders
// whose trigger price has been reached and closes open trades whose stop-loss
// or take-profit level was hit. Per-trade failures are logged, never fatal.
func (e *Engine) ProcessTick(ctx context.Context, quote *domain.Quote) {
	if !quote.IsValid() {
		return
	}
	e.triggerPending(ctx, quote)
	e.checkProtectiveLevels(ctx, quote)
}

// triggerPending scans PENDING trades for the symbol. BUY_LIMIT and SELL_STOP
// fire when price falls to/through the trigger; BUY_STOP and SELL_LIMIT fire
// when price rises to/through it.
func (e *Engine) triggerPending(ctx context.Context, quote *domain.Quote) {
	op := "triggerPending"
	pending, err := e.trades.FindPendingBySymbol(ctx, quote.Symbol)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to load pending trades", map[string]interface{}{"symbol": quote.Symbol})
		return
	}

	for _, t := range pending {
		var fire bool
		var fillPrice float64
		switch t.OrderType {
		case domain.BuyLimit:
			fire, fillPrice = quote.Ask <= t.PendingPrice, quote.Ask
		case domain.BuyStop:
			fire, fillPrice = quote.Ask >= t.PendingPrice, quote.Ask
		case domain.SellLimit:
			fire, fillPrice = quote.Bid >= t.PendingPrice, quote.Bid
		case domain.SellStop:
			fire, fillPrice = quote.Bid <= t.PendingPrice, quote.Bid
		}
		if !fire {
			continue
		}
		if trade, terr := e.fireTrigger(ctx, t.ID, fillPrice); terr != nil {
			e.logger.Error(ctx, terr, op+": Failed to fire pending trade", map[string]interface{}{"tradeID": t.ID})
		} else if trade != nil {
			e.fireOpened(ctx, trade)
		}
	}
}

// fireTrigger transitions one PENDING trade to OPEN at the triggering side's
// live price. The margin is recomputed at open time and fixed thereafter.
func (e *Engine) fireTrigger(ctx context.Context, tradeID int64, fillPrice float64) (*domain.Trade, error) {
	trade, err := e.trades.FindTradeByID(ctx, tradeID)
	if err != nil || trade == nil {
		return nil, fmt.Errorf("failed to load pending trade %d: %w", tradeID, err)
	}

	e.locker.Lock(trade.AccountID)
	defer e.locker.Unlock(trade.AccountID)

	trade, err = e.trades.FindTradeByID(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending trade %d: %w", tradeID, err)
	}
	if trade == nil || !trade.IsPending() {
		return nil, nil // Raced with a cancel; nothing to fire.
	}

	// Re-validate exposure at the live fill price: the account may no longer
	// carry the margin it could at placement. An order that cannot fill is
	// cancelled rather than left to re-fire every tick.
	margin := pricing.Margin(trade.Quantity, fillPrice, trade.Leverage, trade.ContractSize)
	acct, err := e.loadAccount(ctx, trade.AccountID)
	if err != nil {
		return nil, err
	}
	snap, err := e.snapshot(ctx, acct)
	if err != nil {
		return nil, err
	}
	if margin > snap.FreeMargin || margin > snap.Equity {
		trade.Status = domain.StatusCancelled
		trade.ClosedBy = domain.ClosedByCancel
		trade.CloseTime = time.Now().UTC()
		if uerr := e.trades.UpdateTrade(ctx, trade); uerr != nil {
			return nil, fmt.Errorf("failed to cancel unfillable pending trade %d: %w", trade.ID, uerr)
		}
		e.logger.Warn(ctx, "Pending trade cancelled at trigger, margin no longer available", map[string]interface{}{
			"tradeID": trade.ID, "requiredMargin": margin, "freeMargin": snap.FreeMargin,
		})
		return nil, nil
	}

	trade.Status = domain.StatusOpen
	trade.OpenPrice = fillPrice
	trade.MarginUsed = margin
	trade.OpenTime = time.Now().UTC()

	chargeNow := trade.Commission > 0 && !e.cfg.CommissionOnClose && !trade.IsCopy
	err = e.uow.InTx(ctx, func(ctx context.Context) error {
		if err := e.trades.UpdateTrade(ctx, trade); err != nil {
			return err
		}
		if chargeNow {
			acct, aerr := e.loadAccount(ctx, trade.AccountID)
			if aerr != nil {
				return aerr
			}
			acct.Balance = pricing.Round2(acct.Balance - trade.Commission)
			return e.accounts.UpdateAccount(ctx, acct)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist pending trigger for trade %d: %w", trade.ID, err)
	}

	e.logger.Info(ctx, "Pending trade triggered", map[string]interface{}{
		"tradeID": trade.ID, "orderType": trade.OrderType, "openPrice": fillPrice, "marginUsed": trade.MarginUsed,
	})
	return trade, nil
}

// checkProtectiveLevels closes open trades whose SL or TP level was reached.
// A BUY position is marked against the bid, a SELL against the ask.
func (e *Engine) checkProtectiveLevels(ctx context.Context, quote *domain.Quote) {
	op := "checkProtectiveLevels"
	accountIDs, err := e.accounts.AccountIDsWithOpenTrades(ctx)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to list accounts with open trades")
		return
	}

	for _, accountID := range accountIDs {
		open, err := e.trades.FindOpenByAccount(ctx, accountID)
		if err != nil {
			e.logger.Error(ctx, err, op+": Failed to load open trades", map[string]interface{}{"accountID": accountID})
			continue
		}
		for _, t := range open {
			if t.Symbol != quote.Symbol {
				continue
			}
			mark := pricing.ClosePriceFromQuote(t.Side, quote)
			var closedBy domain.ClosedBy
			switch {
			case t.StopLoss > 0 && ((t.Side == domain.Buy && mark <= t.StopLoss) || (t.Side == domain.Sell && mark >= t.StopLoss)):
				closedBy = domain.ClosedByStopLoss
			case t.TakeProfit > 0 && ((t.Side == domain.Buy && mark >= t.TakeProfit) || (t.Side == domain.Sell && mark <= t.TakeProfit)):
				closedBy = domain.ClosedByTakeProfit
			default:
				continue
			}
			if _, cerr := e.CloseTrade(ctx, CloseRequest{TradeID: t.ID, ClosedBy: closedBy, PriceOverride: mark}); cerr != nil {
				e.logger.Error(ctx, cerr, op+": Failed to close trade on protective level", map[string]interface{}{
					"tradeID": t.ID, "closedBy": closedBy,
				})
			}
		}
	}
}

// MonitorStopOuts evaluates stop-out conditions for every account holding
// open trades. Per-account failures are logged and the monitor moves on.
func (e *Engine) MonitorStopOuts(ctx context.Context) {
	op := "MonitorStopOuts"
	accountIDs, err := e.accounts.AccountIDsWithOpenTrades(ctx)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to list accounts with open trades")
		return
	}
	for _, id := range accountIDs {
		if _, serr := e.CheckStopOut(ctx, id); serr != nil {
			e.logger.Error(ctx, serr, op+": Stop-out check failed", map[string]interface{}{"accountID": id})
		}
	}
}
