package engine

import (
	"context"
	"fmt"
	"time"

	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/ports"
	"fxCopyDesk/internal/pricing"
)

// OpenRequest describes a trade to open.
type OpenRequest struct {
	AccountID    int64
	Symbol       string
	Side         domain.OrderSide
	OrderType    domain.OrderType
	Quantity     float64
	PendingPrice float64 // Trigger price, required for pending order types
	StopLoss     float64
	TakeProfit   float64
	IsCopy       bool
	// ExecutionPrice, when positive, is used as the fill price instead of a
	// fresh quote. The replication engine passes the master's execution price
	// here to guarantee price parity between master and follower fills.
	ExecutionPrice float64
}

func (r *OpenRequest) validate() error {
	if r.AccountID <= 0 {
		return fmt.Errorf("account id is required: %w", ports.ErrValidation)
	}
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required: %w", ports.ErrValidation)
	}
	if r.Side != domain.Buy && r.Side != domain.Sell {
		return fmt.Errorf("side must be BUY or SELL: %w", ports.ErrValidation)
	}
	if r.Quantity < pricing.MinLotSize {
		return fmt.Errorf("quantity %.2f below minimum lot %.2f: %w", r.Quantity, pricing.MinLotSize, ports.ErrValidation)
	}
	if r.OrderType == "" {
		r.OrderType = domain.Market
	}
	if r.OrderType.IsPending() && r.PendingPrice <= 0 {
		return fmt.Errorf("pending order requires a trigger price: %w", ports.ErrValidation)
	}
	return nil
}

// OpenTrade validates exposure and persists a new trade: OPEN for market
// orders, PENDING for stop/limit orders. Commission is deducted from balance
// immediately for non-copy market orders; copy trades settle commission later
// through the credit/wallet split.
func (e *Engine) OpenTrade(ctx context.Context, req OpenRequest) (*domain.Trade, error) {
	op := "OpenTrade"
	if err := req.validate(); err != nil {
		return nil, err
	}
	if !pricing.IsMarketOpen(req.Symbol, time.Now()) {
		return nil, fmt.Errorf("symbol %s: %w", req.Symbol, ports.ErrMarketClosed)
	}

	// The unlock is deferred inside the closure: a panic below must not leave
	// the account wedged.
	trade, err := func() (*domain.Trade, error) {
		e.locker.Lock(req.AccountID)
		defer e.locker.Unlock(req.AccountID)
		return e.openLocked(ctx, op, req)
	}()
	if err != nil {
		return nil, err
	}

	if trade.IsOpen() {
		e.fireOpened(ctx, trade)
	}
	return trade, nil
}

func (e *Engine) openLocked(ctx context.Context, op string, req OpenRequest) (*domain.Trade, error) {
	acct, err := e.loadAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if !acct.IsActive() {
		return nil, fmt.Errorf("account %d status %s: %w", acct.ID, acct.Status, ports.ErrAccountInactive)
	}
	if acct.Balance+acct.Credit <= 0 {
		return nil, fmt.Errorf("account %d has no funds: %w", acct.ID, ports.ErrInsufficientEquity)
	}
	if acct.MaxLotSize > 0 && req.Quantity > acct.MaxLotSize {
		return nil, fmt.Errorf("lot %.2f exceeds account cap %.2f: %w", req.Quantity, acct.MaxLotSize, ports.ErrLotSizeCap)
	}
	if acct.MaxOpenTrades > 0 {
		active, err := e.trades.CountActiveByAccount(ctx, acct.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count active trades for account %d: %w", acct.ID, err)
		}
		if active >= acct.MaxOpenTrades {
			return nil, fmt.Errorf("account %d at %d of %d trades: %w", acct.ID, active, acct.MaxOpenTrades, ports.ErrOpenTradeCap)
		}
	}

	contractSize := pricing.ContractSize(req.Symbol)

	// Price the fill. Pending orders are validated against their trigger
	// price; the margin is recomputed at trigger time with the live price.
	var execPrice float64
	switch {
	case req.OrderType.IsPending():
		// No fill yet, but placement still requires a live two-sided market.
		q, err := e.quotes.Quote(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("cannot place pending order without a live quote: %w", err)
		}
		if !q.IsValid() {
			return nil, fmt.Errorf("symbol %s has no two-sided quote: %w", req.Symbol, ports.ErrQuoteUnavailable)
		}
		execPrice = req.PendingPrice
	case req.ExecutionPrice > 0:
		execPrice = req.ExecutionPrice
	default:
		q, err := e.quotes.Quote(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("cannot open without a live quote: %w", err)
		}
		execPrice = pricing.ExecutionPrice(req.Side, q.Bid, q.Ask, e.cfg.SpreadValue, e.cfg.SpreadType)
	}

	margin := pricing.Margin(req.Quantity, execPrice, acct.Leverage, contractSize)
	snap, err := e.snapshot(ctx, acct)
	if err != nil {
		return nil, err
	}
	if margin > snap.FreeMargin {
		return nil, fmt.Errorf("required margin %.2f exceeds free margin %.2f: %w", margin, snap.FreeMargin, ports.ErrInsufficientMargin)
	}
	if margin > snap.Equity {
		return nil, fmt.Errorf("required margin %.2f exceeds equity %.2f: %w", margin, snap.Equity, ports.ErrInsufficientEquity)
	}

	commission := 0.0
	if !req.IsCopy {
		commission = pricing.Round2(e.cfg.OpenCommissionPerLot * req.Quantity)
	}

	trade := &domain.Trade{
		AccountID:    acct.ID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		OrderType:    req.OrderType,
		Quantity:     req.Quantity,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		Leverage:     acct.Leverage,
		ContractSize: contractSize,
		Commission:   commission,
		IsCopy:       req.IsCopy,
		OpenTime:     time.Now().UTC(),
	}
	if req.OrderType.IsPending() {
		trade.Status = domain.StatusPending
		trade.PendingPrice = req.PendingPrice
	} else {
		trade.Status = domain.StatusOpen
		trade.OpenPrice = execPrice
		trade.MarginUsed = margin
	}

	chargeNow := commission > 0 && !e.cfg.CommissionOnClose && trade.Status == domain.StatusOpen
	err = e.uow.InTx(ctx, func(ctx context.Context) error {
		if _, err := e.trades.CreateTrade(ctx, trade); err != nil {
			return err
		}
		if chargeNow {
			acct.Balance = pricing.Round2(acct.Balance - commission)
			if err := e.accounts.UpdateAccount(ctx, acct); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist trade open for account %d: %w", acct.ID, err)
	}

	e.logger.Info(ctx, op+": Trade persisted", map[string]interface{}{
		"tradeID": trade.ID, "accountID": acct.ID, "symbol": trade.Symbol,
		"side": trade.Side, "status": trade.Status, "quantity": trade.Quantity,
		"openPrice": trade.OpenPrice, "marginUsed": trade.MarginUsed, "isCopy": trade.IsCopy,
	})
	return trade, nil
}

// ModifyRequest mutates stop-loss/take-profit on an OPEN trade.
// A nil level clears it.
type ModifyRequest struct {
	TradeID    int64
	StopLoss   *float64
	TakeProfit *float64
}

// ModifyTrade updates SL/TP on an open trade.
func (e *Engine) ModifyTrade(ctx context.Context, req ModifyRequest) (*domain.Trade, error) {
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
		return e.modifyLocked(ctx, req)
	}()
	if err != nil {
		return nil, err
	}

	e.fireModified(ctx, trade)
	return trade, nil
}

func (e *Engine) modifyLocked(ctx context.Context, req ModifyRequest) (*domain.Trade, error) {
	// Re-read under the lock: a concurrent close may have landed since the
	// caller's lookup, and a terminal trade is immutable.
	trade, err := e.trades.FindTradeByID(ctx, req.TradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade %d: %w", req.TradeID, err)
	}
	if trade == nil || !trade.IsOpen() {
		return nil, fmt.Errorf("trade %d: %w", req.TradeID, ports.ErrTradeNotOpen)
	}

	trade.StopLoss = 0
	if req.StopLoss != nil {
		trade.StopLoss = *req.StopLoss
	}
	trade.TakeProfit = 0
	if req.TakeProfit != nil {
		trade.TakeProfit = *req.TakeProfit
	}
	if err := e.trades.UpdateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to update SL/TP on trade %d: %w", trade.ID, err)
	}
	e.logger.Debug(ctx, "ModifyTrade: SL/TP updated", map[string]interface{}{
		"tradeID": trade.ID, "stopLoss": trade.StopLoss, "takeProfit": trade.TakeProfit,
	})
	return trade, nil
}

// CancelPending cancels a PENDING trade. The transition is terminal.
func (e *Engine) CancelPending(ctx context.Context, tradeID int64) (*domain.Trade, error) {
	trade, err := e.trades.FindTradeByID(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade %d: %w", tradeID, err)
	}
	if trade == nil {
		return nil, fmt.Errorf("trade %d: %w", tradeID, ports.ErrNotFound)
	}
	e.locker.Lock(trade.AccountID)
	defer e.locker.Unlock(trade.AccountID)

	trade, err = e.trades.FindTradeByID(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade %d: %w", tradeID, err)
	}
	if trade == nil || !trade.IsPending() {
		return nil, fmt.Errorf("trade %d: %w", tradeID, ports.ErrTradeTerminal)
	}

	trade.Status = domain.StatusCancelled
	trade.ClosedBy = domain.ClosedByCancel
	trade.CloseTime = time.Now().UTC()
	if err := e.trades.UpdateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to cancel pending trade %d: %w", trade.ID, err)
	}
	e.logger.Info(ctx, "CancelPending: Pending trade cancelled", map[string]interface{}{"tradeID": trade.ID})
	return trade, nil
}
