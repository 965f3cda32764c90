package replication

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/engine"
	"fxCopyDesk/internal/pricing"
)

// MirrorModify propagates a master trade's SL/TP change to every OPEN copy
// trade's underlying follower trade, as independent concurrent units. The
// levels are re-read from storage at execution, so a mirror that runs behind
// a burst of modifies still lands the newest SL/TP.
func (e *Engine) MirrorModify(ctx context.Context, masterTrade *domain.Trade) []FollowerResult {
	op := "MirrorModify"
	if current, err := e.lifecycle.Trade(ctx, masterTrade.ID); err == nil && current.IsOpen() {
		masterTrade = current
	}
	open, err := e.copyTrades.FindOpenByMasterTrade(ctx, masterTrade.ID)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to load open copy trades", map[string]interface{}{"masterTradeID": masterTrade.ID})
		return nil
	}
	if len(open) == 0 {
		return nil
	}

	results := make([]FollowerResult, len(open))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, ct := range open {
		i, ct := i, ct
		g.Go(func() error {
			res := FollowerResult{SubscriptionID: ct.SubscriptionID, FollowerAccountID: ct.FollowerAccountID, CopyTradeID: ct.ID, FollowerTradeID: ct.FollowerTradeID}
			sl, tp := masterTrade.StopLoss, masterTrade.TakeProfit
			_, merr := e.lifecycle.ModifyTrade(gctx, engine.ModifyRequest{
				TradeID:    ct.FollowerTradeID,
				StopLoss:   &sl,
				TakeProfit: &tp,
			})
			if merr != nil {
				res.Status = ResultFailed
				res.Reason = merr.Error()
			} else {
				res.Status = ResultModified
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	e.logResults(ctx, op, masterTrade.ID, results)
	return results
}

// ReplicateClose closes every OPEN copy trade of a master trade at the
// master's close price, then immediately distributes each follower's PnL
// through the credit/refill service (per trade, not batched).
func (e *Engine) ReplicateClose(ctx context.Context, masterTrade *domain.Trade) []FollowerResult {
	op := "ReplicateClose"
	open, err := e.copyTrades.FindOpenByMasterTrade(ctx, masterTrade.ID)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to load open copy trades", map[string]interface{}{"masterTradeID": masterTrade.ID})
		return nil
	}
	if len(open) == 0 {
		return nil
	}

	results := make([]FollowerResult, len(open))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, ct := range open {
		i, ct := i, ct
		g.Go(func() error {
			results[i] = e.closeOne(gctx, ct, masterTrade.ClosePrice, domain.ClosedByMasterClose)
			return nil
		})
	}
	_ = g.Wait()

	e.logResults(ctx, op, masterTrade.ID, results)
	return results
}

// ForceCloseForMaster closes every OPEN copy trade across a suspended or
// banned master's trades at the best available live quote. Per-trade
// failures are collected, never fatal to the sweep.
func (e *Engine) ForceCloseForMaster(ctx context.Context, masterAccountID int64) []FollowerResult {
	op := "ForceCloseForMaster"
	open, err := e.copyTrades.FindOpenByMasterAccount(ctx, masterAccountID)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to load open copy trades", map[string]interface{}{"masterAccountID": masterAccountID})
		return nil
	}
	if len(open) == 0 {
		return nil
	}

	results := make([]FollowerResult, len(open))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, ct := range open {
		i, ct := i, ct
		g.Go(func() error {
			var price float64
			if t, terr := e.lifecycle.Trade(gctx, ct.FollowerTradeID); terr == nil {
				if q, qerr := e.quotes.Quote(gctx, t.Symbol); qerr == nil && q.IsValid() {
					price = pricing.ClosePriceFromQuote(t.Side, q)
				}
			}
			results[i] = e.closeOne(gctx, ct, price, domain.ClosedByMasterSuspended)
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Info(ctx, op+": Sweep complete", map[string]interface{}{"masterAccountID": masterAccountID, "copyTrades": len(results)})
	return results
}

// HandleFollowerClose settles the copy trade behind a follower trade that was
// closed on the follower's own side: a protective level, a stop-out sweep or
// an admin action. Master-driven closes are settled inline by the close
// fan-out and skipped here. Returns at most one result.
func (e *Engine) HandleFollowerClose(ctx context.Context, followerTrade *domain.Trade) []FollowerResult {
	op := "HandleFollowerClose"
	if !followerTrade.IsCopy || followerTrade.Status != domain.StatusClosed {
		return nil
	}
	switch followerTrade.ClosedBy {
	case domain.ClosedByMasterClose, domain.ClosedByMasterSuspended:
		return nil
	}

	ct, err := e.copyTrades.FindOpenByFollowerTrade(ctx, followerTrade.ID)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to load copy trade", map[string]interface{}{"followerTradeID": followerTrade.ID})
		return nil
	}
	if ct == nil {
		return nil // Not a replicated trade we track, or already settled.
	}

	res := FollowerResult{SubscriptionID: ct.SubscriptionID, FollowerAccountID: ct.FollowerAccountID, CopyTradeID: ct.ID, FollowerTradeID: ct.FollowerTradeID}
	if serr := e.settleClosed(ctx, ct, followerTrade); serr != nil {
		res.Status = ResultFailed
		res.Reason = ct.FailReason
	} else {
		res.Status = ResultClosed
	}
	e.logResults(ctx, op, ct.MasterTradeID, []FollowerResult{res})
	return []FollowerResult{res}
}

// SettleUnsettled is the reconciliation sweep for copy trades whose close
// never reached the distribution: rows parked CLOSED with a fail reason, and
// rows still OPEN although their follower trade is already terminal. The
// per-trade transaction in the credit service makes a retry safe: a
// half-applied distribution never commits, and a replayed commission insert
// is detected by the storage layer and skipped.
// Returns the number of trades settled.
func (e *Engine) SettleUnsettled(ctx context.Context, limit int) int {
	op := "SettleUnsettled"
	var pending []*domain.CopyTrade

	orphaned, err := e.copyTrades.FindOpenWithTerminalFollower(ctx, limit)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to load orphaned copy trades")
	}
	pending = append(pending, orphaned...)

	stuck, err := e.copyTrades.FindClosedUnsettled(ctx, limit)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to load unsettled copy trades")
	}
	pending = append(pending, stuck...)

	settled := 0
	for _, ct := range pending {
		followerTrade, err := e.lifecycle.Trade(ctx, ct.FollowerTradeID)
		if err != nil {
			e.logger.Error(ctx, err, op+": Failed to load follower trade", map[string]interface{}{"copyTradeID": ct.ID})
			continue
		}
		if err := e.settleClosed(ctx, ct, followerTrade); err != nil {
			e.logger.Error(ctx, err, op+": Distribution retry failed", map[string]interface{}{"copyTradeID": ct.ID})
			continue
		}
		settled++
	}
	if len(pending) > 0 {
		e.logger.Info(ctx, op+": Settlement sweep complete", map[string]interface{}{"stuck": len(pending), "settled": settled})
	}
	return settled
}

// closeOne closes a single follower's copy trade and distributes its PnL.
// Panics and errors are converted into FAILED results.
func (e *Engine) closeOne(ctx context.Context, ct *domain.CopyTrade, price float64, closedBy domain.ClosedBy) (res FollowerResult) {
	res = FollowerResult{SubscriptionID: ct.SubscriptionID, FollowerAccountID: ct.FollowerAccountID, CopyTradeID: ct.ID, FollowerTradeID: ct.FollowerTradeID}
	defer func() {
		if r := recover(); r != nil {
			res.Status = ResultFailed
			res.Reason = fmt.Sprintf("panic during copy close: %v", r)
			e.logger.Error(ctx, fmt.Errorf("%v", r), "Copy close unit panicked", map[string]interface{}{"copyTradeID": ct.ID})
		}
	}()

	followerTrade, err := e.lifecycle.CloseTrade(ctx, engine.CloseRequest{
		TradeID:       ct.FollowerTradeID,
		ClosedBy:      closedBy,
		PriceOverride: price,
	})
	if err != nil {
		res.Status = ResultFailed
		res.Reason = err.Error()
		return res
	}

	if serr := e.settleClosed(ctx, ct, followerTrade); serr != nil {
		res.Status = ResultFailed
		res.Reason = ct.FailReason
		return res
	}

	res.Status = ResultClosed
	return res
}

// settleClosed records a closed follower trade on its copy-trade row and runs
// the PnL distribution. A distribution failure parks the row CLOSED with a
// fail reason so the reconciliation sweep retries it; success clears the
// reason and stores the split.
func (e *Engine) settleClosed(ctx context.Context, ct *domain.CopyTrade, followerTrade *domain.Trade) error {
	ct.Status = domain.CopyTradeClosed
	ct.ClosePrice = followerTrade.ClosePrice
	ct.RealizedPnl = followerTrade.RealizedPnl
	if ct.CloseTime.IsZero() {
		ct.CloseTime = time.Now().UTC()
	}

	dist, err := e.creditSvc.DistributeClose(ctx, ct.SubscriptionID, followerTrade)
	if err != nil {
		ct.FailReason = fmt.Sprintf("close succeeded but distribution failed: %v", err)
		if uerr := e.copyTrades.UpdateCopyTrade(ctx, ct); uerr != nil {
			e.logger.Error(ctx, uerr, "Failed to update copy trade after distribution failure", map[string]interface{}{"copyTradeID": ct.ID})
		}
		return err
	}

	ct.FailReason = ""
	ct.ProfitToCredit = dist.ProfitToCredit
	ct.ProfitToWallet = dist.ProfitToWallet
	ct.CommissionPaid = dist.TotalCommission
	if err := e.copyTrades.UpdateCopyTrade(ctx, ct); err != nil {
		e.logger.Error(ctx, err, "Failed to update settled copy trade", map[string]interface{}{"copyTradeID": ct.ID})
		return err
	}
	return nil
}
