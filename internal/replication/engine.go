// Package replication fans a master account's trade events out to all active
// follower subscriptions. Every follower is an independent unit of work:
// one follower's failure is converted into a FAILED result and never aborts
// replication to the others.
package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"fxCopyDesk/internal/credit"
	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/engine"
	"fxCopyDesk/internal/locks"
	"fxCopyDesk/internal/ports"
)

// ResultStatus classifies one follower's replication outcome.
type ResultStatus string

const (
	ResultOpened   ResultStatus = "OPENED"
	ResultModified ResultStatus = "MODIFIED"
	ResultClosed   ResultStatus = "CLOSED"
	ResultSkipped  ResultStatus = "SKIPPED"
	ResultFailed   ResultStatus = "FAILED"
)

// FollowerResult is one follower's outcome in a fan-out operation.
type FollowerResult struct {
	SubscriptionID    int64
	FollowerAccountID int64
	CopyTradeID       int64
	FollowerTradeID   int64
	Status            ResultStatus
	Reason            string
}

// Config holds the replication engine's tunables.
type Config struct {
	MaxConcurrency int // Concurrent follower units per master event (default 8)
}

// Engine is the Copy Replication Engine.
type Engine struct {
	cfg        Config
	logger     ports.Logger
	lifecycle  *engine.Engine
	creditSvc  *credit.Service
	quotes     ports.PricingGateway
	accounts   ports.AccountRepository
	followers  ports.FollowerRepository
	copyTrades ports.CopyTradeRepository
	locker     *locks.AccountLocker
}

// New creates a replication engine.
func New(cfg Config, logger ports.Logger, lifecycle *engine.Engine, creditSvc *credit.Service,
	quotes ports.PricingGateway, accounts ports.AccountRepository, followers ports.FollowerRepository,
	copyTrades ports.CopyTradeRepository, locker *locks.AccountLocker) (*Engine, error) {
	if logger == nil || lifecycle == nil || creditSvc == nil || quotes == nil || accounts == nil || followers == nil || copyTrades == nil || locker == nil {
		return nil, fmt.Errorf("missing required dependencies for replication engine")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	return &Engine{
		cfg:        cfg,
		logger:     logger,
		lifecycle:  lifecycle,
		creditSvc:  creditSvc,
		quotes:     quotes,
		accounts:   accounts,
		followers:  followers,
		copyTrades: copyTrades,
		locker:     locker,
	}, nil
}

// ReplicateOpen fans a master trade-open out to every ACTIVE follower of the
// master account. The returned slice holds one result per follower; the
// operation always completes.
func (e *Engine) ReplicateOpen(ctx context.Context, masterTrade *domain.Trade) []FollowerResult {
	op := "ReplicateOpen"
	subs, err := e.activeFollowers(ctx, op, masterTrade.AccountID)
	if err != nil || len(subs) == 0 {
		return nil
	}

	masterSnap, err := e.lifecycle.AccountSnapshot(ctx, masterTrade.AccountID)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to snapshot master account", map[string]interface{}{"accountID": masterTrade.AccountID})
		return nil
	}

	results := make([]FollowerResult, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			results[i] = e.replicateOne(gctx, masterTrade, masterSnap, sub)
			return nil
		})
	}
	_ = g.Wait() // Units never return errors; failures live in the results.

	e.logResults(ctx, op, masterTrade.ID, results)
	return results
}

// replicateOne opens one follower's copy of a master trade. Any failure is
// converted into a FAILED result; panics are recovered to the same end.
func (e *Engine) replicateOne(ctx context.Context, masterTrade *domain.Trade, masterSnap *engine.Snapshot, sub *domain.CopyFollower) (res FollowerResult) {
	res = FollowerResult{SubscriptionID: sub.ID, FollowerAccountID: sub.FollowerAccountID}
	defer func() {
		if r := recover(); r != nil {
			res.Status = ResultFailed
			res.Reason = fmt.Sprintf("panic during replication: %v", r)
			e.logger.Error(ctx, fmt.Errorf("%v", r), "Replication unit panicked", map[string]interface{}{"subscriptionID": sub.ID})
		}
	}()

	// Idempotency: at most one copy trade per (masterTradeID, followerAccountID).
	existing, err := e.copyTrades.FindByMasterTradeAndFollower(ctx, masterTrade.ID, sub.FollowerAccountID)
	if err != nil {
		res.Status = ResultFailed
		res.Reason = fmt.Sprintf("idempotency lookup failed: %v", err)
		return res
	}
	if existing != nil {
		res.Status = ResultSkipped
		res.CopyTradeID = existing.ID
		res.Reason = "copy trade already exists for master trade and follower"
		return res
	}

	followerSnap, err := e.lifecycle.AccountSnapshot(ctx, sub.FollowerAccountID)
	if err != nil {
		return e.failCopy(ctx, masterTrade, sub, 0, fmt.Sprintf("failed to snapshot follower account: %v", err))
	}

	lot := FollowerLot(sub, SizingInputs{
		MasterLot:       masterTrade.Quantity,
		MasterBalance:   masterSnap.Balance,
		MasterEquity:    masterSnap.Equity,
		FollowerBalance: followerSnap.Balance,
		FollowerEquity:  followerSnap.Equity,
	})

	// Open at the master's execution price to guarantee price parity.
	followerTrade, err := e.lifecycle.OpenTrade(ctx, engine.OpenRequest{
		AccountID:      sub.FollowerAccountID,
		Symbol:         masterTrade.Symbol,
		Side:           masterTrade.Side,
		OrderType:      domain.Market,
		Quantity:       lot,
		StopLoss:       masterTrade.StopLoss,
		TakeProfit:     masterTrade.TakeProfit,
		IsCopy:         true,
		ExecutionPrice: masterTrade.OpenPrice,
	})
	if err != nil {
		// Margin shortfalls and inactive accounts become FAILED records, not
		// errors: the follower is skipped, replication to the rest continues.
		return e.failCopy(ctx, masterTrade, sub, lot, err.Error())
	}

	ct := &domain.CopyTrade{
		MasterTradeID:     masterTrade.ID,
		SubscriptionID:    sub.ID,
		MasterAccountID:   sub.MasterAccountID,
		FollowerAccountID: sub.FollowerAccountID,
		FollowerTradeID:   followerTrade.ID,
		MasterLotSize:     masterTrade.Quantity,
		FollowerLotSize:   lot,
		CopyMode:          sub.CopyMode,
		CopyValue:         sub.CopyValue,
		OpenPrice:         followerTrade.OpenPrice,
		Status:            domain.CopyTradeOpen,
		OpenTime:          time.Now().UTC(),
	}
	if _, err := e.copyTrades.CreateCopyTrade(ctx, ct); err != nil {
		if errors.Is(err, ports.ErrDuplicateEntry) {
			// Lost a race with a concurrent replication of the same pair:
			// roll the freshly opened trade back and report the skip.
			if _, cerr := e.lifecycle.CloseTrade(ctx, engine.CloseRequest{
				TradeID: followerTrade.ID, ClosedBy: domain.ClosedByAdmin, PriceOverride: followerTrade.OpenPrice,
			}); cerr != nil {
				e.logger.Error(ctx, cerr, "Failed to roll back duplicate copy open", map[string]interface{}{"tradeID": followerTrade.ID})
			}
			res.Status = ResultSkipped
			res.Reason = "duplicate replication detected by storage"
			return res
		}
		res.Status = ResultFailed
		res.Reason = fmt.Sprintf("failed to record copy trade: %v", err)
		return res
	}

	e.bumpCounters(ctx, sub)

	res.Status = ResultOpened
	res.CopyTradeID = ct.ID
	res.FollowerTradeID = followerTrade.ID
	return res
}

// failCopy records a FAILED CopyTrade for audit and returns the result.
func (e *Engine) failCopy(ctx context.Context, masterTrade *domain.Trade, sub *domain.CopyFollower, lot float64, reason string) FollowerResult {
	ct := &domain.CopyTrade{
		MasterTradeID:     masterTrade.ID,
		SubscriptionID:    sub.ID,
		MasterAccountID:   sub.MasterAccountID,
		FollowerAccountID: sub.FollowerAccountID,
		MasterLotSize:     masterTrade.Quantity,
		FollowerLotSize:   lot,
		CopyMode:          sub.CopyMode,
		CopyValue:         sub.CopyValue,
		Status:            domain.CopyTradeFailed,
		FailReason:        reason,
		OpenTime:          time.Now().UTC(),
	}
	if _, err := e.copyTrades.CreateCopyTrade(ctx, ct); err != nil && !errors.Is(err, ports.ErrDuplicateEntry) {
		e.logger.Error(ctx, err, "Failed to record FAILED copy trade", map[string]interface{}{"subscriptionID": sub.ID})
	}
	return FollowerResult{
		SubscriptionID:    sub.ID,
		FollowerAccountID: sub.FollowerAccountID,
		CopyTradeID:       ct.ID,
		Status:            ResultFailed,
		Reason:            reason,
	}
}

// bumpCounters increments the subscription's and master's replication counters.
func (e *Engine) bumpCounters(ctx context.Context, sub *domain.CopyFollower) {
	sub.TotalCopiedTrades++
	if err := e.followers.UpdateFollower(ctx, sub); err != nil {
		e.logger.Error(ctx, err, "Failed to update subscription counters", map[string]interface{}{"subscriptionID": sub.ID})
	}

	e.locker.Lock(sub.MasterAccountID)
	defer e.locker.Unlock(sub.MasterAccountID)
	master, err := e.accounts.FindAccountByID(ctx, sub.MasterAccountID)
	if err != nil || master == nil {
		e.logger.Error(ctx, err, "Failed to load master for counter update", map[string]interface{}{"accountID": sub.MasterAccountID})
		return
	}
	master.CopiedTrades++
	if err := e.accounts.UpdateAccount(ctx, master); err != nil {
		e.logger.Error(ctx, err, "Failed to update master counters", map[string]interface{}{"accountID": master.ID})
	}
}

func (e *Engine) activeFollowers(ctx context.Context, op string, masterAccountID int64) ([]*domain.CopyFollower, error) {
	subs, err := e.followers.FindActiveByMaster(ctx, masterAccountID)
	if err != nil {
		e.logger.Error(ctx, err, op+": Failed to load followers", map[string]interface{}{"masterAccountID": masterAccountID})
		return nil, err
	}
	return subs, nil
}

func (e *Engine) logResults(ctx context.Context, op string, masterTradeID int64, results []FollowerResult) {
	var opened, closed, modified, skipped, failed int
	for _, r := range results {
		switch r.Status {
		case ResultOpened:
			opened++
		case ResultClosed:
			closed++
		case ResultModified:
			modified++
		case ResultSkipped:
			skipped++
		case ResultFailed:
			failed++
		}
	}
	e.logger.Info(ctx, op+": Fan-out complete", map[string]interface{}{
		"masterTradeID": masterTradeID, "followers": len(results),
		"opened": opened, "closed": closed, "modified": modified, "skipped": skipped, "failed": failed,
	})
}
