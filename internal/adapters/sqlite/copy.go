package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/ports"
)

// --- FollowerRepository ---

// CreateFollower saves a new copy-trading subscription.
// Not part of a port; used by wiring and tests.
func (r *Repository) CreateFollower(ctx context.Context, f *domain.CopyFollower) (int64, error) {
	const query = `
	INSERT INTO copy_followers (master_account_id, follower_account_id, copy_mode, copy_value,
	                            max_lot_size, minimum_credit, credit_deficit, is_refill_mode, status,
	                            total_copied_trades, total_profit, total_loss, total_refilled,
	                            total_profit_to_wallet, refill_count, last_refill_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	result, err := r.q(ctx).ExecContext(ctx, query,
		f.MasterAccountID, f.FollowerAccountID, f.CopyMode, f.CopyValue,
		f.MaxLotSize, f.MinimumCredit, f.CreditDeficit, f.IsRefillMode, f.Status,
		f.TotalCopiedTrades, f.TotalProfit, f.TotalLoss, f.TotalRefilled,
		f.TotalProfitToWallet, f.RefillCount, nullTime(f.LastRefillAt), f.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert subscription for follower %d: %w", f.FollowerAccountID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for subscription: %w", err)
	}
	f.ID = id
	return id, nil
}

const followerColumns = `id, master_account_id, follower_account_id, copy_mode, copy_value,
       max_lot_size, minimum_credit, credit_deficit, is_refill_mode, status,
       total_copied_trades, total_profit, total_loss, total_refilled,
       total_profit_to_wallet, refill_count, last_refill_at, created_at`

// FindFollowerByID retrieves a subscription by ID. Returns nil, nil if not found.
func (r *Repository) FindFollowerByID(ctx context.Context, id int64) (*domain.CopyFollower, error) {
	query := `SELECT ` + followerColumns + ` FROM copy_followers WHERE id = ?`

	f, err := scanFollower(r.q(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query subscription by ID %d: %w", id, err)
	}
	return f, nil
}

// FindActiveByMaster retrieves all ACTIVE subscriptions for a master account.
func (r *Repository) FindActiveByMaster(ctx context.Context, masterAccountID int64) ([]*domain.CopyFollower, error) {
	query := `SELECT ` + followerColumns + ` FROM copy_followers WHERE master_account_id = ? AND status = ? ORDER BY id`

	rows, err := r.q(ctx).QueryContext(ctx, query, masterAccountID, domain.SubscriptionActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions for master %d: %w", masterAccountID, err)
	}
	defer rows.Close()

	subs := make([]*domain.CopyFollower, 0)
	for rows.Next() {
		f, err := scanFollower(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, f)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription rows: %w", err)
	}
	return subs, nil
}

// UpdateFollower persists the subscription's mutable fields and counters.
func (r *Repository) UpdateFollower(ctx context.Context, f *domain.CopyFollower) error {
	const query = `
	UPDATE copy_followers
	SET copy_mode = ?, copy_value = ?, max_lot_size = ?, minimum_credit = ?,
	    credit_deficit = ?, is_refill_mode = ?, status = ?,
	    total_copied_trades = ?, total_profit = ?, total_loss = ?, total_refilled = ?,
	    total_profit_to_wallet = ?, refill_count = ?, last_refill_at = ?
	WHERE id = ?`

	result, err := r.q(ctx).ExecContext(ctx, query,
		f.CopyMode, f.CopyValue, f.MaxLotSize, f.MinimumCredit,
		f.CreditDeficit, f.IsRefillMode, f.Status,
		f.TotalCopiedTrades, f.TotalProfit, f.TotalLoss, f.TotalRefilled,
		f.TotalProfitToWallet, f.RefillCount, nullTime(f.LastRefillAt),
		f.ID)
	if err != nil {
		return fmt.Errorf("failed to update subscription ID %d: %w", f.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update subscription ID %d: %w", f.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("subscription ID %d not found for update: %w", f.ID, ports.ErrNotFound)
	}
	return nil
}

func scanFollower(s scanner) (*domain.CopyFollower, error) {
	f := &domain.CopyFollower{}
	var mode, status string
	var lastRefill sql.NullTime
	err := s.Scan(
		&f.ID, &f.MasterAccountID, &f.FollowerAccountID, &mode, &f.CopyValue,
		&f.MaxLotSize, &f.MinimumCredit, &f.CreditDeficit, &f.IsRefillMode, &status,
		&f.TotalCopiedTrades, &f.TotalProfit, &f.TotalLoss, &f.TotalRefilled,
		&f.TotalProfitToWallet, &f.RefillCount, &lastRefill, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	f.CopyMode = domain.CopyMode(mode)
	f.Status = domain.SubscriptionStatus(status)
	if lastRefill.Valid {
		f.LastRefillAt = lastRefill.Time
	}
	return f, nil
}

// --- CopyTradeRepository ---

const copyTradeColumns = `id, master_trade_id, subscription_id, master_account_id, follower_account_id,
       follower_trade_id, master_lot_size, follower_lot_size, copy_mode, copy_value,
       open_price, close_price, realized_pnl, profit_to_credit, profit_to_wallet,
       commission_paid, status, fail_reason, open_time, close_time`

// CreateCopyTrade saves a new copy trade. The UNIQUE constraint on
// (master_trade_id, follower_account_id) surfaces as ports.ErrDuplicateEntry.
func (r *Repository) CreateCopyTrade(ctx context.Context, ct *domain.CopyTrade) (int64, error) {
	const query = `
	INSERT INTO copy_trades (master_trade_id, subscription_id, master_account_id, follower_account_id,
	                         follower_trade_id, master_lot_size, follower_lot_size, copy_mode, copy_value,
	                         open_price, close_price, realized_pnl, profit_to_credit, profit_to_wallet,
	                         commission_paid, status, fail_reason, open_time, close_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.q(ctx).ExecContext(ctx, query,
		ct.MasterTradeID, ct.SubscriptionID, ct.MasterAccountID, ct.FollowerAccountID,
		ct.FollowerTradeID, ct.MasterLotSize, ct.FollowerLotSize, ct.CopyMode, ct.CopyValue,
		ct.OpenPrice, ct.ClosePrice, ct.RealizedPnl, ct.ProfitToCredit, ct.ProfitToWallet,
		ct.CommissionPaid, ct.Status, ct.FailReason, nullTime(ct.OpenTime), nullTime(ct.CloseTime))
	if err != nil {
		return 0, fmt.Errorf("failed to insert copy trade for master trade %d: %w", ct.MasterTradeID, wrapConstraint(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for copy trade: %w", err)
	}
	ct.ID = id
	r.logger.Debug(ctx, "Copy trade created", map[string]interface{}{
		"copyTradeID": id, "masterTradeID": ct.MasterTradeID, "followerAccountID": ct.FollowerAccountID, "status": ct.Status,
	})
	return id, nil
}

// UpdateCopyTrade modifies an existing copy trade.
func (r *Repository) UpdateCopyTrade(ctx context.Context, ct *domain.CopyTrade) error {
	const query = `
	UPDATE copy_trades
	SET follower_trade_id = ?, follower_lot_size = ?, open_price = ?, close_price = ?,
	    realized_pnl = ?, profit_to_credit = ?, profit_to_wallet = ?, commission_paid = ?,
	    status = ?, fail_reason = ?, close_time = ?
	WHERE id = ?`

	result, err := r.q(ctx).ExecContext(ctx, query,
		ct.FollowerTradeID, ct.FollowerLotSize, ct.OpenPrice, ct.ClosePrice,
		ct.RealizedPnl, ct.ProfitToCredit, ct.ProfitToWallet, ct.CommissionPaid,
		ct.Status, ct.FailReason, nullTime(ct.CloseTime),
		ct.ID)
	if err != nil {
		return fmt.Errorf("failed to update copy trade ID %d: %w", ct.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update copy trade ID %d: %w", ct.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("copy trade ID %d not found for update: %w", ct.ID, ports.ErrNotFound)
	}
	return nil
}

// FindByMasterTradeAndFollower retrieves the copy trade for an idempotency
// key pair. Returns nil, nil if not found.
func (r *Repository) FindByMasterTradeAndFollower(ctx context.Context, masterTradeID, followerAccountID int64) (*domain.CopyTrade, error) {
	query := `SELECT ` + copyTradeColumns + ` FROM copy_trades WHERE master_trade_id = ? AND follower_account_id = ?`

	ct, err := scanCopyTrade(r.q(ctx).QueryRowContext(ctx, query, masterTradeID, followerAccountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query copy trade for master trade %d follower %d: %w", masterTradeID, followerAccountID, err)
	}
	return ct, nil
}

// FindOpenByMasterTrade retrieves all OPEN copy trades for a master trade.
func (r *Repository) FindOpenByMasterTrade(ctx context.Context, masterTradeID int64) ([]*domain.CopyTrade, error) {
	query := `SELECT ` + copyTradeColumns + ` FROM copy_trades WHERE master_trade_id = ? AND status = ? ORDER BY id`
	return r.queryCopyTrades(ctx, query, masterTradeID, domain.CopyTradeOpen)
}

// FindOpenByMasterAccount retrieves all OPEN copy trades across a master's trades.
func (r *Repository) FindOpenByMasterAccount(ctx context.Context, masterAccountID int64) ([]*domain.CopyTrade, error) {
	query := `SELECT ` + copyTradeColumns + ` FROM copy_trades WHERE master_account_id = ? AND status = ? ORDER BY id`
	return r.queryCopyTrades(ctx, query, masterAccountID, domain.CopyTradeOpen)
}

// FindOpenByFollowerTrade retrieves the OPEN copy trade backed by a follower's
// trade. Returns nil, nil if not found.
func (r *Repository) FindOpenByFollowerTrade(ctx context.Context, followerTradeID int64) (*domain.CopyTrade, error) {
	query := `SELECT ` + copyTradeColumns + ` FROM copy_trades WHERE follower_trade_id = ? AND status = ?`

	ct, err := scanCopyTrade(r.q(ctx).QueryRowContext(ctx, query, followerTradeID, domain.CopyTradeOpen))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query copy trade for follower trade %d: %w", followerTradeID, err)
	}
	return ct, nil
}

// FindClosedUnsettled retrieves CLOSED copy trades whose distribution failed.
// A limit <= 0 means no limit.
func (r *Repository) FindClosedUnsettled(ctx context.Context, limit int) ([]*domain.CopyTrade, error) {
	query := `SELECT ` + copyTradeColumns + ` FROM copy_trades WHERE status = ? AND fail_reason != '' ORDER BY id`
	args := []interface{}{domain.CopyTradeClosed}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryCopyTrades(ctx, query, args...)
}

// FindOpenWithTerminalFollower retrieves OPEN copy trades whose follower trade
// has already reached a terminal state. These rows missed their close
// distribution and belong to the reconciliation sweep.
// A limit <= 0 means no limit.
func (r *Repository) FindOpenWithTerminalFollower(ctx context.Context, limit int) ([]*domain.CopyTrade, error) {
	query := `
	SELECT ct.id, ct.master_trade_id, ct.subscription_id, ct.master_account_id, ct.follower_account_id,
	       ct.follower_trade_id, ct.master_lot_size, ct.follower_lot_size, ct.copy_mode, ct.copy_value,
	       ct.open_price, ct.close_price, ct.realized_pnl, ct.profit_to_credit, ct.profit_to_wallet,
	       ct.commission_paid, ct.status, ct.fail_reason, ct.open_time, ct.close_time
	FROM copy_trades ct
	JOIN trades t ON t.id = ct.follower_trade_id
	WHERE ct.status = ? AND t.status IN (?, ?)
	ORDER BY ct.id`
	args := []interface{}{domain.CopyTradeOpen, domain.StatusClosed, domain.StatusCancelled}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryCopyTrades(ctx, query, args...)
}

func (r *Repository) queryCopyTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.CopyTrade, error) {
	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query copy trades: %w", err)
	}
	defer rows.Close()

	cts := make([]*domain.CopyTrade, 0)
	for rows.Next() {
		ct, err := scanCopyTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan copy trade: %w", err)
		}
		cts = append(cts, ct)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating copy trade rows: %w", err)
	}
	return cts, nil
}

func scanCopyTrade(s scanner) (*domain.CopyTrade, error) {
	ct := &domain.CopyTrade{}
	var mode, status string
	var openTime, closeTime sql.NullTime
	err := s.Scan(
		&ct.ID, &ct.MasterTradeID, &ct.SubscriptionID, &ct.MasterAccountID, &ct.FollowerAccountID,
		&ct.FollowerTradeID, &ct.MasterLotSize, &ct.FollowerLotSize, &mode, &ct.CopyValue,
		&ct.OpenPrice, &ct.ClosePrice, &ct.RealizedPnl, &ct.ProfitToCredit, &ct.ProfitToWallet,
		&ct.CommissionPaid, &status, &ct.FailReason, &openTime, &closeTime)
	if err != nil {
		return nil, err
	}
	ct.CopyMode = domain.CopyMode(mode)
	ct.Status = domain.CopyTradeStatus(status)
	if openTime.Valid {
		ct.OpenTime = openTime.Time
	}
	if closeTime.Valid {
		ct.CloseTime = closeTime.Time
	}
	return ct, nil
}

// --- CommissionRepository ---

// CreateCommission saves a new commission record. The UNIQUE constraint on
// (master_account_id, follower_trade_id) surfaces as ports.ErrDuplicateEntry.
func (r *Repository) CreateCommission(ctx context.Context, c *domain.CopyCommission) (int64, error) {
	const query = `
	INSERT INTO copy_commissions (master_account_id, follower_account_id, follower_trade_id,
	                              profit, commission_pct, total_commission, master_share, admin_share,
	                              status, created_at, settled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	result, err := r.q(ctx).ExecContext(ctx, query,
		c.MasterAccountID, c.FollowerAccountID, c.FollowerTradeID,
		c.Profit, c.CommissionPct, c.TotalCommission, c.MasterShare, c.AdminShare,
		c.Status, c.CreatedAt, nullTime(c.SettledAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert commission for follower trade %d: %w", c.FollowerTradeID, wrapConstraint(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for commission: %w", err)
	}
	c.ID = id
	return id, nil
}

// UpdateCommission persists the commission's status fields.
func (r *Repository) UpdateCommission(ctx context.Context, c *domain.CopyCommission) error {
	const query = `UPDATE copy_commissions SET status = ?, settled_at = ? WHERE id = ?`

	result, err := r.q(ctx).ExecContext(ctx, query, c.Status, nullTime(c.SettledAt), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update commission ID %d: %w", c.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update commission ID %d: %w", c.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("commission ID %d not found for update: %w", c.ID, ports.ErrNotFound)
	}
	return nil
}

// FindCommissionsByStatus retrieves commission records in a given state.
// A limit <= 0 means no limit.
func (r *Repository) FindCommissionsByStatus(ctx context.Context, status domain.CommissionStatus, limit int) ([]*domain.CopyCommission, error) {
	query := `
	SELECT id, master_account_id, follower_account_id, follower_trade_id,
	       profit, commission_pct, total_commission, master_share, admin_share,
	       status, created_at, settled_at
	FROM copy_commissions WHERE status = ? ORDER BY id`
	args := []interface{}{status}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commissions by status %s: %w", status, err)
	}
	defer rows.Close()

	cs := make([]*domain.CopyCommission, 0)
	for rows.Next() {
		c := &domain.CopyCommission{}
		var st string
		var settledAt sql.NullTime
		if err := rows.Scan(
			&c.ID, &c.MasterAccountID, &c.FollowerAccountID, &c.FollowerTradeID,
			&c.Profit, &c.CommissionPct, &c.TotalCommission, &c.MasterShare, &c.AdminShare,
			&st, &c.CreatedAt, &settledAt); err != nil {
			return nil, fmt.Errorf("failed to scan commission: %w", err)
		}
		c.Status = domain.CommissionStatus(st)
		if settledAt.Valid {
			c.SettledAt = settledAt.Time
		}
		cs = append(cs, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commission rows: %w", err)
	}
	return cs, nil
}
