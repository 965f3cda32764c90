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

// CreateAccount saves a new trading account and returns its assigned ID.
// Not part of a port; used by wiring and tests to seed accounts.
func (r *Repository) CreateAccount(ctx context.Context, acct *domain.TradingAccount) (int64, error) {
	const query = `
	INSERT INTO accounts (balance, credit, leverage, status, is_master, pending_commission,
	                      copied_trades, max_open_trades, max_lot_size, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	acct.UpdatedAt = time.Now().UTC()
	result, err := r.q(ctx).ExecContext(ctx, query,
		acct.Balance, acct.Credit, acct.Leverage, acct.Status, acct.IsMaster, acct.PendingCommission,
		acct.CopiedTrades, acct.MaxOpenTrades, acct.MaxLotSize, acct.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for account: %w", err)
	}
	acct.ID = id
	r.logger.Debug(ctx, "Account created", map[string]interface{}{"accountID": id, "isMaster": acct.IsMaster})
	return id, nil
}

// FindAccountByID retrieves an account by ID. Returns nil, nil if not found.
func (r *Repository) FindAccountByID(ctx context.Context, id int64) (*domain.TradingAccount, error) {
	const query = `
	SELECT id, balance, credit, leverage, status, is_master, pending_commission,
	       copied_trades, max_open_trades, max_lot_size, updated_at
	FROM accounts WHERE id = ?`

	acct, err := scanAccount(r.q(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query account by ID %d: %w", id, err)
	}
	return acct, nil
}

// UpdateAccount persists an account's mutable fields.
func (r *Repository) UpdateAccount(ctx context.Context, acct *domain.TradingAccount) error {
	const query = `
	UPDATE accounts
	SET balance = ?, credit = ?, leverage = ?, status = ?, is_master = ?, pending_commission = ?,
	    copied_trades = ?, max_open_trades = ?, max_lot_size = ?, updated_at = ?
	WHERE id = ?`

	acct.UpdatedAt = time.Now().UTC()
	result, err := r.q(ctx).ExecContext(ctx, query,
		acct.Balance, acct.Credit, acct.Leverage, acct.Status, acct.IsMaster, acct.PendingCommission,
		acct.CopiedTrades, acct.MaxOpenTrades, acct.MaxLotSize, acct.UpdatedAt,
		acct.ID)
	if err != nil {
		return fmt.Errorf("failed to update account ID %d: %w", acct.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update account ID %d: %w", acct.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account ID %d not found for update: %w", acct.ID, ports.ErrNotFound)
	}
	return nil
}

// AccountIDsWithOpenTrades lists accounts that currently hold OPEN trades.
func (r *Repository) AccountIDsWithOpenTrades(ctx context.Context) ([]int64, error) {
	const query = `SELECT DISTINCT account_id FROM trades WHERE status = ?`

	rows, err := r.q(ctx).QueryContext(ctx, query, domain.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts with open trades: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account ID rows: %w", err)
	}
	return ids, nil
}

func scanAccount(s scanner) (*domain.TradingAccount, error) {
	a := &domain.TradingAccount{}
	var status string
	err := s.Scan(
		&a.ID, &a.Balance, &a.Credit, &a.Leverage, &status, &a.IsMaster, &a.PendingCommission,
		&a.CopiedTrades, &a.MaxOpenTrades, &a.MaxLotSize, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = domain.AccountStatus(status)
	return a, nil
}
