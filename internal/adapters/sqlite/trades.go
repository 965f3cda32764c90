package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/ports"
)

const tradeColumns = `id, account_id, symbol, side, order_type, quantity, pending_price,
       open_price, close_price, stop_loss, take_profit, margin_used, leverage,
       contract_size, commission, swap, realized_pnl, status, closed_by, is_copy,
       open_time, close_time`

// CreateTrade saves a new trade and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, t *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (account_id, symbol, side, order_type, quantity, pending_price,
	                    open_price, close_price, stop_loss, take_profit, margin_used, leverage,
	                    contract_size, commission, swap, realized_pnl, status, closed_by, is_copy,
	                    open_time, close_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.q(ctx).ExecContext(ctx, query,
		t.AccountID, t.Symbol, t.Side, t.OrderType, t.Quantity, t.PendingPrice,
		t.OpenPrice, t.ClosePrice, t.StopLoss, t.TakeProfit, t.MarginUsed, t.Leverage,
		t.ContractSize, t.Commission, t.Swap, t.RealizedPnl, t.Status, t.ClosedBy, t.IsCopy,
		nullTime(t.OpenTime), nullTime(t.CloseTime))
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for account %d: %w", t.AccountID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade on account %d: %w", t.AccountID, err)
	}
	t.ID = id
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "accountID": t.AccountID, "symbol": t.Symbol, "status": t.Status})
	return id, nil
}

// UpdateTrade modifies an existing trade.
func (r *Repository) UpdateTrade(ctx context.Context, t *domain.Trade) error {
	const query = `
	UPDATE trades
	SET quantity = ?, pending_price = ?, open_price = ?, close_price = ?, stop_loss = ?,
	    take_profit = ?, margin_used = ?, commission = ?, swap = ?, realized_pnl = ?,
	    status = ?, closed_by = ?, open_time = ?, close_time = ?
	WHERE id = ?`

	result, err := r.q(ctx).ExecContext(ctx, query,
		t.Quantity, t.PendingPrice, t.OpenPrice, t.ClosePrice, t.StopLoss,
		t.TakeProfit, t.MarginUsed, t.Commission, t.Swap, t.RealizedPnl,
		t.Status, t.ClosedBy, nullTime(t.OpenTime), nullTime(t.CloseTime),
		t.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade ID %d: %w", t.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update trade ID %d: %w", t.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade ID %d not found for update: %w", t.ID, ports.ErrNotFound)
	}
	return nil
}

// FindTradeByID retrieves a trade by ID. Returns nil, nil if not found.
func (r *Repository) FindTradeByID(ctx context.Context, id int64) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = ?`

	t, err := scanTrade(r.q(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade by ID %d: %w", id, err)
	}
	return t, nil
}

// FindOpenByAccount retrieves all OPEN trades for an account.
func (r *Repository) FindOpenByAccount(ctx context.Context, accountID int64) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE account_id = ? AND status = ? ORDER BY id`
	return r.queryTrades(ctx, query, accountID, domain.StatusOpen)
}

// FindPendingBySymbol retrieves all PENDING trades for a symbol.
func (r *Repository) FindPendingBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE symbol = ? AND status = ? ORDER BY id`
	return r.queryTrades(ctx, query, symbol, domain.StatusPending)
}

// FindPendingByAccount retrieves all PENDING trades for an account.
func (r *Repository) FindPendingByAccount(ctx context.Context, accountID int64) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE account_id = ? AND status = ? ORDER BY id`
	return r.queryTrades(ctx, query, accountID, domain.StatusPending)
}

// CountActiveByAccount counts OPEN plus PENDING trades for an account.
func (r *Repository) CountActiveByAccount(ctx context.Context, accountID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM trades WHERE account_id = ? AND status IN (?, ?)`
	var count int
	err := r.q(ctx).QueryRowContext(ctx, query, accountID, domain.StatusOpen, domain.StatusPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active trades for account %d: %w", accountID, err)
	}
	return count, nil
}

// ActiveSymbols lists symbols that have OPEN or PENDING trades.
func (r *Repository) ActiveSymbols(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT symbol FROM trades WHERE status IN (?, ?) ORDER BY symbol`

	rows, err := r.q(ctx).QueryContext(ctx, query, domain.StatusOpen, domain.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query active symbols: %w", err)
	}
	defer rows.Close()

	symbols := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating symbol rows: %w", err)
	}
	return symbols, nil
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, orderType, status, closedBy string
	var openTime, closeTime sql.NullTime
	err := s.Scan(
		&t.ID, &t.AccountID, &t.Symbol, &side, &orderType, &t.Quantity, &t.PendingPrice,
		&t.OpenPrice, &t.ClosePrice, &t.StopLoss, &t.TakeProfit, &t.MarginUsed, &t.Leverage,
		&t.ContractSize, &t.Commission, &t.Swap, &t.RealizedPnl, &status, &closedBy, &t.IsCopy,
		&openTime, &closeTime)
	if err != nil {
		return nil, err
	}
	t.Side = domain.OrderSide(side)
	t.OrderType = domain.OrderType(orderType)
	t.Status = domain.TradeStatus(status)
	t.ClosedBy = domain.ClosedBy(closedBy)
	if openTime.Valid {
		t.OpenTime = openTime.Time
	}
	if closeTime.Valid {
		t.CloseTime = closeTime.Time
	}
	return t, nil
}
