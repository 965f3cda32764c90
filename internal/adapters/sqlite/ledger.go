package sqlite

import (
	"context"
	"fmt"
	"time"

	"fxCopyDesk/internal/domain"
)

// AppendEntry saves a new credit ledger entry. Entries are append-only; no
// update path exists.
func (r *Repository) AppendEntry(ctx context.Context, e *domain.CreditLedgerEntry) (int64, error) {
	const query = `
	INSERT INTO credit_ledger (entry_id, account_id, subscription_id, trade_id, type, amount,
	                           credit_before, credit_after, deficit_before, deficit_after,
	                           description, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	result, err := r.q(ctx).ExecContext(ctx, query,
		e.EntryID, e.AccountID, e.SubscriptionID, e.TradeID, e.Type, e.Amount,
		e.CreditBefore, e.CreditAfter, e.DeficitBefore, e.DeficitAfter,
		e.Description, e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to append ledger entry for account %d: %w", e.AccountID, wrapConstraint(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for ledger entry: %w", err)
	}
	e.ID = id
	r.logger.Debug(ctx, "Ledger entry appended", map[string]interface{}{
		"ledgerID": id, "accountID": e.AccountID, "type": e.Type, "amount": e.Amount,
	})
	return id, nil
}

// FindEntriesByAccount retrieves an account's entries in append order.
func (r *Repository) FindEntriesByAccount(ctx context.Context, accountID int64) ([]*domain.CreditLedgerEntry, error) {
	const query = `
	SELECT id, entry_id, account_id, subscription_id, trade_id, type, amount,
	       credit_before, credit_after, deficit_before, deficit_after, description, created_at
	FROM credit_ledger WHERE account_id = ? ORDER BY id`

	rows, err := r.q(ctx).QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries for account %d: %w", accountID, err)
	}
	defer rows.Close()

	entries := make([]*domain.CreditLedgerEntry, 0)
	for rows.Next() {
		e := &domain.CreditLedgerEntry{}
		var entryType string
		if err := rows.Scan(
			&e.ID, &e.EntryID, &e.AccountID, &e.SubscriptionID, &e.TradeID, &entryType, &e.Amount,
			&e.CreditBefore, &e.CreditAfter, &e.DeficitBefore, &e.DeficitAfter, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Type = domain.LedgerEntryType(entryType)
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entry rows: %w", err)
	}
	return entries, nil
}

// LedgerAccountIDs lists every account that has at least one ledger entry.
func (r *Repository) LedgerAccountIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT DISTINCT account_id FROM credit_ledger ORDER BY account_id`

	rows, err := r.q(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger account IDs: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ledger account ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger account ID rows: %w", err)
	}
	return ids, nil
}
