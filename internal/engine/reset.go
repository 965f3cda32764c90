package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/pricing"
	"fxCopyDesk/internal/ports"
)

// DemoReset wipes an account back to a starting state: every open trade is
// closed with DEMO_RESET (no PnL applied), every pending trade is cancelled,
// and balance and credit are set to the given values. The whole reset is one
// transaction; the credit change is recorded in the ledger.
func (e *Engine) DemoReset(ctx context.Context, accountID int64, balance, credit float64) error {
	op := "DemoReset"
	if balance < 0 || credit < 0 {
		return fmt.Errorf("reset balance and credit cannot be negative: %w", ports.ErrValidation)
	}

	e.locker.Lock(accountID)
	defer e.locker.Unlock(accountID)

	acct, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}

	open, err := e.trades.FindOpenByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load open trades for account %d: %w", accountID, err)
	}
	pending, err := e.trades.FindPendingByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load pending trades for account %d: %w", accountID, err)
	}

	now := time.Now().UTC()
	err = e.uow.InTx(ctx, func(ctx context.Context) error {
		for _, t := range open {
			t.Status = domain.StatusClosed
			t.ClosedBy = domain.ClosedByDemoReset
			t.ClosePrice = t.OpenPrice
			t.RealizedPnl = 0
			t.CloseTime = now
			if err := e.trades.UpdateTrade(ctx, t); err != nil {
				return fmt.Errorf("failed to close trade %d during reset: %w", t.ID, err)
			}
		}
		for _, t := range pending {
			t.Status = domain.StatusCancelled
			t.ClosedBy = domain.ClosedByDemoReset
			t.CloseTime = now
			if err := e.trades.UpdateTrade(ctx, t); err != nil {
				return fmt.Errorf("failed to cancel pending trade %d during reset: %w", t.ID, err)
			}
		}

		creditBefore := acct.Credit
		acct.Balance = pricing.Round2(balance)
		acct.Credit = pricing.Round2(credit)
		if err := e.accounts.UpdateAccount(ctx, acct); err != nil {
			return err
		}

		if acct.Credit != creditBefore {
			entryType := domain.LedgerAdminCredit
			if acct.Credit < creditBefore {
				entryType = domain.LedgerAdminDebit
			}
			entry := &domain.CreditLedgerEntry{
				EntryID:      uuid.NewString(),
				AccountID:    acct.ID,
				Type:         entryType,
				Amount:       pricing.Round2(acct.Credit - creditBefore),
				CreditBefore: creditBefore,
				CreditAfter:  acct.Credit,
				Description:  fmt.Sprintf("demo reset: balance=%.2f credit=%.2f", acct.Balance, acct.Credit),
				CreatedAt:    now,
			}
			if _, err := e.ledger.AppendEntry(ctx, entry); err != nil {
				return fmt.Errorf("failed to append credit ledger entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info(ctx, op+": Account reset", map[string]interface{}{
		"accountID": accountID, "closedTrades": len(open), "cancelledTrades": len(pending), "balance": acct.Balance, "credit": acct.Credit,
	})
	return nil
}
