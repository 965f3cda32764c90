package credit

import (
	"context"
	"fmt"
	"math"
)

// Drift reports a divergence between an account's ledger chain and its
// stored credit value, or a break inside the chain itself.
type Drift struct {
	AccountID     int64
	LedgerCredit  float64 // CreditAfter of the last ledger entry
	AccountCredit float64 // Credit currently stored on the account
	ChainBroken   bool    // An entry's CreditBefore did not match its predecessor's CreditAfter
	BrokenAtEntry string  // EntryID where the chain first broke
}

// ReconcileLedger replays every account's credit ledger chain and compares
// the terminal balanceAfter to the stored credit. A balance/credit mutation
// and its ledger entry are written in one transaction, so any drift found
// here indicates storage corruption or out-of-band writes.
func (s *Service) ReconcileLedger(ctx context.Context) ([]Drift, error) {
	accountIDs, err := s.ledger.LedgerAccountIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger accounts: %w", err)
	}

	var drifts []Drift
	for _, id := range accountIDs {
		entries, err := s.ledger.FindEntriesByAccount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load ledger entries for account %d: %w", id, err)
		}
		if len(entries) == 0 {
			continue
		}

		d := Drift{AccountID: id}
		prevAfter := entries[0].CreditBefore
		for _, e := range entries {
			if !almostEqual(e.CreditBefore, prevAfter) && !d.ChainBroken {
				d.ChainBroken = true
				d.BrokenAtEntry = e.EntryID
			}
			prevAfter = e.CreditAfter
		}
		d.LedgerCredit = prevAfter

		acct, err := s.loadAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		d.AccountCredit = acct.Credit

		if d.ChainBroken || !almostEqual(d.LedgerCredit, d.AccountCredit) {
			s.logger.Warn(ctx, "Ledger drift detected", map[string]interface{}{
				"accountID": id, "ledgerCredit": d.LedgerCredit, "accountCredit": d.AccountCredit,
				"chainBroken": d.ChainBroken,
			})
			drifts = append(drifts, d)
		}
	}
	return drifts, nil
}

// almostEqual compares monetary values at sub-cent tolerance.
func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}
