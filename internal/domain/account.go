package domain

import "time"

// TradingAccount holds the funds backing an account's positions.
//
// Balance is withdrawable wallet money. Credit is a non-withdrawable exposure
// buffer that absorbs copy-trading losses; it must never go negative.
// Equity is never stored: it is always balance + credit + floating PnL of the
// account's open trades, computed at read time.
type TradingAccount struct {
	ID                int64         // Unique identifier for the account (from DB)
	Balance           float64       // Withdrawable wallet balance
	Credit            float64       // Non-withdrawable exposure buffer (>= 0 always)
	Leverage          int           // Leverage cap applied to new trades
	Status            AccountStatus // ACTIVE, SUSPENDED or BANNED
	IsMaster          bool          // True when the account's trades are replicated to followers
	PendingCommission float64       // Commission earned as a master, not yet settled to balance
	CopiedTrades      int           // Lifetime count of trades replicated from this master
	MaxOpenTrades     int           // Cap on concurrently open/pending trades (0 = unlimited)
	MaxLotSize        float64       // Cap on a single trade's lot size (0 = unlimited)
	UpdatedAt         time.Time     // Last mutation timestamp
}

// IsActive reports whether the account may open or mutate trades.
func (a *TradingAccount) IsActive() bool {
	return a.Status == AccountActive
}
