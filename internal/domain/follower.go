package domain

import "time"

// CopyFollower is a copy-trading subscription linking a follower account to a
// master. Every replicated trade and every refill event mutates its counters.
type CopyFollower struct {
	ID                int64              // Unique identifier for the subscription (from DB)
	MasterAccountID   int64              // Account whose trades are copied
	FollowerAccountID int64              // Account receiving the copies
	CopyMode          CopyMode           // Sizing rule for replicated lots
	CopyValue         float64            // Fixed lot (FIXED_LOT) or multiplier (MULTIPLIER)
	MaxLotSize        float64            // Cap on a replicated lot (0 = unlimited)
	MinimumCredit     float64            // Credit floor defended by the refill service
	CreditDeficit     float64            // max(0, MinimumCredit - current credit)
	IsRefillMode      bool               // True while CreditDeficit > 0
	Status            SubscriptionStatus // ACTIVE, PAUSED or STOPPED

	// Lifetime aggregates, updated atomically alongside each mutation.
	TotalCopiedTrades   int
	TotalProfit         float64
	TotalLoss           float64
	TotalRefilled       float64
	TotalProfitToWallet float64
	RefillCount         int
	LastRefillAt        time.Time

	CreatedAt time.Time
}

// IsActive reports whether the subscription receives replicated trades.
func (f *CopyFollower) IsActive() bool {
	return f.Status == SubscriptionActive
}
