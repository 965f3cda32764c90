package domain

import "time"

// CopyTrade records one replication of a master trade onto a follower account.
// At most one CopyTrade exists per (MasterTradeID, FollowerAccountID) pair;
// that uniqueness is the idempotency key for replication.
type CopyTrade struct {
	ID                int64           // Unique identifier (from DB)
	MasterTradeID     int64           // The master's trade being replicated
	SubscriptionID    int64           // The CopyFollower subscription used
	MasterAccountID   int64           // Master account at replication time
	FollowerAccountID int64           // Follower account at replication time
	FollowerTradeID   int64           // The follower's own Trade (0 when FAILED)
	MasterLotSize     float64         // Master's lot at open
	FollowerLotSize   float64         // Computed follower lot
	CopyMode          CopyMode        // Sizing mode used
	CopyValue         float64         // Sizing value used
	OpenPrice         float64         // Fill price (master's execution price)
	ClosePrice        float64         // Fill price at close
	RealizedPnl       float64         // Follower's realized PnL at close
	ProfitToCredit    float64         // Portion of profit routed into credit
	ProfitToWallet    float64         // Portion of profit routed into the wallet
	CommissionPaid    float64         // Commission taken from the follower's profit
	Status            CopyTradeStatus // OPEN, CLOSED or FAILED
	FailReason        string          // Human-readable reason when FAILED
	OpenTime          time.Time
	CloseTime         time.Time
}

// CopyCommission records one commission event for a profitable follower close.
// Created at most once per (MasterAccountID, FollowerTradeID) pair.
type CopyCommission struct {
	ID                int64
	MasterAccountID   int64
	FollowerAccountID int64
	FollowerTradeID   int64
	Profit            float64          // Follower's realized profit the commission was taken from
	CommissionPct     float64          // Percentage applied to the profit
	TotalCommission   float64          // Profit * CommissionPct / 100, rounded to 2dp
	MasterShare       float64          // Portion credited to the master's pending commission
	AdminShare        float64          // Portion retained by the platform
	Status            CommissionStatus // PENDING, DEDUCTED, SETTLED or FAILED
	CreatedAt         time.Time
	SettledAt         time.Time
}
