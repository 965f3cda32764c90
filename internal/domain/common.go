package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the side that closes a position opened on this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents how a trade is executed: immediately at market price,
// or parked as a pending order until its trigger price is reached.
type OrderType string

const (
	Market    OrderType = "MARKET"
	BuyLimit  OrderType = "BUY_LIMIT"
	SellLimit OrderType = "SELL_LIMIT"
	BuyStop   OrderType = "BUY_STOP"
	SellStop  OrderType = "SELL_STOP"
)

// IsPending reports whether the order type parks the trade until a trigger price.
func (t OrderType) IsPending() bool {
	return t == BuyLimit || t == SellLimit || t == BuyStop || t == SellStop
}

// TradeStatus represents the lifecycle state of a trade.
// Transitions are monotonic: PENDING -> OPEN -> CLOSED, or PENDING -> CANCELLED.
type TradeStatus string

const (
	StatusPending   TradeStatus = "PENDING"
	StatusOpen      TradeStatus = "OPEN"
	StatusClosed    TradeStatus = "CLOSED"
	StatusCancelled TradeStatus = "CANCELLED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TradeStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// ClosedBy indicates what triggered a trade close.
type ClosedBy string

const (
	ClosedByUser            ClosedBy = "USER"
	ClosedByAdmin           ClosedBy = "ADMIN"
	ClosedByStopLoss        ClosedBy = "SL"
	ClosedByTakeProfit      ClosedBy = "TP"
	ClosedByStopOut         ClosedBy = "STOP_OUT"
	ClosedByDemoReset       ClosedBy = "DEMO_RESET"
	ClosedByCancel          ClosedBy = "CANCELLED"
	ClosedByMasterClose     ClosedBy = "MASTER_CLOSE"
	ClosedByMasterSuspended ClosedBy = "MASTER_SUSPENDED"
)

// AccountStatus represents the status of a trading account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
	AccountBanned    AccountStatus = "BANNED"
)

// CopyMode is the sizing rule used to derive a follower's lot from the master's.
type CopyMode string

const (
	CopyFixedLot     CopyMode = "FIXED_LOT"
	CopyBalanceBased CopyMode = "BALANCE_BASED"
	CopyEquityBased  CopyMode = "EQUITY_BASED"
	CopyMultiplier   CopyMode = "MULTIPLIER"
	// CopyLotMultiplier is a legacy alias for CopyMultiplier kept for old subscriptions.
	CopyLotMultiplier CopyMode = "LOT_MULTIPLIER"
	// CopyAuto sizes identically to CopyEquityBased.
	CopyAuto CopyMode = "AUTO"
)

// SubscriptionStatus represents the state of a copy-trading subscription.
type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "ACTIVE"
	SubscriptionPaused  SubscriptionStatus = "PAUSED"
	SubscriptionStopped SubscriptionStatus = "STOPPED"
)

// CopyTradeStatus represents the state of one replicated position.
type CopyTradeStatus string

const (
	CopyTradeOpen   CopyTradeStatus = "OPEN"
	CopyTradeClosed CopyTradeStatus = "CLOSED"
	CopyTradeFailed CopyTradeStatus = "FAILED"
)

// CommissionStatus represents the settlement state of a copy commission record.
type CommissionStatus string

const (
	CommissionPending  CommissionStatus = "PENDING"
	CommissionDeducted CommissionStatus = "DEDUCTED"
	CommissionSettled  CommissionStatus = "SETTLED"
	CommissionFailed   CommissionStatus = "FAILED"
)

// LedgerEntryType classifies a credit ledger mutation.
type LedgerEntryType string

const (
	LedgerAdminCredit    LedgerEntryType = "ADMIN_CREDIT"
	LedgerAdminDebit     LedgerEntryType = "ADMIN_DEBIT"
	LedgerTradeLoss      LedgerEntryType = "TRADE_LOSS"
	LedgerDeficit        LedgerEntryType = "DEFICIT"
	LedgerWalletPull     LedgerEntryType = "WALLET_PULL"
	LedgerRefill         LedgerEntryType = "REFILL"
	LedgerRefillComplete LedgerEntryType = "REFILL_COMPLETE"
	LedgerProfitToWallet LedgerEntryType = "PROFIT_TO_WALLET"
	LedgerSubStopped     LedgerEntryType = "SUBSCRIPTION_STOPPED"
)
