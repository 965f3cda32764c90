package domain

import "time"

// Trade represents one leveraged position owned by a single account.
type Trade struct {
	ID           int64       // Unique identifier for the trade (from DB)
	AccountID    int64       // Owning trading account
	Symbol       string      // Trading symbol (e.g., "EURUSD", "XAUUSD", "BTCUSDT")
	Side         OrderSide   // BUY or SELL
	OrderType    OrderType   // MARKET or one of the pending variants
	Quantity     float64     // Size in lots (>= 0.01)
	PendingPrice float64     // Trigger price for pending orders (0 for market)
	OpenPrice    float64     // Execution price at open (0 while PENDING)
	ClosePrice   float64     // Execution price at close (0 while open)
	StopLoss     float64     // Stop-loss level (0 = not set)
	TakeProfit   float64     // Take-profit level (0 = not set)
	MarginUsed   float64     // Margin reserved at open; fixed for the trade's lifetime
	Leverage     int         // Leverage applied to the position
	ContractSize float64     // Units per lot for the symbol class
	Commission   float64     // Commission charged on the trade
	Swap         float64     // Accrued overnight swap
	RealizedPnl  float64     // Realized profit/loss (set on close)
	Status       TradeStatus // PENDING, OPEN, CLOSED or CANCELLED
	ClosedBy     ClosedBy    // What triggered the close (empty while open)
	IsCopy       bool        // True when the trade was opened by the replication engine
	OpenTime     time.Time   // When the trade became OPEN (or was placed, for pending)
	CloseTime    time.Time   // When the trade reached a terminal state
}

// IsOpen reports whether the trade currently holds market exposure.
func (t *Trade) IsOpen() bool {
	return t.Status == StatusOpen
}

// IsPending reports whether the trade is parked awaiting its trigger price.
func (t *Trade) IsPending() bool {
	return t.Status == StatusPending
}
