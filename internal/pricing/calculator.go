// Package pricing holds the pure margin, execution-price and PnL math.
// Every function is a deterministic function of its inputs.
package pricing

import (
	"math"
	"strings"

	"fxCopyDesk/internal/domain"
)

// MinLotSize is the smallest tradable position size in lots.
const MinLotSize = 0.01

// DefaultContractSize is the standard FX lot convention: 100,000 units.
const DefaultContractSize = 100000

// SpreadType selects how a configured spread value is interpreted.
type SpreadType string

const (
	// SpreadAbsolute adds the spread value as-is in price units.
	SpreadAbsolute SpreadType = "ABSOLUTE"
	// SpreadPercent adds the given percentage of the bid/ask gap.
	SpreadPercent SpreadType = "PERCENT"
)

// Per-symbol contract sizes for metals and crypto. Everything else trades
// on the standard 100,000-unit FX lot.
var contractSizes = map[string]float64{
	"XAUUSD": 100,
	"XAGUSD": 5000,
	"XPTUSD": 100,
	"XPDUSD": 100,
}

// Crypto bases quoted against USD/USDT; crypto contracts are one unit per lot.
var cryptoBases = []string{"BTC", "ETH", "BNB", "SOL", "XRP", "ADA", "DOGE", "LTC", "DOT", "AVAX"}

// ContractSize returns the units-per-lot constant for a symbol class.
func ContractSize(symbol string) float64 {
	if size, ok := contractSizes[strings.ToUpper(symbol)]; ok {
		return size
	}
	if IsCrypto(symbol) {
		return 1
	}
	return DefaultContractSize
}

// IsCrypto reports whether the symbol belongs to the crypto class.
func IsCrypto(symbol string) bool {
	up := strings.ToUpper(symbol)
	for _, base := range cryptoBases {
		if strings.HasPrefix(up, base) {
			return true
		}
	}
	return false
}

// IsMetal reports whether the symbol has a fixed metal contract size.
func IsMetal(symbol string) bool {
	_, ok := contractSizes[strings.ToUpper(symbol)]
	return ok
}

// Round2 rounds a monetary value to 2 decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ExecutionPrice computes the fill price for a side given the current quote
// and the configured spread. BUY executes at ask plus spread, SELL at bid
// minus spread.
func ExecutionPrice(side domain.OrderSide, bid, ask, spreadValue float64, spreadType SpreadType) float64 {
	spread := spreadValue
	if spreadType == SpreadPercent {
		spread = (ask - bid) * spreadValue / 100
	}
	if side == domain.Buy {
		return ask + spread
	}
	return bid - spread
}

// Margin computes the capital reserved for a position, rounded to 2 decimals:
// qty * contractSize * price / leverage.
func Margin(qty, price float64, leverage int, contractSize float64) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	return Round2(qty * contractSize * price / float64(leverage))
}

// PNL computes the directional profit/loss of a position at a given price.
func PNL(side domain.OrderSide, openPrice, currentPrice, qty, contractSize float64) float64 {
	if side == domain.Buy {
		return (currentPrice - openPrice) * qty * contractSize
	}
	return (openPrice - currentPrice) * qty * contractSize
}

// FloatingPNL computes the unrealized PnL of an open trade at the price that
// would close it, net of accrued commission and swap.
func FloatingPNL(t *domain.Trade, closePrice float64) float64 {
	return PNL(t.Side, t.OpenPrice, closePrice, t.Quantity, t.ContractSize) - t.Commission - t.Swap
}

// ClosePriceFromQuote returns the side of the quote that closes a position:
// a BUY position closes into the bid, a SELL position into the ask.
func ClosePriceFromQuote(side domain.OrderSide, q *domain.Quote) float64 {
	if side == domain.Buy {
		return q.Bid
	}
	return q.Ask
}
