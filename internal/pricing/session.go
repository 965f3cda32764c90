package pricing

import "time"

// IsMarketOpen reports whether a symbol's market session is open at t.
// Crypto trades around the clock. FX and metals close for the weekend from
// Friday 22:00 UTC through Sunday 22:00 UTC.
func IsMarketOpen(symbol string, t time.Time) bool {
	if IsCrypto(symbol) {
		return true
	}
	utc := t.UTC()
	switch utc.Weekday() {
	case time.Saturday:
		return false
	case time.Friday:
		return utc.Hour() < 22
	case time.Sunday:
		return utc.Hour() >= 22
	default:
		return true
	}
}
