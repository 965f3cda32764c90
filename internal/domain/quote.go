package domain

import "time"

// Quote is a two-sided price snapshot for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// IsValid reports whether the quote carries a live two-sided market.
func (q *Quote) IsValid() bool {
	return q != nil && q.Bid > 0 && q.Ask > 0
}
