package domain

import "time"

// CreditLedgerEntry is one immutable record in an account's credit audit trail.
// Replaying an account's entries in order must reconstruct its current credit
// value exactly: each entry carries the credit value after it was applied.
type CreditLedgerEntry struct {
	ID             int64           // Monotonic identifier (from DB)
	EntryID        string          // Globally unique entry ID (UUID)
	AccountID      int64           // Account whose credit was mutated
	SubscriptionID int64           // Subscription context (0 for admin operations)
	TradeID        int64           // Trade that triggered the mutation (0 if none)
	Type           LedgerEntryType // Classification of the mutation
	Amount         float64         // Signed credit delta applied by this entry
	CreditBefore   float64
	CreditAfter    float64
	DeficitBefore  float64
	DeficitAfter   float64
	Description    string // Human-readable summary of the mutation
	CreatedAt      time.Time
}
