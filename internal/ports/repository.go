package ports

import (
	"context"

	"fxCopyDesk/internal/domain"
)

// AccountRepository defines the interface for storing and retrieving trading accounts.
type AccountRepository interface {
	// FindAccountByID retrieves an account by its unique ID.
	// Returns nil, nil if not found.
	FindAccountByID(ctx context.Context, id int64) (*domain.TradingAccount, error)
	// UpdateAccount persists the account's mutable fields (balance, credit,
	// status, pending commission, counters).
	UpdateAccount(ctx context.Context, acct *domain.TradingAccount) error
	// AccountIDsWithOpenTrades lists accounts that currently hold OPEN trades.
	AccountIDsWithOpenTrades(ctx context.Context) ([]int64, error)
}

// TradeRepository defines the interface for storing and retrieving trades.
type TradeRepository interface {
	// CreateTrade saves a new trade and returns its assigned ID.
	CreateTrade(ctx context.Context, t *domain.Trade) (int64, error)
	// UpdateTrade modifies an existing trade.
	UpdateTrade(ctx context.Context, t *domain.Trade) error
	// FindTradeByID retrieves a trade by its unique ID.
	// Returns nil, nil if not found.
	FindTradeByID(ctx context.Context, id int64) (*domain.Trade, error)
	// FindOpenByAccount retrieves all OPEN trades for an account.
	FindOpenByAccount(ctx context.Context, accountID int64) ([]*domain.Trade, error)
	// FindPendingBySymbol retrieves all PENDING trades for a symbol.
	FindPendingBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error)
	// FindPendingByAccount retrieves all PENDING trades for an account.
	FindPendingByAccount(ctx context.Context, accountID int64) ([]*domain.Trade, error)
	// CountActiveByAccount counts OPEN plus PENDING trades for an account.
	CountActiveByAccount(ctx context.Context, accountID int64) (int, error)
	// ActiveSymbols lists symbols that have OPEN or PENDING trades.
	ActiveSymbols(ctx context.Context) ([]string, error)
}

// FollowerRepository defines the interface for copy-trading subscriptions.
type FollowerRepository interface {
	// FindFollowerByID retrieves a subscription by its unique ID.
	// Returns nil, nil if not found.
	FindFollowerByID(ctx context.Context, id int64) (*domain.CopyFollower, error)
	// FindActiveByMaster retrieves all ACTIVE subscriptions for a master account.
	FindActiveByMaster(ctx context.Context, masterAccountID int64) ([]*domain.CopyFollower, error)
	// UpdateFollower persists the subscription's mutable fields and counters.
	UpdateFollower(ctx context.Context, f *domain.CopyFollower) error
}

// CopyTradeRepository defines the interface for replicated trade records.
type CopyTradeRepository interface {
	// CreateCopyTrade saves a new copy trade and returns its assigned ID.
	// The store enforces uniqueness on (masterTradeID, followerAccountID) and
	// wraps a constraint violation with ErrDuplicateEntry.
	CreateCopyTrade(ctx context.Context, ct *domain.CopyTrade) (int64, error)
	// UpdateCopyTrade modifies an existing copy trade.
	UpdateCopyTrade(ctx context.Context, ct *domain.CopyTrade) error
	// FindByMasterTradeAndFollower retrieves the copy trade for an idempotency
	// key pair. Returns nil, nil if not found.
	FindByMasterTradeAndFollower(ctx context.Context, masterTradeID, followerAccountID int64) (*domain.CopyTrade, error)
	// FindOpenByMasterTrade retrieves all OPEN copy trades for a master trade.
	FindOpenByMasterTrade(ctx context.Context, masterTradeID int64) ([]*domain.CopyTrade, error)
	// FindOpenByMasterAccount retrieves all OPEN copy trades across a master's trades.
	FindOpenByMasterAccount(ctx context.Context, masterAccountID int64) ([]*domain.CopyTrade, error)
	// FindOpenByFollowerTrade retrieves the OPEN copy trade backed by a
	// follower's trade. Returns nil, nil if not found.
	FindOpenByFollowerTrade(ctx context.Context, followerTradeID int64) (*domain.CopyTrade, error)
	// FindClosedUnsettled retrieves CLOSED copy trades whose PnL distribution
	// did not complete (recorded via a non-empty fail reason).
	FindClosedUnsettled(ctx context.Context, limit int) ([]*domain.CopyTrade, error)
	// FindOpenWithTerminalFollower retrieves OPEN copy trades whose follower
	// trade has already reached a terminal state, so their close was never
	// distributed.
	FindOpenWithTerminalFollower(ctx context.Context, limit int) ([]*domain.CopyTrade, error)
}

// CommissionRepository defines the interface for copy commission records.
type CommissionRepository interface {
	// CreateCommission saves a new commission record and returns its assigned ID.
	// The store enforces uniqueness on (masterAccountID, followerTradeID) and
	// wraps a constraint violation with ErrDuplicateEntry.
	CreateCommission(ctx context.Context, c *domain.CopyCommission) (int64, error)
	// UpdateCommission persists the commission's status fields.
	UpdateCommission(ctx context.Context, c *domain.CopyCommission) error
	// FindCommissionsByStatus retrieves commission records in a given state.
	FindCommissionsByStatus(ctx context.Context, status domain.CommissionStatus, limit int) ([]*domain.CopyCommission, error)
}

// LedgerRepository defines the interface for the append-only credit ledger.
type LedgerRepository interface {
	// AppendEntry saves a new ledger entry and returns its assigned ID.
	// Entries are immutable once written.
	AppendEntry(ctx context.Context, e *domain.CreditLedgerEntry) (int64, error)
	// FindEntriesByAccount retrieves an account's entries in append order.
	FindEntriesByAccount(ctx context.Context, accountID int64) ([]*domain.CreditLedgerEntry, error)
	// LedgerAccountIDs lists every account that has at least one ledger entry.
	LedgerAccountIDs(ctx context.Context) ([]int64, error)
}

// UnitOfWork runs a function within a single storage transaction. Repository
// calls made with the context passed to fn join that transaction, so a
// balance/credit mutation and its ledger entry commit or roll back together.
type UnitOfWork interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
