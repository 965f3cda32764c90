package ports

import "errors"

// Standard application-level errors.
// Adapters and engines wrap underlying errors with these standard errors so
// callers can branch on errors.Is without depending on implementations.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrValidation         = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Trade Lifecycle Errors
	ErrMarketClosed       = errors.New("market session is closed or no quote is available")
	ErrQuoteUnavailable   = errors.New("no live two-sided quote for symbol")
	ErrInsufficientMargin = errors.New("required margin exceeds free margin")
	ErrInsufficientEquity = errors.New("required margin exceeds account equity")
	ErrAccountInactive    = errors.New("account is not active")
	ErrTradeNotOpen       = errors.New("trade is not open")
	ErrTradeTerminal      = errors.New("trade is already closed or cancelled")
	ErrOpenTradeCap       = errors.New("open trade limit reached for account")
	ErrLotSizeCap         = errors.New("lot size exceeds account limit")

	// Replication / Credit Errors
	ErrDuplicateReplication = errors.New("copy trade already exists for master trade and follower")
	ErrSubscriptionInactive = errors.New("copy subscription is not active")
	ErrCommissionRecorded   = errors.New("commission already recorded for master and trade")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
