// Package sqlite implements every repository port on a single SQLite file.
// One Repository value backs accounts, trades, subscriptions, copy trades,
// commissions and the credit ledger, plus the unit-of-work used to commit a
// funds mutation and its ledger entry atomically.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fxCopyDesk/internal/ports"

	"github.com/mattn/go-sqlite3"
)

// Repository implements the repository ports and ports.UnitOfWork.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (or creates) the database file and prepares the schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/copydesk.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode plus a busy timeout: the tick loop, replication units and
	// background jobs all write through this one handle.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Serialise through a single connection; the account locker already
	// orders writers, this keeps the driver from fighting itself.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		balance REAL NOT NULL DEFAULT 0,
		credit REAL NOT NULL DEFAULT 0,
		leverage INTEGER NOT NULL DEFAULT 100,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		is_master INTEGER NOT NULL DEFAULT 0,
		pending_commission REAL NOT NULL DEFAULT 0,
		copied_trades INTEGER NOT NULL DEFAULT 0,
		max_open_trades INTEGER NOT NULL DEFAULT 0,
		max_lot_size REAL NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		quantity REAL NOT NULL,
		pending_price REAL NOT NULL DEFAULT 0,
		open_price REAL NOT NULL DEFAULT 0,
		close_price REAL NOT NULL DEFAULT 0,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		margin_used REAL NOT NULL DEFAULT 0,
		leverage INTEGER NOT NULL,
		contract_size REAL NOT NULL,
		commission REAL NOT NULL DEFAULT 0,
		swap REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		closed_by TEXT NOT NULL DEFAULT '',
		is_copy INTEGER NOT NULL DEFAULT 0,
		open_time TIMESTAMP DEFAULT NULL,
		close_time TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS copy_followers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		master_account_id INTEGER NOT NULL,
		follower_account_id INTEGER NOT NULL,
		copy_mode TEXT NOT NULL,
		copy_value REAL NOT NULL DEFAULT 0,
		max_lot_size REAL NOT NULL DEFAULT 0,
		minimum_credit REAL NOT NULL DEFAULT 0,
		credit_deficit REAL NOT NULL DEFAULT 0,
		is_refill_mode INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		total_copied_trades INTEGER NOT NULL DEFAULT 0,
		total_profit REAL NOT NULL DEFAULT 0,
		total_loss REAL NOT NULL DEFAULT 0,
		total_refilled REAL NOT NULL DEFAULT 0,
		total_profit_to_wallet REAL NOT NULL DEFAULT 0,
		refill_count INTEGER NOT NULL DEFAULT 0,
		last_refill_at TIMESTAMP DEFAULT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS copy_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		master_trade_id INTEGER NOT NULL,
		subscription_id INTEGER NOT NULL,
		master_account_id INTEGER NOT NULL,
		follower_account_id INTEGER NOT NULL,
		follower_trade_id INTEGER NOT NULL DEFAULT 0,
		master_lot_size REAL NOT NULL,
		follower_lot_size REAL NOT NULL DEFAULT 0,
		copy_mode TEXT NOT NULL,
		copy_value REAL NOT NULL DEFAULT 0,
		open_price REAL NOT NULL DEFAULT 0,
		close_price REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		profit_to_credit REAL NOT NULL DEFAULT 0,
		profit_to_wallet REAL NOT NULL DEFAULT 0,
		commission_paid REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		fail_reason TEXT NOT NULL DEFAULT '',
		open_time TIMESTAMP DEFAULT NULL,
		close_time TIMESTAMP DEFAULT NULL,
		UNIQUE (master_trade_id, follower_account_id)
	);

	CREATE TABLE IF NOT EXISTS copy_commissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		master_account_id INTEGER NOT NULL,
		follower_account_id INTEGER NOT NULL,
		follower_trade_id INTEGER NOT NULL,
		profit REAL NOT NULL,
		commission_pct REAL NOT NULL,
		total_commission REAL NOT NULL,
		master_share REAL NOT NULL,
		admin_share REAL NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		settled_at TIMESTAMP DEFAULT NULL,
		UNIQUE (master_account_id, follower_trade_id)
	);

	CREATE TABLE IF NOT EXISTS credit_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id TEXT NOT NULL UNIQUE,
		account_id INTEGER NOT NULL,
		subscription_id INTEGER NOT NULL DEFAULT 0,
		trade_id INTEGER NOT NULL DEFAULT 0,
		type TEXT NOT NULL,
		amount REAL NOT NULL,
		credit_before REAL NOT NULL,
		credit_after REAL NOT NULL,
		deficit_before REAL NOT NULL DEFAULT 0,
		deficit_after REAL NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_account_status ON trades (account_id, status);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades (symbol, status);
	CREATE INDEX IF NOT EXISTS idx_followers_master_status ON copy_followers (master_account_id, status);
	CREATE INDEX IF NOT EXISTS idx_copy_trades_master_status ON copy_trades (master_trade_id, status);
	CREATE INDEX IF NOT EXISTS idx_copy_trades_master_account ON copy_trades (master_account_id, status);
	CREATE INDEX IF NOT EXISTS idx_commissions_status ON copy_commissions (status);
	CREATE INDEX IF NOT EXISTS idx_ledger_account ON credit_ledger (account_id, id);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- Unit of work ---

type txKey struct{}

// dbtx is the common surface of *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// q returns the transaction carried by ctx, or the bare connection.
func (r *Repository) q(ctx context.Context) dbtx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return r.db
}

// InTx runs fn inside a single transaction. Repository calls made with the
// context passed to fn join the transaction; a nested InTx reuses it.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Deferred so a panic inside fn cannot leave the transaction holding the
	// connection; after a commit the rollback is a no-op.
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error(ctx, rbErr, "Transaction rollback failed")
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// wrapConstraint maps a SQLite UNIQUE violation onto ports.ErrDuplicateEntry
// so callers can detect replays without knowing the driver.
func wrapConstraint(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%v: %w", err, ports.ErrDuplicateEntry)
	}
	return err
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
