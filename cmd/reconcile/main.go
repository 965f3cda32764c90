// Command reconcile replays every account's credit ledger and reports drift
// between the replayed chain and the stored credit value. Run it against the
// live database after incidents, or on a schedule as a consistency check.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"fxCopyDesk/internal/adapters/logger"
	"fxCopyDesk/internal/adapters/sqlite"
	"fxCopyDesk/internal/credit"
	"fxCopyDesk/internal/locks"
)

func main() {
	dbPath := flag.String("db", "./data/copydesk.db", "path to the SQLite database")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	flag.Parse()

	appLogger := logger.New(logger.Config{Level: *logLevel, Pretty: true})
	ctx := context.Background()

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to open database: %v", err)
	}
	defer repo.Close()

	svc, err := credit.New(credit.Config{}, appLogger, repo, repo, repo, repo, repo, locks.NewAccountLocker())
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize credit service: %v", err)
	}

	drifts, err := svc.ReconcileLedger(ctx)
	if err != nil {
		log.Fatalf("FATAL: Reconciliation failed: %v", err)
	}

	if len(drifts) == 0 {
		fmt.Println("OK: every account's credit matches its ledger")
		return
	}

	fmt.Printf("DRIFT: %d account(s) diverge from their ledger\n", len(drifts))
	for _, d := range drifts {
		if d.ChainBroken {
			fmt.Printf("  account %d: broken chain at entry %s (ledger=%.2f stored=%.2f)\n",
				d.AccountID, d.BrokenAtEntry, d.LedgerCredit, d.AccountCredit)
			continue
		}
		fmt.Printf("  account %d: ledger=%.2f stored=%.2f\n", d.AccountID, d.LedgerCredit, d.AccountCredit)
	}
	os.Exit(1)
}
