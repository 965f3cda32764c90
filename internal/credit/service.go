// Package credit routes each copy trade's realized PnL between the follower's
// non-withdrawable credit buffer and withdrawable wallet balance, defending a
// configured minimum credit floor, and keeps the append-only credit ledger.
package credit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fxCopyDesk/internal/domain"
	"fxCopyDesk/internal/locks"
	"fxCopyDesk/internal/ports"
	"fxCopyDesk/internal/pricing"
)

// Config holds the distribution tunables.
type Config struct {
	CommissionPct        float64 // Share of follower profit taken as commission (default 50)
	AdminSharePct        float64 // Platform's cut of the commission (default 0)
	DefaultMinimumCredit float64 // Credit floor for subscriptions that carry none (default 1000)
}

// Service is the Credit Ledger & Auto-Refill Service.
type Service struct {
	cfg         Config
	logger      ports.Logger
	accounts    ports.AccountRepository
	followers   ports.FollowerRepository
	commissions ports.CommissionRepository
	ledger      ports.LedgerRepository
	uow         ports.UnitOfWork
	locker      *locks.AccountLocker
}

// New creates a credit/refill service.
func New(cfg Config, logger ports.Logger, accounts ports.AccountRepository, followers ports.FollowerRepository,
	commissions ports.CommissionRepository, ledger ports.LedgerRepository, uow ports.UnitOfWork, locker *locks.AccountLocker) (*Service, error) {
	if logger == nil || accounts == nil || followers == nil || commissions == nil || ledger == nil || uow == nil || locker == nil {
		return nil, fmt.Errorf("missing required dependencies for credit service")
	}
	if cfg.CommissionPct < 0 || cfg.CommissionPct > 100 {
		return nil, fmt.Errorf("commission percentage must be within [0,100]: %w", ports.ErrConfigurationError)
	}
	if cfg.AdminSharePct < 0 || cfg.AdminSharePct > 100 {
		return nil, fmt.Errorf("admin share percentage must be within [0,100]: %w", ports.ErrConfigurationError)
	}
	if cfg.DefaultMinimumCredit <= 0 {
		cfg.DefaultMinimumCredit = 1000
	}
	return &Service{
		cfg:         cfg,
		logger:      logger,
		accounts:    accounts,
		followers:   followers,
		commissions: commissions,
		ledger:      ledger,
		uow:         uow,
		locker:      locker,
	}, nil
}

// Distribution reports how one copy-trade close's realized PnL was routed.
type Distribution struct {
	RealizedPnl         float64
	LossFromCredit      float64 // Loss absorbed by the credit buffer
	WalletPull          float64 // Wallet funds pulled to auto-refill credit
	DeficitAfter        float64 // Remaining credit deficit after the close
	ProfitToCredit      float64 // Profit diverted into credit (refill)
	ProfitToWallet      float64 // Profit reaching the withdrawable wallet
	TotalCommission     float64
	MasterShare         float64
	AdminShare          float64
	RefillCompleted     bool
	SubscriptionStopped bool
}

// DistributeClose routes a closed copy trade's realized PnL for one follower
// subscription. Copy-trading losses never reduce the wallet: they consume
// credit, and future profits are diverted back into credit before any profit
// reaches the wallet. All follower-side mutations (credit, wallet, ledger,
// subscription counters) are applied as one atomic unit per close.
func (s *Service) DistributeClose(ctx context.Context, subscriptionID int64, trade *domain.Trade) (*Distribution, error) {
	sub, err := s.followers.FindFollowerByID(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription %d: %w", subscriptionID, err)
	}
	if sub == nil {
		return nil, fmt.Errorf("subscription %d: %w", subscriptionID, ports.ErrNotFound)
	}
	if sub.MinimumCredit <= 0 {
		sub.MinimumCredit = s.cfg.DefaultMinimumCredit
	}

	dist := &Distribution{RealizedPnl: trade.RealizedPnl}
	switch {
	case trade.RealizedPnl < 0:
		err = s.applyLoss(ctx, sub, trade, dist)
	case trade.RealizedPnl > 0:
		err = s.applyProfit(ctx, sub, trade, dist)
	default:
		return dist, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Copy trade PnL distributed", map[string]interface{}{
		"subscriptionID": sub.ID, "tradeID": trade.ID, "realizedPnl": trade.RealizedPnl,
		"lossFromCredit": dist.LossFromCredit, "walletPull": dist.WalletPull,
		"profitToCredit": dist.ProfitToCredit, "profitToWallet": dist.ProfitToWallet,
		"commission": dist.TotalCommission, "refillCompleted": dist.RefillCompleted,
		"stopped": dist.SubscriptionStopped,
	})
	return dist, nil
}

// applyLoss deducts the loss from credit (never below 0), then attempts an
// immediate auto-refill by pulling wallet funds up to the deficit. A wallet
// that cannot fully cover the deficit leaves the subscription in refill mode;
// a zeroed credit with an empty wallet transitions it to STOPPED.
func (s *Service) applyLoss(ctx context.Context, sub *domain.CopyFollower, trade *domain.Trade, dist *Distribution) error {
	s.locker.Lock(sub.FollowerAccountID)
	defer s.locker.Unlock(sub.FollowerAccountID)

	return s.uow.InTx(ctx, func(ctx context.Context) error {
		acct, err := s.loadAccount(ctx, sub.FollowerAccountID)
		if err != nil {
			return err
		}

		loss := pricing.Round2(-trade.RealizedPnl)
		creditBefore := acct.Credit
		deficitBefore := sub.CreditDeficit
		fromCredit := loss
		if fromCredit > acct.Credit {
			fromCredit = acct.Credit
		}
		acct.Credit = pricing.Round2(acct.Credit - fromCredit)
		dist.LossFromCredit = fromCredit

		if err := s.append(ctx, &domain.CreditLedgerEntry{
			AccountID: acct.ID, SubscriptionID: sub.ID, TradeID: trade.ID,
			Type: domain.LedgerTradeLoss, Amount: -fromCredit,
			CreditBefore: creditBefore, CreditAfter: acct.Credit,
			DeficitBefore: deficitBefore, DeficitAfter: deficitBefore,
			Description: fmt.Sprintf("copy trade %d loss %.2f taken from credit", trade.ID, loss),
		}); err != nil {
			return err
		}

		// Auto-refill: drain the wallet first so the subscription is not
		// stranded in deficit while withdrawable funds sit idle.
		var pull float64
		if acct.Credit < sub.MinimumCredit {
			deficit := pricing.Round2(sub.MinimumCredit - acct.Credit)
			pull = deficit
			if pull > acct.Balance {
				pull = acct.Balance
			}
			pull = pricing.Round2(pull)
			if pull > 0 {
				before := acct.Credit
				acct.Balance = pricing.Round2(acct.Balance - pull)
				acct.Credit = pricing.Round2(acct.Credit + pull)
				if err := s.append(ctx, &domain.CreditLedgerEntry{
					AccountID: acct.ID, SubscriptionID: sub.ID, TradeID: trade.ID,
					Type: domain.LedgerWalletPull, Amount: pull,
					CreditBefore: before, CreditAfter: acct.Credit,
					DeficitBefore: deficit, DeficitAfter: pricing.Round2(sub.MinimumCredit - acct.Credit),
					Description: fmt.Sprintf("auto-refill pulled %.2f from wallet toward deficit %.2f", pull, deficit),
				}); err != nil {
					return err
				}
			}
		}

		remaining := pricing.Round2(sub.MinimumCredit - acct.Credit)
		if remaining < 0 {
			remaining = 0
		}
		sub.CreditDeficit = remaining
		sub.IsRefillMode = remaining > 0
		sub.TotalLoss = pricing.Round2(sub.TotalLoss + loss)
		dist.WalletPull = pull
		dist.DeficitAfter = remaining

		if remaining > 0 {
			if err := s.append(ctx, &domain.CreditLedgerEntry{
				AccountID: acct.ID, SubscriptionID: sub.ID, TradeID: trade.ID,
				Type: domain.LedgerDeficit, Amount: 0,
				CreditBefore: acct.Credit, CreditAfter: acct.Credit,
				DeficitBefore: deficitBefore, DeficitAfter: remaining,
				Description: fmt.Sprintf("wallet could not cover deficit, %.2f outstanding, refill mode on", remaining),
			}); err != nil {
				return err
			}
		}

		if acct.Credit == 0 && pull == 0 {
			sub.Status = domain.SubscriptionStopped
			dist.SubscriptionStopped = true
			if err := s.append(ctx, &domain.CreditLedgerEntry{
				AccountID: acct.ID, SubscriptionID: sub.ID, TradeID: trade.ID,
				Type: domain.LedgerSubStopped, Amount: 0,
				CreditBefore: 0, CreditAfter: 0,
				DeficitBefore: remaining, DeficitAfter: remaining,
				Description: "credit exhausted with empty wallet, subscription stopped",
			}); err != nil {
				return err
			}
		}

		if err := s.accounts.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		return s.followers.UpdateFollower(ctx, sub)
	})
}

// applyProfit splits profit into the master's commission and the follower's
// gross share, routes the follower share through refill mode when active, and
// records the commission once per (master, trade) pair.
func (s *Service) applyProfit(ctx context.Context, sub *domain.CopyFollower, trade *domain.Trade, dist *Distribution) error {
	pnl := trade.RealizedPnl
	dist.TotalCommission = pricing.Round2(pnl * s.cfg.CommissionPct / 100)
	dist.AdminShare = pricing.Round2(dist.TotalCommission * s.cfg.AdminSharePct / 100)
	dist.MasterShare = pricing.Round2(dist.TotalCommission - dist.AdminShare)
	followerGross := pricing.Round2(pnl - dist.TotalCommission)

	if err := s.creditFollowerProfit(ctx, sub, trade, dist, followerGross); err != nil {
		return err
	}

	if dist.TotalCommission > 0 {
		if err := s.recordCommission(ctx, sub, trade, dist); err != nil {
			return err
		}
	}
	return nil
}

// creditFollowerProfit applies the follower's share of a profitable close
// under the follower's account lock, inside one transaction.
func (s *Service) creditFollowerProfit(ctx context.Context, sub *domain.CopyFollower, trade *domain.Trade, dist *Distribution, followerGross float64) error {
	s.locker.Lock(sub.FollowerAccountID)
	defer s.locker.Unlock(sub.FollowerAccountID)

	return s.uow.InTx(ctx, func(ctx context.Context) error {
		acct, err := s.loadAccount(ctx, sub.FollowerAccountID)
		if err != nil {
			return err
		}

		creditBefore := acct.Credit
		deficitBefore := sub.CreditDeficit
		if sub.IsRefillMode {
			currentDeficit := pricing.Round2(sub.MinimumCredit - creditBefore)
			if currentDeficit < 0 {
				currentDeficit = 0
			}
			if followerGross >= currentDeficit {
				// Full refill: restore credit to the floor, remainder to wallet.
				dist.ProfitToCredit = currentDeficit
				dist.ProfitToWallet = pricing.Round2(followerGross - currentDeficit)
				acct.Credit = sub.MinimumCredit
				acct.Balance = pricing.Round2(acct.Balance + dist.ProfitToWallet)
				sub.CreditDeficit = 0
				sub.IsRefillMode = false
				dist.RefillCompleted = true
				if err := s.append(ctx, &domain.CreditLedgerEntry{
					AccountID: acct.ID, SubscriptionID: sub.ID, TradeID: trade.ID,
					Type: domain.LedgerRefillComplete, Amount: currentDeficit,
					CreditBefore: creditBefore, CreditAfter: acct.Credit,
					DeficitBefore: deficitBefore, DeficitAfter: 0,
					Description: fmt.Sprintf("refill complete: %.2f to credit, %.2f to wallet", currentDeficit, dist.ProfitToWallet),
				}); err != nil {
					return err
				}
			} else {
				// Partial refill: the whole share shrinks the deficit.
				dist.ProfitToCredit = followerGross
				acct.Credit = pricing.Round2(acct.Credit + followerGross)
				sub.CreditDeficit = pricing.Round2(sub.MinimumCredit - acct.Credit)
				if err := s.append(ctx, &domain.CreditLedgerEntry{
					AccountID: acct.ID, SubscriptionID: sub.ID, TradeID: trade.ID,
					Type: domain.LedgerRefill, Amount: followerGross,
					CreditBefore: creditBefore, CreditAfter: acct.Credit,
					DeficitBefore: deficitBefore, DeficitAfter: sub.CreditDeficit,
					Description: fmt.Sprintf("partial refill %.2f, deficit %.2f remains", followerGross, sub.CreditDeficit),
				}); err != nil {
					return err
				}
			}
		} else {
			dist.ProfitToWallet = followerGross
			acct.Balance = pricing.Round2(acct.Balance + followerGross)
			if err := s.append(ctx, &domain.CreditLedgerEntry{
				AccountID: acct.ID, SubscriptionID: sub.ID, TradeID: trade.ID,
				Type: domain.LedgerProfitToWallet, Amount: 0,
				CreditBefore: creditBefore, CreditAfter: acct.Credit,
				DeficitBefore: deficitBefore, DeficitAfter: deficitBefore,
				Description: fmt.Sprintf("profit %.2f to wallet", followerGross),
			}); err != nil {
				return err
			}
		}

		sub.TotalProfit = pricing.Round2(sub.TotalProfit + trade.RealizedPnl)
		sub.TotalProfitToWallet = pricing.Round2(sub.TotalProfitToWallet + dist.ProfitToWallet)
		if dist.ProfitToCredit > 0 {
			sub.TotalRefilled = pricing.Round2(sub.TotalRefilled + dist.ProfitToCredit)
			sub.RefillCount++
			sub.LastRefillAt = time.Now().UTC()
		}

		if err := s.accounts.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		return s.followers.UpdateFollower(ctx, sub)
	})
}

// recordCommission creates the commission record (at most once per master and
// follower trade) and credits the master's pending commission.
func (s *Service) recordCommission(ctx context.Context, sub *domain.CopyFollower, trade *domain.Trade, dist *Distribution) error {
	record := &domain.CopyCommission{
		MasterAccountID:   sub.MasterAccountID,
		FollowerAccountID: sub.FollowerAccountID,
		FollowerTradeID:   trade.ID,
		Profit:            trade.RealizedPnl,
		CommissionPct:     s.cfg.CommissionPct,
		TotalCommission:   dist.TotalCommission,
		MasterShare:       dist.MasterShare,
		AdminShare:        dist.AdminShare,
		Status:            domain.CommissionDeducted,
		CreatedAt:         time.Now().UTC(),
	}

	s.locker.Lock(sub.MasterAccountID)
	defer s.locker.Unlock(sub.MasterAccountID)

	return s.uow.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.commissions.CreateCommission(ctx, record); err != nil {
			if isDuplicate(err) {
				// Already recorded for this (master, trade) pair; skip.
				s.logger.Warn(ctx, "Commission already recorded, skipping", map[string]interface{}{
					"masterAccountID": sub.MasterAccountID, "followerTradeID": trade.ID,
				})
				return nil
			}
			return fmt.Errorf("failed to record commission: %w", err)
		}
		master, err := s.loadAccount(ctx, sub.MasterAccountID)
		if err != nil {
			return err
		}
		master.PendingCommission = pricing.Round2(master.PendingCommission + dist.MasterShare)
		return s.accounts.UpdateAccount(ctx, master)
	})
}

// SettlePendingCommissions moves DEDUCTED commission records into the master's
// balance. Runs as a background job; per-record failures are logged only.
func (s *Service) SettlePendingCommissions(ctx context.Context, limit int) int {
	op := "SettlePendingCommissions"
	records, err := s.commissions.FindCommissionsByStatus(ctx, domain.CommissionDeducted, limit)
	if err != nil {
		s.logger.Error(ctx, err, op+": Failed to load deducted commissions")
		return 0
	}

	settled := 0
	for _, rec := range records {
		rec := rec
		err := s.settleOne(ctx, rec)
		if err != nil {
			s.logger.Error(ctx, err, op+": Failed to settle commission", map[string]interface{}{"commissionID": rec.ID})
			continue
		}
		settled++
	}
	if settled > 0 {
		s.logger.Info(ctx, op+": Commissions settled", map[string]interface{}{"count": settled})
	}
	return settled
}

func (s *Service) settleOne(ctx context.Context, rec *domain.CopyCommission) error {
	s.locker.Lock(rec.MasterAccountID)
	defer s.locker.Unlock(rec.MasterAccountID)

	return s.uow.InTx(ctx, func(ctx context.Context) error {
		master, err := s.loadAccount(ctx, rec.MasterAccountID)
		if err != nil {
			return err
		}
		master.PendingCommission = pricing.Round2(master.PendingCommission - rec.MasterShare)
		if master.PendingCommission < 0 {
			master.PendingCommission = 0
		}
		master.Balance = pricing.Round2(master.Balance + rec.MasterShare)
		if err := s.accounts.UpdateAccount(ctx, master); err != nil {
			return err
		}
		rec.Status = domain.CommissionSettled
		rec.SettledAt = time.Now().UTC()
		return s.commissions.UpdateCommission(ctx, rec)
	})
}

// AdminAdjust applies an admin credit (positive amount) or debit (negative)
// to an account's credit buffer, with a ledger entry. A debit beyond the
// current credit is rejected: credit never goes below zero.
func (s *Service) AdminAdjust(ctx context.Context, accountID int64, amount float64, description string) error {
	if amount == 0 {
		return fmt.Errorf("adjustment amount must be non-zero: %w", ports.ErrValidation)
	}

	s.locker.Lock(accountID)
	defer s.locker.Unlock(accountID)

	return s.uow.InTx(ctx, func(ctx context.Context) error {
		acct, err := s.loadAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if amount < 0 && acct.Credit+amount < 0 {
			return fmt.Errorf("debit %.2f exceeds credit %.2f: %w", -amount, acct.Credit, ports.ErrValidation)
		}
		entryType := domain.LedgerAdminCredit
		if amount < 0 {
			entryType = domain.LedgerAdminDebit
		}
		before := acct.Credit
		acct.Credit = pricing.Round2(acct.Credit + amount)
		if err := s.append(ctx, &domain.CreditLedgerEntry{
			AccountID: acct.ID, Type: entryType, Amount: amount,
			CreditBefore: before, CreditAfter: acct.Credit,
			Description: description,
		}); err != nil {
			return err
		}
		return s.accounts.UpdateAccount(ctx, acct)
	})
}

func (s *Service) loadAccount(ctx context.Context, id int64) (*domain.TradingAccount, error) {
	acct, err := s.accounts.FindAccountByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %d: %w", id, err)
	}
	if acct == nil {
		return nil, fmt.Errorf("account %d: %w", id, ports.ErrNotFound)
	}
	return acct, nil
}

func (s *Service) append(ctx context.Context, e *domain.CreditLedgerEntry) error {
	e.EntryID = uuid.NewString()
	e.CreatedAt = time.Now().UTC()
	if _, err := s.ledger.AppendEntry(ctx, e); err != nil {
		return fmt.Errorf("failed to append credit ledger entry: %w", err)
	}
	return nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, ports.ErrDuplicateEntry)
}
