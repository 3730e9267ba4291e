package service

import (
	"context"
	"time"

	"github.com/artivio/platform/internal/clock"
	ledgerdomain "github.com/artivio/platform/internal/ledger/domain"
	obsmetrics "github.com/artivio/platform/internal/observability/metrics"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Debit(ctx context.Context, accountID snowflake.ID, amount int64, reason ledgerdomain.Reason, sourceID snowflake.ID) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		balance, txErr = s.DebitTx(ctx, tx, accountID, amount, reason, sourceID)
		return txErr
	})
	return balance, err
}

func (s *Service) Credit(ctx context.Context, accountID snowflake.ID, amount int64, reason ledgerdomain.Reason, sourceID snowflake.ID) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		balance, txErr = s.CreditTx(ctx, tx, accountID, amount, reason, sourceID)
		return txErr
	})
	return balance, err
}

// DebitTx decrements the balance with a single guarded statement. The WHERE
// clause carries the funds check, so concurrent debits on one account can
// never drive the balance negative regardless of interleaving.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amount int64, reason ledgerdomain.Reason, sourceID snowflake.ID) (int64, error) {
	if err := validateArgs(accountID, amount, reason); err != nil {
		return 0, err
	}
	if amount == 0 {
		return s.currentBalance(ctx, tx, accountID)
	}

	now := s.clock.Now()
	result := tx.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET balance = balance - ?, updated_at = ?
		 WHERE id = ? AND balance >= ?`,
		amount,
		now,
		accountID,
		amount,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		have, err := s.currentBalance(ctx, tx, accountID)
		if err != nil {
			return 0, err
		}
		return 0, &ledgerdomain.InsufficientFundsError{Need: amount, Have: have}
	}

	balance, err := s.currentBalance(ctx, tx, accountID)
	if err != nil {
		return 0, err
	}
	if err := s.insertTransaction(ctx, tx, accountID, -amount, reason, sourceID, balance, now); err != nil {
		return 0, err
	}

	s.obsMetrics.RecordDebit(ctx, string(reason), amount)
	s.log.Debug("debit applied",
		zap.String("account_id", accountID.String()),
		zap.Int64("amount", amount),
		zap.String("reason", string(reason)),
	)
	return balance, nil
}

// CreditTx increments the balance unconditionally. Refunds and grants use it.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amount int64, reason ledgerdomain.Reason, sourceID snowflake.ID) (int64, error) {
	if err := validateArgs(accountID, amount, reason); err != nil {
		return 0, err
	}
	if amount == 0 {
		return s.currentBalance(ctx, tx, accountID)
	}

	now := s.clock.Now()
	result := tx.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET balance = balance + ?, updated_at = ?
		 WHERE id = ?`,
		amount,
		now,
		accountID,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ledgerdomain.ErrAccountNotFound
	}

	balance, err := s.currentBalance(ctx, tx, accountID)
	if err != nil {
		return 0, err
	}
	if err := s.insertTransaction(ctx, tx, accountID, amount, reason, sourceID, balance, now); err != nil {
		return 0, err
	}

	s.obsMetrics.RecordCredit(ctx, string(reason), amount)
	s.log.Debug("credit applied",
		zap.String("account_id", accountID.String()),
		zap.Int64("amount", amount),
		zap.String("reason", string(reason)),
	)
	return balance, nil
}

func (s *Service) ListTransactions(ctx context.Context, accountID snowflake.ID, limit int) ([]ledgerdomain.CreditTransaction, error) {
	if accountID == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var rows []ledgerdomain.CreditTransaction
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, account_id, delta, reason, source_id, balance_after, created_at
		 FROM credit_transactions
		 WHERE account_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		accountID,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) currentBalance(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (int64, error) {
	var row struct {
		ID      snowflake.ID
		Balance int64
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT id, balance FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	if row.ID == 0 {
		return 0, ledgerdomain.ErrAccountNotFound
	}
	return row.Balance, nil
}

func (s *Service) insertTransaction(
	ctx context.Context,
	tx *gorm.DB,
	accountID snowflake.ID,
	delta int64,
	reason ledgerdomain.Reason,
	sourceID snowflake.ID,
	balanceAfter int64,
	at time.Time,
) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO credit_transactions (
			id, account_id, delta, reason, source_id, balance_after, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.genID.Generate(),
		accountID,
		delta,
		string(reason),
		sourceID,
		balanceAfter,
		at.UTC(),
	).Error
}

func validateArgs(accountID snowflake.ID, amount int64, reason ledgerdomain.Reason) error {
	if accountID == 0 {
		return ledgerdomain.ErrInvalidAccount
	}
	if amount < 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	if reason == "" {
		return ledgerdomain.ErrInvalidReason
	}
	return nil
}
