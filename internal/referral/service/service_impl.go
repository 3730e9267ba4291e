// Package service implements referral click tracking and first-writer-wins
// conversion.
package service

import (
	"context"
	"strings"

	accountdomain "github.com/artivio/platform/internal/account/domain"
	"github.com/artivio/platform/internal/clock"
	"github.com/artivio/platform/internal/config"
	ledgerdomain "github.com/artivio/platform/internal/ledger/domain"
	"github.com/artivio/platform/internal/observability/metrics"
	referraldomain "github.com/artivio/platform/internal/referral/domain"
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
	Pricing    *config.PricingHolder
	Accounts   accountdomain.Service
	Ledger     ledgerdomain.Service
	ObsMetrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	pricing  *config.PricingHolder
	accounts accountdomain.Service
	ledger   ledgerdomain.Service
	metrics  *metrics.Metrics
}

func NewService(p Params) referraldomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("referral.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		pricing:  p.Pricing,
		accounts: p.Accounts,
		ledger:   p.Ledger,
		metrics:  p.ObsMetrics,
	}
}

// Click records a pending referral for (code, email). Repeat clicks hit the
// unique index and return the existing row unchanged.
func (s *Service) Click(ctx context.Context, code, refereeEmail string) (*referraldomain.Referral, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, referraldomain.ErrInvalidCode
	}
	email := strings.ToLower(strings.TrimSpace(refereeEmail))
	if email == "" || !strings.Contains(email, "@") {
		return nil, referraldomain.ErrInvalidEmail
	}

	referrer, err := s.accounts.GetByReferralCode(ctx, code)
	if err != nil {
		if err == accountdomain.ErrAccountNotFound {
			return nil, referraldomain.ErrReferralNotFound
		}
		return nil, err
	}

	referral := referraldomain.Referral{
		ID:           s.genID.Generate(),
		ReferralCode: code,
		RefereeEmail: email,
		ReferrerID:   referrer.ID,
		Status:       referraldomain.StatusPending,
		CreatedAt:    s.clock.Now().UTC(),
	}

	result := s.db.WithContext(ctx).Exec(
		`INSERT INTO referrals (
			id, referral_code, referee_email, referrer_id, status,
			referrer_credits_earned, referee_credits_given, created_at
		) VALUES (?, ?, ?, ?, ?, 0, 0, ?)
		ON CONFLICT (referral_code, referee_email) DO NOTHING`,
		referral.ID, referral.ReferralCode, referral.RefereeEmail,
		referral.ReferrerID, referral.Status, referral.CreatedAt,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return s.loadByPair(ctx, code, email)
	}

	s.log.Info("referral click recorded",
		zap.String("referral_code", code),
		zap.String("referrer_id", referrer.ID.String()),
	)
	return &referral, nil
}

// Convert pays out the most recent pending referral for code. The row lock
// plus the status-guarded update make the payout first-writer-wins: a racing
// convert observes zero affected rows and reports zero rewards, never an
// error and never a double credit.
func (s *Service) Convert(ctx context.Context, code, refereeID string) (referraldomain.ConvertResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return referraldomain.ConvertResult{}, referraldomain.ErrInvalidCode
	}
	referee, err := snowflake.ParseString(refereeID)
	if err != nil {
		return referraldomain.ConvertResult{}, accountdomain.ErrAccountNotFound
	}

	pricing := s.pricing.Current()

	var out referraldomain.ConvertResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		referral, err := s.lockPending(ctx, tx, code)
		if err != nil {
			return err
		}
		if referral == nil {
			credited, err := s.creditedExists(ctx, tx, code)
			if err != nil {
				return err
			}
			if credited {
				// Already converted by an earlier writer.
				return nil
			}
			return referraldomain.ErrReferralNotFound
		}

		now := s.clock.Now().UTC()
		result := tx.Exec(
			`UPDATE referrals
			 SET status = ?, referee_id = ?, referrer_credits_earned = ?,
			     referee_credits_given = ?, converted_at = ?
			 WHERE id = ? AND status = ?`,
			referraldomain.StatusCredited, referee,
			pricing.ReferrerReward, pricing.RefereeReward, now,
			referral.ID, referraldomain.StatusPending,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if pricing.ReferrerReward > 0 {
			if _, err := s.ledger.CreditTx(ctx, tx, referral.ReferrerID, pricing.ReferrerReward, ledgerdomain.ReasonReferralReward, referral.ID); err != nil {
				return err
			}
		}
		if pricing.RefereeReward > 0 {
			if _, err := s.ledger.CreditTx(ctx, tx, referee, pricing.RefereeReward, ledgerdomain.ReasonReferralReward, referral.ID); err != nil {
				return err
			}
		}

		out = referraldomain.ConvertResult{
			ReferrerCredited: pricing.ReferrerReward,
			RefereeCredited:  pricing.RefereeReward,
		}
		return nil
	})
	if err != nil {
		return referraldomain.ConvertResult{}, err
	}

	if out.ReferrerCredited > 0 || out.RefereeCredited > 0 {
		s.metrics.RecordReferralConversion(ctx)
		s.log.Info("referral converted",
			zap.String("referral_code", code),
			zap.Int64("referrer_credited", out.ReferrerCredited),
			zap.Int64("referee_credited", out.RefereeCredited),
		)
	}
	return out, nil
}

func (s *Service) lockPending(ctx context.Context, tx *gorm.DB, code string) (*referraldomain.Referral, error) {
	var referral referraldomain.Referral
	err := tx.WithContext(ctx).Raw(
		`SELECT *
		 FROM referrals
		 WHERE referral_code = ? AND status = ?
		 ORDER BY created_at DESC
		 LIMIT 1
		 FOR UPDATE`,
		code, referraldomain.StatusPending,
	).Scan(&referral).Error
	if err != nil {
		return nil, err
	}
	if referral.ID == 0 {
		return nil, nil
	}
	return &referral, nil
}

func (s *Service) creditedExists(ctx context.Context, tx *gorm.DB, code string) (bool, error) {
	var id snowflake.ID
	err := tx.WithContext(ctx).Raw(
		`SELECT id
		 FROM referrals
		 WHERE referral_code = ? AND status = ?
		 LIMIT 1`,
		code, referraldomain.StatusCredited,
	).Scan(&id).Error
	if err != nil {
		return false, err
	}
	return id != 0, nil
}

func (s *Service) loadByPair(ctx context.Context, code, email string) (*referraldomain.Referral, error) {
	var referral referraldomain.Referral
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM referrals WHERE referral_code = ? AND referee_email = ?`,
		code, email,
	).Scan(&referral).Error
	if err != nil {
		return nil, err
	}
	if referral.ID == 0 {
		return nil, referraldomain.ErrReferralNotFound
	}
	return &referral, nil
}
