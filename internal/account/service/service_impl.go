package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"strings"

	accountdomain "github.com/artivio/platform/internal/account/domain"
	"github.com/artivio/platform/internal/clock"
	"github.com/artivio/platform/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const referralCodeLength = 8

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) accountdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("account.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Signup(ctx context.Context, req accountdomain.SignupRequest) (*accountdomain.Account, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, accountdomain.ErrInvalidEmail
	}

	now := s.clock.Now()
	account := accountdomain.Account{
		ID:        s.genID.Generate(),
		Email:     email,
		Balance:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Referral code collisions are rare; retry a few times before giving up.
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		code, err := newReferralCode()
		if err != nil {
			return nil, err
		}
		account.ReferralCode = code

		err = s.db.WithContext(ctx).Create(&account).Error
		if err == nil {
			s.log.Info("account created", zap.String("account_id", account.ID.String()))
			return &account, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}

		taken, checkErr := s.emailTaken(ctx, email)
		if checkErr != nil {
			return nil, checkErr
		}
		if taken {
			return nil, accountdomain.ErrEmailTaken
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Service) Get(ctx context.Context, id string) (*accountdomain.Account, error) {
	accountID, err := snowflake.ParseString(id)
	if err != nil {
		return nil, accountdomain.ErrAccountNotFound
	}

	var account accountdomain.Account
	err = s.db.WithContext(ctx).Raw(
		`SELECT id, email, referral_code, balance, created_at, updated_at
		 FROM accounts
		 WHERE id = ?`,
		accountID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, accountdomain.ErrAccountNotFound
	}
	return &account, nil
}

func (s *Service) GetByReferralCode(ctx context.Context, code string) (*accountdomain.Account, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, accountdomain.ErrAccountNotFound
	}

	var account accountdomain.Account
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, email, referral_code, balance, created_at, updated_at
		 FROM accounts
		 WHERE referral_code = ?`,
		code,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, accountdomain.ErrAccountNotFound
	}
	return &account, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	accountID, err := snowflake.ParseString(id)
	if err != nil {
		return accountdomain.ErrAccountNotFound
	}

	result := s.db.WithContext(ctx).Exec(`DELETE FROM accounts WHERE id = ?`, accountID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return accountdomain.ErrAccountNotFound
	}
	return nil
}

func (s *Service) emailTaken(ctx context.Context, email string) (bool, error) {
	var id snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM accounts WHERE email = ?`,
		email,
	).Scan(&id).Error
	if err != nil {
		return false, err
	}
	return id != 0, nil
}

func newReferralCode() (string, error) {
	raw := make([]byte, 5)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	code := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	return strings.ToUpper(code[:referralCodeLength]), nil
}
