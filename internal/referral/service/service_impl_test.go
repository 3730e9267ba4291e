package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	accountdomain "github.com/artivio/platform/internal/account/domain"
	accountservice "github.com/artivio/platform/internal/account/service"
	"github.com/artivio/platform/internal/clock"
	"github.com/artivio/platform/internal/config"
	ledgerdomain "github.com/artivio/platform/internal/ledger/domain"
	ledgerservice "github.com/artivio/platform/internal/ledger/service"
	referraldomain "github.com/artivio/platform/internal/referral/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	accounts accountdomain.Service
	svc      referraldomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	stripForUpdate := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripForUpdate))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripForUpdate))

	require.NoError(t, db.AutoMigrate(
		&accountdomain.Account{},
		&ledgerdomain.CreditTransaction{},
		&referraldomain.Referral{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	accounts := accountservice.NewService(accountservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})

	pricing := config.NewStaticPricingHolder(config.PricingConfig{
		ReferrerReward: 100,
		RefereeReward:  50,
	})

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		Pricing:  pricing,
		Accounts: accounts,
		Ledger:   ledgerSvc,
	})

	return &fixture{db: db, node: node, accounts: accounts, svc: svc}
}

func (f *fixture) signup(t *testing.T, email string) *accountdomain.Account {
	t.Helper()

	account, err := f.accounts.Signup(context.Background(), accountdomain.SignupRequest{Email: email})
	require.NoError(t, err)
	return account
}

func (f *fixture) balance(t *testing.T, id snowflake.ID) int64 {
	t.Helper()

	var balance int64
	require.NoError(t, f.db.Raw(`SELECT balance FROM accounts WHERE id = ?`, id).Scan(&balance).Error)
	return balance
}

func TestClick_CreatesPendingReferral(t *testing.T) {
	f := newFixture(t)
	referrer := f.signup(t, "referrer@example.com")

	referral, err := f.svc.Click(context.Background(), referrer.ReferralCode, "friend@example.com")
	require.NoError(t, err)
	require.Equal(t, referraldomain.StatusPending, referral.Status)
	require.Equal(t, referrer.ID, referral.ReferrerID)
}

func TestClick_RepeatReturnsExistingRow(t *testing.T) {
	f := newFixture(t)
	referrer := f.signup(t, "referrer@example.com")

	first, err := f.svc.Click(context.Background(), referrer.ReferralCode, "friend@example.com")
	require.NoError(t, err)

	second, err := f.svc.Click(context.Background(), referrer.ReferralCode, "friend@example.com")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM referrals`).Scan(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestClick_UnknownCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Click(context.Background(), "NOPE1234", "friend@example.com")
	require.ErrorIs(t, err, referraldomain.ErrReferralNotFound)
}

func TestConvert_CreditsBothParties(t *testing.T) {
	f := newFixture(t)
	referrer := f.signup(t, "referrer@example.com")
	referee := f.signup(t, "friend@example.com")

	_, err := f.svc.Click(context.Background(), referrer.ReferralCode, "friend@example.com")
	require.NoError(t, err)

	result, err := f.svc.Convert(context.Background(), referrer.ReferralCode, referee.ID.String())
	require.NoError(t, err)
	require.Equal(t, int64(100), result.ReferrerCredited)
	require.Equal(t, int64(50), result.RefereeCredited)
	require.Equal(t, int64(100), f.balance(t, referrer.ID))
	require.Equal(t, int64(50), f.balance(t, referee.ID))

	var referral referraldomain.Referral
	require.NoError(t, f.db.Raw(`SELECT * FROM referrals WHERE referral_code = ?`, referrer.ReferralCode).Scan(&referral).Error)
	require.Equal(t, referraldomain.StatusCredited, referral.Status)
	require.Equal(t, referee.ID, referral.RefereeID)
	require.NotNil(t, referral.ConvertedAt)
}

func TestConvert_SecondConvertPaysNothing(t *testing.T) {
	f := newFixture(t)
	referrer := f.signup(t, "referrer@example.com")
	referee := f.signup(t, "friend@example.com")

	_, err := f.svc.Click(context.Background(), referrer.ReferralCode, "friend@example.com")
	require.NoError(t, err)

	_, err = f.svc.Convert(context.Background(), referrer.ReferralCode, referee.ID.String())
	require.NoError(t, err)

	result, err := f.svc.Convert(context.Background(), referrer.ReferralCode, referee.ID.String())
	require.NoError(t, err)
	require.Zero(t, result.ReferrerCredited)
	require.Zero(t, result.RefereeCredited)
	require.Equal(t, int64(100), f.balance(t, referrer.ID))
	require.Equal(t, int64(50), f.balance(t, referee.ID))
}

func TestConvert_NoReferralAtAll(t *testing.T) {
	f := newFixture(t)
	referee := f.signup(t, "friend@example.com")

	_, err := f.svc.Convert(context.Background(), "NOPE1234", referee.ID.String())
	require.ErrorIs(t, err, referraldomain.ErrReferralNotFound)
}
