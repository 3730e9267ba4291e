package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	accountdomain "github.com/artivio/platform/internal/account/domain"
	"github.com/artivio/platform/internal/clock"
	"github.com/artivio/platform/internal/config"
	generationdomain "github.com/artivio/platform/internal/generation/domain"
	ledgerdomain "github.com/artivio/platform/internal/ledger/domain"
	ledgerservice "github.com/artivio/platform/internal/ledger/service"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
	ledger ledgerdomain.Service
	svc    generationdomain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&accountdomain.Account{},
		&ledgerdomain.CreditTransaction{},
		&generationdomain.Generation{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})

	pricing := config.NewStaticPricingHolder(config.PricingConfig{
		GenerationCosts: map[string]int64{
			"image": 5,
			"video": 50,
		},
		DefaultGenerationCost: 5,
	})

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Pricing: pricing,
		Ledger:  ledgerSvc,
	})

	return &fixture{db: db, node: node, clock: fake, ledger: ledgerSvc, svc: svc}
}

func (f *fixture) createAccount(t *testing.T, balance int64) snowflake.ID {
	t.Helper()

	id := f.node.Generate()
	account := accountdomain.Account{
		ID:           id,
		Email:        fmt.Sprintf("%s@example.com", id),
		ReferralCode: id.String()[:8],
		Balance:      balance,
	}
	require.NoError(t, f.db.Create(&account).Error)
	return id
}

func (f *fixture) balance(t *testing.T, accountID snowflake.ID) int64 {
	t.Helper()

	var balance int64
	require.NoError(t, f.db.Raw(`SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&balance).Error)
	return balance
}

func TestCreate_DebitsCapturedCost(t *testing.T) {
	f := newFixture(t)
	accountID := f.createAccount(t, 100)

	gen, err := f.svc.Create(context.Background(), generationdomain.CreateRequest{
		AccountID: accountID.String(),
		Kind:      "video",
		Params:    map[string]any{"prompt": "sunrise over water"},
	})
	require.NoError(t, err)
	require.Equal(t, generationdomain.StatusPending, gen.Status)
	require.Equal(t, int64(50), gen.CreditsCost)
	require.Equal(t, int64(50), f.balance(t, accountID))
}

func TestCreate_InsufficientFundsLeavesNoRow(t *testing.T) {
	f := newFixture(t)
	accountID := f.createAccount(t, 10)

	_, err := f.svc.Create(context.Background(), generationdomain.CreateRequest{
		AccountID: accountID.String(),
		Kind:      "video",
	})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)
	require.Equal(t, int64(10), f.balance(t, accountID))

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM generations WHERE account_id = ?`, accountID).Scan(&count).Error)
	require.Zero(t, count)
}

func TestCreate_UnknownKindUsesDefaultCost(t *testing.T) {
	f := newFixture(t)
	accountID := f.createAccount(t, 100)

	gen, err := f.svc.Create(context.Background(), generationdomain.CreateRequest{
		AccountID: accountID.String(),
		Kind:      "music",
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), gen.CreditsCost)
}

func TestStart_MovesPendingToProcessing(t *testing.T) {
	f := newFixture(t)
	accountID := f.createAccount(t, 100)

	gen, err := f.svc.Create(context.Background(), generationdomain.CreateRequest{
		AccountID: accountID.String(),
		Kind:      "image",
	})
	require.NoError(t, err)

	started, err := f.svc.Start(context.Background(), gen.ID.String())
	require.NoError(t, err)
	require.Equal(t, generationdomain.StatusProcessing, started.Status)

	// Starting again is a no-op.
	again, err := f.svc.Start(context.Background(), gen.ID.String())
	require.NoError(t, err)
	require.Equal(t, generationdomain.StatusProcessing, again.Status)
}

func TestFinalize_SuccessKeepsDebit(t *testing.T) {
	f := newFixture(t)
	accountID := f.createAccount(t, 100)

	gen, err := f.svc.Create(context.Background(), generationdomain.CreateRequest{
		AccountID: accountID.String(),
		Kind:      "image",
	})
	require.NoError(t, err)

	done, err := f.svc.Finalize(context.Background(), generationdomain.FinalizeRequest{
		GenerationID: gen.ID.String(),
		Outcome:      generationdomain.OutcomeSuccess,
		ResultURL:    "https://cdn.example.com/result.png",
	})
	require.NoError(t, err)
	require.Equal(t, generationdomain.StatusCompleted, done.Status)
	require.NotNil(t, done.ResultURL)
	require.NotNil(t, done.CompletedAt)
	require.Equal(t, int64(95), f.balance(t, accountID))
}

func TestFinalize_FailureRefundsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	accountID := f.createAccount(t, 100)

	gen, err := f.svc.Create(context.Background(), generationdomain.CreateRequest{
		AccountID: accountID.String(),
		Kind:      "video",
	})
	require.NoError(t, err)
	require.Equal(t, int64(50), f.balance(t, accountID))

	failed, err := f.svc.Finalize(context.Background(), generationdomain.FinalizeRequest{
		GenerationID: gen.ID.String(),
		Outcome:      generationdomain.OutcomeFailure,
		ErrorNote:    "upstream model error",
	})
	require.NoError(t, err)
	require.Equal(t, generationdomain.StatusFailed, failed.Status)
	require.Equal(t, int64(100), f.balance(t, accountID))

	// Retried failure callback: same terminal row back, no second refund.
	again, err := f.svc.Finalize(context.Background(), generationdomain.FinalizeRequest{
		GenerationID: gen.ID.String(),
		Outcome:      generationdomain.OutcomeFailure,
		ErrorNote:    "upstream model error",
	})
	require.NoError(t, err)
	require.Equal(t, generationdomain.StatusFailed, again.Status)
	require.Equal(t, int64(100), f.balance(t, accountID))
}

func TestFinalize_AfterCompletionReturnsCurrentRow(t *testing.T) {
	f := newFixture(t)
	accountID := f.createAccount(t, 100)

	gen, err := f.svc.Create(context.Background(), generationdomain.CreateRequest{
		AccountID: accountID.String(),
		Kind:      "image",
	})
	require.NoError(t, err)

	_, err = f.svc.Finalize(context.Background(), generationdomain.FinalizeRequest{
		GenerationID: gen.ID.String(),
		Outcome:      generationdomain.OutcomeSuccess,
	})
	require.NoError(t, err)

	// A late failure report loses to the completed status and refunds nothing.
	late, err := f.svc.Finalize(context.Background(), generationdomain.FinalizeRequest{
		GenerationID: gen.ID.String(),
		Outcome:      generationdomain.OutcomeFailure,
		ErrorNote:    "late failure",
	})
	require.NoError(t, err)
	require.Equal(t, generationdomain.StatusCompleted, late.Status)
	require.Equal(t, int64(95), f.balance(t, accountID))
}

func TestFinalize_InvalidOutcome(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Finalize(context.Background(), generationdomain.FinalizeRequest{
		GenerationID: "1",
		Outcome:      "maybe",
	})
	require.ErrorIs(t, err, generationdomain.ErrInvalidOutcome)
}

func TestCancel_RefundsPendingGeneration(t *testing.T) {
	f := newFixture(t)
	accountID := f.createAccount(t, 100)

	gen, err := f.svc.Create(context.Background(), generationdomain.CreateRequest{
		AccountID: accountID.String(),
		Kind:      "video",
	})
	require.NoError(t, err)

	result, err := f.svc.Cancel(context.Background(), gen.ID.String())
	require.NoError(t, err)
	require.True(t, result.Refunded)
	require.Equal(t, int64(50), result.Amount)
	require.Equal(t, int64(100), f.balance(t, accountID))

	cancelled, err := f.svc.Get(context.Background(), gen.ID.String())
	require.NoError(t, err)
	require.Equal(t, generationdomain.StatusFailed, cancelled.Status)
	require.NotNil(t, cancelled.ErrorNote)
	require.Equal(t, generationdomain.CancelErrorNote, *cancelled.ErrorNote)
}

func TestCancel_LosesToFinalize(t *testing.T) {
	f := newFixture(t)
	accountID := f.createAccount(t, 100)

	gen, err := f.svc.Create(context.Background(), generationdomain.CreateRequest{
		AccountID: accountID.String(),
		Kind:      "image",
	})
	require.NoError(t, err)

	_, err = f.svc.Finalize(context.Background(), generationdomain.FinalizeRequest{
		GenerationID: gen.ID.String(),
		Outcome:      generationdomain.OutcomeSuccess,
	})
	require.NoError(t, err)

	result, err := f.svc.Cancel(context.Background(), gen.ID.String())
	require.NoError(t, err)
	require.False(t, result.Refunded)
	require.Zero(t, result.Amount)
	require.Equal(t, int64(95), f.balance(t, accountID))
}

func TestCancel_AfterCancelRefundsNothing(t *testing.T) {
	f := newFixture(t)
	accountID := f.createAccount(t, 100)

	gen, err := f.svc.Create(context.Background(), generationdomain.CreateRequest{
		AccountID: accountID.String(),
		Kind:      "video",
	})
	require.NoError(t, err)

	first, err := f.svc.Cancel(context.Background(), gen.ID.String())
	require.NoError(t, err)
	require.True(t, first.Refunded)

	second, err := f.svc.Cancel(context.Background(), gen.ID.String())
	require.NoError(t, err)
	require.False(t, second.Refunded)
	require.Equal(t, int64(100), f.balance(t, accountID))
}

func TestListByAccount_NewestFirst(t *testing.T) {
	f := newFixture(t)
	accountID := f.createAccount(t, 100)

	first, err := f.svc.Create(context.Background(), generationdomain.CreateRequest{
		AccountID: accountID.String(),
		Kind:      "image",
	})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.svc.Create(context.Background(), generationdomain.CreateRequest{
		AccountID: accountID.String(),
		Kind:      "image",
	})
	require.NoError(t, err)

	gens, err := f.svc.ListByAccount(context.Background(), accountID.String(), 10)
	require.NoError(t, err)
	require.Len(t, gens, 2)
	require.Equal(t, second.ID, gens[0].ID)
	require.Equal(t, first.ID, gens[1].ID)
}
