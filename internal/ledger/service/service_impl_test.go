package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	accountdomain "github.com/artivio/platform/internal/account/domain"
	"github.com/artivio/platform/internal/clock"
	ledgerdomain "github.com/artivio/platform/internal/ledger/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
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
	))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) (ledgerdomain.Service, *snowflake.Node, *clock.FakeClock) {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})
	return svc, node, fake
}

func createAccount(t *testing.T, db *gorm.DB, node *snowflake.Node, balance int64) snowflake.ID {
	t.Helper()

	id := node.Generate()
	account := accountdomain.Account{
		ID:           id,
		Email:        fmt.Sprintf("%s@example.com", id),
		ReferralCode: id.String()[:8],
		Balance:      balance,
	}
	require.NoError(t, db.Create(&account).Error)
	return id
}

func TestDebit_DecrementsBalanceAndRecordsTransaction(t *testing.T) {
	db := openTestDB(t)
	svc, node, _ := newTestService(t, db)
	accountID := createAccount(t, db, node, 100)
	sourceID := node.Generate()

	balance, err := svc.Debit(context.Background(), accountID, 30, ledgerdomain.ReasonGenerationDebit, sourceID)
	require.NoError(t, err)
	require.Equal(t, int64(70), balance)

	rows, err := svc.ListTransactions(context.Background(), accountID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(-30), rows[0].Delta)
	require.Equal(t, ledgerdomain.ReasonGenerationDebit, rows[0].Reason)
	require.Equal(t, sourceID, rows[0].SourceID)
	require.Equal(t, int64(70), rows[0].BalanceAfter)
}

func TestDebit_InsufficientFunds(t *testing.T) {
	db := openTestDB(t)
	svc, node, _ := newTestService(t, db)
	accountID := createAccount(t, db, node, 10)

	_, err := svc.Debit(context.Background(), accountID, 25, ledgerdomain.ReasonGenerationDebit, node.Generate())
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientFunds)

	var insufficient *ledgerdomain.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(25), insufficient.Need)
	require.Equal(t, int64(10), insufficient.Have)

	// Failed debit leaves no trace: balance and audit trail unchanged.
	balance, err := svc.Credit(context.Background(), accountID, 0, ledgerdomain.ReasonManualAdjustment, node.Generate())
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)

	rows, err := svc.ListTransactions(context.Background(), accountID, 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestDebit_ExactBalanceSucceeds(t *testing.T) {
	db := openTestDB(t)
	svc, node, _ := newTestService(t, db)
	accountID := createAccount(t, db, node, 50)

	balance, err := svc.Debit(context.Background(), accountID, 50, ledgerdomain.ReasonGenerationDebit, node.Generate())
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)
}

func TestDebit_ZeroAmountIsNoOp(t *testing.T) {
	db := openTestDB(t)
	svc, node, _ := newTestService(t, db)
	accountID := createAccount(t, db, node, 40)

	balance, err := svc.Debit(context.Background(), accountID, 0, ledgerdomain.ReasonGenerationDebit, node.Generate())
	require.NoError(t, err)
	require.Equal(t, int64(40), balance)

	rows, err := svc.ListTransactions(context.Background(), accountID, 10)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestDebit_NegativeAmountRejected(t *testing.T) {
	db := openTestDB(t)
	svc, node, _ := newTestService(t, db)
	accountID := createAccount(t, db, node, 40)

	_, err := svc.Debit(context.Background(), accountID, -5, ledgerdomain.ReasonGenerationDebit, node.Generate())
	require.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)
}

func TestDebit_UnknownAccount(t *testing.T) {
	db := openTestDB(t)
	svc, node, _ := newTestService(t, db)

	_, err := svc.Debit(context.Background(), node.Generate(), 5, ledgerdomain.ReasonGenerationDebit, node.Generate())
	require.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}

func TestCredit_IncrementsBalance(t *testing.T) {
	db := openTestDB(t)
	svc, node, _ := newTestService(t, db)
	accountID := createAccount(t, db, node, 5)

	balance, err := svc.Credit(context.Background(), accountID, 100, ledgerdomain.ReasonSubscriptionGrant, node.Generate())
	require.NoError(t, err)
	require.Equal(t, int64(105), balance)

	rows, err := svc.ListTransactions(context.Background(), accountID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(100), rows[0].Delta)
	require.Equal(t, int64(105), rows[0].BalanceAfter)
}

func TestCredit_UnknownAccount(t *testing.T) {
	db := openTestDB(t)
	svc, node, _ := newTestService(t, db)

	_, err := svc.Credit(context.Background(), node.Generate(), 100, ledgerdomain.ReasonSubscriptionGrant, node.Generate())
	require.True(t, errors.Is(err, ledgerdomain.ErrAccountNotFound))
}

func TestListTransactions_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	svc, node, fake := newTestService(t, db)
	accountID := createAccount(t, db, node, 100)

	_, err := svc.Debit(context.Background(), accountID, 10, ledgerdomain.ReasonGenerationDebit, node.Generate())
	require.NoError(t, err)
	fake.Advance(time.Minute)
	_, err = svc.Credit(context.Background(), accountID, 10, ledgerdomain.ReasonGenerationRefund, node.Generate())
	require.NoError(t, err)

	rows, err := svc.ListTransactions(context.Background(), accountID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, ledgerdomain.ReasonGenerationRefund, rows[0].Reason)
	require.Equal(t, ledgerdomain.ReasonGenerationDebit, rows[1].Reason)
}
