package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidAccount    = errors.New("invalid_account")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidReason     = errors.New("invalid_reason")
	ErrAccountNotFound   = errors.New("account_not_found")
	ErrInsufficientFunds = errors.New("insufficient_funds")
)

// InsufficientFundsError reports how many credits were requested versus held.
// errors.Is(err, ErrInsufficientFunds) matches it.
type InsufficientFundsError struct {
	Need int64
	Have int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %d, have %d", e.Need, e.Have)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Service owns atomic balance mutation. All balance writes in the system go
// through these primitives; business code never assigns balances directly.
//
// The Tx variants run against a caller-supplied transaction so a status
// transition and its refund (or grant) commit or abort together.
type Service interface {
	Debit(ctx context.Context, accountID snowflake.ID, amount int64, reason Reason, sourceID snowflake.ID) (int64, error)
	Credit(ctx context.Context, accountID snowflake.ID, amount int64, reason Reason, sourceID snowflake.ID) (int64, error)
	DebitTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amount int64, reason Reason, sourceID snowflake.ID) (int64, error)
	CreditTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amount int64, reason Reason, sourceID snowflake.ID) (int64, error)
	ListTransactions(ctx context.Context, accountID snowflake.ID, limit int) ([]CreditTransaction, error)
}
