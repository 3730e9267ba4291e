// Package domain contains the referral tracking models and contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusCredited Status = "credited"
)

// Referral records one invite of an email address by a referral code. The
// UNIQUE (referral_code, referee_email) pair keeps repeat clicks from piling
// up rows, and the status column is the guard that makes conversion pay out
// exactly once.
type Referral struct {
	ID                    snowflake.ID `gorm:"primaryKey"`
	ReferralCode          string       `gorm:"type:text;not null;uniqueIndex:idx_referrals_code_email"`
	RefereeEmail          string       `gorm:"type:text;not null;uniqueIndex:idx_referrals_code_email"`
	ReferrerID            snowflake.ID `gorm:"not null;index"`
	RefereeID             snowflake.ID `gorm:""`
	Status                Status       `gorm:"type:text;not null;index"`
	ReferrerCreditsEarned int64        `gorm:"not null;default:0"`
	RefereeCreditsGiven   int64        `gorm:"not null;default:0"`
	CreatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ConvertedAt           *time.Time   `gorm:""`
}

// TableName sets the database table name.
func (Referral) TableName() string { return "referrals" }

// ConvertResult reports the rewards paid out by a conversion. Both fields are
// zero when another writer already credited the referral.
type ConvertResult struct {
	ReferrerCredited int64 `json:"referrer_credited"`
	RefereeCredited  int64 `json:"referee_credited"`
}

type Service interface {
	Click(ctx context.Context, code, refereeEmail string) (*Referral, error)
	Convert(ctx context.Context, code, refereeID string) (ConvertResult, error)
}

var (
	ErrInvalidCode      = errors.New("invalid_code")
	ErrInvalidEmail     = errors.New("invalid_email")
	ErrReferralNotFound = errors.New("referral_not_found")
)
