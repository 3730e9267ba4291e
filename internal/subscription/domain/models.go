// Package domain contains the per-account subscription state written by the
// billing event processor.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
)

// Subscription tracks one account's current plan and how many credits the
// billing processor has already granted inside the current billing period.
// account_id is UNIQUE: an account holds at most one subscription row, and
// renewals upsert onto it.
type Subscription struct {
	ID                       snowflake.ID `gorm:"primaryKey"`
	AccountID                snowflake.ID `gorm:"not null;uniqueIndex"`
	PlanID                   snowflake.ID `gorm:"not null;index"`
	ProviderSubscriptionID   string       `gorm:"type:text;not null;index"`
	Status                   Status       `gorm:"type:text;not null"`
	CurrentPeriodStart       time.Time    `gorm:"not null"`
	CurrentPeriodEnd         time.Time    `gorm:"not null"`
	CreditsGrantedThisPeriod int64        `gorm:"not null;default:0"`
	CreatedAt                time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt                time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

type Service interface {
	GetByAccount(ctx context.Context, accountID string) (*Subscription, error)
}

var ErrSubscriptionNotFound = errors.New("subscription_not_found")
