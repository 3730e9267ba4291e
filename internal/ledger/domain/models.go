// Package domain contains the balance mutation primitives and their audit trail.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Reason classifies why credits moved on an account.
type Reason string

const (
	ReasonGenerationDebit   Reason = "generation_debit"
	ReasonGenerationRefund  Reason = "generation_refund"
	ReasonSubscriptionGrant Reason = "subscription_grant"
	ReasonPlanChangeGrant   Reason = "plan_change_grant"
	ReasonReferralReward    Reason = "referral_reward"
	ReasonManualAdjustment  Reason = "manual_adjustment"
)

// CreditTransaction is the immutable record behind every balance change.
type CreditTransaction struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	AccountID    snowflake.ID `gorm:"not null;index"`
	Delta        int64        `gorm:"not null"`
	Reason       Reason       `gorm:"type:text;not null"`
	SourceID     snowflake.ID `gorm:"not null;index"`
	BalanceAfter int64        `gorm:"not null"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }
