// Package domain contains persistence models for user accounts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account holds the integer credit balance owned by one user. The balance
// column is only ever mutated through the ledger primitives.
type Account struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	Email        string       `gorm:"type:text;not null;uniqueIndex"`
	ReferralCode string       `gorm:"type:text;not null;uniqueIndex"`
	Balance      int64        `gorm:"not null;default:0"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }
