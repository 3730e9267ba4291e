// Package domain contains persistence models for billed generation jobs.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a generation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CancelErrorNote marks a failed generation that was cancelled by the user
// rather than failed by the generator.
const CancelErrorNote = "cancel_requested"

// Generation is one unit of billed work. CreditsCost is captured when the
// debit lands and never changes afterwards, so a later refund always matches
// the original charge even if pricing moved in between.
type Generation struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	AccountID   snowflake.ID      `gorm:"not null;index"`
	Status      Status            `gorm:"type:text;not null;index"`
	Kind        string            `gorm:"type:text;not null"`
	CreditsCost int64             `gorm:"not null"`
	Params      datatypes.JSONMap `gorm:"type:jsonb"`
	ResultURL   *string           `gorm:"type:text"`
	ErrorNote   *string           `gorm:"type:text"`
	CompletedAt *time.Time        `gorm:""`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Generation) TableName() string { return "generations" }
