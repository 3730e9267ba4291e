// Package domain contains the subscription plan catalog.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Plan maps a billing provider price to a monthly credit allowance.
type Plan struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	Code            string       `gorm:"type:text;not null;uniqueIndex"`
	Name            string       `gorm:"type:text;not null"`
	CreditsPerMonth int64        `gorm:"not null"`
	ProviderPriceID string       `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

type Service interface {
	List(ctx context.Context) ([]Plan, error)
	GetByCode(ctx context.Context, code string) (*Plan, error)
	GetByProviderPriceID(ctx context.Context, priceID string) (*Plan, error)
}

var ErrPlanNotFound = errors.New("plan_not_found")
