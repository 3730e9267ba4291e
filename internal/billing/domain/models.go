// Package domain contains the billing event log and processor contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Event types emitted by the payment provider that the processor acts on.
const (
	EventCheckoutCompleted   = "checkout.completed"
	EventInvoicePaid         = "invoice.paid"
	EventSubscriptionUpdated = "subscription.updated"
	EventSubscriptionDeleted = "subscription.deleted"
)

// Outcome classifies what ProcessEvent did with an event.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// BillingEvent is the append-only record of every provider event ever
// received. The UNIQUE event_id index is the idempotency gate: whichever
// transaction inserts the row first processes the event, everyone else sees
// a conflict and stops.
type BillingEvent struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	EventID   string            `gorm:"type:text;not null;uniqueIndex"`
	EventType string            `gorm:"type:text;not null;index"`
	ObjectID  string            `gorm:"type:text;not null"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingEvent) TableName() string { return "billing_events" }

// ExternalEvent is a provider event after webhook verification, before
// processing. Payload carries the provider object already fetched by the
// webhook layer; the processor never talks to the network.
type ExternalEvent struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	ObjectID  string         `json:"object_id"`
	Payload   map[string]any `json:"payload"`
}

type Service interface {
	ProcessEvent(ctx context.Context, ev ExternalEvent) (Outcome, error)
}

var (
	ErrInvalidEvent   = errors.New("invalid_event")
	ErrInvalidPayload = errors.New("invalid_payload")
)
