// Package service implements the idempotent billing event processor.
//
// Every event runs in one transaction whose first statement is the insert
// into billing_events. The UNIQUE event_id index makes that insert the
// idempotency gate: a retry of an already-processed event affects zero rows
// and commits nothing else. Grants, subscription upserts and the event record
// therefore land atomically or not at all.
package service

import (
	"context"
	"strings"
	"time"

	billingdomain "github.com/artivio/platform/internal/billing/domain"
	"github.com/artivio/platform/internal/clock"
	ledgerdomain "github.com/artivio/platform/internal/ledger/domain"
	"github.com/artivio/platform/internal/observability/metrics"
	plandomain "github.com/artivio/platform/internal/plan/domain"
	subscriptiondomain "github.com/artivio/platform/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Ledger     ledgerdomain.Service
	ObsMetrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	ledger  ledgerdomain.Service
	metrics *metrics.Metrics
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("billing.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		ledger:  p.Ledger,
		metrics: p.ObsMetrics,
	}
}

func (s *Service) ProcessEvent(ctx context.Context, ev billingdomain.ExternalEvent) (billingdomain.Outcome, error) {
	if strings.TrimSpace(ev.EventID) == "" || strings.TrimSpace(ev.EventType) == "" {
		return "", billingdomain.ErrInvalidEvent
	}

	var outcome billingdomain.Outcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.insertEvent(ctx, tx, ev)
		if err != nil {
			return err
		}
		if !inserted {
			outcome = billingdomain.OutcomeDuplicate
			return nil
		}

		switch ev.EventType {
		case billingdomain.EventCheckoutCompleted, billingdomain.EventInvoicePaid:
			outcome, err = s.applyGrant(ctx, tx, ev)
		case billingdomain.EventSubscriptionUpdated:
			outcome, err = s.applyPlanChange(ctx, tx, ev)
		case billingdomain.EventSubscriptionDeleted:
			outcome, err = s.applyCancellation(ctx, tx, ev)
		default:
			// Unknown types are recorded for audit and otherwise skipped.
			outcome = billingdomain.OutcomeIgnored
		}
		return err
	})
	if err != nil {
		return "", err
	}

	s.metrics.RecordBillingEvent(ctx, ev.EventType, string(outcome))
	s.log.Info("billing event handled",
		zap.String("event_id", ev.EventID),
		zap.String("event_type", ev.EventType),
		zap.String("outcome", string(outcome)),
	)
	return outcome, nil
}

// applyGrant handles checkout.completed and invoice.paid: upsert the
// subscription onto the event's billing period and grant the period's credit
// allotment, guarded so a replayed or overlapping event can never grant past
// the plan amount.
func (s *Service) applyGrant(ctx context.Context, tx *gorm.DB, ev billingdomain.ExternalEvent) (billingdomain.Outcome, error) {
	accountID, err := payloadAccountID(ev.Payload)
	if err != nil {
		return "", err
	}
	priceID, err := payloadString(ev.Payload, "price_id")
	if err != nil {
		return "", err
	}
	providerSubID, err := payloadString(ev.Payload, "subscription_id")
	if err != nil {
		return "", err
	}
	periodStart, periodEnd, err := payloadPeriod(ev.Payload)
	if err != nil {
		return "", err
	}

	// Different events for the same account carry distinct event ids, so the
	// dedupe gate does not serialize them. The account row lock does.
	if err := s.lockAccount(ctx, tx, accountID); err != nil {
		return "", err
	}

	plan, err := s.planByPriceID(ctx, tx, priceID)
	if err != nil {
		return "", err
	}

	sub, err := s.subscriptionByAccount(ctx, tx, accountID)
	if err != nil {
		return "", err
	}

	now := s.clock.Now().UTC()
	granted := int64(0)
	if sub != nil && sub.CurrentPeriodStart.Equal(periodStart) {
		granted = sub.CreditsGrantedThisPeriod
	}

	grant := plan.CreditsPerMonth - granted
	if grant < 0 {
		grant = 0
	}

	err = tx.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, account_id, plan_id, provider_subscription_id, status,
			current_period_start, current_period_end, credits_granted_this_period,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			provider_subscription_id = EXCLUDED.provider_subscription_id,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			credits_granted_this_period = EXCLUDED.credits_granted_this_period,
			updated_at = EXCLUDED.updated_at`,
		s.genID.Generate(), accountID, plan.ID, providerSubID, subscriptiondomain.StatusActive,
		periodStart, periodEnd, granted+grant,
		now, now,
	).Error
	if err != nil {
		return "", err
	}

	if grant > 0 {
		eventRef, err := s.eventRef(ctx, tx, ev.EventID)
		if err != nil {
			return "", err
		}
		if _, err := s.ledger.CreditTx(ctx, tx, accountID, grant, ledgerdomain.ReasonSubscriptionGrant, eventRef); err != nil {
			return "", err
		}
	}
	return billingdomain.OutcomeProcessed, nil
}

// applyPlanChange handles subscription.updated. An upgrade grants the
// positive remainder of the new plan's allotment for the current period;
// a downgrade changes the plan and grants nothing. Credits already granted
// are never clawed back.
func (s *Service) applyPlanChange(ctx context.Context, tx *gorm.DB, ev billingdomain.ExternalEvent) (billingdomain.Outcome, error) {
	accountID, err := payloadAccountID(ev.Payload)
	if err != nil {
		return "", err
	}
	priceID, err := payloadString(ev.Payload, "price_id")
	if err != nil {
		return "", err
	}

	if err := s.lockAccount(ctx, tx, accountID); err != nil {
		return "", err
	}

	plan, err := s.planByPriceID(ctx, tx, priceID)
	if err != nil {
		return "", err
	}

	sub, err := s.subscriptionByAccount(ctx, tx, accountID)
	if err != nil {
		return "", err
	}
	if sub == nil {
		return "", subscriptiondomain.ErrSubscriptionNotFound
	}

	grant := plan.CreditsPerMonth - sub.CreditsGrantedThisPeriod
	if grant < 0 {
		grant = 0
	}

	err = tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET plan_id = ?, credits_granted_this_period = ?, updated_at = ?
		 WHERE id = ?`,
		plan.ID, sub.CreditsGrantedThisPeriod+grant, s.clock.Now().UTC(),
		sub.ID,
	).Error
	if err != nil {
		return "", err
	}

	if grant > 0 {
		eventRef, err := s.eventRef(ctx, tx, ev.EventID)
		if err != nil {
			return "", err
		}
		if _, err := s.ledger.CreditTx(ctx, tx, accountID, grant, ledgerdomain.ReasonPlanChangeGrant, eventRef); err != nil {
			return "", err
		}
	}
	return billingdomain.OutcomeProcessed, nil
}

// applyCancellation marks the subscription canceled. Remaining balance is
// untouched; the account keeps what it paid for.
func (s *Service) applyCancellation(ctx context.Context, tx *gorm.DB, ev billingdomain.ExternalEvent) (billingdomain.Outcome, error) {
	accountID, err := payloadAccountID(ev.Payload)
	if err != nil {
		return "", err
	}

	result := tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = ?
		 WHERE account_id = ?`,
		subscriptiondomain.StatusCanceled, s.clock.Now().UTC(),
		accountID,
	)
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		return billingdomain.OutcomeIgnored, nil
	}
	return billingdomain.OutcomeProcessed, nil
}

func (s *Service) insertEvent(ctx context.Context, tx *gorm.DB, ev billingdomain.ExternalEvent) (bool, error) {
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO billing_events (id, event_id, event_type, object_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (event_id) DO NOTHING`,
		s.genID.Generate(),
		ev.EventID,
		ev.EventType,
		ev.ObjectID,
		datatypes.JSONMap(ev.Payload),
		s.clock.Now().UTC(),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) lockAccount(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) error {
	var id snowflake.ID
	err := tx.WithContext(ctx).Raw(
		`SELECT id
		 FROM accounts
		 WHERE id = ?
		 FOR UPDATE`,
		accountID,
	).Scan(&id).Error
	if err != nil {
		return err
	}
	if id == 0 {
		return ledgerdomain.ErrAccountNotFound
	}
	return nil
}

func (s *Service) planByPriceID(ctx context.Context, tx *gorm.DB, priceID string) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM plans WHERE provider_price_id = ?`,
		priceID,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, plandomain.ErrPlanNotFound
	}
	return &plan, nil
}

func (s *Service) subscriptionByAccount(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions WHERE account_id = ?`,
		accountID,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

// eventRef resolves the billing_events primary key for this event so ledger
// entries point at the event row, not the provider's string id.
func (s *Service) eventRef(ctx context.Context, tx *gorm.DB, eventID string) (snowflake.ID, error) {
	var id snowflake.ID
	err := tx.WithContext(ctx).Raw(
		`SELECT id FROM billing_events WHERE event_id = ?`,
		eventID,
	).Scan(&id).Error
	if err != nil {
		return 0, err
	}
	return id, nil
}

func payloadAccountID(payload map[string]any) (snowflake.ID, error) {
	raw, err := payloadString(payload, "account_id")
	if err != nil {
		return 0, err
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, billingdomain.ErrInvalidPayload
	}
	return id, nil
}

func payloadString(payload map[string]any, key string) (string, error) {
	raw, ok := payload[key].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", billingdomain.ErrInvalidPayload
	}
	return strings.TrimSpace(raw), nil
}

func payloadPeriod(payload map[string]any) (time.Time, time.Time, error) {
	start, err := payloadTime(payload, "period_start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := payloadTime(payload, "period_end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, billingdomain.ErrInvalidPayload
	}
	return start, end, nil
}

func payloadTime(payload map[string]any, key string) (time.Time, error) {
	raw, err := payloadString(payload, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, billingdomain.ErrInvalidPayload
	}
	return t.UTC(), nil
}
