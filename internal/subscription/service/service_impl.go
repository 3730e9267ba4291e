package service

import (
	"context"

	subscriptiondomain "github.com/artivio/platform/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),
	}
}

func (s *Service) GetByAccount(ctx context.Context, accountID string) (*subscriptiondomain.Subscription, error) {
	id, err := snowflake.ParseString(accountID)
	if err != nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	var sub subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions WHERE account_id = ?`,
		id,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return &sub, nil
}
