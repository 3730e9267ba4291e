package service

import (
	"context"
	"strings"

	plandomain "github.com/artivio/platform/internal/plan/domain"
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

func NewService(p Params) plandomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("plan.service"),
	}
}

func (s *Service) List(ctx context.Context) ([]plandomain.Plan, error) {
	var plans []plandomain.Plan
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM plans ORDER BY credits_per_month ASC`,
	).Scan(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*plandomain.Plan, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, plandomain.ErrPlanNotFound
	}

	var plan plandomain.Plan
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM plans WHERE code = ?`,
		code,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, plandomain.ErrPlanNotFound
	}
	return &plan, nil
}

func (s *Service) GetByProviderPriceID(ctx context.Context, priceID string) (*plandomain.Plan, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return nil, plandomain.ErrPlanNotFound
	}

	var plan plandomain.Plan
	err := s.db.WithContext(ctx).Raw(
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
