// Package seed inserts the default plan catalog so a fresh install can take
// billing events without manual setup.
package seed

import (
	"context"
	"errors"

	plandomain "github.com/artivio/platform/internal/plan/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var defaultPlans = []plandomain.Plan{
	{Code: "starter", Name: "Starter", CreditsPerMonth: 200, ProviderPriceID: "price_starter_monthly"},
	{Code: "creator", Name: "Creator", CreditsPerMonth: 1000, ProviderPriceID: "price_creator_monthly"},
	{Code: "studio", Name: "Studio", CreditsPerMonth: 5000, ProviderPriceID: "price_studio_monthly"},
}

// EnsureDefaultPlans inserts any missing default plans. Existing rows with
// the same code are left untouched, so operators can re-point price ids or
// rename plans without the seed reverting them.
func EnsureDefaultPlans(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, plan := range defaultPlans {
			err := tx.Exec(
				`INSERT INTO plans (id, code, name, credits_per_month, provider_price_id, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
				 ON CONFLICT (code) DO NOTHING`,
				node.Generate(), plan.Code, plan.Name, plan.CreditsPerMonth, plan.ProviderPriceID,
			).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}
