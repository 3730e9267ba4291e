package migration

import (
	accountdomain "github.com/artivio/platform/internal/account/domain"
	billingdomain "github.com/artivio/platform/internal/billing/domain"
	"github.com/artivio/platform/internal/config"
	generationdomain "github.com/artivio/platform/internal/generation/domain"
	ledgerdomain "github.com/artivio/platform/internal/ledger/domain"
	plandomain "github.com/artivio/platform/internal/plan/domain"
	referraldomain "github.com/artivio/platform/internal/referral/domain"
	"github.com/artivio/platform/internal/seed"
	subscriptiondomain "github.com/artivio/platform/internal/subscription/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// The versioned SQL is postgres-only; other dialects are for
			// local development and use gorm's schema sync instead.
			err := conn.AutoMigrate(
				&accountdomain.Account{},
				&ledgerdomain.CreditTransaction{},
				&generationdomain.Generation{},
				&billingdomain.BillingEvent{},
				&plandomain.Plan{},
				&subscriptiondomain.Subscription{},
				&referraldomain.Referral{},
			)
			if err != nil {
				return err
			}
		}

		return seed.EnsureDefaultPlans(conn)
	}),
)
