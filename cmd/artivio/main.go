package main

import (
	"github.com/artivio/platform/internal/account"
	"github.com/artivio/platform/internal/billing"
	"github.com/artivio/platform/internal/clock"
	"github.com/artivio/platform/internal/config"
	"github.com/artivio/platform/internal/generation"
	"github.com/artivio/platform/internal/ledger"
	"github.com/artivio/platform/internal/migration"
	"github.com/artivio/platform/internal/observability"
	"github.com/artivio/platform/internal/plan"
	"github.com/artivio/platform/internal/ratelimit"
	"github.com/artivio/platform/internal/referral"
	"github.com/artivio/platform/internal/server"
	"github.com/artivio/platform/internal/subscription"
	"github.com/artivio/platform/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		ledger.Module,
		account.Module,
		generation.Module,
		plan.Module,
		subscription.Module,
		billing.Module,
		referral.Module,
		ratelimit.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
