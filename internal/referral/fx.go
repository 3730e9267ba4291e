package referral

import (
	"github.com/artivio/platform/internal/referral/service"
	"go.uber.org/fx"
)

var Module = fx.Module("referral.service",
	fx.Provide(service.NewService),
)
