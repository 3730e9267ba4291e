package config

import "go.uber.org/fx"

// Module wires the env-driven config and the hot-reloadable pricing holder.
var Module = fx.Module("config",
	fx.Provide(
		Load,
		DBConfig,
		NewPricingHolder,
	),
)
