package commission

import "go.uber.org/fx"

var Module = fx.Module("commission.service",
	fx.Provide(NewService),
)
