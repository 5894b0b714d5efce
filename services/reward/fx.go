package reward

import "go.uber.org/fx"

var Module = fx.Module("reward.engine",
	fx.Provide(NewEngine),
)
