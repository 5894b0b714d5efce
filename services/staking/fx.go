package staking

import (
	"math/rand"
	"time"

	"stakearn-backend/services/reward"

	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
)

var Module = fx.Module("staking.service",
	fx.Provide(
		NewService,
		provideClock,
		provideRng,
	),
)

func provideClock() clockwork.Clock {
	return clockwork.NewRealClock()
}

func provideRng() reward.Source {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
