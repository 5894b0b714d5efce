package reward

import (
	"stakearn-backend/pkg/config"

	"go.uber.org/fx"
)

// Source is the injectable randomness used by Draw. *math/rand.Rand satisfies
// it; tests inject fixed sequences.
type Source interface {
	Float64() float64
	Intn(n int) int
}

// Params are the draw tunables: the slot-eligibility threshold, the two
// probability bands, and their integer USD payout ranges.
type Params struct {
	LuckySlotThreshold int64
	LargeProbability   float64
	RegularProbability float64
	LargeMinUSD        int
	LargeMaxUSD        int
	RegularMinUSD      int
	RegularMaxUSD      int
}

// Engine performs the weighted random reward draw. It is side-effect-free:
// committing the clamped amount against the pool is the caller's job, inside
// its own transaction.
type Engine struct {
	params Params
}

type EngineParams struct {
	fx.In
	Cfg *config.Config
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		params: Params{
			LuckySlotThreshold: p.Cfg.Reward.LuckySlotThreshold,
			LargeProbability:   p.Cfg.Reward.LargeProbability,
			RegularProbability: p.Cfg.Reward.RegularProbability,
			LargeMinUSD:        p.Cfg.Reward.LargeMinUSD,
			LargeMaxUSD:        p.Cfg.Reward.LargeMaxUSD,
			RegularMinUSD:      p.Cfg.Reward.RegularMinUSD,
			RegularMaxUSD:      p.Cfg.Reward.RegularMaxUSD,
		},
	}
}

func NewEngineWithParams(params Params) *Engine {
	return &Engine{params: params}
}

// Draw performs one weighted draw for the user occupying slotsUsed slots at
// draw time, clamped to the remaining reward pool.
//
// Slots past the lucky-winner threshold always lose without consuming
// randomness. Otherwise one uniform roll picks the band: large payout with
// probability LargeProbability, regular with RegularProbability, nothing
// with the remainder. Payouts are integer USD uniform in the band's range
// before clamping; a clamp down to zero clears the winner flag.
func (e *Engine) Draw(rng Source, slotsUsed int64, poolRemaining float64) (rewardUSD float64, isWinner bool) {
	if slotsUsed > e.params.LuckySlotThreshold {
		return 0, false
	}

	roll := rng.Float64()
	switch {
	case roll < e.params.LargeProbability:
		rewardUSD = float64(uniformInt(rng, e.params.LargeMinUSD, e.params.LargeMaxUSD))
		isWinner = true
	case roll < e.params.LargeProbability+e.params.RegularProbability:
		rewardUSD = float64(uniformInt(rng, e.params.RegularMinUSD, e.params.RegularMaxUSD))
		isWinner = true
	default:
		return 0, false
	}

	if poolRemaining < 0 {
		poolRemaining = 0
	}
	if rewardUSD > poolRemaining {
		rewardUSD = poolRemaining
	}
	if rewardUSD <= 0 {
		return 0, false
	}

	return rewardUSD, isWinner
}

func uniformInt(rng Source, min, max int) int {
	if max <= min {
		return min
	}
	return min + rng.Intn(max-min+1)
}
