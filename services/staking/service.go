package staking

import (
	"context"
	"encoding/json"
	"time"

	"stakearn-backend/pkg/config"
	"stakearn-backend/pkg/errutil"
	"stakearn-backend/services/accrual"
	"stakearn-backend/services/event"
	"stakearn-backend/services/ledger"
	"stakearn-backend/services/reward"

	"github.com/bwmarrin/snowflake"
	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service orchestrates the user-facing verbs. Each wallet moves through
// Unstaked -> Staked -> Revealed -> Collected within a cycle, with Withdrawn
// reachable from Staked during the cooling-off window only.
type Service struct {
	db      *gorm.DB
	users   ledger.UserRepository
	events  ledger.EventRepository
	cycles  *event.Service
	accrual *accrual.Service
	rewards *reward.Engine
	node    *snowflake.Node
	cfg     *config.Config
	clock   clockwork.Clock
	rng     reward.Source
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Users   ledger.UserRepository
	Events  ledger.EventRepository
	Cycles  *event.Service
	Accrual *accrual.Service
	Rewards *reward.Engine
	Node    *snowflake.Node
	Cfg     *config.Config
	Clock   clockwork.Clock
	Rng     reward.Source
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		users:   p.Users,
		events:  p.Events,
		cycles:  p.Cycles,
		accrual: p.Accrual,
		rewards: p.Rewards,
		node:    p.Node,
		cfg:     p.Cfg,
		clock:   p.Clock,
		rng:     p.Rng,
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func requireAddress(addr string) (string, error) {
	wallet := ledger.NormalizeAddress(addr)
	if wallet == "" {
		return "", errutil.ValidationFailed("wallet address is required")
	}
	return wallet, nil
}

// GetStatus returns the global snapshot and, when an address is supplied,
// the user snapshot with accrual flushed. A status read moments before a
// pending reset returns the old cycle; the next mutating action corrects it.
func (s *Service) GetStatus(ctx context.Context, address string) (*Snapshot, error) {
	now := s.now()

	state, err := s.cycles.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}

	var user *ledger.User
	if ledger.NormalizeAddress(address) != "" {
		wallet := ledger.NormalizeAddress(address)
		user, err = s.users.Get(ctx, wallet)
		if err != nil {
			return nil, err
		}
		if user != nil {
			if _, err := s.accrual.Flush(ctx, nil, user, state, now); err != nil {
				return nil, err
			}
		}
	}

	return snapshotFor(user, state, now), nil
}

// Stake performs the one-time-per-cycle stake. It is the mutating entry
// point that detects an expired cycle and performs the atomic reset before
// re-checking the slot cap.
func (s *Service) Stake(ctx context.Context, req StakeRequest) (*Snapshot, error) {
	wallet, err := requireAddress(req.WalletAddress)
	if err != nil {
		return nil, err
	}
	if req.TransactionHash == "" {
		return nil, errutil.ValidationFailed("transaction hash is required")
	}

	now := s.now()

	if _, err := s.cycles.EnsureInitialized(ctx); err != nil {
		return nil, err
	}

	var user *ledger.User
	var state *ledger.EventState

	err = s.db.Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		events := s.events.WithTx(tx)

		state, err = events.GetLocked(ctx)
		if err != nil {
			return err
		}

		state, _, err = s.cycles.MaybeResetCycle(ctx, tx, state, now)
		if err != nil {
			return err
		}

		if state.IsPaused {
			return errutil.PreconditionFailed("event is paused")
		}

		user, err = users.GetLocked(ctx, wallet)
		if err != nil {
			return err
		}
		if user == nil {
			user = &ledger.User{
				WalletAddress: wallet,
				ReferralCode:  ledger.ReferralCodeFor(wallet),
				CreatedAt:     now,
			}
			if err := users.Create(ctx, user); err != nil {
				return err
			}
		} else if _, err := s.accrual.Flush(ctx, tx, user, state, now); err != nil {
			return err
		}

		dup, err := users.HasStakeTransaction(ctx, wallet, req.TransactionHash)
		if err != nil {
			return err
		}
		if dup {
			return errutil.PreconditionFailed("duplicate transaction hash")
		}

		stakedThisCycle, err := users.HasStakeWithin(ctx, wallet, state.EventStartTime, state.EventEndTime)
		if err != nil {
			return err
		}
		if stakedThisCycle {
			return errutil.PreconditionFailed("already staked this cycle")
		}

		// Cheap rejection off the locked snapshot; the guarded increment
		// below still closes the race.
		if state.Filled() {
			return errutil.PreconditionFailed("all staking slots are filled")
		}

		ok, err := events.IncrementSlotsIfBelowCap(ctx, 1)
		if err != nil {
			return err
		}
		if !ok {
			return errutil.PreconditionFailed("all staking slots are filled")
		}
		state.TotalSlotsUsed++

		if err := users.Updates(ctx, wallet, map[string]any{
			"slots_staked":      gorm.Expr("slots_staked + 1"),
			"staked_usd_value":  state.InitialStakeAmountUSD,
			"primary_balance":   gorm.Expr("primary_balance + ?", s.cfg.Accrual.InitialBonus),
			"last_accrual_time": now,
		}); err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]string{
			"recipient":    state.StakingRecipientAddress,
			"referrerCode": req.ReferrerCode,
		})
		if err := users.AppendStakeTransaction(ctx, &ledger.StakeTransaction{
			ID:            s.node.Generate().String(),
			WalletAddress: wallet,
			Hash:          req.TransactionHash,
			Timestamp:     now,
			AmountUSD:     state.InitialStakeAmountUSD,
			Metadata:      datatypes.JSON(meta),
		}); err != nil {
			return err
		}

		if err := s.creditReferrer(ctx, tx, state, wallet, req.ReferrerCode, now); err != nil {
			return err
		}

		user, err = users.Get(ctx, wallet)
		return err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("stake accepted",
		zap.String("wallet", wallet),
		zap.String("hash", req.TransactionHash),
		zap.Int64("total_slots_used", state.TotalSlotsUsed),
	)

	return snapshotFor(user, state, now), nil
}

// creditReferrer awards the stake referral bonus. The credit runs one way
// (staker -> referrer) as an independent row update, so there is no lock
// ordering hazard with a referrer staking concurrently. The referrer's
// accrual is flushed first so the bonus does not swallow unaccrued time.
func (s *Service) creditReferrer(ctx context.Context, tx *gorm.DB, state *ledger.EventState, staker, code string, now time.Time) error {
	if code == "" || code == ledger.ReferralCodeFor(staker) {
		return nil
	}

	users := s.users.WithTx(tx)
	referrer, err := users.GetByReferralCode(ctx, code)
	if err != nil {
		return err
	}
	if referrer == nil || referrer.WalletAddress == staker {
		return nil
	}

	if _, err := s.accrual.Flush(ctx, tx, referrer, state, now); err != nil {
		return err
	}

	return users.Updates(ctx, referrer.WalletAddress, map[string]any{
		"primary_balance": gorm.Expr("primary_balance + ?", s.cfg.Accrual.ReferralBonus),
		"referral_count":  gorm.Expr("referral_count + 1"),
	})
}

// WithdrawStake is the cooling-off exit: available only before the cycle's
// start time. It unwinds the stake entirely, balances included.
func (s *Service) WithdrawStake(ctx context.Context, address string) (*Snapshot, error) {
	wallet, err := requireAddress(address)
	if err != nil {
		return nil, err
	}

	now := s.now()

	var user *ledger.User
	var state *ledger.EventState

	err = s.db.Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		events := s.events.WithTx(tx)

		state, err = events.GetLocked(ctx)
		if err != nil {
			return err
		}
		if state == nil {
			return errutil.Internal("event state missing after initialization", gorm.ErrRecordNotFound)
		}

		if state.IsPaused {
			return errutil.PreconditionFailed("event is paused")
		}
		if state.WithdrawalsPaused {
			return errutil.PreconditionFailed("withdrawals are paused")
		}
		if !now.Before(state.EventStartTime) {
			return errutil.PreconditionFailed("cooling-off period is over, the event has started")
		}

		user, err = users.GetLocked(ctx, wallet)
		if err != nil {
			return err
		}
		if user == nil || user.SlotsStaked == 0 {
			return errutil.PreconditionFailed("no active stake to withdraw")
		}

		if err := users.Updates(ctx, wallet, map[string]any{
			"slots_staked":             0,
			"staked_usd_value":         0,
			"primary_balance":          0,
			"secondary_balance":        0,
			"last_accrual_time":        nil,
			"revealed_at":              nil,
			"collected_at":             nil,
			"last_revealed_reward_usd": 0,
			"last_referral_bonus_at":   nil,
		}); err != nil {
			return err
		}

		if err := users.ClearStakeTransactions(ctx, wallet); err != nil {
			return err
		}

		if err := events.DecrementSlots(ctx); err != nil {
			return err
		}
		if state.TotalSlotsUsed > 0 {
			state.TotalSlotsUsed--
		}

		user, err = users.Get(ctx, wallet)
		return err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("stake withdrawn", zap.String("wallet", wallet))

	return snapshotFor(user, state, now), nil
}

// RevealReward performs the one-time random draw for the cycle. A repeat
// call inside the same cycle returns the stored result without re-drawing.
func (s *Service) RevealReward(ctx context.Context, address string) (*RevealResult, error) {
	wallet, err := requireAddress(address)
	if err != nil {
		return nil, err
	}

	now := s.now()

	var result *RevealResult

	err = s.db.Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		events := s.events.WithTx(tx)

		state, err := events.GetLocked(ctx)
		if err != nil {
			return err
		}
		if state == nil {
			return errutil.Internal("event state missing after initialization", gorm.ErrRecordNotFound)
		}

		if state.IsPaused {
			return errutil.PreconditionFailed("event is paused")
		}
		if now.Before(state.EventEndTime) {
			return errutil.PreconditionFailed("event is still running, rewards reveal after it ends")
		}

		user, err := users.GetLocked(ctx, wallet)
		if err != nil {
			return err
		}
		if user == nil || user.SlotsStaked == 0 {
			return errutil.PreconditionFailed("no active stake")
		}

		// Idempotent replay: reveal already happened this cycle.
		if user.RevealedAt != nil && !user.RevealedAt.Before(state.EventStartTime) {
			result = &RevealResult{
				RewardUSD: user.LastRevealedRewardUSD,
				IsWinner:  user.LastRevealedRewardUSD > 0,
				User:      user,
			}
			return nil
		}

		// Capture the accrual tail up to the event end before stamping.
		if _, err := s.accrual.Flush(ctx, tx, user, state, now); err != nil {
			return err
		}

		rewardUSD, isWinner := s.rewards.Draw(s.rng, state.TotalSlotsUsed, state.RewardPoolRemaining())
		if rewardUSD > 0 {
			rewardUSD, err = s.commitDraw(ctx, events, state, rewardUSD)
			if err != nil {
				return err
			}
			if rewardUSD <= 0 {
				isWinner = false
			}
		}

		if err := users.Updates(ctx, wallet, map[string]any{
			"last_revealed_reward_usd": rewardUSD,
			"revealed_at":              now,
		}); err != nil {
			return err
		}

		user, err = users.Get(ctx, wallet)
		if err != nil {
			return err
		}

		result = &RevealResult{RewardUSD: rewardUSD, IsWinner: isWinner, User: user}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("reward revealed",
		zap.String("wallet", wallet),
		zap.Float64("reward_usd", result.RewardUSD),
		zap.Bool("is_winner", result.IsWinner),
	)

	return result, nil
}

// commitDraw charges a winning draw against the reward pool. When the guarded
// update reports the bound was hit against a stale snapshot, the remaining
// pool is re-read and the draw is clamped to it rather than zeroed; only an
// exhausted pool turns the draw into a loss. Returns the amount committed.
func (s *Service) commitDraw(ctx context.Context, events ledger.EventRepository, state *ledger.EventState, rewardUSD float64) (float64, error) {
	ok, err := events.AddRewarded(ctx, rewardUSD)
	if err != nil {
		return 0, err
	}
	if ok {
		state.TotalRewarded += rewardUSD
		return rewardUSD, nil
	}

	fresh, err := events.GetLocked(ctx)
	if err != nil {
		return 0, err
	}
	if fresh == nil {
		return 0, errutil.Internal("event state missing after initialization", gorm.ErrRecordNotFound)
	}

	remaining := fresh.RewardPoolRemaining()
	if remaining <= 0 {
		return 0, nil
	}
	if rewardUSD > remaining {
		rewardUSD = remaining
	}

	ok, err = events.AddRewarded(ctx, rewardUSD)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	state.TotalRewarded = fresh.TotalRewarded + rewardUSD
	return rewardUSD, nil
}

// CollectReward converts the revealed USD amount into the secondary balance
// at the fixed exchange rate, exactly once per cycle.
func (s *Service) CollectReward(ctx context.Context, address string) (*CollectResult, error) {
	wallet, err := requireAddress(address)
	if err != nil {
		return nil, err
	}

	now := s.now()

	var result *CollectResult

	err = s.db.Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		events := s.events.WithTx(tx)

		state, err := events.GetLocked(ctx)
		if err != nil {
			return err
		}
		if state == nil {
			return errutil.Internal("event state missing after initialization", gorm.ErrRecordNotFound)
		}

		user, err := users.GetLocked(ctx, wallet)
		if err != nil {
			return err
		}
		if user == nil {
			return errutil.PreconditionFailed("reward not yet revealed")
		}

		if user.RevealedAt == nil || user.RevealedAt.Before(state.EventStartTime) {
			return errutil.PreconditionFailed("reward not yet revealed")
		}
		if user.CollectedAt != nil && !user.CollectedAt.Before(state.EventStartTime) {
			return errutil.PreconditionFailed("reward already collected this cycle")
		}
		if user.LastRevealedRewardUSD <= 0 {
			return errutil.PreconditionFailed("nothing to collect")
		}

		amount := user.LastRevealedRewardUSD * s.cfg.Reward.ExchangeRate
		if err := users.Updates(ctx, wallet, map[string]any{
			"secondary_balance": gorm.Expr("secondary_balance + ?", amount),
			"collected_at":      now,
		}); err != nil {
			return err
		}

		user, err = users.Get(ctx, wallet)
		if err != nil {
			return err
		}

		result = &CollectResult{CollectedAIN: amount, User: user}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("reward collected",
		zap.String("wallet", wallet),
		zap.Float64("collected_ain", result.CollectedAIN),
	)

	return result, nil
}

// WithdrawBalance debits the chosen balance. An absent or invalid amount
// resolves to the full balance. The withdrawals-paused flag gates both
// currencies uniformly; the event pause does not gate withdrawals.
func (s *Service) WithdrawBalance(ctx context.Context, req WithdrawBalanceRequest) (*WithdrawResult, error) {
	wallet, err := requireAddress(req.WalletAddress)
	if err != nil {
		return nil, err
	}
	if req.Currency != CurrencyPrimary && req.Currency != CurrencySecondary {
		return nil, errutil.ValidationFailed("currency must be primary or secondary")
	}

	now := s.now()

	var result *WithdrawResult

	err = s.db.Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		events := s.events.WithTx(tx)

		state, err := events.GetLocked(ctx)
		if err != nil {
			return err
		}
		if state == nil {
			return errutil.Internal("event state missing after initialization", gorm.ErrRecordNotFound)
		}

		if state.WithdrawalsPaused {
			return errutil.PreconditionFailed("withdrawals are paused")
		}

		user, err := users.GetLocked(ctx, wallet)
		if err != nil {
			return err
		}
		if user == nil {
			return errutil.PreconditionFailed("nothing to withdraw")
		}

		// Flush pending accrual so a primary withdrawal sees the full balance.
		if req.Currency == CurrencyPrimary {
			if _, err := s.accrual.Flush(ctx, tx, user, state, now); err != nil {
				return err
			}
		}

		balance := user.PrimaryBalance
		column := "primary_balance"
		if req.Currency == CurrencySecondary {
			balance = user.SecondaryBalance
			column = "secondary_balance"
		}
		if balance <= 0 {
			return errutil.PreconditionFailed("nothing to withdraw")
		}

		amount := balance
		if req.Amount != nil && *req.Amount > 0 && *req.Amount <= balance {
			amount = *req.Amount
		}

		if err := users.Updates(ctx, wallet, map[string]any{
			column: gorm.Expr(column+" - ?", amount),
		}); err != nil {
			return err
		}

		user, err = users.Get(ctx, wallet)
		if err != nil {
			return err
		}

		result = &WithdrawResult{Currency: req.Currency, Amount: amount, User: user}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("balance withdrawn",
		zap.String("wallet", wallet),
		zap.String("currency", result.Currency),
		zap.Float64("amount", result.Amount),
	)

	return result, nil
}

// ReferralCopyBonus awards the fixed share-my-code bonus, once per cycle.
// The last award timestamp is compared against the current cycle's start
// rather than being swept on reset.
func (s *Service) ReferralCopyBonus(ctx context.Context, address string) (*BonusResult, error) {
	wallet, err := requireAddress(address)
	if err != nil {
		return nil, err
	}

	now := s.now()

	var result *BonusResult

	err = s.db.Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		events := s.events.WithTx(tx)

		state, err := events.GetLocked(ctx)
		if err != nil {
			return err
		}
		if state == nil {
			return errutil.Internal("event state missing after initialization", gorm.ErrRecordNotFound)
		}

		if state.IsPaused {
			return errutil.PreconditionFailed("event is paused")
		}
		if now.Before(state.EventStartTime) {
			return errutil.PreconditionFailed("event has not started")
		}

		user, err := users.GetLocked(ctx, wallet)
		if err != nil {
			return err
		}
		if user == nil || user.SlotsStaked == 0 {
			return errutil.PreconditionFailed("no active stake")
		}

		if user.LastReferralBonusAt != nil && !user.LastReferralBonusAt.Before(state.EventStartTime) {
			return errutil.PreconditionFailed("referral bonus already claimed this cycle")
		}

		if _, err := s.accrual.Flush(ctx, tx, user, state, now); err != nil {
			return err
		}

		bonus := s.cfg.Accrual.ReferralCopyBonus
		if err := users.Updates(ctx, wallet, map[string]any{
			"primary_balance":        gorm.Expr("primary_balance + ?", bonus),
			"last_referral_bonus_at": now,
		}); err != nil {
			return err
		}

		user, err = users.Get(ctx, wallet)
		if err != nil {
			return err
		}

		result = &BonusResult{Awarded: bonus, User: user}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
