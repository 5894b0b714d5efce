package staking

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"stakearn-backend/pkg/config"
	"stakearn-backend/pkg/errutil"
	"stakearn-backend/services/accrual"
	"stakearn-backend/services/event"
	"stakearn-backend/services/ledger"
	"stakearn-backend/services/reward"
	"stakearn-backend/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var fixedNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

// scriptedRng replays fixed rolls; running out of rolls panics, which doubles
// as an assertion that replays never consume randomness.
type scriptedRng struct {
	floats []float64
	ints   []int
}

func (s *scriptedRng) Float64() float64 {
	if len(s.floats) == 0 {
		panic("scriptedRng: out of float rolls")
	}
	v := s.floats[0]
	s.floats = s.floats[1:]
	return v
}

func (s *scriptedRng) Intn(n int) int {
	if len(s.ints) == 0 {
		panic("scriptedRng: out of int rolls")
	}
	v := s.ints[0]
	s.ints = s.ints[1:]
	if v >= n {
		v = n - 1
	}
	return v
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Event.DurationHours = 24
	cfg.Event.MaxStakeSlots = 5000
	cfg.Event.MaxRewardPoolUSD = 10000
	cfg.Event.StakeAmountUSD = 100
	cfg.Event.RecipientAddress = "0xrecipient"
	cfg.Accrual.RatePerSecond = 0.000115
	cfg.Accrual.InitialBonus = 50
	cfg.Accrual.ReferralBonus = 25
	cfg.Accrual.ReferralCopyBonus = 10
	cfg.Reward.LuckySlotThreshold = 500
	cfg.Reward.LargeProbability = 0.1
	cfg.Reward.RegularProbability = 0.5
	cfg.Reward.LargeMinUSD = 50
	cfg.Reward.LargeMaxUSD = 100
	cfg.Reward.RegularMinUSD = 5
	cfg.Reward.RegularMaxUSD = 25
	cfg.Reward.ExchangeRate = 10
	return cfg
}

type fixture struct {
	svc    *Service
	db     *gorm.DB
	users  ledger.UserRepository
	events ledger.EventRepository
	cfg    *config.Config
	rng    *scriptedRng
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &ledger.User{}, &ledger.StakeTransaction{}, &ledger.EventState{})
	users := ledger.NewUserRepository(db)
	events := ledger.NewEventRepository(db)
	cfg := testConfig()

	cycles := event.NewService(event.ServiceParams{DB: db, Events: events, Users: users, Cfg: cfg})
	accruals := accrual.NewService(accrual.ServiceParams{Users: users, Cfg: cfg})
	engine := reward.NewEngine(reward.EngineParams{Cfg: cfg})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	rng := &scriptedRng{}
	svc := NewService(ServiceParams{
		DB:      db,
		Users:   users,
		Events:  events,
		Cycles:  cycles,
		Accrual: accruals,
		Rewards: engine,
		Node:    node,
		Cfg:     cfg,
		Clock:   clockwork.NewFakeClockAt(fixedNow),
		Rng:     rng,
	})

	return &fixture{svc: svc, db: db, users: users, events: events, cfg: cfg, rng: rng}
}

// seedEvent plants the singleton record with an explicit window so tests
// control cycle timing instead of the wall clock.
func (f *fixture) seedEvent(t *testing.T, start, end time.Time) *ledger.EventState {
	t.Helper()
	state := &ledger.EventState{
		EventStartTime:          start,
		EventEndTime:            end,
		MaxStakeSlots:           f.cfg.Event.MaxStakeSlots,
		InitialStakeAmountUSD:   f.cfg.Event.StakeAmountUSD,
		EventDurationHours:      f.cfg.Event.DurationHours,
		MaxRewardPool:           f.cfg.Event.MaxRewardPoolUSD,
		StakingRecipientAddress: f.cfg.Event.RecipientAddress,
	}
	require.NoError(t, f.events.Create(context.Background(), state))
	return state
}

func TestStakeHappyPath(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))
	ctx := context.Background()

	snap, err := f.svc.Stake(ctx, StakeRequest{
		WalletAddress:   "0xAlice",
		TransactionHash: "0xhash1",
	})
	require.NoError(t, err)

	require.Equal(t, int64(1), snap.User.SlotsStaked)
	require.Equal(t, float64(100), snap.User.StakedUSDValue)
	require.Equal(t, float64(50), snap.User.PrimaryBalance)
	require.Equal(t, ledger.ReferralCodeFor("0xalice"), snap.User.ReferralCode)
	require.NotNil(t, snap.User.LastAccrualTime)
	require.Equal(t, int64(1), snap.Event.TotalSlotsUsed)
	require.Greater(t, snap.SecondsRemaining, int64(0))

	has, err := f.users.HasStakeTransaction(ctx, "0xalice", "0xhash1")
	require.NoError(t, err)
	require.True(t, has)
}

func TestStakeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Stake(ctx, StakeRequest{TransactionHash: "0xhash"})
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xalice"})
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))
}

func TestStakeOncePerCycle(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))
	ctx := context.Background()

	_, err := f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xalice", TransactionHash: "0xhash1"})
	require.NoError(t, err)

	// Same hash replays are rejected before the cycle check.
	_, err = f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xalice", TransactionHash: "0xhash1"})
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] duplicate transaction hash")

	_, err = f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xalice", TransactionHash: "0xhash2"})
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] already staked this cycle")
}

func TestStakeSlotCap(t *testing.T) {
	f := newFixture(t)
	f.cfg.Event.MaxStakeSlots = 1
	f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))
	ctx := context.Background()

	_, err := f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xalice", TransactionHash: "0xhash1"})
	require.NoError(t, err)

	_, err = f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xbob", TransactionHash: "0xhash2"})
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] all staking slots are filled")

	// The rejected stake rolled back entirely, user record included.
	bob, err := f.users.Get(ctx, "0xbob")
	require.NoError(t, err)
	require.Nil(t, bob)
}

func TestTwoSlotCycleFillsExpiresAndResets(t *testing.T) {
	f := newFixture(t)
	f.cfg.Event.MaxStakeSlots = 2
	f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))
	ctx := context.Background()

	_, err := f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xalice", TransactionHash: "0xhash1"})
	require.NoError(t, err)
	snap, err := f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xbob", TransactionHash: "0xhash2"})
	require.NoError(t, err)
	require.Equal(t, int64(2), snap.Event.TotalSlotsUsed)

	// A full cycle rejects further stakes but keeps running until its end.
	_, err = f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xcarol", TransactionHash: "0xhash3"})
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] all staking slots are filled")

	// The cycle end passes; the next stake resets and lands in the new cycle.
	require.NoError(t, f.events.Updates(ctx, map[string]any{
		"event_end_time": fixedNow.Add(-time.Minute),
	}))

	snap, err = f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xcarol", TransactionHash: "0xhash3"})
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.Event.TotalSlotsUsed)
	require.True(t, snap.Event.EventStartTime.Equal(fixedNow))
	require.True(t, snap.Event.EventEndTime.Equal(fixedNow.Add(24*time.Hour)))
}

func TestStakePausedRejected(t *testing.T) {
	f := newFixture(t)
	state := f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))
	ctx := context.Background()

	pauseStart := fixedNow.Add(-time.Minute)
	require.NoError(t, f.events.Updates(ctx, map[string]any{
		"is_paused":        true,
		"pause_start_time": pauseStart,
	}))
	state.IsPaused = true

	_, err := f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xalice", TransactionHash: "0xhash1"})
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] event is paused")
}

func TestStakeAfterExpiryResetsCycle(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-48*time.Hour), fixedNow.Add(-24*time.Hour))
	ctx := context.Background()

	snap, err := f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xalice", TransactionHash: "0xhash1"})
	require.NoError(t, err)

	require.True(t, snap.Event.EventStartTime.Equal(fixedNow))
	require.True(t, snap.Event.EventEndTime.Equal(fixedNow.Add(24*time.Hour)))
	require.Equal(t, int64(1), snap.Event.TotalSlotsUsed)
}

func TestStakeCreditsReferrer(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))
	ctx := context.Background()

	snap, err := f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xalice", TransactionHash: "0xhash1"})
	require.NoError(t, err)
	code := snap.User.ReferralCode

	_, err = f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xbob", TransactionHash: "0xhash2", ReferrerCode: code})
	require.NoError(t, err)

	alice, err := f.users.Get(ctx, "0xalice")
	require.NoError(t, err)
	require.Equal(t, float64(75), alice.PrimaryBalance)
	require.Equal(t, int64(1), alice.ReferralCount)
}

func TestStakeSelfReferralIgnored(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))
	ctx := context.Background()

	snap, err := f.svc.Stake(ctx, StakeRequest{
		WalletAddress:   "0xalice",
		TransactionHash: "0xhash1",
		ReferrerCode:    ledger.ReferralCodeFor("0xalice"),
	})
	require.NoError(t, err)
	require.Equal(t, float64(50), snap.User.PrimaryBalance)
	require.Zero(t, snap.User.ReferralCount)
}

func TestStakeUnknownReferrerIgnored(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))
	ctx := context.Background()

	snap, err := f.svc.Stake(ctx, StakeRequest{
		WalletAddress:   "0xalice",
		TransactionHash: "0xhash1",
		ReferrerCode:    "NOSUCH00",
	})
	require.NoError(t, err)
	require.Equal(t, float64(50), snap.User.PrimaryBalance)
}

func TestWithdrawStakeDuringCoolingOff(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(time.Hour), fixedNow.Add(25*time.Hour))
	ctx := context.Background()

	_, err := f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xalice", TransactionHash: "0xhash1"})
	require.NoError(t, err)

	snap, err := f.svc.WithdrawStake(ctx, "0xalice")
	require.NoError(t, err)
	require.Zero(t, snap.User.SlotsStaked)
	require.Zero(t, snap.User.PrimaryBalance)
	require.Zero(t, snap.User.SecondaryBalance)
	require.Nil(t, snap.User.LastAccrualTime)
	require.Zero(t, snap.Event.TotalSlotsUsed)

	has, err := f.users.HasStakeTransaction(ctx, "0xalice", "0xhash1")
	require.NoError(t, err)
	require.False(t, has)

	_, err = f.svc.WithdrawStake(ctx, "0xalice")
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] no active stake to withdraw")
}

func TestWithdrawStakeAfterStartRejected(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))
	ctx := context.Background()

	_, err := f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xalice", TransactionHash: "0xhash1"})
	require.NoError(t, err)

	_, err = f.svc.WithdrawStake(ctx, "0xalice")
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] cooling-off period is over, the event has started")
}

func TestRevealBeforeEndRejected(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))
	ctx := context.Background()

	_, err := f.svc.Stake(ctx, StakeRequest{WalletAddress: "0xalice", TransactionHash: "0xhash1"})
	require.NoError(t, err)

	_, err = f.svc.RevealReward(ctx, "0xalice")
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] event is still running, rewards reveal after it ends")
}

func seedStakedUser(t *testing.T, f *fixture, wallet string, last time.Time) {
	t.Helper()
	require.NoError(t, f.users.Create(context.Background(), &ledger.User{
		WalletAddress:   wallet,
		ReferralCode:    ledger.ReferralCodeFor(wallet),
		SlotsStaked:     1,
		StakedUSDValue:  100,
		LastAccrualTime: &last,
		CreatedAt:       last,
	}))
}

func TestRevealWinsAndReplaysIdempotently(t *testing.T) {
	f := newFixture(t)
	start := fixedNow.Add(-25 * time.Hour)
	end := fixedNow.Add(-time.Hour)
	f.seedEvent(t, start, end)
	seedStakedUser(t, f, "0xalice", end.Add(-time.Hour))
	ctx := context.Background()

	// One roll into the large band, minimum payout.
	f.rng.floats = []float64{0.05}
	f.rng.ints = []int{0}

	res, err := f.svc.RevealReward(ctx, "0xalice")
	require.NoError(t, err)
	require.True(t, res.IsWinner)
	require.Equal(t, float64(50), res.RewardUSD)
	require.NotNil(t, res.User.RevealedAt)

	// The accrual tail up to the event end was flushed before stamping.
	require.InDelta(t, 3600*f.cfg.Accrual.RatePerSecond, res.User.PrimaryBalance, 1e-9)

	state, err := f.events.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, float64(50), state.TotalRewarded)

	// Replay returns the stored result; scriptedRng would panic on a redraw.
	res, err = f.svc.RevealReward(ctx, "0xalice")
	require.NoError(t, err)
	require.True(t, res.IsWinner)
	require.Equal(t, float64(50), res.RewardUSD)

	state, err = f.events.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, float64(50), state.TotalRewarded)
}

func TestRevealClampedToPoolRemaining(t *testing.T) {
	f := newFixture(t)
	start := fixedNow.Add(-25 * time.Hour)
	end := fixedNow.Add(-time.Hour)
	state := f.seedEvent(t, start, end)
	seedStakedUser(t, f, "0xalice", end)
	ctx := context.Background()

	require.NoError(t, f.events.Updates(ctx, map[string]any{
		"total_rewarded": state.MaxRewardPool - 10,
	}))

	f.rng.floats = []float64{0.05}
	f.rng.ints = []int{0}

	res, err := f.svc.RevealReward(ctx, "0xalice")
	require.NoError(t, err)
	require.True(t, res.IsWinner)
	require.Equal(t, float64(10), res.RewardUSD)

	got, err := f.events.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, state.MaxRewardPool, got.TotalRewarded)
}

func TestRevealExhaustedPoolLoses(t *testing.T) {
	f := newFixture(t)
	start := fixedNow.Add(-25 * time.Hour)
	end := fixedNow.Add(-time.Hour)
	state := f.seedEvent(t, start, end)
	seedStakedUser(t, f, "0xalice", end)
	ctx := context.Background()

	require.NoError(t, f.events.Updates(ctx, map[string]any{
		"total_rewarded": state.MaxRewardPool,
	}))

	f.rng.floats = []float64{0.05}
	f.rng.ints = []int{0}

	res, err := f.svc.RevealReward(ctx, "0xalice")
	require.NoError(t, err)
	require.False(t, res.IsWinner)
	require.Zero(t, res.RewardUSD)
}

func TestCommitDrawReclampsOnStaleSnapshot(t *testing.T) {
	f := newFixture(t)
	state := f.seedEvent(t, fixedNow.Add(-25*time.Hour), fixedNow.Add(-time.Hour))
	ctx := context.Background()

	require.NoError(t, f.events.Updates(ctx, map[string]any{
		"total_rewarded": state.MaxRewardPool - 5,
	}))

	// Snapshot predates the payout above, so the guarded update bounces and
	// the draw is clamped to what is actually left, not zeroed.
	committed, err := f.svc.commitDraw(ctx, f.events, state, 50)
	require.NoError(t, err)
	require.Equal(t, float64(5), committed)

	got, err := f.events.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, state.MaxRewardPool, got.TotalRewarded)
	require.Equal(t, state.MaxRewardPool, state.TotalRewarded)

	// A drained pool turns the draw into a loss.
	committed, err = f.svc.commitDraw(ctx, f.events, state, 50)
	require.NoError(t, err)
	require.Zero(t, committed)
}

func TestRevealRequiresStake(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-25*time.Hour), fixedNow.Add(-time.Hour))
	ctx := context.Background()

	_, err := f.svc.RevealReward(ctx, "0xalice")
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] no active stake")
}

func TestCollectConvertsAtExchangeRate(t *testing.T) {
	f := newFixture(t)
	start := fixedNow.Add(-25 * time.Hour)
	end := fixedNow.Add(-time.Hour)
	f.seedEvent(t, start, end)
	seedStakedUser(t, f, "0xalice", end)
	ctx := context.Background()

	f.rng.floats = []float64{0.05}
	f.rng.ints = []int{0}
	_, err := f.svc.RevealReward(ctx, "0xalice")
	require.NoError(t, err)

	res, err := f.svc.CollectReward(ctx, "0xalice")
	require.NoError(t, err)
	require.Equal(t, float64(500), res.CollectedAIN)
	require.Equal(t, float64(500), res.User.SecondaryBalance)
	require.NotNil(t, res.User.CollectedAt)

	_, err = f.svc.CollectReward(ctx, "0xalice")
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] reward already collected this cycle")
}

func TestCollectWithoutRevealRejected(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-25*time.Hour), fixedNow.Add(-time.Hour))
	seedStakedUser(t, f, "0xalice", fixedNow.Add(-time.Hour))
	ctx := context.Background()

	_, err := f.svc.CollectReward(ctx, "0xalice")
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] reward not yet revealed")
}

func TestCollectLosingRevealRejected(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-25*time.Hour), fixedNow.Add(-time.Hour))
	seedStakedUser(t, f, "0xalice", fixedNow.Add(-time.Hour))
	ctx := context.Background()

	f.rng.floats = []float64{0.9}
	_, err := f.svc.RevealReward(ctx, "0xalice")
	require.NoError(t, err)

	_, err = f.svc.CollectReward(ctx, "0xalice")
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] nothing to collect")
}

func TestWithdrawBalanceFullAndPartial(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))
	ctx := context.Background()

	require.NoError(t, f.users.Create(ctx, &ledger.User{
		WalletAddress:  "0xalice",
		ReferralCode:   ledger.ReferralCodeFor("0xalice"),
		PrimaryBalance: 100,
	}))

	partial := 40.0
	res, err := f.svc.WithdrawBalance(ctx, WithdrawBalanceRequest{
		WalletAddress: "0xalice",
		Currency:      CurrencyPrimary,
		Amount:        &partial,
	})
	require.NoError(t, err)
	require.Equal(t, float64(40), res.Amount)
	require.Equal(t, float64(60), res.User.PrimaryBalance)

	// No amount means the full remaining balance.
	res, err = f.svc.WithdrawBalance(ctx, WithdrawBalanceRequest{
		WalletAddress: "0xalice",
		Currency:      CurrencyPrimary,
	})
	require.NoError(t, err)
	require.Equal(t, float64(60), res.Amount)
	require.Zero(t, res.User.PrimaryBalance)

	_, err = f.svc.WithdrawBalance(ctx, WithdrawBalanceRequest{
		WalletAddress: "0xalice",
		Currency:      CurrencyPrimary,
	})
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] nothing to withdraw")
}

func TestWithdrawBalanceOverdrawFallsBackToFull(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))
	ctx := context.Background()

	require.NoError(t, f.users.Create(ctx, &ledger.User{
		WalletAddress:    "0xalice",
		ReferralCode:     ledger.ReferralCodeFor("0xalice"),
		SecondaryBalance: 30,
	}))

	over := 1000.0
	res, err := f.svc.WithdrawBalance(ctx, WithdrawBalanceRequest{
		WalletAddress: "0xalice",
		Currency:      CurrencySecondary,
		Amount:        &over,
	})
	require.NoError(t, err)
	require.Equal(t, float64(30), res.Amount)
	require.Zero(t, res.User.SecondaryBalance)
}

func TestWithdrawBalanceGates(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))
	ctx := context.Background()

	_, err := f.svc.WithdrawBalance(ctx, WithdrawBalanceRequest{
		WalletAddress: "0xalice",
		Currency:      "gold",
	})
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	require.NoError(t, f.events.Updates(ctx, map[string]any{"withdrawals_paused": true}))
	_, err = f.svc.WithdrawBalance(ctx, WithdrawBalanceRequest{
		WalletAddress: "0xalice",
		Currency:      CurrencyPrimary,
	})
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] withdrawals are paused")
}

func TestReferralCopyBonusOncePerCycle(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))
	seedStakedUser(t, f, "0xalice", fixedNow)
	ctx := context.Background()

	res, err := f.svc.ReferralCopyBonus(ctx, "0xalice")
	require.NoError(t, err)
	require.Equal(t, float64(10), res.Awarded)
	require.NotNil(t, res.User.LastReferralBonusAt)

	_, err = f.svc.ReferralCopyBonus(ctx, "0xalice")
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] referral bonus already claimed this cycle")
}

func TestReferralCopyBonusRequiresStartedEvent(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(time.Hour), fixedNow.Add(25*time.Hour))
	seedStakedUser(t, f, "0xalice", fixedNow)
	ctx := context.Background()

	_, err := f.svc.ReferralCopyBonus(ctx, "0xalice")
	require.EqualError(t, err, "[UNPROCESSABLE_ENTITY] event has not started")
}

func TestGetStatusFlushesAccrual(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-2*time.Hour), fixedNow.Add(22*time.Hour))
	seedStakedUser(t, f, "0xalice", fixedNow.Add(-time.Hour))
	ctx := context.Background()

	snap, err := f.svc.GetStatus(ctx, "0xAlice")
	require.NoError(t, err)
	require.InDelta(t, 3600*f.cfg.Accrual.RatePerSecond, snap.User.PrimaryBalance, 1e-9)
	require.True(t, snap.User.LastAccrualTime.Equal(fixedNow))
	require.Equal(t, int64(22*3600), snap.SecondsRemaining)
}

func TestGetStatusAnonymous(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, fixedNow.Add(-time.Hour), fixedNow.Add(23*time.Hour))

	snap, err := f.svc.GetStatus(context.Background(), "")
	require.NoError(t, err)
	require.Nil(t, snap.User)
	require.NotNil(t, snap.Event)
}
