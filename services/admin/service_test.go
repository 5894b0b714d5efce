package admin

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stakearn-backend/pkg/config"
	"stakearn-backend/pkg/errutil"
	"stakearn-backend/services/event"
	"stakearn-backend/services/ledger"
	"stakearn-backend/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const adminWallet = "0xAdminWallet"

func newTestService(t *testing.T) (*Service, ledger.UserRepository, ledger.EventRepository) {
	t.Helper()

	db := testutil.NewTestDB(t, &ledger.User{}, &ledger.StakeTransaction{}, &ledger.EventState{})
	users := ledger.NewUserRepository(db)
	events := ledger.NewEventRepository(db)

	cfg := &config.Config{}
	cfg.Admin.WalletAddress = adminWallet
	cfg.Event.DurationHours = 24
	cfg.Event.MaxStakeSlots = 5000
	cfg.Event.MaxRewardPoolUSD = 10000
	cfg.Event.StakeAmountUSD = 100

	cycles := event.NewService(event.ServiceParams{DB: db, Events: events, Users: users, Cfg: cfg})
	svc := NewService(ServiceParams{
		Users:  users,
		Cycles: cycles,
		Cfg:    cfg,
		Clock:  clockwork.NewFakeClockAt(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)),
	})

	_, err := cycles.EnsureInitialized(context.Background())
	require.NoError(t, err)

	return svc, users, events
}

func TestAuthorizeGate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.TogglePause(ctx, "0xsomeoneelse")
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))

	// Case-insensitive match on the configured address.
	state, _, err := svc.TogglePause(ctx, "0xADMINWALLET")
	require.NoError(t, err)
	require.True(t, state.IsPaused)
}

func TestAuthorizeRejectsWhenUnconfigured(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.cfg.Admin.WalletAddress = ""

	_, _, err := svc.TogglePause(context.Background(), "")
	require.True(t, errutil.IsStatus(err, errutil.StatusForbidden))
}

func TestSetEventDurationResets(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	state, err := svc.SetEventDuration(ctx, adminWallet, 48)
	require.NoError(t, err)
	require.Equal(t, float64(48), state.EventDurationHours)
	require.Equal(t, 48*time.Hour, state.EventEndTime.Sub(state.EventStartTime))

	_, err = svc.SetEventDuration(ctx, adminWallet, -1)
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))
}

func TestSetParamsValidation(t *testing.T) {
	svc, _, events := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetStakeAmount(ctx, adminWallet, -5)
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.SetMaxSlots(ctx, adminWallet, 0)
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.SetMaxRewardPool(ctx, adminWallet, -1)
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.SetRecipientAddress(ctx, adminWallet, "   ")
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	state, err := svc.SetMaxSlots(ctx, adminWallet, 250)
	require.NoError(t, err)
	require.Equal(t, int64(250), state.MaxStakeSlots)

	stored, err := events.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(250), stored.MaxStakeSlots)
}

func TestFundUserCreatesAndCredits(t *testing.T) {
	svc, users, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.FundUser(ctx, adminWallet, "0xNewGuy", "primary", 75)
	require.NoError(t, err)
	require.Equal(t, "0xnewguy", user.WalletAddress)
	require.Equal(t, float64(75), user.PrimaryBalance)
	require.Equal(t, ledger.ReferralCodeFor("0xnewguy"), user.ReferralCode)

	// Funding again accumulates on the existing record.
	user, err = svc.FundUser(ctx, adminWallet, "0xnewguy", "secondary", 20)
	require.NoError(t, err)
	require.Equal(t, float64(75), user.PrimaryBalance)
	require.Equal(t, float64(20), user.SecondaryBalance)

	stored, err := users.Get(ctx, "0xnewguy")
	require.NoError(t, err)
	require.Equal(t, float64(75), stored.PrimaryBalance)

	_, err = svc.FundUser(ctx, adminWallet, "0xnewguy", "tertiary", 5)
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))

	_, err = svc.FundUser(ctx, adminWallet, "0xnewguy", "primary", 0)
	require.True(t, errutil.IsStatus(err, errutil.StatusValidationFailed))
}

func TestLeaderboardSortedWithoutCache(t *testing.T) {
	svc, users, _ := newTestService(t)
	ctx := context.Background()

	for _, u := range []ledger.User{
		{WalletAddress: "0xa", ReferralCode: "A0000001", PrimaryBalance: 10},
		{WalletAddress: "0xb", ReferralCode: "B0000002", PrimaryBalance: 30},
		{WalletAddress: "0xc", ReferralCode: "C0000003", PrimaryBalance: 20},
	} {
		u := u
		require.NoError(t, users.Create(ctx, &u))
	}

	top, err := svc.Leaderboard(ctx, adminWallet, "primary_balance", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "0xb", top[0].WalletAddress)
	require.Equal(t, "0xc", top[1].WalletAddress)

	count, err := svc.UserCount(ctx, adminWallet)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
}
