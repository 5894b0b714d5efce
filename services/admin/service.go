package admin

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"stakearn-backend/pkg/config"
	"stakearn-backend/pkg/errutil"
	"stakearn-backend/pkg/rediskey"
	"stakearn-backend/services/event"
	"stakearn-backend/services/ledger"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const leaderboardCacheTTL = 30 * time.Second

// Service holds the privileged operations: pause toggles, parameter
// mutation, direct funding, and the leaderboard read. The gate is a single
// allow-listed wallet address, compared case-insensitively.
type Service struct {
	users  ledger.UserRepository
	cycles *event.Service
	cache  *redis.Client
	cfg    *config.Config
	clock  clockwork.Clock
}

type ServiceParams struct {
	fx.In
	Users  ledger.UserRepository
	Cycles *event.Service
	Cache  *redis.Client `optional:"true"`
	Cfg    *config.Config
	Clock  clockwork.Clock
}

func NewService(p ServiceParams) *Service {
	return &Service{
		users:  p.Users,
		cycles: p.Cycles,
		cache:  p.Cache,
		cfg:    p.Cfg,
		clock:  p.Clock,
	}
}

func (s *Service) authorize(caller string) error {
	admin := ledger.NormalizeAddress(s.cfg.Admin.WalletAddress)
	if admin == "" || ledger.NormalizeAddress(caller) != admin {
		return errutil.Forbidden("caller is not the configured admin")
	}
	return nil
}

func (s *Service) TogglePause(ctx context.Context, caller string) (*ledger.EventState, string, error) {
	if err := s.authorize(caller); err != nil {
		return nil, "", err
	}
	state, warning, err := s.cycles.TogglePause(ctx, s.clock.Now().UTC())
	if err != nil {
		return nil, "", err
	}
	zap.L().Info("admin toggled event pause", zap.Bool("is_paused", state.IsPaused))
	return state, warning, nil
}

func (s *Service) ToggleWithdrawalsPause(ctx context.Context, caller string) (*ledger.EventState, error) {
	if err := s.authorize(caller); err != nil {
		return nil, err
	}
	state, err := s.cycles.ToggleWithdrawalsPause(ctx)
	if err != nil {
		return nil, err
	}
	zap.L().Info("admin toggled withdrawals pause", zap.Bool("withdrawals_paused", state.WithdrawalsPaused))
	return state, nil
}

// SetEventDuration forces an immediate cycle reset with the new duration.
func (s *Service) SetEventDuration(ctx context.Context, caller string, hours float64) (*ledger.EventState, error) {
	if err := s.authorize(caller); err != nil {
		return nil, err
	}
	return s.cycles.SetDuration(ctx, hours, s.clock.Now().UTC())
}

func (s *Service) SetStakeAmount(ctx context.Context, caller string, amountUSD float64) (*ledger.EventState, error) {
	if err := s.authorize(caller); err != nil {
		return nil, err
	}
	if amountUSD < 0 {
		return nil, errutil.ValidationFailed("stake amount must not be negative")
	}
	return s.cycles.UpdateParams(ctx, map[string]any{"initial_stake_amount_usd": amountUSD})
}

func (s *Service) SetMaxSlots(ctx context.Context, caller string, slots int64) (*ledger.EventState, error) {
	if err := s.authorize(caller); err != nil {
		return nil, err
	}
	if slots <= 0 {
		return nil, errutil.ValidationFailed("max stake slots must be positive")
	}
	return s.cycles.UpdateParams(ctx, map[string]any{"max_stake_slots": slots})
}

func (s *Service) SetMaxRewardPool(ctx context.Context, caller string, amountUSD float64) (*ledger.EventState, error) {
	if err := s.authorize(caller); err != nil {
		return nil, err
	}
	if amountUSD < 0 {
		return nil, errutil.ValidationFailed("reward pool cap must not be negative")
	}
	return s.cycles.UpdateParams(ctx, map[string]any{"max_reward_pool": amountUSD})
}

func (s *Service) SetRecipientAddress(ctx context.Context, caller, address string) (*ledger.EventState, error) {
	if err := s.authorize(caller); err != nil {
		return nil, err
	}
	recipient := strings.TrimSpace(address)
	if recipient == "" {
		return nil, errutil.ValidationFailed("recipient address is required")
	}
	return s.cycles.UpdateParams(ctx, map[string]any{"staking_recipient_address": recipient})
}

// FundUser credits a balance directly, creating the user when absent.
func (s *Service) FundUser(ctx context.Context, caller, wallet, currency string, amount float64) (*ledger.User, error) {
	if err := s.authorize(caller); err != nil {
		return nil, err
	}

	wallet = ledger.NormalizeAddress(wallet)
	if wallet == "" {
		return nil, errutil.ValidationFailed("wallet address is required")
	}
	if amount <= 0 {
		return nil, errutil.ValidationFailed("amount must be positive")
	}

	column := "primary_balance"
	switch currency {
	case "", "primary":
	case "secondary":
		column = "secondary_balance"
	default:
		return nil, errutil.ValidationFailed("currency must be primary or secondary")
	}

	user, err := s.users.Get(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = &ledger.User{
			WalletAddress: wallet,
			ReferralCode:  ledger.ReferralCodeFor(wallet),
			CreatedAt:     s.clock.Now().UTC(),
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, err
		}
	}

	if err := s.users.Updates(ctx, wallet, map[string]any{
		column: gorm.Expr(column+" + ?", amount),
	}); err != nil {
		return nil, err
	}

	zap.L().Info("admin funded user",
		zap.String("wallet", wallet),
		zap.String("currency", column),
		zap.Float64("amount", amount),
	)

	return s.users.Get(ctx, wallet)
}

// Leaderboard is a sorted, limited user read with a short-TTL Redis
// read-through cache. The store stays the source of truth; a nil cache
// client means the cache is off.
func (s *Service) Leaderboard(ctx context.Context, caller, sortField string, limit int) ([]ledger.User, error) {
	if err := s.authorize(caller); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	key := rediskey.BuildLeaderboardKey(sortField, limit)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var cached []ledger.User
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	users, err := s.users.List(ctx, sortField, true, limit)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(users); err == nil {
			if err := s.cache.Set(ctx, key, raw, leaderboardCacheTTL).Err(); err != nil {
				zap.L().Warn("leaderboard cache write failed", zap.Error(err))
			}
		}
	}

	return users, nil
}

// UserCount returns the registered-user total.
func (s *Service) UserCount(ctx context.Context, caller string) (int64, error) {
	if err := s.authorize(caller); err != nil {
		return 0, err
	}
	return s.users.Count(ctx)
}
