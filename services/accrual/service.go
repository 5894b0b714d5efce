package accrual

import (
	"context"
	"time"

	"stakearn-backend/pkg/config"
	"stakearn-backend/services/ledger"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service commits lazily computed accrual. There is no ticking job: every
// entry point that touches age-sensitive fields flushes first.
type Service struct {
	users ledger.UserRepository
	rate  float64
}

type ServiceParams struct {
	fx.In
	Users ledger.UserRepository
	Cfg   *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		users: p.Users,
		rate:  p.Cfg.Accrual.RatePerSecond,
	}
}

// Rate exposes the configured per-second accrual rate.
func (s *Service) Rate() float64 {
	return s.rate
}

// Flush commits the pending accrual for u and advances last_accrual_time to
// now in one UPDATE. The passed user is updated in place so callers keep a
// current snapshot. Returns the earned amount. The timestamp only ever moves
// forward; a now behind the stored value is a no-op.
func (s *Service) Flush(ctx context.Context, tx *gorm.DB, u *ledger.User, ev *ledger.EventState, now time.Time) (float64, error) {
	users := s.users
	if tx != nil {
		users = users.WithTx(tx)
	}

	if u.LastAccrualTime != nil && u.LastAccrualTime.After(now) {
		// Clock skew; keep the stored timestamp so the already credited
		// window can never reopen.
		zap.L().Warn("accrual timestamp ahead of now, skipping flush",
			zap.String("wallet", u.WalletAddress),
			zap.Time("last_accrual_time", *u.LastAccrualTime),
			zap.Time("now", now),
		)
		return 0, nil
	}

	earned := Compute(u, ev, now, s.rate)

	values := map[string]any{
		"last_accrual_time": now,
	}
	if earned > 0 {
		values["primary_balance"] = gorm.Expr("primary_balance + ?", earned)
	}

	if err := users.Updates(ctx, u.WalletAddress, values); err != nil {
		return 0, err
	}

	u.PrimaryBalance += earned
	t := now
	u.LastAccrualTime = &t

	return earned, nil
}
