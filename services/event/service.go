package event

import (
	"context"
	"time"

	"stakearn-backend/pkg/config"
	"stakearn-backend/pkg/errutil"
	"stakearn-backend/services/ledger"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WarnResumeWithoutPauseStart is surfaced when a resume finds no recorded
// pause start; the end time is left unchanged in that case.
const WarnResumeWithoutPauseStart = "resumed without a recorded pause start; event end time unchanged"

// Service owns the singleton event record and the cycle state machine:
// Active -> Expired/Filled -> (reset) -> Active, with an orthogonal
// Running <-> Paused sub-state.
type Service struct {
	db     *gorm.DB
	events ledger.EventRepository
	users  ledger.UserRepository
	cfg    *config.Config
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Events ledger.EventRepository
	Users  ledger.UserRepository
	Cfg    *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		events: p.Events,
		users:  p.Users,
		cfg:    p.Cfg,
	}
}

func defaultState(cfg *config.Config, now time.Time) *ledger.EventState {
	duration := time.Duration(cfg.Event.DurationHours * float64(time.Hour))
	return &ledger.EventState{
		EventStartTime:          now,
		EventEndTime:            now.Add(duration),
		MaxStakeSlots:           cfg.Event.MaxStakeSlots,
		InitialStakeAmountUSD:   cfg.Event.StakeAmountUSD,
		EventDurationHours:      cfg.Event.DurationHours,
		MaxRewardPool:           cfg.Event.MaxRewardPoolUSD,
		StakingRecipientAddress: cfg.Event.RecipientAddress,
	}
}

// EnsureInitialized creates the singleton event record lazily with the
// configured defaults. Safe to re-invoke; a present record is returned as is.
func (s *Service) EnsureInitialized(ctx context.Context) (*ledger.EventState, error) {
	state, err := s.events.Get(ctx)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}

	state = defaultState(s.cfg, time.Now().UTC())
	if err := s.events.Create(ctx, state); err != nil {
		// Lost the creation race; the winner's record is authoritative.
		if existing, getErr := s.events.Get(ctx); getErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}

	zap.L().Info("event state initialized",
		zap.Time("event_start_time", state.EventStartTime),
		zap.Time("event_end_time", state.EventEndTime),
		zap.Int64("max_stake_slots", state.MaxStakeSlots),
	)

	return state, nil
}

// MaybeResetCycle checks expiry (time passed or slots exhausted) and performs
// the atomic reset inside the caller's transaction. Admin parameters survive
// a reset; cycle counters and per-user reward flags do not. Returns the
// current state and whether a reset happened.
func (s *Service) MaybeResetCycle(ctx context.Context, tx *gorm.DB, state *ledger.EventState, now time.Time) (*ledger.EventState, bool, error) {
	if state == nil {
		return nil, false, errutil.Internal("event state missing after initialization", gorm.ErrRecordNotFound)
	}
	if !state.Expired(now) {
		return state, false, nil
	}

	if err := s.resetCycle(ctx, tx, state, now, state.EventDurationHours); err != nil {
		return nil, false, err
	}
	return state, true, nil
}

// resetCycle zeroes the cycle counters, opens a fresh window, clears pause
// state, and sweeps the per-user reward flags in one bulk update. The state
// argument is updated in place. lastReferralBonusAt is deliberately not
// swept: every check on it compares against the new cycle's start time.
func (s *Service) resetCycle(ctx context.Context, tx *gorm.DB, state *ledger.EventState, now time.Time, durationHours float64) error {
	events := s.events
	users := s.users
	if tx != nil {
		events = events.WithTx(tx)
		users = users.WithTx(tx)
	}

	duration := time.Duration(durationHours * float64(time.Hour))
	end := now.Add(duration)

	if err := events.Updates(ctx, map[string]any{
		"total_slots_used":     0,
		"total_rewarded":       0,
		"event_start_time":     now,
		"event_end_time":       end,
		"event_duration_hours": durationHours,
		"is_paused":            false,
		"pause_start_time":     nil,
		"last_reset_time":      now,
	}); err != nil {
		return err
	}

	if err := users.ResetRewardFlags(ctx); err != nil {
		return err
	}

	state.TotalSlotsUsed = 0
	state.TotalRewarded = 0
	state.EventStartTime = now
	state.EventEndTime = end
	state.EventDurationHours = durationHours
	state.IsPaused = false
	state.PauseStartTime = nil
	state.LastResetTime = &now

	zap.L().Info("event cycle reset",
		zap.Time("event_start_time", now),
		zap.Time("event_end_time", end),
	)

	return nil
}

// TogglePause flips the pause flag. Pausing records when; resuming shifts the
// event end forward by the elapsed pause duration so the remaining active
// time is preserved. Returns a warning string for the defensive resume case.
func (s *Service) TogglePause(ctx context.Context, now time.Time) (*ledger.EventState, string, error) {
	var state *ledger.EventState
	var warning string

	err := s.db.Transaction(func(tx *gorm.DB) error {
		events := s.events.WithTx(tx)

		var err error
		state, err = events.GetLocked(ctx)
		if err != nil {
			return err
		}
		if state == nil {
			return errutil.Internal("event state missing after initialization", gorm.ErrRecordNotFound)
		}

		if !state.IsPaused {
			if err := events.Updates(ctx, map[string]any{
				"is_paused":        true,
				"pause_start_time": now,
			}); err != nil {
				return err
			}
			state.IsPaused = true
			state.PauseStartTime = &now
			return nil
		}

		values := map[string]any{
			"is_paused":        false,
			"pause_start_time": nil,
		}
		if state.PauseStartTime != nil {
			shifted := state.EventEndTime.Add(now.Sub(*state.PauseStartTime))
			values["event_end_time"] = shifted
			state.EventEndTime = shifted
		} else {
			warning = WarnResumeWithoutPauseStart
			zap.L().Warn(warning)
		}
		if err := events.Updates(ctx, values); err != nil {
			return err
		}
		state.IsPaused = false
		state.PauseStartTime = nil
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	return state, warning, nil
}

// ToggleWithdrawalsPause flips the independent withdrawal gate. It does not
// touch cycle timing.
func (s *Service) ToggleWithdrawalsPause(ctx context.Context) (*ledger.EventState, error) {
	var state *ledger.EventState

	err := s.db.Transaction(func(tx *gorm.DB) error {
		events := s.events.WithTx(tx)

		var err error
		state, err = events.GetLocked(ctx)
		if err != nil {
			return err
		}
		if state == nil {
			return errutil.Internal("event state missing after initialization", gorm.ErrRecordNotFound)
		}

		if err := events.Updates(ctx, map[string]any{
			"withdrawals_paused": !state.WithdrawalsPaused,
		}); err != nil {
			return err
		}
		state.WithdrawalsPaused = !state.WithdrawalsPaused
		return nil
	})
	if err != nil {
		return nil, err
	}

	return state, nil
}

// SetDuration forces an immediate reset with the new duration, clearing user
// reward flags along the way.
func (s *Service) SetDuration(ctx context.Context, hours float64, now time.Time) (*ledger.EventState, error) {
	if hours <= 0 {
		return nil, errutil.ValidationFailed("event duration must be positive")
	}

	var state *ledger.EventState

	err := s.db.Transaction(func(tx *gorm.DB) error {
		events := s.events.WithTx(tx)

		var err error
		state, err = events.GetLocked(ctx)
		if err != nil {
			return err
		}
		if state == nil {
			return errutil.Internal("event state missing after initialization", gorm.ErrRecordNotFound)
		}

		return s.resetCycle(ctx, tx, state, now, hours)
	})
	if err != nil {
		return nil, err
	}

	return state, nil
}

// UpdateParams mutates admin-tunable parameters without touching cycle state.
// Callers pass only whitelisted columns.
func (s *Service) UpdateParams(ctx context.Context, values map[string]any) (*ledger.EventState, error) {
	if err := s.events.Updates(ctx, values); err != nil {
		return nil, err
	}
	return s.events.Get(ctx)
}
