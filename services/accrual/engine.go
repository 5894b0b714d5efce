package accrual

import (
	"time"

	"stakearn-backend/services/ledger"
)

// Compute returns the primary-balance amount earned by a user between their
// last accrual time and now, at rate units per second. It is pure: no store
// access, no mutation.
//
// Rules:
//   - paused event, unstaked user, or missing last accrual time earn nothing;
//   - the accrual window is [max(last, eventStart), min(now, eventEnd)], so
//     nothing accrues before the cycle starts or after it ends;
//   - a non-positive window (clock skew, stale timestamps) earns nothing.
//
// Repeated calls with non-decreasing now never double-count an interval as
// long as the caller advances the user's last accrual time to now each call.
func Compute(u *ledger.User, ev *ledger.EventState, now time.Time, rate float64) float64 {
	if ev.IsPaused || u.SlotsStaked == 0 || u.LastAccrualTime == nil {
		return 0
	}

	start := *u.LastAccrualTime
	if start.Before(ev.EventStartTime) {
		start = ev.EventStartTime
	}

	end := now
	if end.After(ev.EventEndTime) {
		end = ev.EventEndTime
	}

	if !start.Before(end) {
		return 0
	}

	return end.Sub(start).Seconds() * rate
}
