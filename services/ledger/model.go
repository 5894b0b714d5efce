package ledger

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// EventStateID is the primary key of the singleton event record.
const EventStateID = "global"

const referralCodeLength = 8

// User is one row per wallet address. The address is case-normalized to
// lowercase before it ever reaches the store.
type User struct {
	WalletAddress         string     `gorm:"column:wallet_address;primaryKey" json:"walletAddress"`
	SlotsStaked           int64      `gorm:"column:slots_staked;not null;default:0" json:"slotsStaked"`
	StakedUSDValue        float64    `gorm:"column:staked_usd_value;not null;default:0" json:"stakedUSDValue"`
	PrimaryBalance        float64    `gorm:"column:primary_balance;not null;default:0" json:"primaryBalance"`
	SecondaryBalance      float64    `gorm:"column:secondary_balance;not null;default:0" json:"secondaryBalance"`
	LastAccrualTime       *time.Time `gorm:"column:last_accrual_time" json:"lastAccrualTime"`
	RevealedAt            *time.Time `gorm:"column:revealed_at" json:"revealedAt"`
	CollectedAt           *time.Time `gorm:"column:collected_at" json:"collectedAt"`
	LastRevealedRewardUSD float64    `gorm:"column:last_revealed_reward_usd;not null;default:0" json:"lastRevealedRewardUSD"`
	LastReferralBonusAt   *time.Time `gorm:"column:last_referral_bonus_at" json:"lastReferralBonusAt"`
	ReferralCode          string     `gorm:"column:referral_code;uniqueIndex" json:"referralCode"`
	ReferralCount         int64      `gorm:"column:referral_count;not null;default:0" json:"referralCount"`
	CreatedAt             time.Time  `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt             time.Time  `gorm:"column:updated_at" json:"-"`

	StakeTransactions []StakeTransaction `gorm:"foreignKey:WalletAddress;references:WalletAddress" json:"stakeTransactions,omitempty"`
}

// StakeTransaction is the append-only audit trail of stakes. The composite
// unique index enforces that a hash never repeats for one user.
type StakeTransaction struct {
	ID            string         `gorm:"column:id;primaryKey" json:"id"`
	WalletAddress string         `gorm:"column:wallet_address;index;uniqueIndex:idx_stake_tx_wallet_hash" json:"walletAddress"`
	Hash          string         `gorm:"column:hash;uniqueIndex:idx_stake_tx_wallet_hash" json:"hash"`
	Timestamp     time.Time      `gorm:"column:timestamp;index" json:"timestamp"`
	AmountUSD     float64        `gorm:"column:amount_usd;not null;default:0" json:"amountUSD"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"-"`
}

// EventState is the singleton global event record, created lazily on first
// access. All mutation goes through the event service, never ad hoc writes.
type EventState struct {
	ID                      string     `gorm:"column:id;primaryKey" json:"-"`
	TotalSlotsUsed          int64      `gorm:"column:total_slots_used;not null;default:0" json:"totalSlotsUsed"`
	EventStartTime          time.Time  `gorm:"column:event_start_time" json:"eventStartTime"`
	EventEndTime            time.Time  `gorm:"column:event_end_time" json:"eventEndTime"`
	IsPaused                bool       `gorm:"column:is_paused;not null;default:false" json:"isPaused"`
	PauseStartTime          *time.Time `gorm:"column:pause_start_time" json:"pauseStartTime"`
	WithdrawalsPaused       bool       `gorm:"column:withdrawals_paused;not null;default:false" json:"withdrawalsPaused"`
	MaxStakeSlots           int64      `gorm:"column:max_stake_slots;not null;default:0" json:"maxStakeSlots"`
	InitialStakeAmountUSD   float64    `gorm:"column:initial_stake_amount_usd;not null;default:0" json:"initialStakeAmountUSD"`
	EventDurationHours      float64    `gorm:"column:event_duration_hours;not null;default:0" json:"eventDurationHours"`
	MaxRewardPool           float64    `gorm:"column:max_reward_pool;not null;default:0" json:"maxRewardPool"`
	TotalRewarded           float64    `gorm:"column:total_rewarded;not null;default:0" json:"totalRewarded"`
	StakingRecipientAddress string     `gorm:"column:staking_recipient_address" json:"stakingRecipientAddress"`
	LastResetTime           *time.Time `gorm:"column:last_reset_time" json:"lastResetTime"`
	CreatedAt               time.Time  `gorm:"column:created_at" json:"-"`
	UpdatedAt               time.Time  `gorm:"column:updated_at" json:"-"`
}

// Expired reports whether the current cycle's window has passed. A filled
// cycle keeps running until its end time so revealed rewards stay claimable;
// see Filled.
func (e *EventState) Expired(now time.Time) bool {
	return now.After(e.EventEndTime)
}

// Filled reports whether every staking slot is taken.
func (e *EventState) Filled() bool {
	return e.TotalSlotsUsed >= e.MaxStakeSlots
}

// Duration returns the configured cycle length.
func (e *EventState) Duration() time.Duration {
	return time.Duration(e.EventDurationHours * float64(time.Hour))
}

// RewardPoolRemaining never reports below zero.
func (e *EventState) RewardPoolRemaining() float64 {
	remaining := e.MaxRewardPool - e.TotalRewarded
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NormalizeAddress lowercases and trims a wallet address. Empty results are
// the caller's validation problem.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ReferralCodeFor derives the stable referral code from a normalized wallet
// address: the uppercase fixed-length suffix.
func ReferralCodeFor(wallet string) string {
	w := NormalizeAddress(wallet)
	if len(w) > referralCodeLength {
		w = w[len(w)-referralCodeLength:]
	}
	return strings.ToUpper(w)
}
