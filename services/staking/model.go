package staking

import (
	"time"

	"stakearn-backend/services/ledger"
)

// Currency names accepted by WithdrawBalance.
const (
	CurrencyPrimary   = "primary"   // BXC, the accrual-bearing balance
	CurrencySecondary = "secondary" // AIN, the collected-reward balance
)

type StakeRequest struct {
	WalletAddress   string `json:"walletAddress"`
	TransactionHash string `json:"transactionHash"`
	ReferrerCode    string `json:"referrerCode"`
}

type WithdrawBalanceRequest struct {
	WalletAddress string   `json:"walletAddress"`
	Currency      string   `json:"currency"`
	Amount        *float64 `json:"amount"`
}

// Snapshot is the user-facing view returned by most actions: the caller's
// record, the global event record, and the server clock so clients never
// trust their own.
type Snapshot struct {
	User             *ledger.User       `json:"user,omitempty"`
	Event            *ledger.EventState `json:"event"`
	ServerTime       time.Time          `json:"serverTime"`
	SecondsRemaining int64              `json:"secondsRemaining"`
}

type RevealResult struct {
	RewardUSD float64      `json:"rewardUSD"`
	IsWinner  bool         `json:"isWinner"`
	User      *ledger.User `json:"user"`
}

type CollectResult struct {
	CollectedAIN float64      `json:"collectedAIN"`
	User         *ledger.User `json:"user"`
}

type WithdrawResult struct {
	Currency string       `json:"currency"`
	Amount   float64      `json:"amount"`
	User     *ledger.User `json:"user"`
}

type BonusResult struct {
	Awarded float64      `json:"awarded"`
	User    *ledger.User `json:"user"`
}

func snapshotFor(user *ledger.User, state *ledger.EventState, now time.Time) *Snapshot {
	remaining := int64(0)
	if state != nil && now.Before(state.EventEndTime) {
		remaining = int64(state.EventEndTime.Sub(now).Seconds())
	}
	return &Snapshot{
		User:             user,
		Event:            state,
		ServerTime:       now,
		SecondsRemaining: remaining,
	}
}
