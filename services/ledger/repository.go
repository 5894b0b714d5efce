package ledger

import (
	"context"
	"errors"
	"time"

	"stakearn-backend/pkg/errutil"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sortable fields for the leaderboard read. Anything else falls back to
// primary_balance.
var allowedSortFields = map[string]bool{
	"primary_balance":   true,
	"secondary_balance": true,
	"referral_count":    true,
	"staked_usd_value":  true,
	"created_at":        true,
}

// UserRepository describes keyed access to user records and their stake
// transaction audit trail.
type UserRepository interface {
	WithTx(tx *gorm.DB) UserRepository
	Get(ctx context.Context, wallet string) (*User, error)
	GetLocked(ctx context.Context, wallet string) (*User, error)
	GetByReferralCode(ctx context.Context, code string) (*User, error)
	Create(ctx context.Context, user *User) error
	Updates(ctx context.Context, wallet string, values map[string]any) error
	List(ctx context.Context, sortField string, desc bool, limit int) ([]User, error)
	Count(ctx context.Context) (int64, error)
	AppendStakeTransaction(ctx context.Context, tx *StakeTransaction) error
	HasStakeTransaction(ctx context.Context, wallet, hash string) (bool, error)
	HasStakeWithin(ctx context.Context, wallet string, from, to time.Time) (bool, error)
	ClearStakeTransactions(ctx context.Context, wallet string) error
	ResetRewardFlags(ctx context.Context) error
}

// EventRepository owns the singleton event record. The conditional updates
// (IncrementSlotsIfBelowCap, AddRewarded) are single atomic statements so the
// check-then-act races on slot and pool caps stay closed.
type EventRepository interface {
	WithTx(tx *gorm.DB) EventRepository
	Get(ctx context.Context) (*EventState, error)
	GetLocked(ctx context.Context) (*EventState, error)
	Create(ctx context.Context, state *EventState) error
	Updates(ctx context.Context, values map[string]any) error
	IncrementSlotsIfBelowCap(ctx context.Context, delta int64) (bool, error)
	DecrementSlots(ctx context.Context) error
	AddRewarded(ctx context.Context, amount float64) (bool, error)
}

type gormUserRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a gorm backed UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

func (r *gormUserRepository) WithTx(tx *gorm.DB) UserRepository {
	return &gormUserRepository{db: tx}
}

func storeFault(err error) error {
	return errutil.Internal("ledger store unavailable", err)
}

// sqlite has no FOR UPDATE; its single-writer lock covers the same ground.
func lockForUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *gormUserRepository) Get(ctx context.Context, wallet string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).
		Where("wallet_address = ?", NormalizeAddress(wallet)).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeFault(err)
	}
	return &user, nil
}

func (r *gormUserRepository) GetLocked(ctx context.Context, wallet string) (*User, error) {
	var user User
	err := lockForUpdate(r.db.WithContext(ctx)).
		Where("wallet_address = ?", NormalizeAddress(wallet)).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeFault(err)
	}
	return &user, nil
}

func (r *gormUserRepository) GetByReferralCode(ctx context.Context, code string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).
		Where("referral_code = ?", code).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeFault(err)
	}
	return &user, nil
}

func (r *gormUserRepository) Create(ctx context.Context, user *User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return storeFault(err)
	}
	return nil
}

func (r *gormUserRepository) Updates(ctx context.Context, wallet string, values map[string]any) error {
	res := r.db.WithContext(ctx).Model(&User{}).
		Where("wallet_address = ?", NormalizeAddress(wallet)).
		Updates(values)
	if res.Error != nil {
		return storeFault(res.Error)
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("user not found")
	}
	return nil
}

func (r *gormUserRepository) List(ctx context.Context, sortField string, desc bool, limit int) ([]User, error) {
	if !allowedSortFields[sortField] {
		sortField = "primary_balance"
	}
	order := sortField + " ASC"
	if desc {
		order = sortField + " DESC"
	}

	query := r.db.WithContext(ctx).Model(&User{}).Order(order)
	if limit > 0 {
		query = query.Limit(limit)
	}

	var users []User
	if err := query.Find(&users).Error; err != nil {
		return nil, storeFault(err)
	}
	return users, nil
}

func (r *gormUserRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&User{}).Count(&count).Error; err != nil {
		return 0, storeFault(err)
	}
	return count, nil
}

func (r *gormUserRepository) AppendStakeTransaction(ctx context.Context, tx *StakeTransaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		return storeFault(err)
	}
	return nil
}

func (r *gormUserRepository) HasStakeTransaction(ctx context.Context, wallet, hash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&StakeTransaction{}).
		Where("wallet_address = ? AND hash = ?", NormalizeAddress(wallet), hash).
		Count(&count).Error
	if err != nil {
		return false, storeFault(err)
	}
	return count > 0, nil
}

func (r *gormUserRepository) HasStakeWithin(ctx context.Context, wallet string, from, to time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&StakeTransaction{}).
		Where("wallet_address = ? AND timestamp >= ? AND timestamp <= ?", NormalizeAddress(wallet), from, to).
		Count(&count).Error
	if err != nil {
		return false, storeFault(err)
	}
	return count > 0, nil
}

func (r *gormUserRepository) ClearStakeTransactions(ctx context.Context, wallet string) error {
	err := r.db.WithContext(ctx).
		Where("wallet_address = ?", NormalizeAddress(wallet)).
		Delete(&StakeTransaction{}).Error
	if err != nil {
		return storeFault(err)
	}
	return nil
}

// ResetRewardFlags is the cycle-reset sweep: one bulk UPDATE so concurrent
// reads never observe a half-swept population.
func (r *gormUserRepository) ResetRewardFlags(ctx context.Context) error {
	err := r.db.WithContext(ctx).Model(&User{}).
		Where("1 = 1").
		Updates(map[string]any{
			"revealed_at":              nil,
			"collected_at":             nil,
			"last_revealed_reward_usd": 0,
		}).Error
	if err != nil {
		return storeFault(err)
	}
	return nil
}

type gormEventRepository struct {
	db *gorm.DB
}

// NewEventRepository returns a gorm backed EventRepository implementation.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &gormEventRepository{db: db}
}

func (r *gormEventRepository) WithTx(tx *gorm.DB) EventRepository {
	return &gormEventRepository{db: tx}
}

func (r *gormEventRepository) Get(ctx context.Context) (*EventState, error) {
	var state EventState
	err := r.db.WithContext(ctx).
		Where("id = ?", EventStateID).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeFault(err)
	}
	return &state, nil
}

func (r *gormEventRepository) GetLocked(ctx context.Context) (*EventState, error) {
	var state EventState
	err := lockForUpdate(r.db.WithContext(ctx)).
		Where("id = ?", EventStateID).
		First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeFault(err)
	}
	return &state, nil
}

func (r *gormEventRepository) Create(ctx context.Context, state *EventState) error {
	state.ID = EventStateID
	if err := r.db.WithContext(ctx).Create(state).Error; err != nil {
		return storeFault(err)
	}
	return nil
}

func (r *gormEventRepository) Updates(ctx context.Context, values map[string]any) error {
	res := r.db.WithContext(ctx).Model(&EventState{}).
		Where("id = ?", EventStateID).
		Updates(values)
	if res.Error != nil {
		return storeFault(res.Error)
	}
	if res.RowsAffected == 0 {
		return errutil.Internal("event state missing after initialization", gorm.ErrRecordNotFound)
	}
	return nil
}

// IncrementSlotsIfBelowCap is the atomic increment-with-bound primitive: the
// WHERE clause carries the bound, so two concurrent stakes can never both
// pass a stale cap check.
func (r *gormEventRepository) IncrementSlotsIfBelowCap(ctx context.Context, delta int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&EventState{}).
		Where("id = ? AND total_slots_used + ? <= max_stake_slots", EventStateID, delta).
		Update("total_slots_used", gorm.Expr("total_slots_used + ?", delta))
	if res.Error != nil {
		return false, storeFault(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DecrementSlots never drives the counter negative; a no-op decrement means a
// missed reset already zeroed it, which is logged upstream rather than
// propagated.
func (r *gormEventRepository) DecrementSlots(ctx context.Context) error {
	res := r.db.WithContext(ctx).Model(&EventState{}).
		Where("id = ? AND total_slots_used > 0", EventStateID).
		Update("total_slots_used", gorm.Expr("total_slots_used - 1"))
	if res.Error != nil {
		return storeFault(res.Error)
	}
	return nil
}

// AddRewarded commits a clamped draw amount, guarded so total_rewarded can
// never pass max_reward_pool.
func (r *gormEventRepository) AddRewarded(ctx context.Context, amount float64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&EventState{}).
		Where("id = ? AND total_rewarded + ? <= max_reward_pool", EventStateID, amount).
		Update("total_rewarded", gorm.Expr("total_rewarded + ?", amount))
	if res.Error != nil {
		return false, storeFault(res.Error)
	}
	return res.RowsAffected > 0, nil
}
