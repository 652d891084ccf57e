// services/reward_store.go
package services

import (
	"context"
	"errors"

	"shop-reward-system/models"

	"github.com/google/uuid"
)

// UserLookup resolves a player identity to the shop's user id.
type UserLookup interface {
	// LookupUserID returns ErrUserNotFound when the player has no web account.
	LookupUserID(ctx context.Context, playerID uuid.UUID) (int64, error)
}

// RewardStore is the persistence contract the claim engine relies on.
type RewardStore interface {
	UserLookup
	// HasPendingRewards is a plain read, it takes no locks.
	HasPendingRewards(ctx context.Context, userID int64) (bool, error)
	Begin(ctx context.Context) (RewardTx, error)
	Ping(ctx context.Context) error
	Close() error
}

// RewardTx is one claim transaction. Rows returned by FetchAndLockPending stay
// locked until Commit or Rollback; rows locked by other transactions are skipped.
type RewardTx interface {
	// FetchAndLockPending returns the user's pending rewards oldest first.
	FetchAndLockPending(ctx context.Context, userID int64) ([]models.PendingReward, error)
	// UpdateStatuses moves every id to status in one statement.
	UpdateStatuses(ctx context.Context, ids []int64, status models.RewardStatus) error
	Commit() error
	Rollback() error
}

// storeErrorKind maps a store error onto the claim outcome it produces.
func storeErrorKind(err error) models.ClaimErrorKind {
	if errors.Is(err, ErrStoreUnavailable) {
		return models.ClaimErrorStoreUnavailable
	}
	return models.ClaimErrorStore
}
