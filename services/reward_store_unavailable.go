package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// UnavailableStore stands in when the database could not be reached at
// startup. Every call fails with ErrStoreUnavailable so claims degrade
// instead of the process exiting.
type UnavailableStore struct {
	Cause error
}

func (s UnavailableStore) err(op string) error {
	if s.Cause == nil {
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, s.Cause)
}

func (s UnavailableStore) LookupUserID(context.Context, uuid.UUID) (int64, error) {
	return 0, s.err("lookup user")
}

func (s UnavailableStore) HasPendingRewards(context.Context, int64) (bool, error) {
	return false, s.err("has pending")
}

func (s UnavailableStore) Begin(context.Context) (RewardTx, error) {
	return nil, s.err("begin")
}

func (s UnavailableStore) Ping(context.Context) error {
	return s.err("ping")
}

func (s UnavailableStore) Close() error {
	return nil
}
