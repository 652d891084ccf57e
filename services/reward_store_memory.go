// services/reward_store_memory.go
package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"shop-reward-system/models"

	"github.com/google/uuid"
)

// MemoryBackend is an in-process stand-in for the shop database. Several
// MemoryRewardStore handles can share one backend to act as separate servers.
//
// Row locks are emulated with an owner token per row: a locked row is
// invisible to every other transaction until its owner commits or rolls back.
type MemoryBackend struct {
	mu         sync.Mutex
	users      map[string]int64
	rows       map[int64]*memoryRow
	nextUserID int64
	nextID     int64
	nextToken  uint64
	lastCreate time.Time
	now        func() time.Time
}

type memoryRow struct {
	reward   models.PendingReward
	lockedBy uint64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		users: make(map[string]int64),
		rows:  make(map[int64]*memoryRow),
		now:   time.Now,
	}
}

// LinkUser returns the user id for a player, creating the web account if needed.
func (b *MemoryBackend) LinkUser(playerID uuid.UUID) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := models.CompactUUID(playerID)
	if id, ok := b.users[key]; ok {
		return id
	}
	b.nextUserID++
	b.users[key] = b.nextUserID
	return b.nextUserID
}

// AddReward records a purchase. created_at is strictly increasing so FIFO
// order matches insertion order.
func (b *MemoryBackend) AddReward(userID int64, actions []string) models.PendingReward {
	b.mu.Lock()
	defer b.mu.Unlock()

	created := b.now().UTC()
	if !created.After(b.lastCreate) {
		created = b.lastCreate.Add(time.Microsecond)
	}
	b.lastCreate = created
	b.nextID++

	r := models.PendingReward{
		ID:        b.nextID,
		UserID:    userID,
		Actions:   append([]string(nil), actions...),
		Status:    models.RewardStatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
	b.rows[r.ID] = &memoryRow{reward: r}
	return r
}

func (b *MemoryBackend) Reward(id int64) (models.PendingReward, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := b.rows[id]
	if !ok {
		return models.PendingReward{}, false
	}
	return row.reward, true
}

// Rewards lists every row of a user regardless of status, oldest first.
func (b *MemoryBackend) Rewards(userID int64) []models.PendingReward {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.PendingReward
	for _, row := range b.rows {
		if row.reward.UserID == userID {
			out = append(out, row.reward)
		}
	}
	sortRewards(out)
	return out
}

func sortRewards(rewards []models.PendingReward) {
	sort.Slice(rewards, func(i, j int) bool {
		if rewards[i].CreatedAt.Equal(rewards[j].CreatedAt) {
			return rewards[i].ID < rewards[j].ID
		}
		return rewards[i].CreatedAt.Before(rewards[j].CreatedAt)
	})
}

// MemoryRewardStore implements RewardStore on top of a MemoryBackend.
type MemoryRewardStore struct {
	backend *MemoryBackend
	closed  atomic.Bool
}

func NewMemoryRewardStore(backend *MemoryBackend) *MemoryRewardStore {
	return &MemoryRewardStore{backend: backend}
}

func (s *MemoryRewardStore) Backend() *MemoryBackend {
	return s.backend
}

func (s *MemoryRewardStore) check(ctx context.Context, op string) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: %s: store closed", ErrStoreUnavailable, op)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
	}
	return nil
}

func (s *MemoryRewardStore) LookupUserID(ctx context.Context, playerID uuid.UUID) (int64, error) {
	if err := s.check(ctx, "lookup user"); err != nil {
		return 0, err
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	id, ok := s.backend.users[models.CompactUUID(playerID)]
	if !ok {
		return 0, ErrUserNotFound
	}
	return id, nil
}

func (s *MemoryRewardStore) HasPendingRewards(ctx context.Context, userID int64) (bool, error) {
	if err := s.check(ctx, "has pending"); err != nil {
		return false, err
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	for _, row := range s.backend.rows {
		if row.reward.UserID == userID && row.reward.Status == models.RewardStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryRewardStore) Begin(ctx context.Context) (RewardTx, error) {
	if err := s.check(ctx, "begin"); err != nil {
		return nil, err
	}
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.nextToken++
	return &memoryRewardTx{
		store:  s,
		token:  s.backend.nextToken,
		staged: make(map[int64]models.RewardStatus),
	}, nil
}

func (s *MemoryRewardStore) Ping(ctx context.Context) error {
	return s.check(ctx, "ping")
}

func (s *MemoryRewardStore) Close() error {
	s.closed.Store(true)
	return nil
}

type memoryRewardTx struct {
	store  *MemoryRewardStore
	token  uint64
	staged map[int64]models.RewardStatus
	done   bool
}

func (t *memoryRewardTx) FetchAndLockPending(ctx context.Context, userID int64) ([]models.PendingReward, error) {
	if err := t.store.check(ctx, "fetch pending"); err != nil {
		return nil, err
	}
	b := t.store.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.done {
		return nil, ErrTxDone
	}

	var out []models.PendingReward
	for _, row := range b.rows {
		if row.reward.UserID != userID || row.reward.Status != models.RewardStatusPending {
			continue
		}
		if row.lockedBy != 0 && row.lockedBy != t.token {
			continue
		}
		row.lockedBy = t.token
		r := row.reward
		r.Actions = append([]string(nil), r.Actions...)
		out = append(out, r)
	}
	sortRewards(out)
	return out, nil
}

func (t *memoryRewardTx) UpdateStatuses(ctx context.Context, ids []int64, status models.RewardStatus) error {
	if err := t.store.check(ctx, "update statuses"); err != nil {
		return err
	}
	b := t.store.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	for _, id := range ids {
		row, ok := b.rows[id]
		if !ok || row.lockedBy != t.token {
			return fmt.Errorf("%w: update statuses: %w (id %d)", ErrStoreFailure, ErrRowNotLocked, id)
		}
	}
	for _, id := range ids {
		t.staged[id] = status
	}
	return nil
}

func (t *memoryRewardTx) Commit() error {
	if t.store.closed.Load() {
		return fmt.Errorf("%w: commit: store closed", ErrStoreUnavailable)
	}
	b := t.store.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	now := b.now().UTC()
	for id, status := range t.staged {
		row := b.rows[id]
		row.reward.Status = status
		row.reward.UpdatedAt = now
	}
	t.release()
	return nil
}

func (t *memoryRewardTx) Rollback() error {
	b := t.store.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.done {
		return ErrTxDone
	}
	t.release()
	return nil
}

// release drops every lock held by the transaction. Caller holds backend.mu.
func (t *memoryRewardTx) release() {
	for _, row := range t.store.backend.rows {
		if row.lockedBy == t.token {
			row.lockedBy = 0
		}
	}
	t.staged = nil
	t.done = true
}
