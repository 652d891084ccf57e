package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shop-reward-system/game"
	"shop-reward-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	t       *testing.T
	world   *game.World
	backend *MemoryBackend
	store   RewardStore
	engine  *ClaimEngine
	player  uuid.UUID
	userID  int64
	sink    *fakeSink
	events  *fakePublisher

	inventory InventoryView
}

type harnessOption func(h *harness)

func withStore(wrap func(*MemoryRewardStore) RewardStore) harnessOption {
	return func(h *harness) { h.store = wrap(h.store.(*MemoryRewardStore)) }
}

func withBackend(b *MemoryBackend) harnessOption {
	return func(h *harness) {
		h.backend = b
		h.store = NewMemoryRewardStore(b)
	}
}

func withInventory(wrap func(h *harness) InventoryView) harnessOption {
	return func(h *harness) { h.inventory = wrap(h) }
}

func startTestWorld(t *testing.T) *game.World {
	t.Helper()
	w := game.NewWorld(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-w.Done()
	})
	return w
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	backend := NewMemoryBackend()
	h := &harness{
		t:       t,
		world:   startTestWorld(t),
		backend: backend,
		store:   NewMemoryRewardStore(backend),
		player:  uuid.New(),
		sink:    &fakeSink{},
		events:  &fakePublisher{},
	}
	h.inventory = h.world
	for _, opt := range opts {
		opt(h)
	}

	require.NoError(t, h.world.Join(context.Background(), h.player, "Steve"))
	h.userID = h.backend.LinkUser(h.player)

	h.engine = NewClaimEngine(ClaimEngineDeps{
		ServerID:  "test-1",
		Store:     h.store,
		Inventory: h.inventory,
		Presence:  h.world,
		Host:      h.world,
		Notifier:  h.world,
		Events:    h.events,
		Reports:   h.sink,
		Logger:    zap.NewNop(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.engine.Shutdown(ctx)
	})
	return h
}

// reward adds a pending reward with the given number of give actions.
func (h *harness) reward(gives int, extra ...string) models.PendingReward {
	actions := make([]string, 0, gives+len(extra))
	for i := 0; i < gives; i++ {
		actions = append(actions, "give {player} minecraft:diamond 1")
	}
	actions = append(actions, extra...)
	return h.backend.AddReward(h.userID, actions)
}

// leaveFree fills the inventory until only n slots are empty.
func (h *harness) leaveFree(n int) {
	for i := 0; i < game.MainInventorySize-n; i++ {
		require.NoError(h.t, h.world.SetSlot(context.Background(), h.player, i, game.ItemStack{Item: "minecraft:dirt", Count: 64}))
	}
}

func (h *harness) claim() models.ClaimOutcome {
	return h.engine.Claim(context.Background(), h.player, models.ClaimTriggerPlayer)
}

func (h *harness) status(id int64) models.RewardStatus {
	r, ok := h.backend.Reward(id)
	require.True(h.t, ok)
	return r.Status
}

func (h *harness) diamonds() int {
	snap, ok := h.world.Snapshot(h.player)
	require.True(h.t, ok)
	n := 0
	for _, s := range snap.Inventory {
		if s.Item == "minecraft:diamond" {
			n += s.Count
		}
	}
	return n
}

func (h *harness) inbox() []string {
	msgs, err := h.world.DrainMessages(context.Background(), h.player)
	require.NoError(h.t, err)
	return msgs
}

type fakeSink struct {
	mu      sync.Mutex
	reports []RemediationReport
	keys    []string
}

func (s *fakeSink) PutJSON(_ context.Context, key string, v any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.reports = append(s.reports, v.(RemediationReport))
	return "https://cdn.test/" + key, nil
}

func (s *fakeSink) all() []RemediationReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RemediationReport(nil), s.reports...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.ClaimEvent
}

func (p *fakePublisher) PublishClaim(_ context.Context, e models.ClaimEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// countingStore records how transactions were used.
type countingStore struct {
	*MemoryRewardStore
	begins    atomic.Int32
	rollbacks atomic.Int32
	commitErr error
}

func (s *countingStore) Begin(ctx context.Context) (RewardTx, error) {
	s.begins.Add(1)
	tx, err := s.MemoryRewardStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &countingTx{RewardTx: tx, store: s}, nil
}

type countingTx struct {
	RewardTx
	store *countingStore
}

func (t *countingTx) Rollback() error {
	t.store.rollbacks.Add(1)
	return t.RewardTx.Rollback()
}

func (t *countingTx) Commit() error {
	if t.store.commitErr != nil {
		_ = t.RewardTx.Rollback()
		return t.store.commitErr
	}
	return t.RewardTx.Commit()
}

func TestClaim_AllRewardsDelivered(t *testing.T) {
	h := newHarness(t)
	r1 := h.reward(1)
	r2 := h.reward(2, "eco give {player} 100")

	out := h.claim()

	require.True(t, out.Succeeded(), "unexpected error: %v", out.Err)
	assert.Equal(t, 2, out.ClaimedCount)
	assert.Equal(t, 0, out.RemainingCount)
	assert.False(t, out.HasRemainder)
	assert.Equal(t, []int64{r1.ID, r2.ID}, out.ClaimedIDs)
	assert.Equal(t, models.RewardStatusClaimed, h.status(r1.ID))
	assert.Equal(t, models.RewardStatusClaimed, h.status(r2.ID))
	assert.Equal(t, 3, h.diamonds())

	snap, _ := h.world.Snapshot(h.player)
	assert.Equal(t, int64(100), snap.Balance)

	assert.Equal(t, []string{MsgAllClaimed}, out.Messages)
	assert.Equal(t, []string{MsgAllClaimed}, h.inbox())
}

func TestClaim_PartialFulfillmentStopsAtFirstMisfit(t *testing.T) {
	h := newHarness(t)
	r1 := h.reward(1)
	r2 := h.reward(1)
	r3 := h.reward(5)
	h.leaveFree(3)

	out := h.claim()

	require.True(t, out.Succeeded())
	assert.Equal(t, 2, out.ClaimedCount)
	assert.Equal(t, 1, out.RemainingCount)
	assert.True(t, out.HasRemainder)
	assert.Equal(t, models.RewardStatusClaimed, h.status(r1.ID))
	assert.Equal(t, models.RewardStatusClaimed, h.status(r2.ID))
	assert.Equal(t, models.RewardStatusPending, h.status(r3.ID))
	assert.Equal(t, []string{MsgPartialClaim, MsgMakeSpace}, out.Messages)
}

func TestClaim_FIFONeverSkipsAhead(t *testing.T) {
	store := &countingStore{}
	h := newHarness(t, withStore(func(m *MemoryRewardStore) RewardStore {
		store.MemoryRewardStore = m
		return store
	}))
	big := h.reward(5)
	small := h.reward(1)
	h.leaveFree(3)

	out := h.claim()

	require.True(t, out.Succeeded())
	assert.Equal(t, 0, out.ClaimedCount)
	assert.Equal(t, 2, out.RemainingCount)
	assert.True(t, out.CapacityExhausted)
	assert.Equal(t, []string{MsgInventoryFull}, out.Messages)
	assert.Equal(t, models.RewardStatusPending, h.status(big.ID))
	assert.Equal(t, models.RewardStatusPending, h.status(small.ID))
	assert.Equal(t, int32(1), store.rollbacks.Load())
	assert.Equal(t, 0, h.diamonds())

	// locks were released: a fresh transaction sees both rows
	tx, err := h.store.Begin(context.Background())
	require.NoError(t, err)
	rows, err := tx.FetchAndLockPending(context.Background(), h.userID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	require.NoError(t, tx.Rollback())
}

func TestClaim_ZeroSlotRewardsAlwaysFit(t *testing.T) {
	h := newHarness(t)
	r := h.backend.AddReward(h.userID, []string{"eco give {player} 5", "flag {player} supporter"})
	h.leaveFree(0)

	out := h.claim()

	require.True(t, out.Succeeded())
	assert.Equal(t, 1, out.ClaimedCount)
	assert.Equal(t, models.RewardStatusClaimed, h.status(r.ID))
}

func TestClaim_EmptySelectionRollsBack(t *testing.T) {
	store := &countingStore{}
	h := newHarness(t, withStore(func(m *MemoryRewardStore) RewardStore {
		store.MemoryRewardStore = m
		return store
	}))

	out := h.claim()

	require.True(t, out.Succeeded())
	assert.Equal(t, 0, out.ClaimedCount)
	assert.Equal(t, 0, out.RemainingCount)
	assert.Equal(t, []string{MsgNoPending}, out.Messages)
	assert.Equal(t, int32(1), store.begins.Load())
	assert.Equal(t, int32(1), store.rollbacks.Load())
	assert.Empty(t, h.events.events)
}

func TestClaim_IdempotentReclaim(t *testing.T) {
	h := newHarness(t)
	h.reward(1)
	h.reward(1)

	first := h.claim()
	second := h.claim()

	assert.Equal(t, 2, first.ClaimedCount)
	assert.Equal(t, 0, second.ClaimedCount)
	assert.Equal(t, []string{MsgNoPending}, second.Messages)
	assert.Equal(t, 2, h.diamonds())
}

func TestClaim_DeliveryFailureMarksRewardFailed(t *testing.T) {
	h := newHarness(t)
	good := h.reward(1)
	bad := h.reward(1, "summon {player} dragon")

	out := h.claim()

	require.True(t, out.Succeeded())
	assert.Equal(t, 1, out.ClaimedCount)
	assert.Equal(t, 1, out.FailedCount)
	assert.Equal(t, 0, out.RemainingCount)
	assert.Equal(t, models.RewardStatusClaimed, h.status(good.ID))
	assert.Equal(t, models.RewardStatusFailed, h.status(bad.ID))
	// the give action of the failed reward still ran
	assert.Equal(t, 2, h.diamonds())
	assert.Equal(t, []string{MsgPartialClaim, MsgDeliveryFailed}, out.Messages)

	// failed rewards are never retried
	again := h.claim()
	assert.Equal(t, []string{MsgNoPending}, again.Messages)

	require.NoError(t, h.engine.Shutdown(context.Background()))
	reports := h.sink.all()
	require.Len(t, reports, 1)
	assert.Equal(t, ReportDeliveryFailed, reports[0].Kind)
	assert.Equal(t, []int64{bad.ID}, reports[0].RewardIDs)
	assert.Equal(t, "Steve", reports[0].PlayerName)
	require.Len(t, reports[0].Deliveries, 1)
	assert.Equal(t, "summon Steve dragon", reports[0].Deliveries[0].Failures[0].Action)
	assert.Contains(t, h.sink.keys[0], "remediation/delivery_failed/steve/")
}

func TestClaim_IdentityUnlinked(t *testing.T) {
	store := &countingStore{}
	h := newHarness(t, withStore(func(m *MemoryRewardStore) RewardStore {
		store.MemoryRewardStore = m
		return store
	}))
	stranger := uuid.New()
	require.NoError(t, h.world.Join(context.Background(), stranger, "Alex"))

	out := h.engine.Claim(context.Background(), stranger, models.ClaimTriggerPlayer)

	assert.Equal(t, models.ClaimErrorIdentityUnlinked, out.ErrorKind)
	assert.ErrorIs(t, out.Err, ErrUserNotFound)
	assert.Equal(t, []string{MsgNotLinked}, out.Messages)
	assert.Equal(t, int32(0), store.begins.Load())
}

func TestClaim_StoreUnavailable(t *testing.T) {
	h := newHarness(t, withStore(func(*MemoryRewardStore) RewardStore {
		return UnavailableStore{Cause: errors.New("connection refused")}
	}))

	out := h.claim()

	assert.Equal(t, models.ClaimErrorStoreUnavailable, out.ErrorKind)
	assert.ErrorIs(t, out.Err, ErrStoreUnavailable)
	assert.Equal(t, []string{MsgClaimError}, out.Messages)
}

func TestClaim_StoreClosedMidSession(t *testing.T) {
	h := newHarness(t)
	h.reward(1)
	_, err := h.engine.Cache().Populate(context.Background(), h.player).Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.store.Close())

	out := h.claim()

	assert.Equal(t, models.ClaimErrorStoreUnavailable, out.ErrorKind)
	assert.Equal(t, 0, h.diamonds())
}

func TestClaim_CommitFailureIsReportedNotCompensated(t *testing.T) {
	store := &countingStore{commitErr: errors.New("connection reset during commit")}
	h := newHarness(t, withStore(func(m *MemoryRewardStore) RewardStore {
		store.MemoryRewardStore = m
		return store
	}))
	r := h.reward(1)

	out := h.claim()

	assert.Equal(t, models.ClaimErrorCommitFailure, out.ErrorKind)
	assert.Equal(t, []string{MsgClaimError}, out.Messages)
	// delivered but still pending: no compensation is attempted
	assert.Equal(t, 1, h.diamonds())
	assert.Equal(t, models.RewardStatusPending, h.status(r.ID))

	require.NoError(t, h.engine.Shutdown(context.Background()))
	reports := h.sink.all()
	require.Len(t, reports, 1)
	assert.Equal(t, ReportCommitFailure, reports[0].Kind)
	assert.Equal(t, []int64{r.ID}, reports[0].RewardIDs)
	assert.Contains(t, reports[0].Error, "connection reset")
}

func TestClaim_OfflinePlayerRollsBack(t *testing.T) {
	h := newHarness(t)
	r := h.reward(1)
	require.NoError(t, h.world.Leave(context.Background(), h.player))

	out := h.claim()

	assert.Equal(t, models.ClaimErrorDeliveryUnavailable, out.ErrorKind)
	assert.Equal(t, 1, out.RemainingCount)
	assert.Equal(t, models.RewardStatusPending, h.status(r.ID))
}

func TestClaim_SkipLockedDoesNotBlock(t *testing.T) {
	h := newHarness(t)
	r := h.reward(1)

	// another server holds the row
	other := NewMemoryRewardStore(h.backend)
	tx, err := other.Begin(context.Background())
	require.NoError(t, err)
	locked, err := tx.FetchAndLockPending(context.Background(), h.userID)
	require.NoError(t, err)
	require.Len(t, locked, 1)

	done := make(chan models.ClaimOutcome, 1)
	go func() { done <- h.claim() }()

	select {
	case out := <-done:
		assert.Equal(t, []string{MsgNoPending}, out.Messages)
		assert.Equal(t, 0, out.ClaimedCount)
	case <-time.After(2 * time.Second):
		t.Fatal("claim blocked on a row locked by another transaction")
	}

	require.NoError(t, tx.Rollback())
	out := h.claim()
	assert.Equal(t, 1, out.ClaimedCount)
	assert.Equal(t, models.RewardStatusClaimed, h.status(r.ID))
}

func TestClaim_AtMostOnceAcrossServers(t *testing.T) {
	const rewards = 30
	backend := NewMemoryBackend()
	a := newHarness(t, withBackend(backend))
	b := newHarness(t, withBackend(backend))

	// the same web account is online on both servers
	backend.mu.Lock()
	backend.users[models.CompactUUID(b.player)] = a.userID
	backend.mu.Unlock()
	b.userID = a.userID

	ids := make([]int64, 0, rewards)
	for i := 0; i < rewards; i++ {
		ids = append(ids, a.reward(1).ID)
	}

	var wg sync.WaitGroup
	var claimed atomic.Int64
	for _, h := range []*harness{a, b} {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(h *harness) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					out := h.claim()
					claimed.Add(int64(out.ClaimedCount))
				}
			}(h)
		}
	}
	wg.Wait()

	assert.Equal(t, int64(rewards), claimed.Load())
	assert.Equal(t, rewards, a.diamonds()+b.diamonds())
	for _, id := range ids {
		assert.Equal(t, models.RewardStatusClaimed, a.status(id))
	}
}

func TestClaim_ScheduledTriggerStaysQuiet(t *testing.T) {
	h := newHarness(t)

	out := h.engine.Claim(context.Background(), h.player, models.ClaimTriggerScheduled)
	assert.Equal(t, []string{MsgNoPending}, out.Messages)
	assert.Empty(t, h.inbox())

	h.reward(1)
	out = h.engine.Claim(context.Background(), h.player, models.ClaimTriggerScheduled)
	assert.Equal(t, 1, out.ClaimedCount)
	assert.Equal(t, []string{MsgAllClaimed}, h.inbox())
}

func TestClaim_PublishesEventAfterCommit(t *testing.T) {
	h := newHarness(t)
	r := h.reward(1)

	out := h.claim()

	require.Len(t, h.events.events, 1)
	ev := h.events.events[0]
	assert.Equal(t, out.AttemptID, ev.AttemptID)
	assert.Equal(t, "test-1", ev.ServerID)
	assert.Equal(t, h.userID, ev.UserID)
	assert.Equal(t, []int64{r.ID}, ev.ClaimedIDs)
	assert.Equal(t, "claimed", ev.Result)
	assert.Equal(t, models.ClaimTriggerPlayer, ev.Trigger)
}

func TestClaim_CacheMissFallsBackToLookup(t *testing.T) {
	h := newHarness(t)
	h.reward(1)

	_, cached := h.engine.Cache().Get(h.player)
	require.False(t, cached)

	out := h.claim()
	assert.Equal(t, 1, out.ClaimedCount)

	id, cached := h.engine.Cache().Get(h.player)
	assert.True(t, cached)
	assert.Equal(t, h.userID, id)
}

func TestClaim_AfterShutdown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.Shutdown(context.Background()))

	out := h.claim()

	assert.Equal(t, models.ClaimErrorEngineUnavailable, out.ErrorKind)
	assert.ErrorIs(t, out.Err, ErrSerializerClosed)
}

func TestOnPlayerJoin_NotifiesPendingRewards(t *testing.T) {
	h := newHarness(t)
	h.reward(1)

	pending, err := h.engine.OnPlayerJoin(h.player).Wait(context.Background())

	require.NoError(t, err)
	assert.True(t, pending)
	assert.Equal(t, []string{MsgPendingOnJoin, MsgPendingHint}, h.inbox())
	id, ok := h.engine.Cache().Get(h.player)
	assert.True(t, ok)
	assert.Equal(t, h.userID, id)
}

func TestOnPlayerJoin_NothingPending(t *testing.T) {
	h := newHarness(t)

	pending, err := h.engine.OnPlayerJoin(h.player).Wait(context.Background())

	require.NoError(t, err)
	assert.False(t, pending)
	assert.Empty(t, h.inbox())
}

func TestOnPlayerLeave_InvalidatesCache(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.OnPlayerJoin(h.player).Wait(context.Background())
	require.NoError(t, err)

	h.engine.OnPlayerLeave(h.player)

	_, ok := h.engine.Cache().Get(h.player)
	assert.False(t, ok)
}

func TestHasPendingRewards(t *testing.T) {
	h := newHarness(t)

	pending, err := h.engine.HasPendingRewards(context.Background(), h.player)
	require.NoError(t, err)
	assert.False(t, pending)

	h.reward(1)
	pending, err = h.engine.HasPendingRewards(context.Background(), h.player)
	require.NoError(t, err)
	assert.True(t, pending)

	pending, err = h.engine.HasPendingRewards(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, pending)
}

// fillsAfterRead reports the free slots, then fills the inventory once, as a
// player picking items up right after the estimate would.
type fillsAfterRead struct {
	h    *harness
	done atomic.Bool
}

func (f *fillsAfterRead) FreeSlots(id uuid.UUID) (int, error) {
	free, err := f.h.world.FreeSlots(id)
	if err == nil && f.done.CompareAndSwap(false, true) {
		for i := 0; i < game.MainInventorySize; i++ {
			_ = f.h.world.SetSlot(context.Background(), id, i, game.ItemStack{Item: "minecraft:dirt", Count: 64})
		}
	}
	return free, err
}

func TestClaim_InventoryFilledBeforeDeliveryStaysPending(t *testing.T) {
	h := newHarness(t, withInventory(func(h *harness) InventoryView { return &fillsAfterRead{h: h} }))
	r := h.reward(1)

	out := h.claim()

	assert.Equal(t, models.ClaimErrorNone, out.ErrorKind)
	assert.True(t, out.CapacityExhausted)
	assert.Equal(t, 1, out.RemainingCount)
	assert.Zero(t, out.FailedCount)
	assert.Equal(t, []string{MsgInventoryFull}, out.Messages)
	assert.Equal(t, models.RewardStatusPending, h.status(r.ID))
	assert.Empty(t, h.sink.all(), "no remediation for a full inventory")

	require.NoError(t, h.world.SetSlot(context.Background(), h.player, 0, game.ItemStack{}))
	out = h.claim()
	assert.Equal(t, 1, out.ClaimedCount)
	assert.Equal(t, models.RewardStatusClaimed, h.status(r.ID))
	assert.Equal(t, 1, h.diamonds())
}

func TestClaim_MultiStackGiveUsesSeveralSlots(t *testing.T) {
	h := newHarness(t)
	big := h.backend.AddReward(h.userID, []string{"give {player} minecraft:diamond 128"})
	h.leaveFree(1)

	out := h.claim()
	assert.True(t, out.CapacityExhausted)
	assert.Equal(t, models.RewardStatusPending, h.status(big.ID))

	require.NoError(t, h.world.SetSlot(context.Background(), h.player, 0, game.ItemStack{}))
	out = h.claim()
	assert.Equal(t, 1, out.ClaimedCount)
	assert.Equal(t, models.RewardStatusClaimed, h.status(big.ID))
	assert.Equal(t, 128, h.diamonds())
}

func TestClaim_OfflineTargetIsNotCached(t *testing.T) {
	h := newHarness(t)
	h.reward(1)
	require.NoError(t, h.world.Leave(context.Background(), h.player))

	out := h.claim()
	assert.Equal(t, models.ClaimErrorDeliveryUnavailable, out.ErrorKind)
	assert.Equal(t, h.userID, out.UserID)

	pending, err := h.engine.HasPendingRewards(context.Background(), h.player)
	require.NoError(t, err)
	assert.True(t, pending)
	assert.Zero(t, h.engine.Cache().Len())

	require.NoError(t, h.world.Join(context.Background(), h.player, "Steve"))
	assert.Equal(t, 1, h.claim().ClaimedCount)
	assert.Equal(t, 1, h.engine.Cache().Len())
}
