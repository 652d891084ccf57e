// services/claim_engine.go
package services

import (
	"context"
	"errors"
	"time"

	"shop-reward-system/game"
	"shop-reward-system/models"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Player-facing texts.
const (
	MsgNotLinked      = "Your account is not linked to the web database."
	MsgNoPending      = "You have no pending rewards to claim."
	MsgInventoryFull  = "Your inventory is full. Please make space to claim your items."
	MsgPartialClaim   = "You have claimed some of your rewards!"
	MsgMakeSpace      = "Your inventory is now full. Make more space and type /claim_reward again."
	MsgAllClaimed     = "All your pending rewards have been claimed successfully!"
	MsgDeliveryFailed = "Some of your rewards could not be delivered. Staff have been notified."
	MsgClaimError     = "An error occurred while claiming your rewards. Please try again later."
	MsgPendingOnJoin  = "You have pending rewards from the shop!"
	MsgPendingHint    = "Type /claim_reward to receive them."
)

// Notifier delivers chat messages to a player.
type Notifier interface {
	SendMessages(ctx context.Context, playerID uuid.UUID, messages ...string) error
}

// PresenceView reports whether a player is connected to this server.
type PresenceView interface {
	IsOnline(playerID uuid.UUID) bool
}

// ClaimEventPublisher announces committed claims to other systems.
type ClaimEventPublisher interface {
	PublishClaim(ctx context.Context, event models.ClaimEvent) error
}

type ClaimEngineDeps struct {
	ServerID   string
	Store      RewardStore
	Inventory  InventoryView
	Presence   PresenceView
	Host       DeliveryHost
	Notifier   Notifier
	Events     ClaimEventPublisher
	Reports    ReportSink
	Metrics    *Metrics
	Logger     *zap.Logger
	QueueSize  int
	Serializer *TaskSerializer
}

// ClaimEngine delivers a player's pending shop rewards exactly once.
//
// Every claim runs on the engine's TaskSerializer, so one process never has
// two claim transactions open at the same time. Across processes, row locks
// with SKIP LOCKED keep two servers from delivering the same reward.
type ClaimEngine struct {
	serverID   string
	store      RewardStore
	cache      *IdentityCache
	capacity   *CapacityEstimator
	presence   PresenceView
	delivery   *DeliveryExecutor
	serializer *TaskSerializer
	notifier   Notifier
	events     ClaimEventPublisher
	reports    *remediationReporter
	metrics    *Metrics
	logger     *zap.Logger
}

func NewClaimEngine(deps ClaimEngineDeps) *ClaimEngine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("claim")

	serializer := deps.Serializer
	if serializer == nil {
		size := deps.QueueSize
		if size <= 0 {
			size = 1024
		}
		serializer = NewTaskSerializer(logger, size)
	}

	e := &ClaimEngine{
		serverID:   deps.ServerID,
		store:      deps.Store,
		cache:      NewIdentityCache(deps.Store, serializer, logger),
		capacity:   NewCapacityEstimator(deps.Inventory),
		presence:   deps.Presence,
		delivery:   NewDeliveryExecutor(deps.Host, logger),
		serializer: serializer,
		notifier:   deps.Notifier,
		events:     deps.Events,
		reports:    newRemediationReporter(deps.Reports, logger),
		metrics:    deps.Metrics,
		logger:     logger,
	}
	e.metrics.watchCache(e.cache)
	return e
}

func (e *ClaimEngine) Cache() *IdentityCache {
	return e.cache
}

// ClaimAsync queues a claim for the player.
func (e *ClaimEngine) ClaimAsync(playerID uuid.UUID, trigger models.ClaimTrigger) *Future[models.ClaimOutcome] {
	return Submit(e.serializer, func() (models.ClaimOutcome, error) {
		return e.claim(context.Background(), playerID, trigger), nil
	})
}

// Claim queues a claim and waits for its outcome. Errors never escape: they
// are reported through ClaimOutcome.ErrorKind.
func (e *ClaimEngine) Claim(ctx context.Context, playerID uuid.UUID, trigger models.ClaimTrigger) models.ClaimOutcome {
	out, err := e.ClaimAsync(playerID, trigger).Wait(ctx)
	if err != nil {
		return models.ClaimOutcome{
			PlayerID:  playerID,
			ErrorKind: models.ClaimErrorEngineUnavailable,
			Messages:  []string{MsgClaimError},
			Err:       err,
		}
	}
	return out
}

func (e *ClaimEngine) claim(ctx context.Context, playerID uuid.UUID, trigger models.ClaimTrigger) (out models.ClaimOutcome) {
	start := time.Now()
	out = models.ClaimOutcome{AttemptID: ulid.Make().String(), PlayerID: playerID}
	log := e.logger.With(
		zap.String("attempt_id", out.AttemptID),
		zap.Stringer("player", playerID),
		zap.String("trigger", string(trigger)),
	)

	defer func() {
		e.metrics.observeClaim(out, trigger, time.Since(start))
		e.notify(ctx, out, trigger, log)
	}()

	userID, err := e.resolveUser(ctx, playerID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			log.Info("[CLAIM] player has no linked web account")
			return unlinkedOutcome(out, err)
		}
		log.Error("[CLAIM] user lookup failed", zap.Error(err))
		return failedOutcome(out, storeErrorKind(err), err)
	}
	out.UserID = userID
	log = log.With(zap.Int64("user_id", userID))

	tx, err := e.store.Begin(ctx)
	if err != nil {
		log.Error("[CLAIM] could not open transaction", zap.Error(err))
		return failedOutcome(out, storeErrorKind(err), err)
	}
	finished := false
	defer func() {
		if finished {
			return
		}
		if err := tx.Rollback(); err != nil && !errors.Is(err, ErrTxDone) {
			log.Warn("[CLAIM] rollback failed", zap.Error(err))
		}
	}()

	rewards, err := tx.FetchAndLockPending(ctx, userID)
	if err != nil {
		log.Error("[CLAIM] could not lock pending rewards", zap.Error(err))
		return failedOutcome(out, storeErrorKind(err), err)
	}
	if len(rewards) == 0 {
		out.Messages = []string{MsgNoPending}
		return out
	}

	available, err := e.capacity.FreeCapacity(playerID)
	if err != nil {
		log.Warn("[CLAIM] player inventory unavailable", zap.Error(err))
		out.RemainingCount = len(rewards)
		return failedOutcome(out, models.ClaimErrorDeliveryUnavailable, err)
	}

	accepted, hasRemainder := SelectRewards(rewards, available)
	out.HasRemainder = hasRemainder
	if len(accepted) == 0 {
		out.RemainingCount = len(rewards)
		out.CapacityExhausted = true
		out.Messages = []string{MsgInventoryFull}
		if need := RequiredCapacity(rewards[0]); need > game.MainInventorySize {
			log.Warn("[CLAIM] oldest reward needs more slots than any inventory has, queue is blocked",
				zap.Int64("reward_id", rewards[0].ID), zap.Int("slots_needed", need))
		}
		return out
	}

	report, err := e.delivery.Execute(ctx, playerID, accepted)
	if errors.Is(err, ErrInventoryChanged) {
		log.Info("[CLAIM] inventory filled up before delivery, rolling back", zap.Error(err))
		out.RemainingCount = len(rewards)
		out.HasRemainder = true
		out.CapacityExhausted = true
		out.Messages = []string{MsgInventoryFull}
		return out
	}
	if err != nil {
		log.Warn("[CLAIM] delivery could not start, rolling back", zap.Error(err))
		out.RemainingCount = len(rewards)
		return failedOutcome(out, models.ClaimErrorDeliveryUnavailable, err)
	}

	var claimedIDs, failedIDs []int64
	var failed []RewardDelivery
	for _, d := range report.Rewards {
		if d.Delivered() {
			claimedIDs = append(claimedIDs, d.RewardID)
		} else {
			failedIDs = append(failedIDs, d.RewardID)
			failed = append(failed, d)
		}
	}
	out.ClaimedIDs, out.FailedIDs = claimedIDs, failedIDs

	// Items are in the player's hands from here on. Any store error is a commit failure.
	if err := tx.UpdateStatuses(ctx, claimedIDs, models.RewardStatusClaimed); err != nil {
		return e.commitFailure(out, report, log, err)
	}
	if err := tx.UpdateStatuses(ctx, failedIDs, models.RewardStatusFailed); err != nil {
		return e.commitFailure(out, report, log, err)
	}
	finished = true
	if err := tx.Commit(); err != nil {
		return e.commitFailure(out, report, log, err)
	}

	out.ClaimedCount = len(claimedIDs)
	out.FailedCount = len(failedIDs)
	out.RemainingCount = len(rewards) - out.ClaimedCount - out.FailedCount
	out.Messages = claimMessages(out)

	log.Info("[CLAIM] rewards delivered",
		zap.Int("claimed", out.ClaimedCount),
		zap.Int("failed", out.FailedCount),
		zap.Int("remaining", out.RemainingCount))

	if len(failed) > 0 {
		e.reports.file(RemediationReport{
			Kind:       ReportDeliveryFailed,
			AttemptID:  out.AttemptID,
			ServerID:   e.serverID,
			PlayerID:   playerID,
			PlayerName: report.PlayerName,
			UserID:     userID,
			RewardIDs:  failedIDs,
			Deliveries: failed,
			CreatedAt:  time.Now().UTC(),
		})
	}
	e.publish(ctx, out, trigger, log)
	return out
}

// commitFailure handles a store error after delivery. Nothing is compensated;
// the incident is logged at the highest level and filed for manual repair.
func (e *ClaimEngine) commitFailure(out models.ClaimOutcome, report DeliveryReport, log *zap.Logger, err error) models.ClaimOutcome {
	delivered := append(append([]int64(nil), out.ClaimedIDs...), out.FailedIDs...)
	log.DPanic("[CLAIM] commit failed after delivery, rewards may be delivered again",
		zap.Int64s("reward_ids", delivered), zap.Error(err))

	e.reports.file(RemediationReport{
		Kind:       ReportCommitFailure,
		AttemptID:  out.AttemptID,
		ServerID:   e.serverID,
		PlayerID:   out.PlayerID,
		PlayerName: report.PlayerName,
		UserID:     out.UserID,
		RewardIDs:  delivered,
		Deliveries: report.Rewards,
		Error:      err.Error(),
		CreatedAt:  time.Now().UTC(),
	})

	out.ClaimedIDs, out.FailedIDs = nil, nil
	return failedOutcome(out, models.ClaimErrorCommitFailure, err)
}

func unlinkedOutcome(out models.ClaimOutcome, err error) models.ClaimOutcome {
	out.ErrorKind = models.ClaimErrorIdentityUnlinked
	out.Err = err
	out.Messages = []string{MsgNotLinked}
	return out
}

func failedOutcome(out models.ClaimOutcome, kind models.ClaimErrorKind, err error) models.ClaimOutcome {
	out.ErrorKind = kind
	out.Err = err
	out.Messages = []string{MsgClaimError}
	return out
}

func claimMessages(out models.ClaimOutcome) []string {
	var msgs []string
	switch {
	case out.ClaimedCount > 0 && (out.HasRemainder || out.FailedCount > 0):
		msgs = append(msgs, MsgPartialClaim)
	case out.ClaimedCount > 0:
		msgs = append(msgs, MsgAllClaimed)
	}
	if out.FailedCount > 0 {
		msgs = append(msgs, MsgDeliveryFailed)
	}
	if out.HasRemainder {
		msgs = append(msgs, MsgMakeSpace)
	}
	return msgs
}

// notify sends the outcome to the player. Scheduled claims stay quiet unless
// something was actually delivered.
func (e *ClaimEngine) notify(ctx context.Context, out models.ClaimOutcome, trigger models.ClaimTrigger, log *zap.Logger) {
	if e.notifier == nil || len(out.Messages) == 0 {
		return
	}
	if trigger == models.ClaimTriggerScheduled && out.ClaimedCount+out.FailedCount == 0 {
		return
	}
	if err := e.notifier.SendMessages(ctx, out.PlayerID, out.Messages...); err != nil {
		log.Debug("[CLAIM] could not message player", zap.Error(err))
	}
}

func (e *ClaimEngine) publish(ctx context.Context, out models.ClaimOutcome, trigger models.ClaimTrigger, log *zap.Logger) {
	if e.events == nil {
		return
	}
	event := models.ClaimEvent{
		AttemptID:  out.AttemptID,
		ServerID:   e.serverID,
		PlayerID:   out.PlayerID,
		UserID:     out.UserID,
		Trigger:    trigger,
		Result:     out.Result(),
		ClaimedIDs: out.ClaimedIDs,
		FailedIDs:  out.FailedIDs,
		Remaining:  out.RemainingCount,
		OccurredAt: time.Now().UTC(),
	}
	if err := e.events.PublishClaim(ctx, event); err != nil {
		log.Warn("[CLAIM] could not publish claim event", zap.Error(err))
	}
}

// resolveUser caches only online players; their leave event clears the entry.
func (e *ClaimEngine) resolveUser(ctx context.Context, playerID uuid.UUID) (int64, error) {
	if e.presence != nil && !e.presence.IsOnline(playerID) {
		return e.cache.Lookup(ctx, playerID)
	}
	return e.cache.Resolve(ctx, playerID)
}

// HasPendingRewards reports whether the player has anything waiting. An
// unlinked player simply has nothing pending.
func (e *ClaimEngine) HasPendingRewards(ctx context.Context, playerID uuid.UUID) (bool, error) {
	return Submit(e.serializer, func() (bool, error) {
		return e.hasPending(ctx, playerID)
	}).Wait(ctx)
}

func (e *ClaimEngine) hasPending(ctx context.Context, playerID uuid.UUID) (bool, error) {
	userID, err := e.resolveUser(ctx, playerID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.store.HasPendingRewards(ctx, userID)
}

// OnPlayerJoin warms the identity cache and tells the player about waiting
// rewards. The returned future resolves once the check ran.
func (e *ClaimEngine) OnPlayerJoin(playerID uuid.UUID) *Future[bool] {
	ctx := context.Background()
	e.cache.Populate(ctx, playerID)
	return Submit(e.serializer, func() (bool, error) {
		pending, err := e.hasPending(ctx, playerID)
		if err != nil {
			e.logger.Warn("[CLAIM] pending check on join failed", zap.Stringer("player", playerID), zap.Error(err))
			return false, err
		}
		if pending && e.notifier != nil {
			if err := e.notifier.SendMessages(ctx, playerID, MsgPendingOnJoin, MsgPendingHint); err != nil {
				e.logger.Debug("[CLAIM] could not message player", zap.Stringer("player", playerID), zap.Error(err))
			}
		}
		return pending, nil
	})
}

func (e *ClaimEngine) OnPlayerLeave(playerID uuid.UUID) {
	e.cache.Invalidate(playerID)
}

// Shutdown stops intake, drains queued claims and waits for report uploads.
func (e *ClaimEngine) Shutdown(ctx context.Context) error {
	if err := e.serializer.Shutdown(ctx); err != nil {
		return err
	}
	return e.reports.wait(ctx)
}
