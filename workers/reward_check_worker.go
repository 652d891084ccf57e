package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shop-reward-system/models"
	"shop-reward-system/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OnlinePlayers lists who is connected right now.
type OnlinePlayers interface {
	OnlinePlayers() []uuid.UUID
}

// Claimer queues a claim attempt.
type Claimer interface {
	ClaimAsync(playerID uuid.UUID, trigger models.ClaimTrigger) *services.Future[models.ClaimOutcome]
}

// RewardCheckWorker periodically claims for every online player, so purchases
// arrive without the player typing anything.
type RewardCheckWorker struct {
	players  OnlinePlayers
	claimer  Claimer
	interval time.Duration
	logger   *zap.Logger

	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	stopOnce  sync.Once
}

// CheckSummary is the tally of one tick.
type CheckSummary struct {
	Players int
	Claimed int
	Failed  int
	Errors  int
}

func NewRewardCheckWorker(players OnlinePlayers, claimer Claimer, interval time.Duration, logger *zap.Logger) (*RewardCheckWorker, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("reward check interval must be positive, got %s", interval)
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RewardCheckWorker{
		players:   players,
		claimer:   claimer,
		interval:  interval,
		logger:    logger.Named("reward_check"),
		scheduler: sched,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start schedules the check. The first tick fires one interval from now.
func (w *RewardCheckWorker) Start() error {
	_, err := w.scheduler.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() { w.RunOnce(w.ctx) }),
		gocron.WithName("reward-check"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule reward check: %w", err)
	}
	w.scheduler.Start()
	w.logger.Info("⏱️ [REWARD_CHECK] scheduled", zap.Duration("interval", w.interval))
	return nil
}

// RunOnce queues a scheduled claim for each online player and waits for all
// of them. Claims stay serialized by the engine.
func (w *RewardCheckWorker) RunOnce(ctx context.Context) CheckSummary {
	ids := w.players.OnlinePlayers()
	summary := CheckSummary{Players: len(ids)}
	if len(ids) == 0 {
		return summary
	}

	futures := make([]*services.Future[models.ClaimOutcome], len(ids))
	for i, id := range ids {
		futures[i] = w.claimer.ClaimAsync(id, models.ClaimTriggerScheduled)
	}

	for i, f := range futures {
		out, err := f.Wait(ctx)
		if err != nil {
			summary.Errors++
			w.logger.Warn("[REWARD_CHECK] claim did not finish", zap.Stringer("player", ids[i]), zap.Error(err))
			continue
		}
		summary.Claimed += out.ClaimedCount
		summary.Failed += out.FailedCount
		switch out.ErrorKind {
		case models.ClaimErrorNone, models.ClaimErrorIdentityUnlinked:
		default:
			summary.Errors++
		}
	}

	if summary.Claimed+summary.Failed+summary.Errors > 0 {
		w.logger.Info("✅ [REWARD_CHECK] tick done",
			zap.Int("players", summary.Players),
			zap.Int("claimed", summary.Claimed),
			zap.Int("failed", summary.Failed),
			zap.Int("errors", summary.Errors))
	}
	return summary
}

// Shutdown stops future ticks and waits for a running one to return.
func (w *RewardCheckWorker) Shutdown() error {
	var err error
	w.stopOnce.Do(func() {
		w.cancel()
		err = w.scheduler.Shutdown()
	})
	return err
}
