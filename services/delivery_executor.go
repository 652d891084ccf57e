// services/delivery_executor.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shop-reward-system/game"
	"shop-reward-system/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DeliveryHost runs work on the goroutine that owns player state.
type DeliveryHost interface {
	ExecuteForPlayer(ctx context.Context, playerID uuid.UUID, fn func(s *game.CommandSession) error) error
}

type ActionFailure struct {
	Action string `json:"action"`
	Error  string `json:"error"`
}

type RewardDelivery struct {
	RewardID int64           `json:"reward_id"`
	Failures []ActionFailure `json:"failures,omitempty"`
}

func (d RewardDelivery) Delivered() bool {
	return len(d.Failures) == 0
}

type DeliveryReport struct {
	PlayerName string
	Rewards    []RewardDelivery
}

type DeliveryExecutor struct {
	host   DeliveryHost
	logger *zap.Logger
}

func NewDeliveryExecutor(host DeliveryHost, logger *zap.Logger) *DeliveryExecutor {
	return &DeliveryExecutor{host: host, logger: logger.Named("delivery")}
}

// Execute applies every action of every reward on the owner goroutine and
// waits for it. Actions are independent: a failing action is recorded and the
// rest still run. ErrDeliveryUnavailable and ErrInventoryChanged mean nothing
// was applied.
func (e *DeliveryExecutor) Execute(ctx context.Context, playerID uuid.UUID, batch []models.PendingReward) (DeliveryReport, error) {
	var report DeliveryReport

	// Once handed off the batch must run to completion, so the wait ignores cancellation.
	need := BatchCapacity(batch)
	err := e.host.ExecuteForPlayer(context.WithoutCancel(ctx), playerID, func(s *game.CommandSession) error {
		// The estimate was read before this task ran; the player may have picked
		// something up since.
		if free := s.FreeSlots(); free < need {
			return fmt.Errorf("%w: need %d slots, %d free", ErrInventoryChanged, need, free)
		}
		report.PlayerName = s.PlayerName()
		report.Rewards = make([]RewardDelivery, 0, len(batch))
		for _, reward := range batch {
			d := RewardDelivery{RewardID: reward.ID}
			for _, action := range reward.Actions {
				command := strings.ReplaceAll(action, "{player}", s.PlayerName())
				if err := runAction(s, command); err != nil {
					d.Failures = append(d.Failures, ActionFailure{Action: command, Error: err.Error()})
					e.logger.Error("[DELIVERY] action failed",
						zap.Int64("reward_id", reward.ID),
						zap.String("action", command),
						zap.String("player", s.PlayerName()),
						zap.Error(err))
				}
			}
			report.Rewards = append(report.Rewards, d)
		}
		return nil
	})
	if errors.Is(err, ErrInventoryChanged) {
		return DeliveryReport{}, err
	}
	if err != nil {
		return DeliveryReport{}, fmt.Errorf("%w: %w", ErrDeliveryUnavailable, err)
	}
	return report, nil
}

func runAction(s *game.CommandSession, command string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return s.Run(command)
}
