// services/capacity.go
package services

import (
	"strconv"
	"strings"

	"shop-reward-system/game"
	"shop-reward-system/models"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// InventoryView reads a player's live inventory.
type InventoryView interface {
	FreeSlots(playerID uuid.UUID) (int, error)
}

type CapacityEstimator struct {
	inventory InventoryView
}

func NewCapacityEstimator(inventory InventoryView) *CapacityEstimator {
	return &CapacityEstimator{inventory: inventory}
}

// FreeCapacity is the number of empty main-inventory slots right now.
func (e *CapacityEstimator) FreeCapacity(playerID uuid.UUID) (int, error) {
	return e.inventory.FreeSlots(playerID)
}

// RequiredCapacity counts the slots the reward's give actions fill. A give
// takes one slot per started stack of its count; anything else takes none.
func RequiredCapacity(reward models.PendingReward) int {
	folder := cases.Fold()
	n := 0
	for _, action := range reward.Actions {
		action = strings.TrimPrefix(strings.TrimLeft(action, " \t"), "/")
		if !strings.HasPrefix(folder.String(action), "give ") {
			continue
		}
		count := 1
		if fields := strings.Fields(action); len(fields) >= 4 {
			if c, err := strconv.Atoi(fields[3]); err == nil && c > 0 {
				count = c
			}
		}
		n += game.StacksFor(count)
	}
	return n
}

// BatchCapacity is the slot total of a batch.
func BatchCapacity(rewards []models.PendingReward) int {
	n := 0
	for _, r := range rewards {
		n += RequiredCapacity(r)
	}
	return n
}

// SelectRewards takes rewards in order while they fit into available slots
// and stops at the first one that does not. It never skips ahead.
func SelectRewards(rewards []models.PendingReward, available int) (accepted []models.PendingReward, hasRemainder bool) {
	for i, r := range rewards {
		need := RequiredCapacity(r)
		if need > available {
			return rewards[:i], true
		}
		available -= need
	}
	return rewards, false
}
