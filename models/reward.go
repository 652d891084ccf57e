// models/reward.go
package models

import "time"

// RewardStatus is the delivery state of a shop purchase.
// pending -> claimed | failed, never back.
type RewardStatus string

const (
	RewardStatusPending RewardStatus = "pending"
	RewardStatusClaimed RewardStatus = "claimed"
	RewardStatusFailed  RewardStatus = "failed"
)

// PendingReward is a purchase recorded by the web shop and awaiting in-game delivery.
// The table is owned by the shop; this service only locks rows and moves their status.
type PendingReward struct {
	ID        int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64        `gorm:"not null;index:idx_pending_rewards_user_status,priority:1" json:"user_id"`
	Actions   []string     `gorm:"column:commands;type:jsonb;serializer:json;not null" json:"commands"`
	Status    RewardStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_pending_rewards_user_status,priority:2" json:"status"`
	CreatedAt time.Time    `gorm:"index" json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (PendingReward) TableName() string {
	return "pending_rewards"
}

// RewardIDs returns the ids of the given rewards in order.
func RewardIDs(rewards []PendingReward) []int64 {
	ids := make([]int64, 0, len(rewards))
	for _, r := range rewards {
		ids = append(ids, r.ID)
	}
	return ids
}
