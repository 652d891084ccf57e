package models

import (
	"time"

	"github.com/google/uuid"
)

// ClaimTrigger records what started a claim attempt.
type ClaimTrigger string

const (
	ClaimTriggerPlayer    ClaimTrigger = "player"
	ClaimTriggerScheduled ClaimTrigger = "scheduled"
	ClaimTriggerOperator  ClaimTrigger = "operator"
)

// ClaimEvent is published after a claim transaction commits.
type ClaimEvent struct {
	AttemptID  string       `json:"attempt_id"`
	ServerID   string       `json:"server_id"`
	PlayerID   uuid.UUID    `json:"player_id"`
	UserID     int64        `json:"user_id"`
	Trigger    ClaimTrigger `json:"trigger"`
	Result     string       `json:"result"`
	ClaimedIDs []int64      `json:"claimed_ids"`
	FailedIDs  []int64      `json:"failed_ids"`
	Remaining  int          `json:"remaining"`
	OccurredAt time.Time    `json:"occurred_at"`
}
