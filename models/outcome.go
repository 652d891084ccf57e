// models/outcome.go
package models

import "github.com/google/uuid"

// ClaimErrorKind classifies why a claim attempt did not run to completion.
// The zero value means the attempt succeeded (possibly with nothing to deliver).
type ClaimErrorKind string

const (
	ClaimErrorNone                ClaimErrorKind = ""
	ClaimErrorIdentityUnlinked    ClaimErrorKind = "identity_unlinked"
	ClaimErrorStoreUnavailable    ClaimErrorKind = "store_unavailable"
	ClaimErrorStore               ClaimErrorKind = "store_error"
	ClaimErrorCommitFailure       ClaimErrorKind = "commit_failure"
	ClaimErrorDeliveryUnavailable ClaimErrorKind = "delivery_unavailable"
	ClaimErrorEngineUnavailable   ClaimErrorKind = "engine_unavailable"
)

// ClaimOutcome is the result of one claim attempt for one player.
type ClaimOutcome struct {
	AttemptID         string         `json:"attempt_id"`
	PlayerID          uuid.UUID      `json:"player_id"`
	UserID            int64          `json:"user_id,omitempty"`
	ClaimedCount      int            `json:"claimed_count"`
	FailedCount       int            `json:"failed_count"`
	RemainingCount    int            `json:"remaining_count"`
	HasRemainder      bool           `json:"has_remainder"`
	CapacityExhausted bool           `json:"capacity_exhausted"`
	ErrorKind         ClaimErrorKind `json:"error_kind,omitempty"`
	ClaimedIDs        []int64        `json:"claimed_ids,omitempty"`
	FailedIDs         []int64        `json:"failed_ids,omitempty"`
	Messages          []string       `json:"messages"`
	Err               error          `json:"-"`
}

func (o ClaimOutcome) Succeeded() bool {
	return o.ErrorKind == ClaimErrorNone
}

// Result is a short label for logs, metrics and events.
func (o ClaimOutcome) Result() string {
	switch {
	case o.ErrorKind != ClaimErrorNone:
		return string(o.ErrorKind)
	case o.CapacityExhausted:
		return "capacity_exhausted"
	case o.ClaimedCount == 0 && o.FailedCount == 0:
		return "empty"
	case o.HasRemainder:
		return "partial"
	case o.ClaimedCount == 0:
		return "failed"
	default:
		return "claimed"
	}
}
