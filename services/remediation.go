// services/remediation.go
package services

import (
	"context"
	"sync"
	"time"

	"shop-reward-system/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ReportDeliveryFailed = "delivery_failed"
	ReportCommitFailure  = "commit_failure"
)

// ReportSink stores remediation reports, e.g. an R2 bucket.
type ReportSink interface {
	PutJSON(ctx context.Context, key string, v any) (string, error)
}

// RemediationReport gives staff what they need to fix a reward by hand.
type RemediationReport struct {
	Kind       string           `json:"kind"`
	AttemptID  string           `json:"attempt_id"`
	ServerID   string           `json:"server_id"`
	PlayerID   uuid.UUID        `json:"player_id"`
	PlayerName string           `json:"player_name"`
	UserID     int64            `json:"user_id"`
	RewardIDs  []int64          `json:"reward_ids"`
	Deliveries []RewardDelivery `json:"deliveries,omitempty"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// remediationReporter uploads reports in the background so a slow bucket
// never holds up the claim queue.
type remediationReporter struct {
	sink   ReportSink
	logger *zap.Logger
	wg     sync.WaitGroup
}

func newRemediationReporter(sink ReportSink, logger *zap.Logger) *remediationReporter {
	return &remediationReporter{sink: sink, logger: logger.Named("remediation")}
}

func (r *remediationReporter) file(report RemediationReport) {
	if r.sink == nil {
		return
	}
	key := utils.ObjectKey("remediation/"+report.Kind, report.PlayerName, report.AttemptID, "json")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		url, err := r.sink.PutJSON(ctx, key, report)
		if err != nil {
			r.logger.Error("[REMEDIATION] failed to upload report",
				zap.String("kind", report.Kind), zap.String("attempt_id", report.AttemptID), zap.Error(err))
			return
		}
		r.logger.Info("[REMEDIATION] report filed", zap.String("kind", report.Kind), zap.String("url", url))
	}()
}

func (r *remediationReporter) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
