package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/repository"
	"github.com/tryethernal/ethernal-sub004/internal/scheduler"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
)

const dayMs = int64(24 * time.Hour / time.Millisecond)

// RollupRefreshJob recomputes the daily aggregates for the last few days.
type RollupRefreshJob struct {
	scheduler.BaseJob
	rollups repository.RollupRepository
	days    int
	now     func() time.Time
}

func NewRollupRefreshJob(rollups repository.RollupRepository, days int) *RollupRefreshJob {
	if days <= 0 {
		days = 2
	}
	return &RollupRefreshJob{
		BaseJob: scheduler.NewBaseJob(scheduler.JobNameRollupRefresh, 5*time.Minute, 5*time.Minute, false),
		rollups: rollups,
		days:    days,
		now:     time.Now,
	}
}

func (j *RollupRefreshJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	today := repository.DayStart(j.now().UnixMilli())
	tr := repository.TimeRange{Start: today - int64(j.days-1)*dayMs, End: today + dayMs}

	result := &scheduler.JobResult{Details: make(map[string]interface{})}

	n, err := j.rollups.RefreshTransactionDaily(ctx, tr)
	if err != nil {
		return result, fmt.Errorf("refresh transaction daily: %w", err)
	}
	result.Details["transaction_daily"] = n
	result.AffectedCount += int(n)

	n, err = j.rollups.RefreshTokenTransferDaily(ctx, tr)
	if err != nil {
		return result, fmt.Errorf("refresh token transfer daily: %w", err)
	}
	result.Details["token_transfer_daily"] = n
	result.AffectedCount += int(n)

	for day := tr.Start; day < tr.End; day += dayMs {
		n, err = j.rollups.RefreshActiveWallets(ctx, day)
		if err != nil {
			return result, fmt.Errorf("refresh active wallets: %w", err)
		}
		result.AffectedCount += int(n)
		result.ProcessedCount++
	}

	logger.Debug("rollups refreshed", zap.Int("days", j.days), zap.Int("rows", result.AffectedCount))
	return result, nil
}
