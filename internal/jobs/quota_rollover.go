package jobs

import (
	"context"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/scheduler"
)

type QuotaRoller interface {
	RolloverExpired(ctx context.Context) (int, error)
}

// QuotaRolloverJob opens the next window for workspaces whose quota expired
// without traffic. Ingestion rolls windows lazily, so this only keeps the
// table current for readers.
type QuotaRolloverJob struct {
	scheduler.BaseJob
	quota QuotaRoller
}

func NewQuotaRolloverJob(quota QuotaRoller) *QuotaRolloverJob {
	return &QuotaRolloverJob{
		BaseJob: scheduler.NewBaseJob(scheduler.JobNameQuotaRollover, 5*time.Minute, 5*time.Minute, false),
		quota:   quota,
	}
}

func (j *QuotaRolloverJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	n, err := j.quota.RolloverExpired(ctx)
	return &scheduler.JobResult{AffectedCount: n}, err
}
