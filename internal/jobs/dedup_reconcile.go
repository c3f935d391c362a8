package jobs

import (
	"context"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/scheduler"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
)

type WorkspaceLister interface {
	ListIDs(ctx context.Context) ([]int64, error)
}

type Reconciler interface {
	ReconcileAll(ctx context.Context, workspaceIDs []int64) (int, error)
}

// DedupReconcileJob sweeps duplicate balance changes across all workspaces.
type DedupReconcileJob struct {
	scheduler.BaseJob
	workspaces WorkspaceLister
	reconciler Reconciler
}

func NewDedupReconcileJob(workspaces WorkspaceLister, reconciler Reconciler) *DedupReconcileJob {
	return &DedupReconcileJob{
		BaseJob:    scheduler.NewBaseJob(scheduler.JobNameDedupReconcile, 10*time.Minute, 15*time.Minute, true),
		workspaces: workspaces,
		reconciler: reconciler,
	}
}

func (j *DedupReconcileJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	ids, err := j.workspaces.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	removed, err := j.reconciler.ReconcileAll(ctx, ids)
	result := &scheduler.JobResult{ProcessedCount: len(ids), AffectedCount: removed}
	if err != nil {
		return result, err
	}
	if removed > 0 {
		logger.Info("duplicate balance changes removed", zap.Int("rows", removed))
	}
	return result, nil
}
