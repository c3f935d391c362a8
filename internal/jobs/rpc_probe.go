package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/blockchain"
	"github.com/tryethernal/ethernal-sub004/internal/metrics"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/scheduler"
	"github.com/tryethernal/ethernal-sub004/internal/service"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ProbeTargets interface {
	ListWithRpcServer(ctx context.Context) ([]*model.Workspace, error)
}

type HealthRecorder interface {
	RecordResult(ctx context.Context, workspaceID int64, reachable bool) (*service.RpcHealthResult, error)
}

// SyncControl halts and resumes a workspace's sync. A nil control only logs.
type SyncControl interface {
	StopSync(ctx context.Context, workspaceID int64, reason string) error
	ResumeSync(ctx context.Context, workspaceID int64) error
}

// RpcProbeJob checks every workspace's RPC endpoint, stops sync for the ones
// that crossed the failure threshold and resumes it for the ones that recovered.
type RpcProbeJob struct {
	scheduler.BaseJob
	targets     ProbeTargets
	prober      blockchain.Prober
	health      HealthRecorder
	sync        SyncControl
	concurrency int
}

func NewRpcProbeJob(targets ProbeTargets, prober blockchain.Prober, health HealthRecorder, sync SyncControl, concurrency int) *RpcProbeJob {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &RpcProbeJob{
		BaseJob:     scheduler.NewBaseJob(scheduler.JobNameRpcProbe, 50*time.Second, time.Minute, false),
		targets:     targets,
		prober:      prober,
		health:      health,
		sync:        sync,
		concurrency: concurrency,
	}
}

func (j *RpcProbeJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	workspaces, err := j.targets.ListWithRpcServer(ctx)
	if err != nil {
		return nil, err
	}

	var unreachable, stopped, resumed, failed int64
	var g errgroup.Group
	g.SetLimit(j.concurrency)
	for _, ws := range workspaces {
		ws := ws
		g.Go(func() error {
			res, err := j.probe(ctx, ws)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				logger.Error("rpc probe bookkeeping failed", zap.Int64("workspace_id", ws.ID), zap.Error(err))
				return nil
			}
			if !res.IsReachable {
				atomic.AddInt64(&unreachable, 1)
			}
			if res.ThresholdCrossed {
				atomic.AddInt64(&stopped, 1)
				j.stop(ctx, res)
			}
			if res.Recovered {
				atomic.AddInt64(&resumed, 1)
				j.resume(ctx, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	return &scheduler.JobResult{
		ProcessedCount: len(workspaces),
		AffectedCount:  int(stopped + resumed),
		ErrorCount:     int(failed),
		Details:        map[string]interface{}{"unreachable": unreachable, "stopped": stopped, "resumed": resumed},
	}, nil
}

func (j *RpcProbeJob) probe(ctx context.Context, ws *model.Workspace) (*service.RpcHealthResult, error) {
	perr := j.prober.Probe(ctx, ws.RpcServer)
	metrics.RecordRpcProbe(perr == nil)
	if perr != nil {
		logger.Debug("rpc endpoint unreachable", zap.Int64("workspace_id", ws.ID), zap.Error(perr))
	}
	return j.health.RecordResult(ctx, ws.ID, perr == nil)
}

// stop signals the control plane. Send failures are only logged.
func (j *RpcProbeJob) stop(ctx context.Context, res *service.RpcHealthResult) {
	metrics.SyncStopsTotal.Inc()
	logger.Warn("rpc failure threshold crossed, stopping sync",
		zap.Int64("workspace_id", res.WorkspaceID),
		zap.Int("failed_attempts", res.FailedAttempts))
	if j.sync == nil {
		return
	}
	if err := j.sync.StopSync(ctx, res.WorkspaceID, "rpc unreachable"); err != nil {
		logger.Error("failed to send stop sync", zap.Int64("workspace_id", res.WorkspaceID), zap.Error(err))
	}
}

func (j *RpcProbeJob) resume(ctx context.Context, res *service.RpcHealthResult) {
	logger.Info("rpc endpoint recovered, resuming sync", zap.Int64("workspace_id", res.WorkspaceID))
	if j.sync == nil {
		return
	}
	if err := j.sync.ResumeSync(ctx, res.WorkspaceID); err != nil {
		logger.Error("failed to send resume sync", zap.Int64("workspace_id", res.WorkspaceID), zap.Error(err))
	}
}
