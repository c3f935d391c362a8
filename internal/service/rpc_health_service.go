package service

import (
	"context"
	"errors"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/metrics"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/repository"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
)

const DefaultMaxFailedAttempts = 3

// StopPolicy decides on which failing updates the stop signal is raised.
type StopPolicy string

const (
	// StopPolicyOnce signals on the update that first exceeds the threshold.
	StopPolicyOnce StopPolicy = "once"
	// StopPolicyEvery signals on every failing update above the threshold.
	StopPolicyEvery StopPolicy = "every"
)

type RpcHealthResult struct {
	WorkspaceID      int64
	IsReachable      bool
	FailedAttempts   int
	ThresholdCrossed bool
	// Recovered is set when a reachable probe clears an earlier sync stop.
	Recovered bool
}

// RpcHealthService counts consecutive probe failures. The caller acts on
// ThresholdCrossed; this service never stops anything itself.
type RpcHealthService struct {
	txm         repository.TxManager
	repo        repository.RpcHealthRepository
	maxFailures int
	policy      StopPolicy
	now         func() time.Time
}

func NewRpcHealthService(txm repository.TxManager, repo repository.RpcHealthRepository, maxFailures int, policy StopPolicy) *RpcHealthService {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailedAttempts
	}
	if policy != StopPolicyEvery {
		policy = StopPolicyOnce
	}
	return &RpcHealthService{txm: txm, repo: repo, maxFailures: maxFailures, policy: policy, now: time.Now}
}

func (s *RpcHealthService) RecordResult(ctx context.Context, workspaceID int64, reachable bool) (*RpcHealthResult, error) {
	var res *RpcHealthResult
	err := s.txm.Transaction(ctx, func(ctx context.Context) error {
		check, err := s.lockCheck(ctx, workspaceID)
		if err != nil {
			return err
		}

		prev := check.FailedAttempts
		wasStopped := check.SyncStoppedAt != nil
		check.LastCheckedAt = s.now().UnixMilli()
		if reachable {
			check.IsReachable = true
			check.FailedAttempts = 0
			check.SyncStoppedAt = nil
		} else {
			check.IsReachable = false
			check.FailedAttempts++
		}

		crossed := false
		if !reachable && check.FailedAttempts > s.maxFailures {
			crossed = s.policy == StopPolicyEvery || prev <= s.maxFailures
		}
		if crossed {
			stoppedAt := check.LastCheckedAt
			check.SyncStoppedAt = &stoppedAt
		}

		if err := s.repo.Save(ctx, check); err != nil {
			return err
		}
		res = &RpcHealthResult{
			WorkspaceID:      workspaceID,
			IsReachable:      check.IsReachable,
			FailedAttempts:   check.FailedAttempts,
			ThresholdCrossed: crossed,
			Recovered:        reachable && wasStopped,
		}
		return nil
	})
	if err != nil {
		return nil, classify("record rpc health", err)
	}

	metrics.RecordRpcProbe(reachable)
	if res.ThresholdCrossed {
		logger.Warn("rpc unreachable, stopping sync",
			zap.Int64("workspace_id", workspaceID),
			zap.Int("failed_attempts", res.FailedAttempts))
	}
	if res.Recovered {
		logger.Info("rpc reachable again, resuming sync", zap.Int64("workspace_id", workspaceID))
	}
	return res, nil
}

func (s *RpcHealthService) Get(ctx context.Context, workspaceID int64) (*model.RpcHealthCheck, error) {
	check, err := s.repo.Get(ctx, workspaceID, nil)
	if err != nil && !errors.Is(err, repository.ErrRpcHealthCheckNotFound) {
		return nil, classify("get rpc health", err)
	}
	return check, err
}

func (s *RpcHealthService) lockCheck(ctx context.Context, workspaceID int64) (*model.RpcHealthCheck, error) {
	check, err := s.repo.Get(ctx, workspaceID, &repository.QueryOptions{ForUpdate: true})
	if err == nil {
		return check, nil
	}
	if !errors.Is(err, repository.ErrRpcHealthCheckNotFound) {
		return nil, err
	}
	if _, err := s.repo.CreateIfAbsent(ctx, &model.RpcHealthCheck{
		WorkspaceID: workspaceID,
		IsReachable: true,
	}); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, workspaceID, &repository.QueryOptions{ForUpdate: true})
}
