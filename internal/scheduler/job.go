package scheduler

import (
	"context"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/model"
)

// Job is a unit of periodic maintenance work.
type Job interface {
	Name() string
	Execute(ctx context.Context) (*JobResult, error)
	Timeout() time.Duration
	// LockTTL of zero runs the job on every instance.
	LockTTL() time.Duration
	// UseWatchdog renews the lock while a long run is in progress.
	UseWatchdog() bool
}

type JobResult struct {
	ProcessedCount int
	AffectedCount  int
	ErrorCount     int
	Details        map[string]interface{}
}

func (r *JobResult) toJSON() model.JSONMap {
	if r == nil {
		return nil
	}
	out := model.JSONMap{
		"processed_count": r.ProcessedCount,
		"affected_count":  r.AffectedCount,
		"error_count":     r.ErrorCount,
	}
	for k, v := range r.Details {
		out[k] = v
	}
	return out
}

// BaseJob carries the scheduling knobs shared by all jobs.
type BaseJob struct {
	name        string
	timeout     time.Duration
	lockTTL     time.Duration
	useWatchdog bool
}

func NewBaseJob(name string, timeout, lockTTL time.Duration, useWatchdog bool) BaseJob {
	return BaseJob{name: name, timeout: timeout, lockTTL: lockTTL, useWatchdog: useWatchdog}
}

func (j BaseJob) Name() string           { return j.name }
func (j BaseJob) Timeout() time.Duration { return j.timeout }
func (j BaseJob) LockTTL() time.Duration { return j.lockTTL }
func (j BaseJob) UseWatchdog() bool      { return j.useWatchdog }

const (
	JobNameRpcProbe       = "rpc-probe"
	JobNameDedupReconcile = "dedup-reconcile"
	JobNameRollupRefresh  = "rollup-refresh"
	JobNamePartitionMgmt  = "partition-manage"
	JobNameQuotaRollover  = "quota-rollover"
)
