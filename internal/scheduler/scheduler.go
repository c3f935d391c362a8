package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/tryethernal/ethernal-sub004/internal/metrics"
	"github.com/tryethernal/ethernal-sub004/internal/model"
	"github.com/tryethernal/ethernal-sub004/internal/repository"
	"github.com/tryethernal/ethernal-sub004/pkg/logger"
	"go.uber.org/zap"
)

type JobConfig struct {
	Cron    string
	Enabled bool
}

type Config struct {
	MaxConcurrentJobs int
	// Redis is optional; without it every job runs unlocked.
	Redis redis.UniversalClient
}

// Scheduler runs registered jobs on cron schedules, bounded by a concurrency
// limit and guarded by per-job distributed locks.
type Scheduler struct {
	cron     *cron.Cron
	redis    redis.UniversalClient
	execRepo *repository.ExecutionRepository

	mu      sync.RWMutex
	jobs    map[string]Job
	configs map[string]JobConfig

	running chan struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(cfg *Config, execRepo *repository.ExecutionRepository) *Scheduler {
	maxConcurrent := cfg.MaxConcurrentJobs
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		redis:    cfg.Redis,
		execRepo: execRepo,
		jobs:     make(map[string]Job),
		configs:  make(map[string]JobConfig),
		running:  make(chan struct{}, maxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Scheduler) RegisterJob(job Job, cfg JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	if cfg.Enabled {
		if _, err := s.cron.AddFunc(cfg.Cron, func() { s.run(job) }); err != nil {
			return fmt.Errorf("schedule job %s: %w", name, err)
		}
	}
	s.jobs[name] = job
	s.configs[name] = cfg

	logger.Info("job registered",
		zap.String("job", name),
		zap.String("cron", cfg.Cron),
		zap.Bool("enabled", cfg.Enabled))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("scheduler started")
}

// Stop prevents new runs and waits for the ones in progress.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	logger.Info("scheduler stopped")
}

// TriggerJob runs a job now, outside its schedule.
func (s *Scheduler) TriggerJob(name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	go s.run(job)
	return nil
}

func (s *Scheduler) run(job Job) {
	s.wg.Add(1)
	defer s.wg.Done()

	select {
	case s.running <- struct{}{}:
		defer func() { <-s.running }()
	default:
		logger.Warn("max concurrent jobs reached, skipping", zap.String("job", job.Name()))
		s.recordSkipped(job.Name(), "max concurrent jobs reached")
		return
	}
	if s.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout())
	defer cancel()

	if s.redis != nil && job.LockTTL() > 0 {
		lock := NewDistributedLock(s.redis, job.Name(), job.LockTTL(), job.UseWatchdog())
		acquired, err := lock.TryLock(ctx)
		if err != nil {
			logger.Error("failed to acquire job lock", zap.String("job", job.Name()), zap.Error(err))
			s.recordSkipped(job.Name(), err.Error())
			return
		}
		if !acquired {
			logger.Debug("job running on another instance", zap.String("job", job.Name()))
			s.recordSkipped(job.Name(), "job is running on another instance")
			return
		}
		defer func() {
			if err := lock.Unlock(context.Background()); err != nil {
				logger.Error("failed to release job lock", zap.String("job", job.Name()), zap.Error(err))
			}
		}()
	}

	s.execute(ctx, job)
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	start := time.Now()
	exec := &model.JobExecution{
		JobName:   job.Name(),
		Status:    model.JobStatusRunning,
		StartedAt: start.UnixMilli(),
	}
	if err := s.execRepo.Create(ctx, exec); err != nil {
		logger.Error("failed to record job start", zap.String("job", job.Name()), zap.Error(err))
	}

	result, err := job.Execute(ctx)

	elapsed := time.Since(start)
	finished := start.Add(elapsed).UnixMilli()
	duration := elapsed.Milliseconds()
	exec.FinishedAt = &finished
	exec.DurationMs = &duration

	if err != nil {
		exec.Status = model.JobStatusFailed
		msg := err.Error()
		exec.ErrorMessage = &msg
		logger.Error("job failed",
			zap.String("job", job.Name()),
			zap.Duration("duration", elapsed),
			zap.Error(err))
	} else {
		exec.Status = model.JobStatusSuccess
		exec.Result = result.toJSON()
		logger.Info("job completed",
			zap.String("job", job.Name()),
			zap.Duration("duration", elapsed))
	}
	metrics.RecordJob(job.Name(), string(exec.Status), elapsed.Seconds())

	if exec.ID != 0 {
		if err := s.execRepo.Update(context.Background(), exec); err != nil {
			logger.Error("failed to update job execution", zap.String("job", job.Name()), zap.Error(err))
		}
	}
}

func (s *Scheduler) recordSkipped(name, reason string) {
	metrics.RecordJob(name, string(model.JobStatusSkipped), 0)

	now := time.Now().UnixMilli()
	var zero int64
	exec := &model.JobExecution{
		JobName:      name,
		Status:       model.JobStatusSkipped,
		StartedAt:    now,
		FinishedAt:   &now,
		DurationMs:   &zero,
		ErrorMessage: &reason,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.execRepo.Create(ctx, exec); err != nil {
		logger.Error("failed to record job execution", zap.String("job", name), zap.Error(err))
	}
}

type JobStatus struct {
	Name           string
	Enabled        bool
	Cron           string
	IsLocked       bool
	LastStatus     string
	LastStartedAt  int64
	LastFinishedAt int64
	LastDurationMs int64
	LastError      string
}

func (s *Scheduler) GetJobStatus(ctx context.Context, name string) (*JobStatus, error) {
	s.mu.RLock()
	_, ok := s.jobs[name]
	cfg := s.configs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("job %s not found", name)
	}

	status := &JobStatus{Name: name, Enabled: cfg.Enabled, Cron: cfg.Cron}
	if s.redis != nil {
		status.IsLocked, _ = IsLocked(ctx, s.redis, name)
	}

	last, err := s.execRepo.GetLatestByJobName(ctx, name)
	if err != nil {
		return nil, err
	}
	if last != nil {
		status.LastStatus = string(last.Status)
		status.LastStartedAt = last.StartedAt
		if last.FinishedAt != nil {
			status.LastFinishedAt = *last.FinishedAt
		}
		if last.DurationMs != nil {
			status.LastDurationMs = *last.DurationMs
		}
		if last.ErrorMessage != nil {
			status.LastError = *last.ErrorMessage
		}
	}
	return status, nil
}
