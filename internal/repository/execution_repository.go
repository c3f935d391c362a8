package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/model"
	"gorm.io/gorm"
)

// ExecutionRepository records scheduled job runs.
type ExecutionRepository struct {
	db *gorm.DB
}

func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

func (r *ExecutionRepository) Create(ctx context.Context, exec *model.JobExecution) error {
	exec.CreatedAt = time.Now().UnixMilli()
	return r.db.WithContext(ctx).Create(exec).Error
}

func (r *ExecutionRepository) Update(ctx context.Context, exec *model.JobExecution) error {
	return r.db.WithContext(ctx).Save(exec).Error
}

// GetLatestByJobName returns nil when the job never ran.
func (r *ExecutionRepository) GetLatestByJobName(ctx context.Context, jobName string) (*model.JobExecution, error) {
	var exec model.JobExecution
	err := r.db.WithContext(ctx).
		Where("job_name = ?", jobName).
		Order("started_at DESC, id DESC").
		First(&exec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// MarkStaleRunningAsFailed fails runs left in running state by a crashed process.
func (r *ExecutionRepository) MarkStaleRunningAsFailed(ctx context.Context, threshold time.Duration) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&model.JobExecution{}).
		Where("status = ? AND started_at < ?", model.JobStatusRunning, now.Add(-threshold).UnixMilli()).
		Updates(map[string]interface{}{
			"status":        model.JobStatusFailed,
			"finished_at":   now.UnixMilli(),
			"error_message": "marked failed at startup: run did not finish",
		})
	return res.RowsAffected, res.Error
}
