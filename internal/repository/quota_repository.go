package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/model"
	"gorm.io/gorm"
)

var ErrQuotaNotFound = errors.New("transaction quota not found")

// QuotaRepository 交易额度仓储
type QuotaRepository interface {
	// GetActive returns the window containing now, optionally locked.
	GetActive(ctx context.Context, workspaceID, now int64, opts *QueryOptions) (*model.TransactionQuota, error)
	GetLatest(ctx context.Context, workspaceID int64) (*model.TransactionQuota, error)
	CreateIfAbsent(ctx context.Context, q *model.TransactionQuota) (bool, error)
	IncrementCount(ctx context.Context, id, delta int64) error
	// ListExpiredWorkspaces returns workspaces whose most recent window ended before now.
	ListExpiredWorkspaces(ctx context.Context, now int64) ([]int64, error)
}

type quotaRepository struct {
	*Repository
}

func NewQuotaRepository(db *gorm.DB) QuotaRepository {
	return &quotaRepository{Repository: NewRepository(db)}
}

func (r *quotaRepository) GetActive(ctx context.Context, workspaceID, now int64, opts *QueryOptions) (*model.TransactionQuota, error) {
	var q model.TransactionQuota
	err := opts.ApplyLock(r.DB(ctx)).
		Where("workspace_id = ? AND starts_at <= ? AND ends_at > ?", workspaceID, now, now).
		First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQuotaNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *quotaRepository) GetLatest(ctx context.Context, workspaceID int64) (*model.TransactionQuota, error) {
	var q model.TransactionQuota
	err := r.DB(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("starts_at DESC").
		First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrQuotaNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *quotaRepository) CreateIfAbsent(ctx context.Context, q *model.TransactionQuota) (bool, error) {
	now := time.Now().UnixMilli()
	q.CreatedAt = now
	q.UpdatedAt = now
	return insertIgnore(r.DB(ctx), q)
}

func (r *quotaRepository) IncrementCount(ctx context.Context, id, delta int64) error {
	return r.DB(ctx).Model(&model.TransactionQuota{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"count":      gorm.Expr("count + ?", delta),
			"updated_at": time.Now().UnixMilli(),
		}).Error
}

func (r *quotaRepository) ListExpiredWorkspaces(ctx context.Context, now int64) ([]int64, error) {
	var ids []int64
	err := r.DB(ctx).Model(&model.TransactionQuota{}).
		Select("workspace_id").
		Group("workspace_id").
		Having("MAX(ends_at) <= ?", now).
		Order("workspace_id").
		Pluck("workspace_id", &ids).Error
	return ids, err
}
