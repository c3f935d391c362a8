package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrIntegrityCheckNotFound = errors.New("integrity check not found")
	ErrRpcHealthCheckNotFound = errors.New("rpc health check not found")
)

// IntegrityRepository stores the chain tracking status per workspace.
type IntegrityRepository interface {
	Upsert(ctx context.Context, workspaceID int64, status model.IntegrityStatus) (*model.IntegrityCheck, error)
	Get(ctx context.Context, workspaceID int64) (*model.IntegrityCheck, error)
}

type integrityRepository struct {
	*Repository
}

func NewIntegrityRepository(db *gorm.DB) IntegrityRepository {
	return &integrityRepository{Repository: NewRepository(db)}
}

func (r *integrityRepository) Upsert(ctx context.Context, workspaceID int64, status model.IntegrityStatus) (*model.IntegrityCheck, error) {
	now := time.Now().UnixMilli()
	check := &model.IntegrityCheck{
		WorkspaceID: workspaceID,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workspace_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(check).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, workspaceID)
}

func (r *integrityRepository) Get(ctx context.Context, workspaceID int64) (*model.IntegrityCheck, error) {
	var check model.IntegrityCheck
	err := r.DB(ctx).Where("workspace_id = ?", workspaceID).First(&check).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrIntegrityCheckNotFound
	}
	if err != nil {
		return nil, err
	}
	return &check, nil
}

// RpcHealthRepository stores probe outcomes per workspace.
type RpcHealthRepository interface {
	Get(ctx context.Context, workspaceID int64, opts *QueryOptions) (*model.RpcHealthCheck, error)
	CreateIfAbsent(ctx context.Context, check *model.RpcHealthCheck) (bool, error)
	Save(ctx context.Context, check *model.RpcHealthCheck) error
}

type rpcHealthRepository struct {
	*Repository
}

func NewRpcHealthRepository(db *gorm.DB) RpcHealthRepository {
	return &rpcHealthRepository{Repository: NewRepository(db)}
}

func (r *rpcHealthRepository) Get(ctx context.Context, workspaceID int64, opts *QueryOptions) (*model.RpcHealthCheck, error) {
	var check model.RpcHealthCheck
	err := opts.ApplyLock(r.DB(ctx)).Where("workspace_id = ?", workspaceID).First(&check).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRpcHealthCheckNotFound
	}
	if err != nil {
		return nil, err
	}
	return &check, nil
}

func (r *rpcHealthRepository) CreateIfAbsent(ctx context.Context, check *model.RpcHealthCheck) (bool, error) {
	now := time.Now().UnixMilli()
	check.CreatedAt = now
	check.UpdatedAt = now
	return insertIgnore(r.DB(ctx), check)
}

func (r *rpcHealthRepository) Save(ctx context.Context, check *model.RpcHealthCheck) error {
	check.UpdatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Save(check).Error
}
