package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tryethernal/ethernal-sub004/internal/model"
	"gorm.io/gorm"
)

var ErrWorkspaceNotFound = errors.New("workspace not found")

// WorkspaceRepository reads tenants. Workspaces are provisioned by the control plane;
// Create exists for bootstrap tooling and tests.
type WorkspaceRepository interface {
	Create(ctx context.Context, ws *model.Workspace) error
	GetByID(ctx context.Context, id int64) (*model.Workspace, error)
	ListIDs(ctx context.Context) ([]int64, error)
	ListWithRpcServer(ctx context.Context) ([]*model.Workspace, error)
}

type workspaceRepository struct {
	*Repository
}

func NewWorkspaceRepository(db *gorm.DB) WorkspaceRepository {
	return &workspaceRepository{Repository: NewRepository(db)}
}

func (r *workspaceRepository) Create(ctx context.Context, ws *model.Workspace) error {
	now := time.Now().UnixMilli()
	ws.CreatedAt = now
	ws.UpdatedAt = now
	return r.DB(ctx).Create(ws).Error
}

func (r *workspaceRepository) GetByID(ctx context.Context, id int64) (*model.Workspace, error) {
	var ws model.Workspace
	err := r.DB(ctx).Where("id = ?", id).First(&ws).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

func (r *workspaceRepository) ListIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.DB(ctx).Model(&model.Workspace{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}

func (r *workspaceRepository) ListWithRpcServer(ctx context.Context) ([]*model.Workspace, error) {
	var list []*model.Workspace
	err := r.DB(ctx).
		Where("rpc_server IS NOT NULL AND rpc_server <> ''").
		Order("id").
		Find(&list).Error
	return list, err
}
